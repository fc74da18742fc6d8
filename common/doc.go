// Package common holds process-wide helpers shared by every command: the
// structured logger setup and build metadata.
package common
