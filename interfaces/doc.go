// Package interfaces defines the types shared across the provisioning toolkit:
// device state as read from espefuse, the ToolRunner abstraction every
// package uses to reach the vendor tools, the content-addressed storage
// contract, and the sentinel errors callers match with errors.Is.
package interfaces
