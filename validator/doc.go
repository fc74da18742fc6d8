// Package validator implements the pre-burn gate: key validity, signature
// verification of the bootloader and firmware, and a build timestamp check
// that only warns.
package validator
