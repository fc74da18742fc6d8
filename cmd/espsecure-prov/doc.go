// Package main (cmd/espsecure-prov) is the operator tool for ESP32 secure boot
// and flash encryption provisioning. It drives the vendor tools (espefuse,
// espsecure, esptool, PlatformIO, openssl, mklittlefs) and never talks to the
// device itself.
//
// Burning an eFuse is permanent. Every command that burns one runs the
// pre-burn gate first (key valid, both signatures verify), prints a warning
// and requires the operator to type BURN. A device that is already
// provisioned is reported and left untouched, so re-running a command on a
// finished device is safe.
//
// Typical factory flow:
//
//  1. gen-key once per product line, then backup-key
//  2. enable-secure-boot on each device (build, sign, upload, verify, burn)
//  3. check-key to confirm a device holds the expected key digest
//  4. burn-flash-encryption when the product ships encrypted
//
// Station settings (tool paths, timeouts, flash layout, archive URIs) come
// from an optional YAML file passed with --config. When archive URIs are set,
// every burn run stores a JSON record of what happened there.
package main
