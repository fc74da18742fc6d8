// Package keymgr handles the secure boot signing key as a file reference:
// resolving its path (explicit flag, then the project's sdkconfig, then
// esp32_secure_boot.pem), sniffing that it looks like PEM, generating it with
// espsecure and deriving the public key digest that is burned into eFuse.
//
// The key material itself is never parsed here; espsecure and openssl own it.
package keymgr
