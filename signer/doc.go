// Package signer wraps espsecure sign_data and verify-signature for secure
// boot v2 images. Images are signed in place unless a release directory is
// configured, in which case signed and unsigned copies are written there.
package signer
