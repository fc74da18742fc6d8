// Package cryptoutils seals secure boot signing keys for off-station backup.
//
// Three envelopes are provided. EncryptWithPublicKey encrypts to an escrow
// officer's ECDSA public key so only the holder of the matching private key
// can recover the signing key. SealForRecipients encrypts to one or more age
// X25519 recipients and produces a standard age file. SealWithPassphrase
// derives the encryption key from an operator passphrase with Argon2id.
//
// The ECDSA and passphrase envelopes use AES-256-GCM and carry a short magic
// prefix so a sealed blob can be recognised before decryption.
package cryptoutils
