package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var passphraseMagic = []byte("ESPP1")

// Argon2id parameters for passphrase sealing.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrEmptyPassphrase is returned when sealing with an empty passphrase.
var ErrEmptyPassphrase = errors.New("passphrase must not be empty")

// SealWithPassphrase encrypts data under a key derived from passphrase with
// Argon2id.
//
// Format: magic | salt | nonce | ciphertext
func SealWithPassphrase(passphrase []byte, data []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := passphraseAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(passphraseMagic)+saltLen+len(nonce)+len(data)+aead.Overhead())
	out = append(out, passphraseMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, passphraseMagic), nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase []byte, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, passphraseMagic) {
		return nil, ErrInvalidEnvelope
	}
	rest := sealed[len(passphraseMagic):]
	if len(rest) < saltLen {
		return nil, ErrInvalidEnvelope
	}

	aead, err := passphraseAEAD(passphrase, rest[:saltLen])
	if err != nil {
		return nil, err
	}
	rest = rest[saltLen:]
	if len(rest) < aead.NonceSize() {
		return nil, ErrInvalidEnvelope
	}

	plaintext, err := aead.Open(nil, rest[:aead.NonceSize()], rest[aead.NonceSize():], passphraseMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

func passphraseAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
