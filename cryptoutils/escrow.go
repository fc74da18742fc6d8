package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var escrowMagic = []byte("ESPX1")

const escrowInfo = "espsecure-prov key escrow"

// ErrInvalidEnvelope is returned for data that was not produced by this package.
var ErrInvalidEnvelope = errors.New("invalid encrypted envelope")

// EncryptWithPublicKey encrypts data to an ECDSA public key (PKIX PEM) using
// ECIES: ephemeral ECDH on the recipient's curve, HKDF-SHA256 key derivation
// and AES-256-GCM. A fresh ephemeral key is generated for every call.
//
// Format: magic | ephemeral public key length (1) | ephemeral public key | nonce | ciphertext
func EncryptWithPublicKey(publicKeyPEM []byte, data []byte) ([]byte, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	recipient, err := ecdsaPub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported curve: %w", err)
	}

	ephemeral, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	aead, err := escrowAEAD(shared, ephemeralPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(escrowMagic)+1+len(ephemeralPub)+len(nonce)+len(data)+aead.Overhead())
	out = append(out, escrowMagic...)
	out = append(out, byte(len(ephemeralPub)))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, escrowMagic), nil
}

// DecryptWithPrivateKey reverses EncryptWithPublicKey. The private key may be
// PKCS#8 ("PRIVATE KEY") or SEC 1 ("EC PRIVATE KEY") PEM.
func DecryptWithPrivateKey(privateKeyPEM []byte, encrypted []byte) ([]byte, error) {
	priv, err := parseECPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	recipient, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported curve: %w", err)
	}

	if !bytes.HasPrefix(encrypted, escrowMagic) || len(encrypted) < len(escrowMagic)+1 {
		return nil, ErrInvalidEnvelope
	}
	rest := encrypted[len(escrowMagic):]
	keyLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < keyLen {
		return nil, ErrInvalidEnvelope
	}

	ephemeralPub, err := recipient.Curve().NewPublicKey(rest[:keyLen])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key: %v", ErrInvalidEnvelope, err)
	}
	shared, err := recipient.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := escrowAEAD(shared, rest[:keyLen])
	if err != nil {
		return nil, err
	}
	rest = rest[keyLen:]
	if len(rest) < aead.NonceSize() {
		return nil, ErrInvalidEnvelope
	}

	plaintext, err := aead.Open(nil, rest[:aead.NonceSize()], rest[aead.NonceSize():], escrowMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func escrowAEAD(shared, ephemeralPub []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, ephemeralPub, []byte(escrowInfo)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func parseECPrivateKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	if block.Type == "EC PRIVATE KEY" {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}
	return ecKey, nil
}
