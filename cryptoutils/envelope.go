package cryptoutils

import "bytes"

// Envelope identifies how a key backup was sealed.
type Envelope string

const (
	EnvelopeUnknown    Envelope = ""
	EnvelopeEscrow     Envelope = "escrow"
	EnvelopePassphrase Envelope = "passphrase"
	EnvelopeAge        Envelope = "age"
)

var ageHeader = []byte("age-encryption.org/")

// DetectEnvelope inspects the prefix of a sealed backup.
func DetectEnvelope(sealed []byte) Envelope {
	switch {
	case bytes.HasPrefix(sealed, escrowMagic):
		return EnvelopeEscrow
	case bytes.HasPrefix(sealed, passphraseMagic):
		return EnvelopePassphrase
	case bytes.HasPrefix(sealed, ageHeader):
		return EnvelopeAge
	default:
		return EnvelopeUnknown
	}
}
