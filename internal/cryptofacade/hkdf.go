package cryptofacade

import (
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// HKDFSHA3512 derives outLen bytes from ikm via HKDF using SHA3-512 as the
// hash function, the given salt (may be nil) and info label.
func HKDFSHA3512(ikm, salt, info []byte, outLen int) ([]byte, error) {
	reader := hkdf.New(sha3.New512, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnvelopeKeyLabel is the domain-separation label for deriving the AEAD
// key of an encrypted envelope from a KEM shared secret.
const EnvelopeKeyLabel = "dna/envelope/v1"

// GEKWrapLabel is the domain-separation label for deriving the per-member
// wrap key used to seal a Group Encryption Key inside an IKP entry.
const GEKWrapLabel = "dna/gek/wrap/v1"
