package identity

import (
	"encoding/hex"
	"strings"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/pkg/model"
)

// Fingerprint derives the canonical fingerprint of a Dilithium5 public key:
// SHA3-512(dsa_public_key), rendered as 128 lowercase hex characters.
func Fingerprint(dsaPublicKey []byte) model.Fingerprint {
	sum := cryptofacade.SHA3_512(dsaPublicKey)
	return model.Fingerprint(hex.EncodeToString(sum[:]))
}

// VerifyFingerprint reports whether fp == Fingerprint(dsaPublicKey).
func VerifyFingerprint(fp model.Fingerprint, dsaPublicKey []byte) bool {
	return Fingerprint(dsaPublicKey) == fp
}

// ParseFingerprint validates that s is a well-formed 128-hex-character
// fingerprint and returns it normalized to lowercase.
func ParseFingerprint(s string) (model.Fingerprint, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != model.FingerprintHexLen {
		return "", false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", false
	}
	return model.Fingerprint(s), true
}

// LooksLikeFingerprint reports whether identifier has the shape of a
// fingerprint (128 hex chars) as opposed to a display name.
func LooksLikeFingerprint(identifier string) bool {
	_, ok := ParseFingerprint(identifier)
	return ok
}
