package cryptofacade

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	// AEADKeySize is the AES-256 key size in bytes.
	AEADKeySize = 32
	// AEADNonceSize is the GCM nonce size in bytes.
	AEADNonceSize = 12
	// AEADTagSize is the GCM authentication tag size in bytes.
	AEADTagSize = 16
)

// GenerateNonce draws a fresh 12-byte nonce from the CSPRNG. Nonces must
// never be derived from message content or any other deterministic input:
// callers always pair a key with a freshly drawn nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, AEADNonceSize)
	if err := CSPRNGFill(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// AEADSeal seals plaintext with AES-256-GCM under key/nonce, authenticating
// aad. The sealed output is split here into ciphertext and the trailing
// AEADTagSize-byte tag, matching the envelope's separate aead_ciphertext /
// aead_tag fields.
func AEADSeal(key, nonce, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != AEADNonceSize {
		return nil, nil, fmt.Errorf("cryptofacade: aead seal: bad nonce size %d", len(nonce))
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	ctLen := len(sealed) - AEADTagSize
	return sealed[:ctLen], sealed[ctLen:], nil
}

// AEADOpen authenticates and decrypts ciphertext||tag under key/nonce/aad.
func AEADOpen(key, nonce, aad, ciphertext, tag []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != AEADNonceSize {
		return nil, fmt.Errorf("cryptofacade: aead open: bad nonce size %d", len(nonce))
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAEADOpenFailed
	}
	return plaintext, nil
}

// ErrAEADOpenFailed is returned on authentication failure. Callers must
// never surface its cause beyond this sentinel.
var ErrAEADOpenFailed = fmt.Errorf("cryptofacade: aead authentication failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, fmt.Errorf("cryptofacade: aead: bad key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
