package cryptofacade

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
)

// Kyber1024 sizes, named here so callers never hardcode a magic number.
const (
	KEMPublicKeySize  = kyber1024.PublicKeySize
	KEMPrivateKeySize = kyber1024.PrivateKeySize
	KEMCiphertextSize = kyber1024.CiphertextSize
	KEMSharedKeySize  = kyber1024.SharedKeySize
	// KEMSeedEntropySize is the seed length consumed by KEMKeypairFromSeed
	// (Kyber1024's scheme-level deterministic key derivation).
	KEMSeedEntropySize = kyber1024.Scheme().SeedSize()
)

// KEMKeyPair holds a packed Kyber1024 public/private key pair. Callers must
// call Zero(sk.PrivateKey) once the key is no longer needed.
type KEMKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// KEMKeypair generates a fresh Kyber1024 key pair.
func KEMKeypair() (*KEMKeyPair, error) {
	pub, priv, err := kyber1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptofacade: kem keypair: %w", err)
	}
	pubBytes := make([]byte, KEMPublicKeySize)
	privBytes := make([]byte, KEMPrivateKeySize)
	pub.Pack(pubBytes)
	priv.Pack(privBytes)
	return &KEMKeyPair{PublicKey: pubBytes, PrivateKey: privBytes}, nil
}

// KEMKeypairFromSeed deterministically derives a Kyber1024 key pair from a
// KEMSeedEntropySize-byte seed, using the scheme-level derivation circl
// exposes via kem.Scheme.DeriveKeyPair. Used to turn an identity's
// encryption seed into a stable KEM key pair.
func KEMKeypairFromSeed(seed []byte) (*KEMKeyPair, error) {
	if len(seed) != KEMSeedEntropySize {
		return nil, fmt.Errorf("cryptofacade: kem keypair from seed: want %d byte seed, got %d", KEMSeedEntropySize, len(seed))
	}
	scheme := kyber1024.Scheme()
	pub, priv := scheme.DeriveKeyPair(seed)
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cryptofacade: kem keypair from seed: marshal public key: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cryptofacade: kem keypair from seed: marshal private key: %w", err)
	}
	return &KEMKeyPair{PublicKey: pubBytes, PrivateKey: privBytes}, nil
}

// KEMEncap encapsulates a fresh shared secret to recipientPublicKey,
// returning the ciphertext to publish and the shared secret to derive an
// AEAD key from. The shared secret must be zeroed by the caller.
func KEMEncap(recipientPublicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(recipientPublicKey) != KEMPublicKeySize {
		return nil, nil, fmt.Errorf("cryptofacade: kem encap: bad public key size %d", len(recipientPublicKey))
	}
	var pub kyber1024.PublicKey
	pub.Unpack(recipientPublicKey)

	ciphertext = make([]byte, KEMCiphertextSize)
	sharedSecret = make([]byte, KEMSharedKeySize)
	pub.EncapsulateTo(ciphertext, sharedSecret, nil)
	return ciphertext, sharedSecret, nil
}

// KEMDecap recovers the shared secret from ciphertext using sk. The
// returned secret must be zeroed by the caller.
func KEMDecap(sk, ciphertext []byte) ([]byte, error) {
	if len(sk) != KEMPrivateKeySize {
		return nil, fmt.Errorf("cryptofacade: kem decap: bad private key size %d", len(sk))
	}
	if len(ciphertext) != KEMCiphertextSize {
		return nil, fmt.Errorf("cryptofacade: kem decap: bad ciphertext size %d", len(ciphertext))
	}
	var priv kyber1024.PrivateKey
	priv.Unpack(sk)

	sharedSecret := make([]byte, KEMSharedKeySize)
	priv.DecapsulateTo(sharedSecret, ciphertext)
	return sharedSecret, nil
}
