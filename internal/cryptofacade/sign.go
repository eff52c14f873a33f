package cryptofacade

import (
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// Dilithium5 sizes.
const (
	DSAPublicKeySize  = mode5.PublicKeySize
	DSAPrivateKeySize = mode5.PrivateKeySize
	DSASignatureSize  = mode5.SignatureSize
	DSASeedSize       = mode5.SeedSize
)

// DSAKeypairFromSeed derives a deterministic Dilithium5 key pair from a
// 32-byte seed. Together with KEMKeypairFromSeed this is the deterministic
// key-generation surface in DNA Messenger: the seeds come from a BIP39
// mnemonic (internal/identity).
func DSAKeypairFromSeed(seed []byte) (publicKey, privateKey []byte, err error) {
	if len(seed) != DSASeedSize {
		return nil, nil, fmt.Errorf("cryptofacade: dsa keypair from seed: want %d byte seed, got %d", DSASeedSize, len(seed))
	}
	var seedArr [mode5.SeedSize]byte
	copy(seedArr[:], seed)
	pub, priv := mode5.NewKeyFromSeed(&seedArr)
	return pub.Bytes(), priv.Bytes(), nil
}

// DSASign produces a Dilithium5 signature of msg under privateKey.
func DSASign(msg, privateKey []byte) ([]byte, error) {
	if len(privateKey) != DSAPrivateKeySize {
		return nil, fmt.Errorf("cryptofacade: dsa sign: bad private key size %d", len(privateKey))
	}
	var priv mode5.PrivateKey
	var arr [mode5.PrivateKeySize]byte
	copy(arr[:], privateKey)
	priv.Unpack(&arr)

	sig := make([]byte, DSASignatureSize)
	mode5.SignTo(&priv, msg, sig)
	return sig, nil
}

// DSAVerify reports whether sig is a valid Dilithium5 signature of msg
// under publicKey.
func DSAVerify(msg, sig, publicKey []byte) bool {
	if len(publicKey) != DSAPublicKeySize || len(sig) != DSASignatureSize {
		return false
	}
	var pub mode5.PublicKey
	var arr [mode5.PublicKeySize]byte
	copy(arr[:], publicKey)
	pub.Unpack(&arr)
	return mode5.Verify(&pub, msg, sig)
}
