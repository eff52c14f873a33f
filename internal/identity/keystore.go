package identity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"dna-messenger/internal/cryptofacade"
)

// Encrypted key file layout: the "QGPK" magic followed by a JSON
// keyFileEnvelope (version, kdf name and params, public key, 16-byte salt,
// 24-byte nonce, ciphertext), sealed with argon2id + XChaCha20-Poly1305.
// It is not a fixed-offset binary layout: the 16-byte Poly1305 tag is the
// tail of the ciphertext field, not a separate field.
const (
	keyFileMagic       = "QGPK"
	keyFileVersion     = uint8(1)
	keyFileSaltSize    = 16
	argonTime          = uint32(3)
	argonMemoryKB      = uint32(64 * 1024)
	argonThreads       = uint8(4)
)

var (
	ErrKeyFileInvalid   = errors.New("identity: key file is malformed")
	ErrKeyFileBadMagic  = errors.New("identity: key file has unrecognized magic")
	ErrKeyFileBadPass   = errors.New("identity: wrong password or corrupted key file")
)

type kdfParams struct {
	Time    uint32 `json:"time"`
	MemKB   uint32 `json:"mem_kb"`
	Threads uint8  `json:"threads"`
}

type keyFileEnvelope struct {
	Version    uint8     `json:"version"`
	KDF        string    `json:"kdf"`
	KDFParams  kdfParams `json:"kdf_params"`
	// PublicKey travels in the clear alongside the encrypted private key:
	// it is not secret, and Dilithium/Kyber private keys do not expose a
	// cheap way to recompute it, unlike e.g. Ed25519.
	PublicKey  []byte    `json:"public_key"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// WriteEncryptedKeyFile encrypts privateKey (a DSA or KEM private key) at
// rest with a password-derived argon2id key and writes it, alongside its
// public half in the clear, to path.
func WriteEncryptedKeyFile(path string, publicKey, privateKey []byte, password string) error {
	salt := make([]byte, keyFileSaltSize)
	if err := cryptofacade.CSPRNGFill(salt); err != nil {
		return err
	}
	key := deriveKeyFileKey(password, salt)
	defer cryptofacade.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if err := cryptofacade.CSPRNGFill(nonce); err != nil {
		return err
	}
	ciphertext := aead.Seal(nil, nonce, privateKey, nil)

	env := keyFileEnvelope{
		Version:    keyFileVersion,
		KDF:        "argon2id",
		KDFParams:  kdfParams{Time: argonTime, MemKB: argonMemoryKB, Threads: argonThreads},
		PublicKey:  publicKey,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	out := append([]byte(keyFileMagic), payload...)
	return os.WriteFile(path, out, 0o600)
}

// ReadEncryptedKeyFile decrypts the private key stored at path and returns
// it along with its public half.
func ReadEncryptedKeyFile(path string, password string) (publicKey, privateKey []byte, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < len(keyFileMagic) || string(raw[:len(keyFileMagic)]) != keyFileMagic {
		return nil, nil, ErrKeyFileBadMagic
	}
	var env keyFileEnvelope
	if err := json.Unmarshal(raw[len(keyFileMagic):], &env); err != nil {
		return nil, nil, ErrKeyFileInvalid
	}
	if env.Version != keyFileVersion || env.KDF != "argon2id" {
		return nil, nil, ErrKeyFileInvalid
	}
	key := argon2.IDKey([]byte(password), env.Salt, env.KDFParams.Time, env.KDFParams.MemKB, env.KDFParams.Threads, chacha20poly1305.KeySize)
	defer cryptofacade.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, nil, ErrKeyFileBadPass
	}
	return env.PublicKey, plaintext, nil
}

func deriveKeyFileKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKB, argonThreads, chacha20poly1305.KeySize)
}

// IdentityPaths returns the conventional file paths under a data directory:
// <data_dir>/keys/identity.dsa and identity.kem.
type IdentityPaths struct {
	DSAKeyFile string
	KEMKeyFile string
}

func PathsForDataDir(dataDir string) IdentityPaths {
	return IdentityPaths{
		DSAKeyFile: filepath.Join(dataDir, "keys", "identity.dsa"),
		KEMKeyFile: filepath.Join(dataDir, "keys", "identity.kem"),
	}
}

// SaveKeys writes both encrypted key files for keys under dataDir.
func SaveKeys(dataDir string, keys *Keys, password string) error {
	paths := PathsForDataDir(dataDir)
	if err := WriteEncryptedKeyFile(paths.DSAKeyFile, keys.DSAPublicKey, keys.DSAPrivateKey, password); err != nil {
		return err
	}
	return WriteEncryptedKeyFile(paths.KEMKeyFile, keys.KEMPublicKey, keys.KEMPrivateKey, password)
}

// LoadKeys decrypts both key files under dataDir and recovers the full
// Keys struct, including the public keys and fingerprint.
func LoadKeys(dataDir string, password string) (*Keys, error) {
	paths := PathsForDataDir(dataDir)
	dsaPub, dsaPriv, err := ReadEncryptedKeyFile(paths.DSAKeyFile, password)
	if err != nil {
		return nil, err
	}
	kemPub, kemPriv, err := ReadEncryptedKeyFile(paths.KEMKeyFile, password)
	if err != nil {
		return nil, err
	}
	return &Keys{
		Fingerprint:   Fingerprint(dsaPub),
		DSAPublicKey:  dsaPub,
		DSAPrivateKey: dsaPriv,
		KEMPublicKey:  kemPub,
		KEMPrivateKey: kemPriv,
	}, nil
}

// HasIdentity reports whether encrypted key files already exist under
// dataDir, so callers can distinguish "no identity yet" from a wrong
// password without attempting decryption.
func HasIdentity(dataDir string) bool {
	paths := PathsForDataDir(dataDir)
	if _, err := os.Stat(paths.DSAKeyFile); err != nil {
		return false
	}
	if _, err := os.Stat(paths.KEMKeyFile); err != nil {
		return false
	}
	return true
}
