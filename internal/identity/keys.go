package identity

import (
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/pkg/model"
)

var (
	ErrMnemonicRequired = errors.New("identity: mnemonic is required")
	ErrInvalidMnemonic  = errors.New("identity: invalid mnemonic")
	ErrPasswordRequired = errors.New("identity: password is required")
)

// Keys holds the two Dilithium5/Kyber1024 key pairs derived for an
// identity, plus the derived fingerprint.
type Keys struct {
	Fingerprint  model.Fingerprint
	DSAPublicKey []byte
	DSAPrivateKey []byte
	KEMPublicKey []byte
	KEMPrivateKey []byte
}

// Zero overwrites the secret key material held by k.
func (k *Keys) Zero() {
	if k == nil {
		return
	}
	cryptofacade.Zero(k.DSAPrivateKey)
	cryptofacade.Zero(k.KEMPrivateKey)
}

// NewMnemonic generates a fresh 24-word BIP39 mnemonic (256 bits of
// entropy). Everything downstream of it is derived deterministically, so
// losing the mnemonic means losing the identity.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic reports whether mnemonic is a well-formed BIP39 phrase.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

// DeriveKeys derives the signing (Dilithium5) and encryption (Kyber1024)
// key pairs and the resulting fingerprint from a BIP39 mnemonic + optional
// passphrase. Two independent seeds (DSASeedSize bytes for signing,
// KEMSeedEntropySize bytes for encryption) are HKDF-expanded from the
// BIP39 seed with distinct domain-separation labels so that compromising
// one key pair's seed never reveals the other's.
func DeriveKeys(mnemonic, passphrase string) (*Keys, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	bipSeed := bip39.NewSeed(mnemonic, passphrase)

	signingSeed, err := cryptofacade.HKDFSHA3512(bipSeed, nil, []byte(hkdfInfoSigning), cryptofacade.DSASeedSize)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(signingSeed)
	encryptionSeed, err := cryptofacade.HKDFSHA3512(bipSeed, nil, []byte(hkdfInfoEncryption), cryptofacade.KEMSeedEntropySize)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(encryptionSeed)

	dsaPub, dsaPriv, err := cryptofacade.DSAKeypairFromSeed(signingSeed)
	if err != nil {
		return nil, err
	}
	kemKeys, err := cryptofacade.KEMKeypairFromSeed(encryptionSeed)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(dsaPub)
	return &Keys{
		Fingerprint:   fp,
		DSAPublicKey:  dsaPub,
		DSAPrivateKey: dsaPriv,
		KEMPublicKey:  kemKeys.PublicKey,
		KEMPrivateKey: kemKeys.PrivateKey,
	}, nil
}

const (
	hkdfInfoSigning    = "dna/identity/signing/v1"
	hkdfInfoEncryption = "dna/identity/encryption/v1"
)
