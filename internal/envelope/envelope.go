package envelope

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

// Version is the only envelope wire version this codec emits or accepts.
const Version byte = 1

// FingerprintRawSize is the raw (non-hex) byte length of a fingerprint, as
// carried on the wire.
const FingerprintRawSize = cryptofacade.HashSize

var (
	ErrMalformedEnvelope = errors.New("envelope: malformed")
	ErrBadSignature      = errors.New("envelope: signature does not verify")
	ErrBadFingerprint    = errors.New("envelope: sender fingerprint does not match embedded dsa public key")
	ErrDecryptFailed     = errors.New("envelope: AEAD decryption failed")
)

// headerSize is the byte length of every fixed-size field up to and
// including aead_tag, i.e. everything before the variable-length
// ciphertext.
const headerSize = 1 + FingerprintRawSize*2 + 8 + cryptofacade.KEMCiphertextSize + cryptofacade.AEADNonceSize + cryptofacade.AEADTagSize

// trailerSize is the byte length of sender_dsa_pubkey + signature.
const trailerSize = cryptofacade.DSAPublicKeySize + cryptofacade.DSASignatureSize

// Encrypt builds an envelope addressed to recipientKEMPublicKey, encrypting
// plaintext under a freshly KEM-encapsulated key and signing the whole
// canonical byte sequence with the sender's DSA secret key.
func Encrypt(recipientKEMPublicKey, senderDSAPublicKey, senderDSAPrivateKey []byte, senderFP, recipientFP model.Fingerprint, plaintext []byte, timestamp time.Time) ([]byte, error) {
	senderFPRaw, err := fingerprintToRaw(senderFP)
	if err != nil {
		return nil, err
	}
	recipientFPRaw, err := fingerprintToRaw(recipientFP)
	if err != nil {
		return nil, err
	}

	kemCiphertext, sharedSecret, err := cryptofacade.KEMEncap(recipientKEMPublicKey)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(sharedSecret)

	aeadKey, err := cryptofacade.HKDFSHA3512(sharedSecret, nil, []byte(cryptofacade.EnvelopeKeyLabel), cryptofacade.AEADKeySize)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(aeadKey)

	nonce, err := cryptofacade.GenerateNonce()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, headerSize+len(plaintext)+trailerSize)
	buf = append(buf, Version)
	buf = append(buf, senderFPRaw...)
	buf = append(buf, recipientFPRaw...)
	buf = appendUint64LE(buf, uint64(timestamp.Unix()))
	buf = append(buf, kemCiphertext...)
	buf = append(buf, nonce...)

	ciphertext, tag, err := cryptofacade.AEADSeal(aeadKey, nonce, nil, plaintext)
	if err != nil {
		return nil, err
	}
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)
	buf = append(buf, senderDSAPublicKey...)

	sig, err := cryptofacade.DSASign(buf, senderDSAPrivateKey)
	if err != nil {
		return nil, err
	}
	buf = append(buf, sig...)
	return buf, nil
}

// DecryptAndVerify parses and opens an envelope with the recipient's KEM
// secret key, verifying the sender fingerprint and signature first.
func DecryptAndVerify(envelopeBytes []byte, myKEMPrivateKey []byte) (plaintext []byte, senderFP model.Fingerprint, senderDSAPublicKey []byte, senderTimestamp time.Time, err error) {
	if len(envelopeBytes) < headerSize+trailerSize {
		return nil, "", nil, time.Time{}, ErrMalformedEnvelope
	}
	if envelopeBytes[0] != Version {
		return nil, "", nil, time.Time{}, ErrMalformedEnvelope
	}

	ciphertextLen := len(envelopeBytes) - headerSize - trailerSize
	if ciphertextLen < 0 {
		return nil, "", nil, time.Time{}, ErrMalformedEnvelope
	}

	off := 1
	senderFPRaw := envelopeBytes[off : off+FingerprintRawSize]
	off += FingerprintRawSize
	_ = envelopeBytes[off : off+FingerprintRawSize] // recipient_fingerprint, not needed by the recipient to open
	off += FingerprintRawSize
	tsRaw := envelopeBytes[off : off+8]
	off += 8
	kemCiphertext := envelopeBytes[off : off+cryptofacade.KEMCiphertextSize]
	off += cryptofacade.KEMCiphertextSize
	nonce := envelopeBytes[off : off+cryptofacade.AEADNonceSize]
	off += cryptofacade.AEADNonceSize
	tag := envelopeBytes[off : off+cryptofacade.AEADTagSize]
	off += cryptofacade.AEADTagSize
	ciphertext := envelopeBytes[off : off+ciphertextLen]
	off += ciphertextLen
	dsaPub := envelopeBytes[off : off+cryptofacade.DSAPublicKeySize]
	off += cryptofacade.DSAPublicKeySize
	sig := envelopeBytes[off : off+cryptofacade.DSASignatureSize]

	signedPortion := envelopeBytes[:len(envelopeBytes)-cryptofacade.DSASignatureSize]

	fp := model.Fingerprint(hex.EncodeToString(senderFPRaw))
	if !identity.VerifyFingerprint(fp, dsaPub) {
		return nil, "", nil, time.Time{}, ErrBadFingerprint
	}
	if !cryptofacade.DSAVerify(signedPortion, sig, dsaPub) {
		return nil, "", nil, time.Time{}, ErrBadSignature
	}

	sharedSecret, err := cryptofacade.KEMDecap(myKEMPrivateKey, kemCiphertext)
	if err != nil {
		return nil, "", nil, time.Time{}, ErrDecryptFailed
	}
	defer cryptofacade.Zero(sharedSecret)

	aeadKey, err := cryptofacade.HKDFSHA3512(sharedSecret, nil, []byte(cryptofacade.EnvelopeKeyLabel), cryptofacade.AEADKeySize)
	if err != nil {
		return nil, "", nil, time.Time{}, ErrDecryptFailed
	}
	defer cryptofacade.Zero(aeadKey)

	pt, err := cryptofacade.AEADOpen(aeadKey, nonce, nil, ciphertext, tag)
	if err != nil {
		return nil, "", nil, time.Time{}, ErrDecryptFailed
	}

	ts := time.Unix(int64(binary.LittleEndian.Uint64(tsRaw)), 0).UTC()
	return pt, fp, append([]byte(nil), dsaPub...), ts, nil
}

func fingerprintToRaw(fp model.Fingerprint) ([]byte, error) {
	if len(fp) != model.FingerprintHexLen {
		return nil, ErrMalformedEnvelope
	}
	raw, err := hex.DecodeString(string(fp))
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	return raw, nil
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
