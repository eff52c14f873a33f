package identity

import (
	"encoding/binary"
	"errors"
	"time"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/pkg/model"
)

var (
	ErrRecordFingerprintMismatch = errors.New("identity: record fingerprint does not match dsa public key")
	ErrRecordBadSignature        = errors.New("identity: record signature does not verify")
)

// SignIdentityRecord builds and signs the keyserver value for keys,
// optionally carrying a display name.
func SignIdentityRecord(keys *Keys, displayName string, now time.Time) (model.IdentityRecord, error) {
	rec := model.IdentityRecord{
		Fingerprint:  keys.Fingerprint,
		DisplayName:  displayName,
		KEMPublicKey: append([]byte(nil), keys.KEMPublicKey...),
		DSAPublicKey: append([]byte(nil), keys.DSAPublicKey...),
		CreatedAt:    now,
	}
	sig, err := cryptofacade.DSASign(identityRecordSigningBytes(rec), keys.DSAPrivateKey)
	if err != nil {
		return model.IdentityRecord{}, err
	}
	rec.Signature = sig
	return rec, nil
}

// VerifyIdentityRecord checks that the fingerprint matches the embedded
// DSA public key and that the signature verifies under it.
func VerifyIdentityRecord(rec model.IdentityRecord) error {
	if !VerifyFingerprint(rec.Fingerprint, rec.DSAPublicKey) {
		return ErrRecordFingerprintMismatch
	}
	if !cryptofacade.DSAVerify(identityRecordSigningBytes(rec), rec.Signature, rec.DSAPublicKey) {
		return ErrRecordBadSignature
	}
	return nil
}

// identityRecordSigningBytes is the canonical byte encoding signed over by
// an identity record, excluding the signature field itself.
func identityRecordSigningBytes(rec model.IdentityRecord) []byte {
	nameBytes := []byte(rec.DisplayName)
	buf := make([]byte, 0, len(rec.Fingerprint)+len(nameBytes)+len(rec.KEMPublicKey)+len(rec.DSAPublicKey)+8+3)
	buf = append(buf, []byte(rec.Fingerprint)...)
	buf = append(buf, 0)
	buf = append(buf, nameBytes...)
	buf = append(buf, 0)
	buf = append(buf, rec.KEMPublicKey...)
	buf = append(buf, rec.DSAPublicKey...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(rec.CreatedAt.UnixNano()))
	buf = append(buf, ts[:]...)
	return buf
}
