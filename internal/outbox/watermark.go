package outbox

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"dna-messenger/internal/cryptofacade"
)

var ErrWatermarkBadSignature = errors.New("outbox: watermark signature does not verify")

// Watermark is the signed value of a watermark cell. Invariant:
// MaxSeqNumReceived is monotonically non-decreasing for a given
// (recipient, sender) pair; callers enforce that at the call site since the
// codec itself is stateless.
type Watermark struct {
	MaxSeqNumReceived uint64    `json:"max_seq_num_received"`
	Timestamp         time.Time `json:"timestamp"`
	Signature         []byte    `json:"signature"`
}

func watermarkSigningBytes(maxSeqNumReceived uint64, ts time.Time) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[:8], maxSeqNumReceived)
	binary.LittleEndian.PutUint64(buf[8:], uint64(ts.Unix()))
	return buf
}

// SignWatermark builds and signs a watermark value with the recipient's DSA
// secret key.
func SignWatermark(maxSeqNumReceived uint64, now time.Time, recipientDSAPrivateKey []byte) (Watermark, error) {
	sig, err := cryptofacade.DSASign(watermarkSigningBytes(maxSeqNumReceived, now), recipientDSAPrivateKey)
	if err != nil {
		return Watermark{}, err
	}
	return Watermark{MaxSeqNumReceived: maxSeqNumReceived, Timestamp: now, Signature: sig}, nil
}

// VerifyWatermark checks a watermark's signature under the recipient's DSA
// public key.
func VerifyWatermark(w Watermark, recipientDSAPublicKey []byte) error {
	if !cryptofacade.DSAVerify(watermarkSigningBytes(w.MaxSeqNumReceived, w.Timestamp), w.Signature, recipientDSAPublicKey) {
		return ErrWatermarkBadSignature
	}
	return nil
}

func encodeWatermark(w Watermark) ([]byte, error) { return json.Marshal(w) }

func decodeWatermark(raw []byte) (Watermark, error) {
	var w Watermark
	if err := json.Unmarshal(raw, &w); err != nil {
		return Watermark{}, err
	}
	return w, nil
}
