package outbox

import (
	"time"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/dht"
	"dna-messenger/pkg/model"
)

const daySeconds = 86400

// DayBucket returns floor(unix_seconds / 86400) for t.
func DayBucket(t time.Time) int64 {
	return t.Unix() / daySeconds
}

// cellKey derives a 32-byte DHT key from the canonical truncated-SHA3-512
// scheme used throughout the overlay.
func cellKey(s string) dht.Key {
	full := cryptofacade.SHA3_512([]byte(s))
	var k dht.Key
	copy(k[:], full[:32])
	return k
}

// OutboxCellKey is the key of the day-bucket cell a sender appends
// envelopes to for one recipient.
func OutboxCellKey(senderFP, recipientFP model.Fingerprint, dayBucket int64) dht.Key {
	return cellKey(string(senderFP) + ":outbox:" + string(recipientFP) + ":" + itoa64(dayBucket))
}

// WatermarkCellKey is the key of the cell a recipient publishes their
// high-water mark for one sender into.
func WatermarkCellKey(recipientFP, senderFP model.Fingerprint) dht.Key {
	return cellKey(string(recipientFP) + ":watermark:" + string(senderFP))
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
