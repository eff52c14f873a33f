package group

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

var ErrBadFeedSignature = errors.New("group: feed message signature does not verify")

// FeedCellKey is the DHT key of a group's feed cell for one day bucket.
func FeedCellKey(groupUUID string, dayBucket int64) dht.Key {
	return cellKey("group-out:" + groupUUID + ":" + itoa64(dayBucket))
}

func feedDayBucket(t time.Time) int64 { return t.Unix() / 86400 }

func feedSigningBytes(m model.GroupMessage) []byte {
	buf := make([]byte, 0, 16+len(m.AEADNonce)+len(m.AEADCiphertext)+len(m.AEADTag))
	buf = append(buf, m.MsgID[:]...)
	buf = append(buf, []byte(m.SenderFP)...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(m.TimestampMs))
	buf = append(buf, ts[:]...)
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], m.GEKVersion)
	buf = append(buf, ver[:]...)
	buf = append(buf, m.AEADNonce...)
	buf = append(buf, m.AEADCiphertext...)
	buf = append(buf, m.AEADTag...)
	return buf
}

// SendFeedMessage encrypts plaintext under the group's current GEK and
// appends it to today's feed cell.
func SendFeedMessage(ctx context.Context, dhtSvc dht.Service, sender *identity.Keys, g model.Group, gek []byte, plaintext []byte, now time.Time) error {
	var msgID [16]byte
	if _, err := rand.Read(msgID[:]); err != nil {
		return err
	}
	nonce, err := cryptofacade.GenerateNonce()
	if err != nil {
		return err
	}
	ciphertext, tag, err := cryptofacade.AEADSeal(gek, nonce, nil, plaintext)
	if err != nil {
		return err
	}

	gm := model.GroupMessage{
		MsgID:          msgID,
		SenderFP:       sender.Fingerprint,
		TimestampMs:    now.UnixMilli(),
		GEKVersion:     g.GEKVersion,
		AEADNonce:      nonce,
		AEADCiphertext: ciphertext,
		AEADTag:        tag,
	}
	sig, err := cryptofacade.DSASign(feedSigningBytes(gm), sender.DSAPrivateKey)
	if err != nil {
		return err
	}
	gm.Signature = sig

	return appendToFeedCell(ctx, dhtSvc, g.UUID, feedDayBucket(now), gm)
}

func appendToFeedCell(ctx context.Context, dhtSvc dht.Service, groupUUID string, dayBucket int64, gm model.GroupMessage) error {
	key := FeedCellKey(groupUUID, dayBucket)
	existing, err := dhtSvc.GetAll(ctx, key)
	if err != nil && err != dht.ErrNotFound {
		return err
	}
	merged := make(map[[16]byte]model.GroupMessage)
	for _, raw := range existing {
		var batch []model.GroupMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			continue
		}
		for _, m := range batch {
			merged[m.MsgID] = m
		}
	}
	merged[gm.MsgID] = gm

	out := make([]model.GroupMessage, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = dhtSvc.Put(ctx, key, payload, dht.Persist7Day)
	return err
}

// ListenFeed arms a listener on a group's feed cell for one day bucket.
func ListenFeed(dhtSvc dht.Service, groupUUID string, dayBucket int64, handler func(raw []byte)) (dht.ListenHandle, error) {
	return dhtSvc.Listen(FeedCellKey(groupUUID, dayBucket), func(_ dht.Key, value []byte) { handler(value) })
}

// FeedStore is the subset of local persistence the feed receive path needs
// to dedup by msg_id.
type FeedStore interface {
	HasGroupMessage(groupUUID string, msgID [16]byte) bool
	SaveGroupMessage(msg model.Message) error
}

// HandleFeedCellUpdate decrypts and persists every entry of a group feed
// cell whose gek_version we hold; entries for versions we lack are skipped,
// since we were not yet a member when they were posted.
func HandleFeedCellUpdate(groupUUID string, raw []byte, gekStore GEKStore, store FeedStore, senderDSAPublicKeys map[model.Fingerprint][]byte, log *slog.Logger) error {
	var entries []model.GroupMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	for _, gm := range entries {
		if store.HasGroupMessage(groupUUID, gm.MsgID) {
			continue
		}
		gek, ok := gekStore.Get(groupUUID, gm.GEKVersion)
		if !ok {
			continue
		}
		pub, ok := senderDSAPublicKeys[gm.SenderFP]
		if !ok {
			continue
		}
		if !cryptofacade.DSAVerify(feedSigningBytes(gm), gm.Signature, pub) {
			if log != nil {
				log.Warn("group feed message rejected: bad signature", "group", groupUUID, "sender", gm.SenderFP)
			}
			continue
		}
		plaintext, err := cryptofacade.AEADOpen(gek, gm.AEADNonce, nil, gm.AEADCiphertext, gm.AEADTag)
		if err != nil {
			if log != nil {
				log.Warn("group feed message rejected: decrypt failed", "group", groupUUID, "sender", gm.SenderFP)
			}
			continue
		}
		msg := model.Message{
			ID:                hexMsgID(gm.MsgID),
			Sender:            gm.SenderFP,
			Recipient:         "",
			SenderFingerprint: gm.SenderFP,
			Plaintext:         string(plaintext),
			Timestamp:         time.UnixMilli(gm.TimestampMs),
			IsOutgoing:        false,
			Status:            model.StatusDelivered,
			GroupUUID:         groupUUID,
			MessageType:       model.MessageTypeChat,
		}
		if err := store.SaveGroupMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func hexMsgID(id [16]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range id {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0x0F]
	}
	return string(out)
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
