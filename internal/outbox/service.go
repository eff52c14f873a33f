package outbox

import (
	"context"
	"log/slog"
	"time"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/envelope"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/keyserver"
	"dna-messenger/pkg/model"
)

// DedupToleranceSeconds names a dedup window for incoming messages from
// the same sender. No code reads it: incoming messages are deduplicated
// only by an exact (sender_fingerprint, recipient, timestamp) match in the
// local store.
const DedupToleranceSeconds = 1

// StaleAfter is the age at which a still-PENDING outgoing message is marked
// STALE by the engine heartbeat.
const StaleAfter = 30 * 24 * time.Hour

// Service implements the direct outbox send/receive/acknowledge paths.
type Service struct {
	dhtSvc    dht.Service
	keyserver *keyserver.Service
	seq       SeqAllocator
	hw        HighWaterStore
	store     LocalStore
	log       *slog.Logger
}

func New(dhtSvc dht.Service, ks *keyserver.Service, seq SeqAllocator, hw HighWaterStore, store LocalStore) *Service {
	return &Service{
		dhtSvc:    dhtSvc,
		keyserver: ks,
		seq:       seq,
		hw:        hw,
		store:     store,
		log:       slog.Default().With("component", "outbox"),
	}
}

// Send encrypts plaintext to recipientFP and appends it to today's
// day-bucket cell, allocating a fresh seq_num and recording the message
// locally as PENDING.
func (s *Service) Send(ctx context.Context, self *identity.Keys, recipientFP model.Fingerprint, plaintext []byte, now time.Time) (uint64, error) {
	recRecord, err := s.keyserver.Resolve(ctx, string(recipientFP))
	if err != nil {
		return 0, err
	}

	seqNum, err := s.seq.Next(recipientFP)
	if err != nil {
		return 0, err
	}

	env, err := envelope.Encrypt(recRecord.KEMPublicKey, self.DSAPublicKey, self.DSAPrivateKey, self.Fingerprint, recipientFP, plaintext, now)
	if err != nil {
		return 0, err
	}

	if err := s.appendToCell(ctx, self.Fingerprint, recipientFP, now, Entry{SeqNum: seqNum, Envelope: env}); err != nil {
		return 0, err
	}

	msg := model.Message{
		ID:                newMessageID(self.Fingerprint, recipientFP, seqNum),
		Sender:            self.Fingerprint,
		Recipient:         string(recipientFP),
		SenderFingerprint: self.Fingerprint,
		Plaintext:         string(plaintext),
		Timestamp:         now,
		IsOutgoing:        true,
		Status:            model.StatusPending,
		MessageType:       model.MessageTypeChat,
		OfflineSeq:        seqNum,
	}
	if err := s.store.SaveOutgoing(msg); err != nil {
		return 0, err
	}
	return seqNum, nil
}

func (s *Service) appendToCell(ctx context.Context, senderFP, recipientFP model.Fingerprint, now time.Time, newEntry Entry) error {
	key := OutboxCellKey(senderFP, recipientFP, DayBucket(now))
	raw, err := s.dhtSvc.GetAll(ctx, key)
	if err != nil && err != dht.ErrNotFound {
		return err
	}
	var merged []Entry
	for _, v := range raw {
		entries, err := decodeCell(v)
		if err != nil {
			continue
		}
		merged = mergeEntries(merged, entries)
	}
	merged = mergeEntries(merged, []Entry{newEntry})

	payload, err := encodeCell(merged)
	if err != nil {
		return err
	}
	_, err = s.dhtSvc.Put(ctx, key, payload, dht.Persist7Day)
	return err
}

// ListenOutbox arms a listener on sender's outbox cell addressed to self
// for the given day bucket, invoking handler with the raw cell value on
// every change.
func (s *Service) ListenOutbox(senderFP, selfFP model.Fingerprint, dayBucket int64, handler func(raw []byte)) (dht.ListenHandle, error) {
	key := OutboxCellKey(senderFP, selfFP, dayBucket)
	return s.dhtSvc.Listen(key, func(_ dht.Key, value []byte) { handler(value) })
}

// ListenWatermark arms a listener on the watermark cell recipientFP
// publishes to acknowledge messages from senderFP.
func (s *Service) ListenWatermark(recipientFP, senderFP model.Fingerprint, handler func(raw []byte)) (dht.ListenHandle, error) {
	key := WatermarkCellKey(recipientFP, senderFP)
	return s.dhtSvc.Listen(key, func(_ dht.Key, value []byte) { handler(value) })
}

// HandleOutboxCellUpdate is the receive path: it decrypts every envelope
// whose seq_num is new, persists it, advances the local high-water mark,
// and publishes an updated watermark cell.
func (s *Service) HandleOutboxCellUpdate(ctx context.Context, self *identity.Keys, senderFP model.Fingerprint, raw []byte, now time.Time) error {
	entries, err := decodeCell(raw)
	if err != nil {
		s.log.Warn("outbox cell decode failed", "sender", senderFP, "error", err)
		return err
	}

	highWater, _ := s.hw.Get(senderFP)
	newHighWater := highWater
	for _, e := range entries {
		if e.SeqNum <= highWater {
			continue
		}
		plaintext, envSenderFP, _, ts, err := envelope.DecryptAndVerify(e.Envelope, self.KEMPrivateKey)
		if err != nil {
			s.log.Warn("outbox envelope rejected", "sender", senderFP, "seq_num", e.SeqNum, "error", err)
			continue
		}
		if envSenderFP != senderFP {
			s.log.Warn("outbox envelope sender mismatch", "claimed", senderFP, "actual", envSenderFP)
			continue
		}

		msg := model.Message{
			ID:                newMessageID(senderFP, self.Fingerprint, e.SeqNum),
			Sender:            senderFP,
			Recipient:         string(self.Fingerprint),
			SenderFingerprint: senderFP,
			Plaintext:         string(plaintext),
			Timestamp:         ts,
			IsOutgoing:        false,
			Status:            model.StatusDelivered,
			MessageType:       model.MessageTypeChat,
			OfflineSeq:        e.SeqNum,
		}
		if err := s.store.SaveIncoming(msg); err != nil {
			s.log.Warn("failed to persist incoming message", "error", err)
			continue
		}
		if e.SeqNum > newHighWater {
			newHighWater = e.SeqNum
		}
	}

	if newHighWater == highWater {
		return nil
	}
	s.hw.Set(senderFP, newHighWater)

	watermark, err := SignWatermark(newHighWater, now, self.DSAPrivateKey)
	if err != nil {
		return err
	}
	payload, err := encodeWatermark(watermark)
	if err != nil {
		return err
	}
	_, err = s.dhtSvc.Put(ctx, WatermarkCellKey(self.Fingerprint, senderFP), payload, dht.Ephemeral)
	return err
}

// HandleWatermarkUpdate is the acknowledgement path: when a recipient's
// signed high-water mark increases, every locally stored outgoing message
// to them whose OfflineSeq is covered is marked DELIVERED.
func (s *Service) HandleWatermarkUpdate(recipientFP model.Fingerprint, raw []byte, recipientDSAPublicKey []byte) error {
	w, err := decodeWatermark(raw)
	if err != nil {
		return err
	}
	if err := VerifyWatermark(w, recipientDSAPublicKey); err != nil {
		return err
	}
	return s.store.MarkDelivered(recipientFP, w.MaxSeqNumReceived)
}

// MarkStale advances PENDING outgoing messages older than StaleAfter to
// STALE; called from the engine heartbeat.
func (s *Service) MarkStale(now time.Time) error {
	return s.store.MarkStaleOlderThan(now.Add(-StaleAfter))
}

func newMessageID(a, b model.Fingerprint, seqNum uint64) string {
	return string(a) + ":" + string(b) + ":" + itoa64(int64(seqNum))
}
