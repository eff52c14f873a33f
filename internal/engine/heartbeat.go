package engine

import (
	"context"
	"encoding/json"
	"time"

	"dna-messenger/internal/group"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/outbox"
	"dna-messenger/pkg/model"
)

// heartbeatInterval is how often the engine rotates day-bucket listeners,
// sweeps stale messages, and re-evaluates presence.
const heartbeatInterval = 4 * time.Minute

func (e *Engine) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			e.runHeartbeat(now)
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) runHeartbeat(now time.Time) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.mu.Lock()
	contacts := make([]model.Fingerprint, 0, len(e.contacts))
	for fp := range e.contacts {
		contacts = append(contacts, fp)
	}
	groupUUIDs := make([]string, 0, len(e.groups))
	for uuid := range e.groups {
		groupUUIDs = append(groupUUIDs, uuid)
	}
	e.mu.Unlock()

	today := outbox.DayBucket(now)
	for _, fp := range contacts {
		e.rotateContactBucket(ctx, fp, today, now)
	}
	for _, uuid := range groupUUIDs {
		e.rotateGroupBucket(uuid, today, now)
	}

	if err := e.outboxSvc.MarkStale(now); err != nil {
		e.log.Warn("heartbeat: mark stale failed", "error", err)
	}

	for _, fp := range e.presence.Sweep(now) {
		e.dispatcher.Dispatch(Event{Code: EventContactOffline, ContactFP: fp})
	}

	e.metrics.RecordOp("heartbeat", started)
}

// armContact subscribes to recipientFP's outbox cell (today's bucket) and
// their watermark cell, caching their DSA public key for watermark
// verification. Called on identity load and on add_contact.
func (e *Engine) armContact(ctx context.Context, fp model.Fingerprint, now time.Time) (*contactWatch, error) {
	self, err := e.self()
	if err != nil {
		return nil, err
	}
	selfKeys, selfFP := self.Keys, self.Fingerprint()
	rec, err := e.ks.Resolve(ctx, string(fp))
	if err != nil {
		return nil, err
	}
	day := outbox.DayBucket(now)

	outboxHandle, err := e.outboxSvc.ListenOutbox(fp, selfFP, day, func(raw []byte) {
		e.onOutboxCell(selfKeys, fp, raw)
	})
	if err != nil {
		return nil, err
	}
	watermarkHandle, err := e.outboxSvc.ListenWatermark(fp, selfFP, func(raw []byte) {
		e.onWatermarkCell(fp, raw, rec.DSAPublicKey)
	})
	if err != nil {
		e.node.CancelListen(outboxHandle)
		return nil, err
	}

	w := &contactWatch{dayBucket: day, outboxHandle: outboxHandle, watermarkHandle: watermarkHandle, dsaPublicKey: rec.DSAPublicKey}
	e.mu.Lock()
	if old, ok := e.contacts[fp]; ok {
		e.node.CancelListen(old.outboxHandle)
		e.node.CancelListen(old.watermarkHandle)
	}
	e.contacts[fp] = w
	e.mu.Unlock()
	return w, nil
}

func (e *Engine) disarmContact(fp model.Fingerprint) {
	e.mu.Lock()
	w, ok := e.contacts[fp]
	delete(e.contacts, fp)
	e.mu.Unlock()
	if ok {
		e.node.CancelListen(w.outboxHandle)
		e.node.CancelListen(w.watermarkHandle)
	}
}

func (e *Engine) rotateContactBucket(ctx context.Context, fp model.Fingerprint, today int64, now time.Time) {
	e.mu.Lock()
	w, ok := e.contacts[fp]
	e.mu.Unlock()
	if !ok || w.dayBucket == today {
		return
	}
	if _, err := e.armContact(ctx, fp, now); err != nil {
		e.log.Warn("heartbeat: failed to rotate contact listener", "contact", fp, "error", err)
	}
}

func (e *Engine) onOutboxCell(selfKeys *identity.Keys, senderFP model.Fingerprint, raw []byte) {
	if err := e.outboxSvc.HandleOutboxCellUpdate(context.Background(), selfKeys, senderFP, raw, time.Now()); err != nil {
		e.log.Warn("failed to handle outbox cell update", "sender", senderFP, "error", err)
		return
	}
	if becameOnline := e.presence.Touch(senderFP, time.Now()); becameOnline {
		e.dispatcher.Dispatch(Event{Code: EventContactOnline, ContactFP: senderFP})
	}
	e.dispatcher.Dispatch(Event{Code: EventMessageReceived, ContactFP: senderFP})
}

func (e *Engine) onWatermarkCell(recipientFP model.Fingerprint, raw []byte, recipientDSAPublicKey []byte) {
	if err := e.outboxSvc.HandleWatermarkUpdate(recipientFP, raw, recipientDSAPublicKey); err != nil {
		e.log.Warn("failed to handle watermark update", "recipient", recipientFP, "error", err)
		return
	}
	e.presence.Touch(recipientFP, time.Now())
	e.dispatcher.Dispatch(Event{Code: EventOutboxUpdated, ContactFP: recipientFP})
}

// armGroup subscribes to a group's metadata cell and its feed cell for
// today's day bucket.
func (e *Engine) armGroup(g model.Group, now time.Time) error {
	creatorRec, err := e.ks.Resolve(context.Background(), string(g.CreatorFP))
	if err != nil {
		return err
	}
	day := outbox.DayBucket(now)

	metadataHandle, err := group.ListenMetadata(e.node, g.UUID, func(raw []byte) {
		e.onGroupMetadata(g.UUID, raw, creatorRec.DSAPublicKey)
	})
	if err != nil {
		return err
	}
	feedHandle, err := group.ListenFeed(e.node, g.UUID, day, func(raw []byte) {
		e.onGroupFeed(g.UUID, raw)
	})
	if err != nil {
		e.node.CancelListen(metadataHandle)
		return err
	}

	w := &groupWatch{dayBucket: day, metadataHandle: metadataHandle, feedHandle: feedHandle, group: g, creatorDSAPublicKey: creatorRec.DSAPublicKey}
	e.mu.Lock()
	if old, ok := e.groups[g.UUID]; ok {
		e.node.CancelListen(old.metadataHandle)
		e.node.CancelListen(old.feedHandle)
	}
	e.groups[g.UUID] = w
	e.mu.Unlock()
	return nil
}

func (e *Engine) disarmGroup(groupUUID string) {
	e.mu.Lock()
	w, ok := e.groups[groupUUID]
	delete(e.groups, groupUUID)
	e.mu.Unlock()
	if ok {
		e.node.CancelListen(w.metadataHandle)
		e.node.CancelListen(w.feedHandle)
	}
}

func (e *Engine) rotateGroupBucket(groupUUID string, today int64, now time.Time) {
	e.mu.Lock()
	w, ok := e.groups[groupUUID]
	e.mu.Unlock()
	if !ok || w.dayBucket == today {
		return
	}
	if err := e.armGroup(w.group, now); err != nil {
		e.log.Warn("heartbeat: failed to rotate group feed listener", "group", groupUUID, "error", err)
	}
}

func (e *Engine) onGroupMetadata(groupUUID string, raw []byte, creatorDSAPublicKey []byte) {
	var g model.Group
	if err := json.Unmarshal(raw, &g); err != nil {
		e.log.Warn("group metadata update malformed", "group", groupUUID, "error", err)
		return
	}
	if err := group.VerifyMetadata(g, creatorDSAPublicKey); err != nil {
		e.log.Warn("group metadata update rejected: bad signature", "group", groupUUID, "error", err)
		return
	}
	if _, err := e.groupStore.SaveGroup(g); err != nil {
		e.log.Warn("failed to save updated group metadata", "group", groupUUID, "error", err)
	}
	e.mu.Lock()
	if w, ok := e.groups[groupUUID]; ok {
		w.group = g
	}
	e.mu.Unlock()
}

func (e *Engine) onGroupFeed(groupUUID string, raw []byte) {
	e.mu.Lock()
	w, ok := e.groups[groupUUID]
	e.mu.Unlock()
	if !ok {
		return
	}
	senderKeys := make(map[model.Fingerprint][]byte, len(w.group.Members))
	for _, m := range w.group.Members {
		if rec, err := e.ks.Resolve(context.Background(), string(m)); err == nil {
			senderKeys[m] = rec.DSAPublicKey
		}
	}
	if err := group.HandleFeedCellUpdate(groupUUID, raw, e.groupStore, e.msgStore, senderKeys, e.log); err != nil {
		e.log.Warn("failed to handle group feed update", "group", groupUUID, "error", err)
		return
	}
	e.dispatcher.Dispatch(Event{Code: EventMessageReceived, GroupUUID: groupUUID})
}
