package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/group"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/keyserver"
	"dna-messenger/internal/outbox"
	"dna-messenger/internal/store"
	"dna-messenger/pkg/model"
)

const maxPlaintextSize = 64 * 1024 // plaintexts over 64 KiB are BadInput.

// contactWatch tracks the live listeners and cached state for one contact's
// direct-message channel, rearmed at day rotation by the heartbeat.
type contactWatch struct {
	dayBucket       int64
	outboxHandle    dht.ListenHandle
	watermarkHandle dht.ListenHandle
	dsaPublicKey    []byte
}

// groupWatch tracks the live listeners for one joined group.
type groupWatch struct {
	dayBucket           int64
	metadataHandle      dht.ListenHandle
	feedHandle          dht.ListenHandle
	group               model.Group
	creatorDSAPublicKey []byte
}

// Engine is the host API facade and driving loop. One Engine owns one
// loaded identity and the process-wide DHT singleton.
type Engine struct {
	dataDir string
	log     *slog.Logger

	node       *dht.Node
	ks         *keyserver.Service
	msgStore   *store.MessageStore
	groupStore *store.GroupStore
	outboxSvc  *outbox.Service

	dispatcher *Dispatcher
	metrics    *Metrics
	presence   *PresenceTracker
	cfgWatcher *ConfigWatcher

	mu       sync.Mutex
	identity *identity.Identity
	contacts map[model.Fingerprint]*contactWatch
	groups   map[string]*groupWatch

	stop     chan struct{}
	stopOnce sync.Once
}

// Create opens (creating if absent) the local stores under dataDir and
// brings up the DHT singleton, but does not load an identity yet.
func Create(dataDir string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "db"), 0o700); err != nil {
		return nil, WrapErr("create", KindInternal, err)
	}
	if _, err := LoadConfig(dataDir); err != nil {
		return nil, WrapErr("create", KindInternal, err)
	}

	msgStore, err := store.OpenMessageStore(filepath.Join(dataDir, "db", "messages.db"))
	if err != nil {
		return nil, WrapErr("create", KindInternal, err)
	}
	groupStore, err := store.OpenGroupStore(filepath.Join(dataDir, "db", "groups.db"))
	if err != nil {
		msgStore.Close()
		return nil, WrapErr("create", KindInternal, err)
	}

	node := dht.Singleton(dht.DefaultConfig())
	if err := node.Start(context.Background()); err != nil {
		msgStore.Close()
		groupStore.Close()
		return nil, WrapErr("create", KindDhtUnavailable, err)
	}

	ks := keyserver.New(node)
	outboxSvc := outbox.New(node, ks, msgStore, msgStore, msgStore)

	e := &Engine{
		dataDir:    dataDir,
		log:        slog.Default().With("component", "engine"),
		node:       node,
		ks:         ks,
		msgStore:   msgStore,
		groupStore: groupStore,
		outboxSvc:  outboxSvc,
		dispatcher: newDispatcher(),
		metrics:    NewMetrics(prometheus.NewRegistry()),
		presence:   newPresenceTracker(),
		contacts:   make(map[model.Fingerprint]*contactWatch),
		groups:     make(map[string]*groupWatch),
		stop:       make(chan struct{}),
	}

	cw, err := WatchConfig(dataDir, func(cfg Config) {
		e.log.Info("config reloaded", "log_level", cfg.LogLevel)
	})
	if err != nil {
		e.log.Warn("config watch failed to start", "error", err)
	} else {
		e.cfgWatcher = cw
	}

	go e.dispatcher.Run(e.stop)
	go e.heartbeatLoop()

	return e, nil
}

// Destroy tears down the engine: stops the heartbeat, closes the config
// watcher, releases the identity lock, and closes local stores.
func (e *Engine) Destroy() error {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.cfgWatcher != nil {
		e.cfgWatcher.Close()
	}
	e.mu.Lock()
	id := e.identity
	e.identity = nil
	e.mu.Unlock()
	if id != nil {
		id.Close()
	}
	e.node.Stop()
	e.msgStore.Close()
	e.groupStore.Close()
	return nil
}

// CreateIdentity derives and persists a new identity from a mnemonic and
// loads it.
func (e *Engine) CreateIdentity(mnemonic, passphrase, password, displayName string) (model.Fingerprint, error) {
	started := time.Now()
	id, err := identity.CreateIdentity(e.dataDir, mnemonic, passphrase, password, displayName, started)
	if err != nil {
		e.metrics.RecordOpError("create_identity", "api")
		return "", classifyIdentityErr("create_identity", err)
	}
	e.metrics.RecordOp("create_identity", started)
	e.setIdentity(id)
	e.dispatcher.Dispatch(Event{Code: EventIdentityLoaded})
	return id.Fingerprint(), nil
}

// LoadIdentity decrypts and loads the identity already persisted in
// dataDir, then arms listeners for every remembered contact and joined
// group.
func (e *Engine) LoadIdentity(password, displayName string) error {
	started := time.Now()
	id, err := identity.LoadIdentity(e.dataDir, password, displayName, started)
	if err != nil {
		e.metrics.RecordOpError("load_identity", "api")
		return classifyIdentityErr("load_identity", err)
	}
	e.metrics.RecordOp("load_identity", started)
	e.setIdentity(id)

	contacts, err := store.ContactStoreAdapter{GroupStore: e.groupStore}.List()
	if err == nil {
		for _, c := range contacts {
			if _, err := e.armContact(context.Background(), c.Fingerprint, started); err != nil {
				e.log.Warn("failed to arm contact listener on load", "contact", c.Fingerprint, "error", err)
			}
		}
	}
	gs, err := e.groupStore.ListGroups()
	if err == nil {
		for _, g := range gs {
			if err := e.armGroup(g, started); err != nil {
				e.log.Warn("failed to arm group listener on load", "group", g.UUID, "error", err)
			}
		}
	}

	e.dispatcher.Dispatch(Event{Code: EventIdentityLoaded})
	return nil
}

func classifyIdentityErr(op string, err error) error {
	switch {
	case errors.Is(err, identity.ErrIdentityExists):
		return WrapErr(op, KindAlreadyExists, err)
	case errors.Is(err, identity.ErrIdentityNotFound):
		return WrapErr(op, KindNotFound, err)
	case errors.Is(err, identity.ErrIdentityLocked):
		return WrapErr(op, KindLocked, err)
	case errors.Is(err, identity.ErrKeyFileBadPass):
		return WrapErr(op, KindBadInput, err)
	default:
		return WrapErr(op, KindInternal, err)
	}
}

func (e *Engine) setIdentity(id *identity.Identity) {
	e.mu.Lock()
	e.identity = id
	e.mu.Unlock()
}

func (e *Engine) self() (*identity.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity == nil {
		return nil, WrapErr("self", KindNotFound, errors.New("no identity loaded"))
	}
	return e.identity, nil
}

// RegisterName publishes the loaded identity's record bound to name.
func (e *Engine) RegisterName(ctx context.Context, name string) error {
	id, err := e.self()
	if err != nil {
		return err
	}
	rec, err := identity.SignIdentityRecord(id.Keys, name, time.Now())
	if err != nil {
		return WrapErr("register_name", KindCryptoFailure, err)
	}
	if err := e.ks.PublishIdentity(ctx, rec); err != nil {
		if errors.Is(err, keyserver.ErrNameTaken) {
			return WrapErr("register_name", KindAlreadyExists, err)
		}
		return WrapErr("register_name", KindDhtUnavailable, err)
	}
	id.Record = rec
	return nil
}

// GetDisplayName resolves fp's published identity record and returns its
// display name, if any.
func (e *Engine) GetDisplayName(ctx context.Context, fp model.Fingerprint) (string, error) {
	rec, err := e.ks.Resolve(ctx, string(fp))
	if err != nil {
		return "", WrapErr("get_display_name", KindNotFound, err)
	}
	return rec.DisplayName, nil
}

// AddContact resolves identifier via the keyserver, remembers it locally,
// and arms its direct-message listeners.
func (e *Engine) AddContact(ctx context.Context, identifier string) (model.Contact, error) {
	rec, err := e.ks.Resolve(ctx, identifier)
	if err != nil {
		return model.Contact{}, WrapErr("add_contact", KindNotFound, err)
	}
	id, err := e.self()
	if err != nil {
		return model.Contact{}, err
	}
	if rec.Fingerprint == id.Fingerprint() {
		return model.Contact{}, WrapErr("add_contact", KindBadInput, errors.New("cannot add self as a contact"))
	}
	c := model.Contact{Fingerprint: rec.Fingerprint, DisplayName: rec.DisplayName, AddedAt: time.Now()}
	if err := (store.ContactStoreAdapter{GroupStore: e.groupStore}).Save(c); err != nil {
		return model.Contact{}, WrapErr("add_contact", KindInternal, err)
	}
	if _, err := e.armContact(ctx, c.Fingerprint, time.Now()); err != nil {
		e.log.Warn("failed to arm newly added contact", "contact", c.Fingerprint, "error", err)
	}
	return c, nil
}

// RemoveContact disarms a contact's listeners and forgets them locally.
func (e *Engine) RemoveContact(fp model.Fingerprint) error {
	e.disarmContact(fp)
	if err := (store.ContactStoreAdapter{GroupStore: e.groupStore}).Delete(fp); err != nil {
		return WrapErr("remove_contact", KindInternal, err)
	}
	return nil
}

// GetContacts lists every remembered contact.
func (e *Engine) GetContacts() ([]model.Contact, error) {
	list, err := (store.ContactStoreAdapter{GroupStore: e.groupStore}).List()
	if err != nil {
		return nil, WrapErr("get_contacts", KindInternal, err)
	}
	return list, nil
}

// SendMessage encrypts and appends plaintext to recipientFP's outbox.
// The call blocks until the recipient is resolved and the outbox put
// (including its retries) has finished, then returns a request id;
// delivery is observed via get_conversation or an OutboxUpdated/
// MessageReceived event.
func (e *Engine) SendMessage(ctx context.Context, recipientFP model.Fingerprint, plaintext []byte) (string, error) {
	if len(plaintext) > maxPlaintextSize {
		return "", WrapErr("send_message", KindBadInput, errors.New("plaintext exceeds 64 KiB"))
	}
	id, err := e.self()
	if err != nil {
		return "", err
	}
	started := time.Now()
	if _, err := e.outboxSvc.Send(ctx, id.Keys, recipientFP, plaintext, started); err != nil {
		e.metrics.RecordOpError("send_message", "network")
		return "", WrapErr("send_message", KindDhtTimeout, err)
	}
	e.metrics.RecordOp("send_message", started)
	reqID, err := generateRequestID("send")
	if err != nil {
		return "", WrapErr("send_message", KindInternal, err)
	}
	e.dispatcher.Dispatch(Event{Code: EventOutboxUpdated, ContactFP: recipientFP})
	return reqID, nil
}

// GetConversation returns the locally stored direct-message thread with
// peerFP.
func (e *Engine) GetConversation(peerFP model.Fingerprint) ([]model.Message, error) {
	msgs, err := e.msgStore.GetConversation(peerFP, "", 10000)
	if err != nil {
		return nil, WrapErr("get_conversation", KindInternal, err)
	}
	return msgs, nil
}

// GetGroupMessages returns a group's locally decrypted feed, ordered by
// timestamp. get_conversation has no group counterpart in the host API,
// but one is needed to read back send_group_message.
func (e *Engine) GetGroupMessages(groupUUID string) ([]model.Message, error) {
	msgs, err := e.msgStore.GetConversation("", groupUUID, 10000)
	if err != nil {
		return nil, WrapErr("get_group_messages", KindInternal, err)
	}
	return msgs, nil
}

// CreateGroup creates a new group at gek_version 0, rotates GEK v0, and
// arms its listeners.
func (e *Engine) CreateGroup(ctx context.Context, name string, members []model.Fingerprint) (string, error) {
	id, err := e.self()
	if err != nil {
		return "", err
	}
	now := time.Now()
	allMembers := append(append([]model.Fingerprint(nil), members...), id.Fingerprint())
	g, err := group.CreateGroup(ctx, e.node, id.Keys, name, "", dedupFingerprints(allMembers), now)
	if err != nil {
		return "", WrapErr("create_group", KindInternal, err)
	}
	gek, err := group.RotateGEK(ctx, e.node, e.ks, id.Keys, g)
	if err != nil {
		return "", WrapErr("create_group", KindInternal, err)
	}
	if _, err := e.groupStore.SaveGroup(g); err != nil {
		return "", WrapErr("create_group", KindInternal, err)
	}
	if err := e.groupStore.Save(g.UUID, g.GEKVersion, gek); err != nil {
		return "", WrapErr("create_group", KindInternal, err)
	}
	if err := e.armGroup(g, now); err != nil {
		e.log.Warn("failed to arm newly created group", "group", g.UUID, "error", err)
	}
	return g.UUID, nil
}

// SendGroupMessage encrypts plaintext under the group's current GEK and
// appends it to today's feed cell.
func (e *Engine) SendGroupMessage(ctx context.Context, groupUUID string, plaintext []byte) error {
	if len(plaintext) > maxPlaintextSize {
		return WrapErr("send_group_message", KindBadInput, errors.New("plaintext exceeds 64 KiB"))
	}
	id, err := e.self()
	if err != nil {
		return err
	}
	g, ok := e.groupStore.GetGroup(groupUUID)
	if !ok {
		return WrapErr("send_group_message", KindNotFound, fmt.Errorf("group %s not found locally", groupUUID))
	}
	gek, ok := e.groupStore.Get(groupUUID, g.GEKVersion)
	if !ok {
		return WrapErr("send_group_message", KindInternal, fmt.Errorf("no local gek for group %s v%d", groupUUID, g.GEKVersion))
	}
	now := time.Now()
	if err := group.SendFeedMessage(ctx, e.node, id.Keys, g, gek, plaintext, now); err != nil {
		return WrapErr("send_group_message", KindDhtTimeout, err)
	}
	return nil
}

// GetGroups lists every locally mirrored group.
func (e *Engine) GetGroups() ([]model.Group, error) {
	gs, err := e.groupStore.ListGroups()
	if err != nil {
		return nil, WrapErr("get_groups", KindInternal, err)
	}
	return gs, nil
}

// GetInvitations lists pending group invitations.
func (e *Engine) GetInvitations() ([]model.Invitation, error) {
	list, err := (store.InvitationAdapter{GroupStore: e.groupStore}).List()
	if err != nil {
		return nil, WrapErr("get_invitations", KindInternal, err)
	}
	return list, nil
}

// AcceptInvitation joins the group's current GEK generation and arms its
// listeners.
func (e *Engine) AcceptInvitation(ctx context.Context, groupUUID string) error {
	id, err := e.self()
	if err != nil {
		return err
	}
	invStore := store.InvitationAdapter{GroupStore: e.groupStore}
	inv, ok := invStore.Get(groupUUID)
	if !ok {
		return WrapErr("accept_invitation", KindNotFound, group.ErrInvitationNotFound)
	}
	// AcceptInvitation below re-fetches and deletes the same invitation; the
	// inviter's fingerprint is needed first to resolve their DSA public key.
	inviterRec, err := e.ks.Resolve(ctx, string(inv.InviterFP))
	if err != nil {
		return WrapErr("accept_invitation", KindDhtUnavailable, err)
	}
	result, err := group.AcceptInvitation(ctx, group.JoinDeps{DHT: e.node}, invStore, id.Keys, groupUUID, inviterRec.DSAPublicKey)
	if err != nil {
		return WrapErr("accept_invitation", KindCryptoFailure, err)
	}
	if _, err := e.groupStore.SaveGroup(result.Group); err != nil {
		return WrapErr("accept_invitation", KindInternal, err)
	}
	if err := e.groupStore.Save(result.Group.UUID, result.GEKVersion, result.GEK); err != nil {
		return WrapErr("accept_invitation", KindInternal, err)
	}
	if err := e.armGroup(result.Group, time.Now()); err != nil {
		e.log.Warn("failed to arm accepted group", "group", groupUUID, "error", err)
	}
	return nil
}

// RejectInvitation discards a pending invitation.
func (e *Engine) RejectInvitation(groupUUID string) error {
	if err := group.RejectInvitation(store.InvitationAdapter{GroupStore: e.groupStore}, groupUUID); err != nil {
		if errors.Is(err, group.ErrInvitationNotFound) {
			return WrapErr("reject_invitation", KindNotFound, err)
		}
		return WrapErr("reject_invitation", KindInternal, err)
	}
	return nil
}

// IsPeerOnline reports fp's derived presence.
func (e *Engine) IsPeerOnline(fp model.Fingerprint) bool {
	return e.presence.IsOnline(fp, time.Now())
}

// RefreshPresence re-evaluates every tracked contact's presence and
// dispatches ContactOffline for any that fell out of the presence window.
func (e *Engine) RefreshPresence() {
	for _, fp := range e.presence.Sweep(time.Now()) {
		e.dispatcher.Dispatch(Event{Code: EventContactOffline, ContactFP: fp})
	}
}

// SetEventListener registers the host's event callback.
func (e *Engine) SetEventListener(fn func(Event)) {
	e.dispatcher.SetEventListener(fn)
}

// NetworkChanged reinitializes the DHT singleton with backoff and rearms
// every listener, preserving day-bucket bookkeeping.
func (e *Engine) NetworkChanged(ctx context.Context) error {
	if err := e.node.ReinitializeWithBackoff(ctx); err != nil {
		return WrapErr("network_changed", KindDhtUnavailable, err)
	}
	return nil
}

// AcceptMessageRequest adds the sender of a pending message request as a
// contact, removes the request and arms that contact's listeners.
func (e *Engine) AcceptMessageRequest(ctx context.Context, fp model.Fingerprint) error {
	reqStore := store.MessageRequestAdapter{GroupStore: e.groupStore}
	if !reqStore.Has(fp) {
		return WrapErr("accept_message_request", KindNotFound, fmt.Errorf("no pending message request from %s", fp))
	}
	rec, err := e.ks.Resolve(ctx, string(fp))
	displayName := ""
	if err == nil {
		displayName = rec.DisplayName
	}
	if err := (store.ContactStoreAdapter{GroupStore: e.groupStore}).Save(model.Contact{Fingerprint: fp, DisplayName: displayName, AddedAt: time.Now()}); err != nil {
		return WrapErr("accept_message_request", KindInternal, err)
	}
	if err := reqStore.Delete(fp); err != nil {
		return WrapErr("accept_message_request", KindInternal, err)
	}
	if _, err := e.armContact(ctx, fp, time.Now()); err != nil {
		e.log.Warn("failed to arm contact after accepting message request", "contact", fp, "error", err)
	}
	return nil
}

// RejectMessageRequest drops a held message-request thread.
func (e *Engine) RejectMessageRequest(fp model.Fingerprint) error {
	reqStore := store.MessageRequestAdapter{GroupStore: e.groupStore}
	if !reqStore.Has(fp) {
		return WrapErr("reject_message_request", KindNotFound, fmt.Errorf("no pending message request from %s", fp))
	}
	if err := reqStore.Delete(fp); err != nil {
		return WrapErr("reject_message_request", KindInternal, err)
	}
	return nil
}

// MetricsSnapshot exposes the engine's operation metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

func dedupFingerprints(fps []model.Fingerprint) []model.Fingerprint {
	seen := make(map[model.Fingerprint]bool, len(fps))
	out := make([]model.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, fp)
	}
	return out
}

func generateRequestID(prefix string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}
