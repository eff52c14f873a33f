package keyserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

// cacheTTL bounds how long a resolved identity record is served from the
// in-memory cache before the next lookup hits the DHT again.
const cacheTTL = 5 * time.Minute

var (
	ErrNameTaken        = errors.New("keyserver: name is already registered to a different fingerprint")
	ErrRecordNotFound   = errors.New("keyserver: no identity record for identifier")
	ErrInvalidRecord    = errors.New("keyserver: record failed signature verification")
)

// Service publishes and resolves identity records.
type Service struct {
	dht   dht.Service
	cache *ttlcache.Cache[string, model.IdentityRecord]
	group singleflight.Group
}

func New(svc dht.Service) *Service {
	cache := ttlcache.New[string, model.IdentityRecord](
		ttlcache.WithTTL[string, model.IdentityRecord](cacheTTL),
	)
	go cache.Start()
	return &Service{dht: svc, cache: cache}
}

// Close stops the cache's background eviction goroutine.
func (s *Service) Close() {
	s.cache.Stop()
}

// PublishIdentity puts the forward (name→record) and reverse
// (fingerprint→record) entries. Name registration is first-writer-wins:
// if a name is already bound to a different fingerprint, the publish is
// rejected.
func (s *Service) PublishIdentity(ctx context.Context, rec model.IdentityRecord) error {
	if err := identity.VerifyIdentityRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if rec.DisplayName != "" {
		existing, err := s.fetchRaw(ctx, nameKey(rec.DisplayName))
		if err == nil {
			if existing.Fingerprint != rec.Fingerprint {
				return ErrNameTaken
			}
		} else if !errors.Is(err, dht.ErrNotFound) {
			return err
		}
		if _, err := s.dht.Put(ctx, nameKey(rec.DisplayName), payload, dht.Persist365Day); err != nil {
			return err
		}
	}

	if _, err := s.dht.Put(ctx, fingerprintKey(string(rec.Fingerprint)), payload, dht.Persist365Day); err != nil {
		return err
	}

	s.cache.Set(string(rec.Fingerprint), rec, ttlcache.DefaultTTL)
	if rec.DisplayName != "" {
		s.cache.Set(rec.DisplayName, rec, ttlcache.DefaultTTL)
	}
	return nil
}

// Resolve looks up an identity record by fingerprint (128 hex chars) or by
// display name, serving from the cache when possible and deduplicating
// concurrent lookups of the same identifier.
func (s *Service) Resolve(ctx context.Context, identifier string) (model.IdentityRecord, error) {
	if item := s.cache.Get(identifier); item != nil {
		return item.Value(), nil
	}

	rec, err, _ := s.group.Do(identifier, func() (interface{}, error) {
		var key dht.Key
		if fp, ok := identity.ParseFingerprint(identifier); ok {
			key = fingerprintKey(string(fp))
		} else {
			key = nameKey(identifier)
		}
		rec, err := s.fetchRaw(ctx, key)
		if err != nil {
			return model.IdentityRecord{}, err
		}
		if err := identity.VerifyIdentityRecord(rec); err != nil {
			return model.IdentityRecord{}, ErrInvalidRecord
		}
		s.cache.Set(identifier, rec, ttlcache.DefaultTTL)
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, dht.ErrNotFound) {
			return model.IdentityRecord{}, ErrRecordNotFound
		}
		return model.IdentityRecord{}, err
	}
	return rec.(model.IdentityRecord), nil
}

func (s *Service) fetchRaw(ctx context.Context, key dht.Key) (model.IdentityRecord, error) {
	raw, err := s.dht.Get(ctx, key)
	if err != nil {
		return model.IdentityRecord{}, err
	}
	var rec model.IdentityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.IdentityRecord{}, err
	}
	return rec, nil
}
