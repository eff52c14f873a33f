package keyserver

import (
	"context"
	"testing"
	"time"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

func newTestNode(t *testing.T) dht.Service {
	t.Helper()
	dht.ResetSingletonForTest()
	n := dht.Singleton(dht.DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("dht Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func signedRecord(t *testing.T, displayName string) (*identity.Keys, model.IdentityRecord) {
	t.Helper()
	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	keys, err := identity.DeriveKeys(mnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	rec, err := identity.SignIdentityRecord(keys, displayName, time.Now())
	if err != nil {
		t.Fatalf("SignIdentityRecord: %v", err)
	}
	return keys, rec
}

func TestPublishThenResolveByFingerprint(t *testing.T) {
	svc := New(newTestNode(t))
	defer svc.Close()

	_, rec := signedRecord(t, "alice")
	if err := svc.PublishIdentity(context.Background(), rec); err != nil {
		t.Fatalf("PublishIdentity: %v", err)
	}

	got, err := svc.Resolve(context.Background(), string(rec.Fingerprint))
	if err != nil {
		t.Fatalf("Resolve by fingerprint: %v", err)
	}
	if got.Fingerprint != rec.Fingerprint {
		t.Fatalf("fingerprint mismatch: got %s want %s", got.Fingerprint, rec.Fingerprint)
	}
}

func TestPublishThenResolveByName(t *testing.T) {
	svc := New(newTestNode(t))
	defer svc.Close()

	_, rec := signedRecord(t, "bob")
	if err := svc.PublishIdentity(context.Background(), rec); err != nil {
		t.Fatalf("PublishIdentity: %v", err)
	}

	got, err := svc.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Resolve by name: %v", err)
	}
	if got.Fingerprint != rec.Fingerprint {
		t.Fatalf("fingerprint mismatch: got %s want %s", got.Fingerprint, rec.Fingerprint)
	}
}

func TestPublishRejectsConflictingNameRegistration(t *testing.T) {
	svc := New(newTestNode(t))
	defer svc.Close()

	_, rec1 := signedRecord(t, "shared-name")
	if err := svc.PublishIdentity(context.Background(), rec1); err != nil {
		t.Fatalf("first PublishIdentity: %v", err)
	}

	_, rec2 := signedRecord(t, "shared-name")
	if err := svc.PublishIdentity(context.Background(), rec2); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestResolveUnknownIdentifierFails(t *testing.T) {
	svc := New(newTestNode(t))
	defer svc.Close()

	if _, err := svc.Resolve(context.Background(), "nobody-registered-this-name"); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestPublishRejectsUnsignedRecord(t *testing.T) {
	svc := New(newTestNode(t))
	defer svc.Close()

	_, rec := signedRecord(t, "carol")
	rec.Signature[0] ^= 0xFF

	if err := svc.PublishIdentity(context.Background(), rec); err == nil {
		t.Fatal("expected PublishIdentity to reject a tampered signature")
	}
}
