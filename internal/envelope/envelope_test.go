package envelope

import (
	"testing"
	"time"

	"dna-messenger/internal/identity"
)

func mustKeys(t *testing.T) *identity.Keys {
	t.Helper()
	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	keys, err := identity.DeriveKeys(mnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	return keys
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	env, err := Encrypt(recipient.KEMPublicKey, sender.DSAPublicKey, sender.DSAPrivateKey, sender.Fingerprint, recipient.Fingerprint, []byte("hello dna"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	plaintext, senderFP, senderDSAPub, ts, err := DecryptAndVerify(env, recipient.KEMPrivateKey)
	if err != nil {
		t.Fatalf("DecryptAndVerify: %v", err)
	}
	if string(plaintext) != "hello dna" {
		t.Fatalf("plaintext mismatch: got %q", plaintext)
	}
	if senderFP != sender.Fingerprint {
		t.Fatalf("sender fingerprint mismatch: got %s want %s", senderFP, sender.Fingerprint)
	}
	if string(senderDSAPub) != string(sender.DSAPublicKey) {
		t.Fatalf("sender dsa public key mismatch")
	}
	if !ts.Equal(now) {
		t.Fatalf("timestamp mismatch: got %v want %v", ts, now)
	}
}

func TestDecryptAndVerifyRejectsWrongRecipient(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	stranger := mustKeys(t)
	now := time.Now()

	env, err := Encrypt(recipient.KEMPublicKey, sender.DSAPublicKey, sender.DSAPrivateKey, sender.Fingerprint, recipient.Fingerprint, []byte("secret"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, _, _, _, err := DecryptAndVerify(env, stranger.KEMPrivateKey); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecryptAndVerifyRejectsTamperedSignature(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	now := time.Now()

	env, err := Encrypt(recipient.KEMPublicKey, sender.DSAPublicKey, sender.DSAPrivateKey, sender.Fingerprint, recipient.Fingerprint, []byte("secret"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env[len(env)-1] ^= 0xFF

	if _, _, _, _, err := DecryptAndVerify(env, recipient.KEMPrivateKey); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestDecryptAndVerifyRejectsForgedFingerprint(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	impostor := mustKeys(t)
	now := time.Now()

	env, err := Encrypt(recipient.KEMPublicKey, sender.DSAPublicKey, sender.DSAPrivateKey, impostor.Fingerprint, recipient.Fingerprint, []byte("secret"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, _, _, _, err := DecryptAndVerify(env, recipient.KEMPrivateKey); err != ErrBadFingerprint {
		t.Fatalf("expected ErrBadFingerprint, got %v", err)
	}
}

func TestDecryptAndVerifyRejectsTruncatedEnvelope(t *testing.T) {
	if _, _, _, _, err := DecryptAndVerify([]byte{1, 2, 3}, nil); err != ErrMalformedEnvelope {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}
