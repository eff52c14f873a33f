package cryptofacade

import (
	"bytes"
	"testing"
)

func TestKEMEncapDecapRoundtrip(t *testing.T) {
	kp, err := KEMKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ct, ss1, err := KEMEncap(kp.PublicKey)
	if err != nil {
		t.Fatalf("encap: %v", err)
	}
	ss2, err := KEMDecap(kp.PrivateKey, ct)
	if err != nil {
		t.Fatalf("decap: %v", err)
	}
	if !bytes.Equal(ss1, ss2) {
		t.Fatalf("shared secrets differ")
	}
	if len(ct) != KEMCiphertextSize {
		t.Fatalf("unexpected ciphertext size: %d", len(ct))
	}
}

func TestDSASignVerifyRoundtrip(t *testing.T) {
	seed := make([]byte, DSASeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	pub, priv, err := DSAKeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("keypair from seed: %v", err)
	}
	msg := []byte("dna messenger envelope bytes")
	sig, err := DSASign(msg, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !DSAVerify(msg, sig, pub) {
		t.Fatalf("verify failed for genuine signature")
	}
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	if DSAVerify(tampered, sig, pub) {
		t.Fatalf("verify succeeded for tampered message")
	}
}

func TestDSAKeypairFromSeedIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, DSASeedSize)
	pub1, priv1, err := DSAKeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("first derivation: %v", err)
	}
	pub2, priv2, err := DSAKeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("second derivation: %v", err)
	}
	if !bytes.Equal(pub1, pub2) || !bytes.Equal(priv1, priv2) {
		t.Fatalf("same seed produced different keys")
	}
}

func TestAEADSealOpenRoundtrip(t *testing.T) {
	key := make([]byte, AEADKeySize)
	if err := CSPRNGFill(key); err != nil {
		t.Fatalf("fill key: %v", err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	aad := []byte("sender_fp||recipient_fp")
	plaintext := []byte("hello")
	ct, tag, err := AEADSeal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := AEADOpen(key, nonce, aad, ct, tag)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: %q", got)
	}
}

func TestAEADOpenRejectsTamperedTag(t *testing.T) {
	key := make([]byte, AEADKeySize)
	if err := CSPRNGFill(key); err != nil {
		t.Fatalf("fill key: %v", err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	ct, tag, err := AEADSeal(key, nonce, nil, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	tag[0] ^= 0xFF
	if _, err := AEADOpen(key, nonce, nil, ct, tag); err == nil {
		t.Fatalf("expected open to fail on tampered tag")
	}
}

func TestHKDFSHA3512DeterministicAndDomainSeparated(t *testing.T) {
	ikm := []byte("shared secret material")
	out1, err := HKDFSHA3512(ikm, nil, []byte(EnvelopeKeyLabel), AEADKeySize)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	out2, err := HKDFSHA3512(ikm, nil, []byte(GEKWrapLabel), AEADKeySize)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	if bytes.Equal(out1, out2) {
		t.Fatalf("different labels produced identical output")
	}
	out1Again, err := HKDFSHA3512(ikm, nil, []byte(EnvelopeKeyLabel), AEADKeySize)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	if !bytes.Equal(out1, out1Again) {
		t.Fatalf("hkdf is not deterministic for identical inputs")
	}
}

func TestSHA3512MatchesExpectedSize(t *testing.T) {
	sum := SHA3_512([]byte("fingerprint me"))
	if len(sum) != HashSize {
		t.Fatalf("unexpected digest size: %d", len(sum))
	}
}
