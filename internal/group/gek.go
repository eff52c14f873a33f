package group

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/keyserver"
	"dna-messenger/pkg/model"
)

const gekSize = 32

var (
	ErrBadIKPSignature  = errors.New("group: ikp signature does not verify")
	ErrNoEntryForMember = errors.New("group: ikp has no entry for this member")
)

// IKPEntry wraps one member's copy of the GEK.
type IKPEntry struct {
	MemberFingerprint model.Fingerprint `json:"member_fingerprint"`
	KEMCiphertext     []byte            `json:"kem_ciphertext"`
	WrappedGEKNonce   []byte            `json:"wrapped_gek_nonce"`
	WrappedGEKTag     []byte            `json:"wrapped_gek_tag"`
	WrappedGEK        []byte            `json:"wrapped_gek"`
}

// IKP is the Initial Key Packet published on every GEK rotation.
type IKP struct {
	GroupUUID  string     `json:"group_uuid"`
	GEKVersion uint32     `json:"gek_version"`
	Entries    []IKPEntry `json:"entries"`
	Signature  []byte     `json:"signature"`
}

// IKPKey is the DHT key for a group's IKP at a specific GEK version.
func IKPKey(groupUUID string, gekVersion uint32) dht.Key {
	return cellKey("gek:" + groupUUID + ":" + itoa32(gekVersion))
}

func ikpSigningBytes(ikp IKP) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte(ikp.GroupUUID)...)
	buf = append(buf, 0)
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], ikp.GEKVersion)
	buf = append(buf, ver[:]...)
	for _, e := range ikp.Entries {
		buf = append(buf, []byte(e.MemberFingerprint)...)
		buf = append(buf, e.KEMCiphertext...)
		buf = append(buf, e.WrappedGEKNonce...)
		buf = append(buf, e.WrappedGEKTag...)
		buf = append(buf, e.WrappedGEK...)
	}
	return buf
}

// RotateGEK generates a fresh GEK, wraps it to every member's KEM public
// key, signs the resulting IKP with the creator's DSA key, and publishes
// it. Rotation happens on group create and on every member add/remove.
func RotateGEK(ctx context.Context, dhtSvc dht.Service, ks *keyserver.Service, creator *identity.Keys, g model.Group) (gek []byte, err error) {
	gek = make([]byte, gekSize)
	if err := cryptofacade.CSPRNGFill(gek); err != nil {
		return nil, err
	}

	entries := make([]IKPEntry, 0, len(g.Members))
	for _, member := range g.Members {
		rec, err := ks.Resolve(ctx, string(member))
		if err != nil {
			return nil, err
		}
		ct, ss, err := cryptofacade.KEMEncap(rec.KEMPublicKey)
		if err != nil {
			return nil, err
		}
		wrapKey, err := cryptofacade.HKDFSHA3512(ss, []byte(g.UUID), []byte(cryptofacade.GEKWrapLabel), cryptofacade.AEADKeySize)
		cryptofacade.Zero(ss)
		if err != nil {
			return nil, err
		}
		nonce, err := cryptofacade.GenerateNonce()
		if err != nil {
			cryptofacade.Zero(wrapKey)
			return nil, err
		}
		ciphertext, tag, err := cryptofacade.AEADSeal(wrapKey, nonce, nil, gek)
		cryptofacade.Zero(wrapKey)
		if err != nil {
			return nil, err
		}
		entries = append(entries, IKPEntry{
			MemberFingerprint: member,
			KEMCiphertext:     ct,
			WrappedGEKNonce:   nonce,
			WrappedGEKTag:     tag,
			WrappedGEK:        ciphertext,
		})
	}

	ikp := IKP{GroupUUID: g.UUID, GEKVersion: g.GEKVersion, Entries: entries}
	sig, err := cryptofacade.DSASign(ikpSigningBytes(ikp), creator.DSAPrivateKey)
	if err != nil {
		return nil, err
	}
	ikp.Signature = sig

	payload, err := json.Marshal(ikp)
	if err != nil {
		return nil, err
	}
	if _, err := dhtSvc.Put(ctx, IKPKey(g.UUID, g.GEKVersion), payload, dht.Persist365Day); err != nil {
		return nil, err
	}
	return gek, nil
}

// JoinGroup fetches the IKP at the group's current gek_version, locates the
// caller's entry, and recovers the GEK. Members joining at version N
// cannot recover GEKs for versions < N: those IKPs either don't name them
// or were never fetched.
func JoinGroup(ctx context.Context, dhtSvc dht.Service, self *identity.Keys, g model.Group, creatorDSAPublicKey []byte) (gek []byte, err error) {
	raw, err := dhtSvc.Get(ctx, IKPKey(g.UUID, g.GEKVersion))
	if err != nil {
		return nil, err
	}
	var ikp IKP
	if err := json.Unmarshal(raw, &ikp); err != nil {
		return nil, err
	}
	if !cryptofacade.DSAVerify(ikpSigningBytes(ikp), ikp.Signature, creatorDSAPublicKey) {
		return nil, ErrBadIKPSignature
	}

	var entry *IKPEntry
	for i := range ikp.Entries {
		if ikp.Entries[i].MemberFingerprint == self.Fingerprint {
			entry = &ikp.Entries[i]
			break
		}
	}
	if entry == nil {
		return nil, ErrNoEntryForMember
	}

	ss, err := cryptofacade.KEMDecap(self.KEMPrivateKey, entry.KEMCiphertext)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(ss)
	wrapKey, err := cryptofacade.HKDFSHA3512(ss, []byte(g.UUID), []byte(cryptofacade.GEKWrapLabel), cryptofacade.AEADKeySize)
	if err != nil {
		return nil, err
	}
	defer cryptofacade.Zero(wrapKey)
	return cryptofacade.AEADOpen(wrapKey, entry.WrappedGEKNonce, nil, entry.WrappedGEK, entry.WrappedGEKTag)
}

// GEKStore persists (group_uuid, gek_version) -> gek locally, forever,
// since historical feed messages may need old versions within the
// feed cell's retention window.
type GEKStore interface {
	Save(groupUUID string, gekVersion uint32, gek []byte) error
	Get(groupUUID string, gekVersion uint32) ([]byte, bool)
}

// MemoryGEKStore is an in-memory GEKStore for tests.
type MemoryGEKStore struct {
	m map[string][]byte
}

func NewMemoryGEKStore() *MemoryGEKStore { return &MemoryGEKStore{m: make(map[string][]byte)} }

func (s *MemoryGEKStore) Save(groupUUID string, gekVersion uint32, gek []byte) error {
	s.m[gekKey(groupUUID, gekVersion)] = append([]byte(nil), gek...)
	return nil
}

func (s *MemoryGEKStore) Get(groupUUID string, gekVersion uint32) ([]byte, bool) {
	v, ok := s.m[gekKey(groupUUID, gekVersion)]
	return v, ok
}

func gekKey(groupUUID string, gekVersion uint32) string {
	return groupUUID + ":" + itoa32(gekVersion)
}

func itoa32(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
