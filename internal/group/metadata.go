package group

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"dna-messenger/internal/cryptofacade"
	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

var (
	ErrNotCreator     = errors.New("group: only the creator may mutate group metadata")
	ErrBadMetadataSig = errors.New("group: metadata signature does not verify")
)

func cellKey(s string) dht.Key {
	full := cryptofacade.SHA3_512([]byte(s))
	var k dht.Key
	copy(k[:], full[:32])
	return k
}

// MetadataKey is the DHT key of a group's metadata cell.
func MetadataKey(groupUUID string) dht.Key {
	return cellKey("group:" + groupUUID)
}

func metadataSigningBytes(g model.Group) []byte {
	buf := make([]byte, 0, 16+len(g.Name)+len(g.Description)+len(g.CreatorFP)+len(g.Members)*model.FingerprintHexLen+8+4)
	buf = append(buf, []byte(g.UUID)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(g.Name)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(g.Description)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(g.CreatorFP)...)
	for _, m := range g.Members {
		buf = append(buf, []byte(m)...)
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(g.CreatedAt.UnixNano()))
	buf = append(buf, ts[:]...)
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], g.GEKVersion)
	buf = append(buf, ver[:]...)
	return buf
}

// SignMetadata signs g with the creator's DSA secret key.
func SignMetadata(g model.Group, creator *identity.Keys) (model.Group, error) {
	sig, err := cryptofacade.DSASign(metadataSigningBytes(g), creator.DSAPrivateKey)
	if err != nil {
		return model.Group{}, err
	}
	g.Signature = sig
	return g, nil
}

// VerifyMetadata checks that g's signature verifies under creatorDSAPublicKey.
func VerifyMetadata(g model.Group, creatorDSAPublicKey []byte) error {
	if !cryptofacade.DSAVerify(metadataSigningBytes(g), g.Signature, creatorDSAPublicKey) {
		return ErrBadMetadataSig
	}
	return nil
}

// CreateGroup builds a new group at gek_version=0, signs it, and puts it to
// the DHT. The caller is responsible for invoking RotateGEK immediately
// afterward to publish GEK v0's IKP.
func CreateGroup(ctx context.Context, dhtSvc dht.Service, creator *identity.Keys, name, description string, members []model.Fingerprint, now time.Time) (model.Group, error) {
	g := model.Group{
		UUID:        uuid.NewString(),
		Name:        name,
		Description: description,
		CreatorFP:   creator.Fingerprint,
		Members:     members,
		CreatedAt:   now,
		GEKVersion:  0,
	}
	g, err := SignMetadata(g, creator)
	if err != nil {
		return model.Group{}, err
	}
	if err := putMetadata(ctx, dhtSvc, g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// mutateMembership re-signs g with newMembers and an incremented
// gek_version, then puts it. Only the creator may call this (enforced by
// construction: only the creator's key can produce a signature
// VerifyMetadata will accept).
func mutateMembership(ctx context.Context, dhtSvc dht.Service, creator *identity.Keys, g model.Group, newMembers []model.Fingerprint) (model.Group, error) {
	if g.CreatorFP != creator.Fingerprint {
		return model.Group{}, ErrNotCreator
	}
	g.Members = newMembers
	g.GEKVersion++
	g, err := SignMetadata(g, creator)
	if err != nil {
		return model.Group{}, err
	}
	if err := putMetadata(ctx, dhtSvc, g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// AddMember appends memberFP to g's member list.
func AddMember(ctx context.Context, dhtSvc dht.Service, creator *identity.Keys, g model.Group, memberFP model.Fingerprint) (model.Group, error) {
	if g.HasMember(memberFP) {
		return g, nil
	}
	return mutateMembership(ctx, dhtSvc, creator, g, append(append([]model.Fingerprint(nil), g.Members...), memberFP))
}

// RemoveMember drops memberFP from g's member list.
func RemoveMember(ctx context.Context, dhtSvc dht.Service, creator *identity.Keys, g model.Group, memberFP model.Fingerprint) (model.Group, error) {
	newMembers := make([]model.Fingerprint, 0, len(g.Members))
	for _, m := range g.Members {
		if m != memberFP {
			newMembers = append(newMembers, m)
		}
	}
	return mutateMembership(ctx, dhtSvc, creator, g, newMembers)
}

// FetchMetadata reads the current group metadata and verifies its
// signature under creatorDSAPublicKey.
func FetchMetadata(ctx context.Context, dhtSvc dht.Service, groupUUID string, creatorDSAPublicKey []byte) (model.Group, error) {
	raw, err := dhtSvc.Get(ctx, MetadataKey(groupUUID))
	if err != nil {
		return model.Group{}, err
	}
	var g model.Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return model.Group{}, err
	}
	if err := VerifyMetadata(g, creatorDSAPublicKey); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// ListenMetadata arms a listener on a group's metadata cell, so other
// members learn of membership or gek_version changes as they're published.
func ListenMetadata(dhtSvc dht.Service, groupUUID string, handler func(raw []byte)) (dht.ListenHandle, error) {
	return dhtSvc.Listen(MetadataKey(groupUUID), func(_ dht.Key, value []byte) { handler(value) })
}

func putMetadata(ctx context.Context, dhtSvc dht.Service, g model.Group) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = dhtSvc.Put(ctx, MetadataKey(g.UUID), payload, dht.Persist365Day)
	return err
}
