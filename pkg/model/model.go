// Package model holds the shared value types passed between DNA
// Messenger's internal packages: identity records, contacts, messages and
// group metadata. Nothing here talks to the DHT or disk directly.
package model

import "time"

// Fingerprint is the 128-hex-character canonical identity of a user:
// SHA3-512(DSA public key).
type Fingerprint string

const FingerprintHexLen = 128

// IdentityRecord is the keyserver value published for an identity.
type IdentityRecord struct {
	Fingerprint     Fingerprint `json:"fingerprint"`
	DisplayName     string      `json:"display_name,omitempty"`
	KEMPublicKey    []byte      `json:"kem_public_key"`
	DSAPublicKey    []byte      `json:"dsa_public_key"`
	Signature       []byte      `json:"signature"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Contact is a locally remembered peer.
type Contact struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	DisplayName string      `json:"display_name,omitempty"`
	AddedAt     time.Time   `json:"added_at"`
	LastSeenAt  time.Time   `json:"last_seen_at,omitempty"`
}

// MessageStatus is the per-outgoing-message delivery state machine.
type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusSentLegacy MessageStatus = "SENT_LEGACY"
	StatusFailed     MessageStatus = "FAILED"
	StatusDelivered  MessageStatus = "DELIVERED"
	StatusRead       MessageStatus = "READ"
	StatusStale      MessageStatus = "STALE"
)

// MessageType distinguishes a chat message from a group invitation record
// surfaced through the same local store.
type MessageType string

const (
	MessageTypeChat             MessageType = "CHAT"
	MessageTypeGroupInvitation  MessageType = "GROUP_INVITATION"
)

// Message is a row of the local message store.
type Message struct {
	ID                string        `json:"id"`
	Sender            Fingerprint   `json:"sender"`
	Recipient         string        `json:"recipient"`
	SenderFingerprint Fingerprint   `json:"sender_fingerprint"`
	Plaintext         string        `json:"plaintext"`
	Timestamp         time.Time     `json:"timestamp"`
	Delivered         bool          `json:"delivered"`
	Read              bool          `json:"read"`
	IsOutgoing        bool          `json:"is_outgoing"`
	Status            MessageStatus `json:"status"`
	GroupUUID         string        `json:"group_uuid,omitempty"`
	MessageType       MessageType   `json:"message_type"`
	RetryCount        int           `json:"retry_count"`
	OfflineSeq        uint64        `json:"offline_seq"`
}

// CanAdvanceStatus reports whether the (from -> to) status transition is
// permitted by the partial order:
//
//	PENDING -> {SENT_LEGACY ->} DELIVERED -> READ
//	PENDING -> FAILED
//	PENDING -> STALE
func CanAdvanceStatus(from, to MessageStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		switch to {
		case StatusSentLegacy, StatusDelivered, StatusFailed, StatusStale:
			return true
		}
	case StatusSentLegacy:
		if to == StatusDelivered {
			return true
		}
	case StatusDelivered:
		if to == StatusRead {
			return true
		}
	}
	return false
}

// Group is group metadata as held in the DHT and mirrored locally.
type Group struct {
	UUID        string        `json:"uuid"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatorFP   Fingerprint   `json:"creator_fp"`
	Members     []Fingerprint `json:"members"`
	CreatedAt   time.Time     `json:"created_at"`
	GEKVersion  uint32        `json:"gek_version"`
	Signature   []byte        `json:"signature"`
}

// HasMember reports whether fp is in the group's member list.
func (g Group) HasMember(fp Fingerprint) bool {
	for _, m := range g.Members {
		if m == fp {
			return true
		}
	}
	return false
}

// Invitation is a locally cached pending group invitation.
type Invitation struct {
	GroupUUID   string      `json:"group_uuid"`
	GroupName   string      `json:"group_name"`
	InviterFP   Fingerprint `json:"inviter_fp"`
	ReceivedAt  time.Time   `json:"received_at"`
}

// GroupMessage is one entry of a group feed cell.
type GroupMessage struct {
	MsgID      [16]byte    `json:"msg_id"`
	SenderFP   Fingerprint `json:"sender_fp"`
	TimestampMs int64      `json:"timestamp_ms"`
	GEKVersion uint32      `json:"gek_version"`
	AEADNonce  []byte      `json:"aead_nonce"`
	AEADCiphertext []byte  `json:"aead_ciphertext"`
	AEADTag    []byte      `json:"aead_tag"`
	Signature  []byte      `json:"signature"`
}
