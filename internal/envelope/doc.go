// Package envelope implements the canonical on-wire/at-rest encrypted
// message packet: fixed-order field serialization, KEM-derived AEAD
// sealing, and a trailing Dilithium5 signature over every preceding byte.
package envelope
