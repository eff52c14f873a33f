// Package group implements group metadata and membership, the GEK/IKP
// key-rotation engine, the group feed-outbox, and the local invitation
// lifecycle.
package group
