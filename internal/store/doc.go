// Package store is the sqlite-backed local persistence layer: the
// plaintext message store (messages.db) and the group metadata/GEK/
// invitation cache (groups.db), which mirrors metadata locally for
// offline browsing.
package store
