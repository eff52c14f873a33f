// Package keyserver publishes and resolves identity records against the
// DHT overlay: a forward name→record mapping, a reverse fingerprint→record
// mapping, first-writer-wins name registration, and a short-TTL cache to
// keep resolve() cheap on the hot path.
package keyserver
