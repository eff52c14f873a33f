// Package dht exposes the overlay contract the rest of the system is built
// against: a content-addressed put/get/listen store with best-effort
// ordering. Node is the singleton that owns the worker pool and
// the listener registry across reconnects. The only backend is an
// in-memory mock used for tests and single-process development; no network
// overlay transport is wired.
package dht
