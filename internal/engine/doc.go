// Package engine is the driving loop and host API facade: identity
// load/create, contact and group operations, the typed event dispatch
// channel, config load/save with live reload, operation metrics, and the
// heartbeat orchestrator that rotates day-bucket listeners and sweeps
// stale messages.
package engine
