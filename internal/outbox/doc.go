// Package outbox implements the direct (peer-to-peer) message path: the
// day-bucket send/receive cells, the per-sender-recipient monotonic
// sequence numbers, and the watermark acknowledgement cycle that drives the
// PENDING -> DELIVERED transition.
package outbox
