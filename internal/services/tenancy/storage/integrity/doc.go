// Package integrity seals appended events into a tamper-evident chain.
//
// Each stored event carries a content hash of its canonical envelope, the
// previous event's chain hash, its own chain hash, and an HMAC signature of
// that chain hash under a per-stream key derived from a rotating keyring.
// Verify recomputes all of it so a reader can detect edits, reordering, or
// removed events in a stream.
package integrity
