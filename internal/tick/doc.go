// Package tick defines the TickRecord, the unit of "something happened to
// motif X", together with the functions that mint, authenticate and validate
// it.
//
// A Record is a value type. Once Mint returns it, nothing in this module
// mutates it; the ledger stores copies in its ring buffers and serializes
// the identity fields into the replay store.
//
// # Identity
//
// The coherence hash is content-derived: the first 12 hex characters of a
// SHA-256 over the canonical JSON of the identity fields, domain separated
// the same way every other digest in this module is (see hash.go).
//
// # Authentication
//
// With a shared secret, Mint attaches an HMAC-SHA256 over
// motif ∥ coherence_hash ∥ lamport ∥ hlc ∥ agent ∥ stage, fields separated
// by 0x00. Verify recomputes it and compares in constant time. A nil
// Authenticator means unauthenticated mode; callers that accept that mode
// must say so in their logs.
package tick
