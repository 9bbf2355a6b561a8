// Package ledger implements the TickLedger: the single admission point for
// ticks.
//
// Ingest runs seven steps in order, each short-circuiting to a typed
// outcome, all under one exclusive lock:
//
//  1. Schema check           → Rejected(schema), returned as *tick.SchemaError
//  2. Authentication         → Rejected(auth), counted, no state mutated
//  3. Per-motif ordering     → Duplicate(stale_lamport)
//  4. Recent-hash dedup      → Duplicate(seen_hash)
//  5. Ring buffer append     (evicted records fold into the motif's epoch)
//  6. Replay store persist   (checksummed, pruned to the row cap)
//  7. Accepted
//
// Only the schema rejection surfaces as an error. Every other condition is
// absorbed and exposed through metrics so producers stay live.
//
// Ordering is per motif only. Lamport values are per emitter, so two agents
// ticking the same motif race for the high-water mark; the loser's tick is a
// Duplicate. Cross-agent causal order is undefined.
package ledger
