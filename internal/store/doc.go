// Package store provides the SQLite-backed durable replay store for
// accepted ticks.
//
// The store is a key → (blob, checksum, timestamp) table keyed by coherence
// hash. It is written only by the ledger, once per accepted tick, and read
// through replay-by-hash, checksum verification and restore-on-start.
//
// # Invariants
//
//   - Append is idempotent: ON CONFLICT(coherence_hash) DO NOTHING
//   - The table never holds more than the configured row cap after an
//     Append; the oldest rows (lowest seq) are pruned first, inside the
//     same transaction as the insert
//   - All ordering uses the seq INTEGER, never stored_at
//   - checksum is the hex SHA-256 of payload as written; VerifyAll reports
//     any row where that no longer holds
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Two drivers are supported: "sqlite3" (github.com/mattn/go-sqlite3, cgo,
// the default) and "sqlite" (modernc.org/sqlite, pure Go) for builds
// without a C toolchain.
package store
