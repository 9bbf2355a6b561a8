// Package harness runs deterministic scenarios against the memory core.
//
// A scenario builds a fresh ledger, memory, feedback coordinator, gate and
// engine from its config, executes its steps in order and asserts on the
// resulting trace and final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: joy_ordering
//	description: "What this scenario validates"
//	config:
//	  hmac_secret: s3cr3t
//	archive: |
//	  REEF joy awe calm
//	agents: 2
//	steps:
//	  - emit: { agent: 1, motif: joy, boost: 0.2 }
//	  - tick: { motif: joy, lamport: 2 }
//	  - cycle: 3
//	  - gate: failure
//	assertions:
//	  - type: outcomes
//	    motif: joy
//	    outcomes: [accepted, duplicate]
//	  - type: weight
//	    motif: joy
//	    value: 0.2
//
// Unknown keys are rejected at every level, including config.
//
// # Step Types
//
//   - emit: one emission through the engine by agent N (default 1)
//   - tick: a record with an explicit lamport, ingested by the ledger only
//   - cycle: N memory decay cycles
//   - gate: admit a slot and release it as success or failure
//
// # Assertion Types
//
//   - outcomes: ordered ingest outcomes for a motif
//   - outcome_count: number of events with a given outcome
//   - tier, weight: a motif's memory placement after the last step
//   - histogram: ledger tick count for a motif
//   - backoff: the gate's back-off multiplier
//   - dyad: the most recent non-empty dyad completion
//
// # Determinism
//
// Each run uses an in-memory replay store, a stepping clock starting at
// ClockStart and agent ids agent-1, agent-2, ... Traces omit hashes and
// timings, so the same scenario always yields the same trace. RunWithGolden
// compares that trace against testdata/golden/<name>.golden.
package harness
