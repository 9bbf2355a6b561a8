// Package engine runs the tick emission loop over the memory core.
//
// One Step carries a single emission through the pipeline:
//
//	gate.TryAdmit → tick.Mint → ledger.Ingest → memory.Access →
//	memory.CompleteDyad → feedback.OnIngest → gate.Release
//
// and returns the adaptive interval the agent should sleep before its next
// emission. RunAgent drives that loop for one agent; RunCycles drives the
// periodic decay sweep independently of tick volume.
//
// AGENT STATE MACHINE:
//
//	Idle → Admitting → Ingesting → Feedback → Sleeping → Idle
//
// Cancelled is terminal and reachable from the admission wait and from the
// sleep. A held admission slot is released on every path out of Step,
// panics included.
//
// Accepted ticks are delivered to registered watchers through a bounded,
// non-blocking queue drained by Run. Watchers are best-effort observers: a
// full queue drops notifications and a panicking watcher is recovered.
//
// The engine owns no global state. Every component is constructed by the
// caller and passed to New.
package engine
