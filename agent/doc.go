// Package agent contains the actor-style runtime every Aegis agent is built
// on. The package focuses on three concerns:
//
//  1. Lifecycle + processing loop (Base): stopped → starting → running →
//     stopping → stopped, one goroutine draining the mailbox in order
//  2. Messaging primitives: best-effort Send/Notify/Command and correlated
//     Request with a timeout
//  3. Coordination patterns: concurrent FanOut (gather, don't fail fast) and
//     sequential Pipeline
//
// Design principles:
//   - Agents own their state; all cross-agent interaction goes through messages
//   - Failures become data: handler faults are logged at the loop boundary,
//     delivery failures are logged at the send primitive
//   - Transport independence: Base talks to core.Mailbox and core.Transport only
//   - Extensibility: embed *Base, implement core.Handler plus the optional
//     Initializer / Cleaner hooks
//
// Periodic work is registered with Every and runs on the agent's scheduler,
// which Start starts and Stop cancels.
package agent
