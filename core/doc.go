// Package core provides the foundational domain types and interfaces shared by
// every Aegis agent. It defines:
//
//   - Message (the immutable inter-agent envelope) and its Kind
//   - Payload (loosely typed message body with typed accessors)
//   - Result (the reply body a handler produces)
//   - Mailbox / Transport / Receiver (delivery abstractions)
//   - Gateway (storefront collaborator boundary)
//   - Archive (history store for records evicted from agent state)
//
// Implementation concerns (agent runtime, concrete transports, persistence,
// specialized agents) live in sibling packages so that backends can be swapped
// without touching agent logic.
package core
