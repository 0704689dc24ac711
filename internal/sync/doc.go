// Package sync implements the full-restore synchronization engine that
// rebuilds the device's local task store from a desktop export stream.
//
// The desktop companion exports categories, tasks and efforts as one XML
// document. A Session consumes the document's structural events through a
// finite state machine, assembling one entity draft at a time and committing
// it to the LocalStore when the entity's closing tag is reached. Remote
// (desktop-assigned) identifiers are correlated with local identifiers
// through an IdentifierMap; the protocol guarantees parent-before-child
// stream order, so relationship resolution is a plain lookup.
//
// A session is single-threaded and push-driven: events are delivered
// synchronously, in order, from whatever goroutine drives the underlying
// transport. One session must never be shared across concurrent sync
// attempts. Sessions are single-use; a session either reaches Complete or
// Failed exactly once and is then discarded.
//
// Commits are incremental and idempotent by remote id, so re-running a full
// session after a failure is always safe.
package sync
