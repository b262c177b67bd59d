// Package reconcile is the client-side view of a project's tickets.
//
// A Store applies local changes optimistically, before the server has
// confirmed them, and merges remote events from other clients. Each ticket
// id moves through its own small state machine:
//
//	Idle --OptimisticUpdate--> Pending --Confirm|Rollback|expiry|remote delete--> Idle
//
// While a ticket is Pending, remote updates for it are ignored: the local
// in-flight intent wins until it is confirmed or rolled back. Remote deletes
// always win and cancel the pending entry.
//
// Rollback deadlines are plain time values checked against an injected
// clock. ExpireDue performs one deterministic sweep; Run drives sweeps from
// a ticker in production.
//
// Thread-safety: one mutex guards the ticket map and the pending map
// together, so checking "is pending" and writing a remote update cannot
// interleave with Confirm clearing the entry. Subscribers are called after
// the lock is released, with a snapshot taken under it.
package reconcile
