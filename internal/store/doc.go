// Package store provides SQLite-backed persistence for tickets.
//
// The store is the dispatcher's Repository. It keeps:
//   - Tickets: current state of every ticket, one row per id
//   - History: append-only log of every accepted mutation, ordered by seq
//
// Every write re-validates against the stored row inside a transaction:
// a move whose fromStatus no longer matches the stored status is reported as
// *ticket.ConflictError, and status changes are checked against the workflow
// machine. A rejected write leaves both tables untouched.
//
// # Deterministic Ordering
//
// History queries order by seq ASC. Project listings order by
// position ASC, id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
