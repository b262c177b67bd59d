// Package dispatch implements the server side of ticket synchronisation.
//
// A Dispatcher owns the room registry, the per-connection outboxes and the
// persistence collaborator. Each accepted connection gets a Session whose
// handlers validate a request, apply it through the Repository, broadcast
// the result to every other room member and return an Ack for the sender.
//
// # Flow
//
//  1. Transport decodes a frame into a Request and calls Session.Handle.
//  2. Membership is checked against the room registry (NOT_IN_PROJECT).
//  3. Moves are checked against the workflow graph (INVALID_TRANSITION).
//  4. The Repository applies the write; failures map to *_FAILED codes.
//  5. The event is enqueued on every other member's Outbox, stamped with the
//     room's next sequence number.
//  6. The Ack is returned to the caller; it never waits for peers.
//
// Errors never leave a handler as a panic: every failure is an Ack with a
// code. Leave and disconnect paths are best-effort and only log.
//
// Thread-safety: a Session's handlers may run on the connection's goroutine
// while other sessions run concurrently. The registry serialises membership
// changes and each Outbox is independently locked. Per-sender order is
// preserved because a session enqueues its broadcasts in handler order.
package dispatch
