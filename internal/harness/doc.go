// Package harness runs multi-client synchronisation scenarios.
//
// A scenario seeds a project board, connects a set of simulated clients and
// replays their actions against a real dispatcher and SQLite store. Every
// client keeps its own reconcile.Store, so optimistic updates, rollbacks and
// the pending-wins rule for remote events are exercised exactly as a
// connected board would exercise them.
//
// # Scenario Format
//
//	name: move_propagates
//	description: "A move by one client reaches the other"
//	project: P1
//	clients:
//	  - id: alice
//	  - id: bob
//	tickets:
//	  - { id: t1, title: "Write docs", status: BACKLOG }
//	steps:
//	  - { client: alice, action: join }
//	  - { client: bob, action: join }
//	  - { client: alice, action: move, ticket: t1, to: TODO }
//	assertions:
//	  - type: ticket_state
//	    client: bob
//	    ticket: t1
//	    expect: { status: TODO }
//
// Requests (join, leave, move, create, update, delete) expect success unless
// the step carries an expect clause naming an error code. Local steps
// (optimistic, confirm, rollback) touch only the client's store, and
// advance moves the shared fake clock and expires overdue pending updates.
//
// Broadcasts are delivered after every step, clients in declaration order.
//
// # Assertion Types
//
//   - ticket_state: subset match on a ticket's JSON fields in a client or the server
//   - ticket_absent: the ticket is gone from a client or the server
//   - pending: whether a client still holds an unconfirmed update
//   - members: the user ids in a room
//   - received: how many broadcasts of one event a client got
//   - column: ticket ids, in order, of one status column of a client's board
//   - history: the kinds recorded in the server's ticket history
//   - trace_order: event names appear in the trace in the given order
//
// # Determinism
//
// Runs use an in-memory database, testutil.FakeClock and sequential ticket
// ids ("ticket-1", ...), so traces can be compared against golden files.
package harness
