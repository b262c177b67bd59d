// Package transport carries dispatcher traffic over WebSocket.
//
// Every WebSocket message is one JSON Frame. Requests use the request name
// as Type ("ticket:move", "room:join", ...) and a client-chosen RequestID.
// The server answers with an "ack" frame echoing the RequestID, and pushes
// room broadcasts as frames whose Type is the event name ("ticket:moved",
// "user:left", ...) with the room's sequence number in Seq.
//
// Server binds one dispatch.Session per connection: a reader goroutine
// decodes requests and writes acks, and a writer goroutine drains the
// session's outbox. Client is the browser-side counterpart: it keeps a
// reconcile.Store current from broadcasts and runs the optimistic
// apply, send, confirm-or-rollback flow for local mutations.
package transport
