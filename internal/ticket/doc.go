// Package ticket defines the records exchanged by the synchronisation core:
// the Ticket itself, partial updates (Patch), and the closed set of
// MutationEvent variants that travel between connections.
//
// Text fields are NFC-normalised on the way in so that two clients typing
// the same title on different platforms produce byte-identical records.
package ticket
