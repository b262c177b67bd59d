package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/ticketsync/internal/clock"
	"github.com/roach88/ticketsync/internal/ticket"
)

// DefaultRollbackTimeout is how long an optimistic update may stay
// unconfirmed before it is reverted.
const DefaultRollbackTimeout = 5 * time.Second

// DefaultSweepInterval is how often Run checks pending deadlines.
const DefaultSweepInterval = 100 * time.Millisecond

// TicketNotFoundError is returned by OptimisticUpdate for an id the store
// does not hold. It signals a caller bug rather than a runtime condition.
type TicketNotFoundError struct {
	ID string
}

func (e *TicketNotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found in local store", e.ID)
}

// Listener receives the store contents in insertion order. Listeners may
// read the store but must not mutate it.
type Listener func(tickets []ticket.Ticket)

type pendingEntry struct {
	original   ticket.Ticket
	patch      ticket.Patch
	deadline   time.Time
	generation uint64
}

// Store holds the authoritative local view of all tickets.
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	clock    clock.Clock
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger

	tickets map[string]ticket.Ticket
	order   []string
	pending map[string]*pendingEntry
	gen     uint64

	listeners map[int]Listener
	nextSub   int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock deadlines are measured against.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithRollbackTimeout overrides DefaultRollbackTimeout.
func WithRollbackTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithSweepInterval overrides DefaultSweepInterval for Run.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:     clock.Real(),
		timeout:   DefaultRollbackTimeout,
		interval:  DefaultSweepInterval,
		logger:    slog.Default(),
		tickets:   make(map[string]ticket.Ticket),
		pending:   make(map[string]*pendingEntry),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers l and calls it once immediately with the current
// contents. The returned function removes the listener.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	snap := s.snapshotLocked()
	s.mu.Unlock()

	l(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Get returns a copy of the ticket with the given id.
func (s *Store) Get(id string) (ticket.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, false
	}
	return t.Clone(), true
}

// All returns every ticket in insertion order.
func (s *Store) All() []ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of tickets held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Set replaces the whole contents, e.g. after the initial board load.
// Pending entries survive for ids that are still present.
func (s *Store) Set(tickets []ticket.Ticket) {
	s.mu.Lock()
	s.tickets = make(map[string]ticket.Ticket, len(tickets))
	s.order = s.order[:0]
	for _, t := range tickets {
		s.putLocked(t)
	}
	for id := range s.pending {
		if _, ok := s.tickets[id]; !ok {
			delete(s.pending, id)
		}
	}
	s.notifyUnlock()
}

// Add inserts a ticket or replaces the one with the same id in place.
func (s *Store) Add(t ticket.Ticket) {
	s.mu.Lock()
	s.putLocked(t)
	s.notifyUnlock()
}

// Remove deletes a ticket locally and forgets any pending entry for it.
// Returns false if the id was unknown.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if !s.removeLocked(id) {
		s.mu.Unlock()
		return false
	}
	s.notifyUnlock()
	return true
}

// Clear drops all tickets and pending entries. Listeners stay registered.
func (s *Store) Clear() {
	s.mu.Lock()
	s.tickets = make(map[string]ticket.Ticket)
	s.order = nil
	s.pending = make(map[string]*pendingEntry)
	s.notifyUnlock()
}

// OptimisticUpdate applies p to ticket id immediately and arms a rollback
// deadline. The returned cancel function rolls this update back at once; it
// does nothing if the update was already resolved.
//
// A second update while one is pending keeps the original pre-pending
// snapshot as the rollback target and re-arms the deadline.
func (s *Store) OptimisticUpdate(id string, p ticket.Patch) (cancel func(), err error) {
	s.mu.Lock()
	current, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return nil, &TicketNotFoundError{ID: id}
	}

	s.gen++
	deadline := s.clock.Now().Add(s.timeout)
	entry, pending := s.pending[id]
	if pending {
		entry.patch = entry.patch.Merge(p)
		entry.deadline = deadline
		entry.generation = s.gen
	} else {
		entry = &pendingEntry{
			original:   current.Clone(),
			patch:      p,
			deadline:   deadline,
			generation: s.gen,
		}
		s.pending[id] = entry
	}
	gen := entry.generation
	s.tickets[id] = p.Apply(current)
	s.notifyUnlock()

	return func() { s.rollbackGeneration(id, gen) }, nil
}

// ConfirmUpdate resolves a pending update as accepted. When server is
// non-nil its fields are merged into the current record, except the fields
// the optimistic patch already set.
func (s *Store) ConfirmUpdate(id string, server *ticket.Ticket) {
	s.mu.Lock()
	entry, pending := s.pending[id]
	delete(s.pending, id)

	current, exists := s.tickets[id]
	if server != nil && exists {
		var optimistic ticket.Patch
		if pending {
			optimistic = entry.patch
		}
		s.tickets[id] = ticket.MergeUnset(current, *server, optimistic)
	}
	if !pending && (server == nil || !exists) {
		s.mu.Unlock()
		return
	}
	s.notifyUnlock()
}

// Rollback restores the pre-update snapshot of a pending ticket. No-op when
// nothing is pending.
func (s *Store) Rollback(id string) {
	s.mu.Lock()
	if !s.rollbackLocked(id) {
		s.mu.Unlock()
		return
	}
	s.notifyUnlock()
}

func (s *Store) rollbackGeneration(id string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok || entry.generation != gen {
		s.mu.Unlock()
		return
	}
	s.rollbackLocked(id)
	s.notifyUnlock()
}

func (s *Store) rollbackLocked(id string) bool {
	entry, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	if _, exists := s.tickets[id]; exists {
		s.tickets[id] = entry.original.Clone()
	}
	return true
}

// HasPendingUpdate reports whether id has an unresolved optimistic update.
func (s *Store) HasPendingUpdate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// PendingIDs lists ids with unresolved optimistic updates, sorted.
func (s *Store) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExpireDue rolls back every pending entry whose deadline has passed and
// returns the affected ids, sorted.
func (s *Store) ExpireDue() []string {
	s.mu.Lock()
	now := s.clock.Now()
	var expired []string
	for id, entry := range s.pending {
		if !entry.deadline.After(now) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		s.mu.Unlock()
		return nil
	}
	sort.Strings(expired)
	for _, id := range expired {
		s.rollbackLocked(id)
	}
	s.notifyUnlock()

	s.logger.Debug("optimistic updates expired", "tickets", expired)
	return expired
}

// Run sweeps pending deadlines every sweep interval until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.ExpireDue()
		}
	}
}

// HandleRemoteCreate inserts t unless the id is already known, which is the
// case when a client's own creation echoes back. Returns true if inserted.
func (s *Store) HandleRemoteCreate(t ticket.Ticket) bool {
	s.mu.Lock()
	if _, exists := s.tickets[t.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.putLocked(t)
	s.notifyUnlock()
	return true
}

// HandleRemoteUpdate replaces the local record with t unless a local
// optimistic update for the same id is pending. Unknown ids are inserted.
// Returns true if applied.
func (s *Store) HandleRemoteUpdate(t ticket.Ticket) bool {
	s.mu.Lock()
	if _, pending := s.pending[t.ID]; pending {
		s.mu.Unlock()
		return false
	}
	s.putLocked(t)
	s.notifyUnlock()
	return true
}

// HandleRemotePatch applies a peer's partial update under the same
// pending-wins rule. Unknown ids are ignored because a patch cannot
// materialise a ticket.
func (s *Store) HandleRemotePatch(id string, p ticket.Patch) bool {
	s.mu.Lock()
	current, exists := s.tickets[id]
	_, pending := s.pending[id]
	if !exists || pending {
		s.mu.Unlock()
		return false
	}
	s.tickets[id] = p.Apply(current)
	s.notifyUnlock()
	return true
}

// HandleRemoteDelete removes the ticket and cancels any pending entry.
// Deletion always wins over local intent.
func (s *Store) HandleRemoteDelete(id string) bool {
	s.mu.Lock()
	_, pending := s.pending[id]
	delete(s.pending, id)
	removed := s.removeLocked(id)
	if !removed && !pending {
		s.mu.Unlock()
		return false
	}
	s.notifyUnlock()
	return removed
}

// HandleRemoteEvent applies a broadcast mutation from another client.
func (s *Store) HandleRemoteEvent(ev ticket.MutationEvent) bool {
	switch e := ev.(type) {
	case ticket.Created:
		return s.HandleRemoteCreate(e.Ticket)
	case ticket.Updated:
		return s.HandleRemotePatch(e.TicketID, e.Updates)
	case ticket.Moved:
		return s.HandleRemotePatch(e.TicketID, ticket.MovePatchFor(e))
	case ticket.Deleted:
		return s.HandleRemoteDelete(e.TicketID)
	default:
		return false
	}
}

func (s *Store) putLocked(t ticket.Ticket) {
	if _, exists := s.tickets[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.tickets[t.ID] = t.Clone()
}

func (s *Store) removeLocked(id string) bool {
	if _, exists := s.tickets[id]; !exists {
		return false
	}
	delete(s.tickets, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) snapshotLocked() []ticket.Ticket {
	out := make([]ticket.Ticket, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tickets[id].Clone())
	}
	return out
}

// notifyUnlock releases the held lock and delivers the current contents to
// every listener. Every mutating method ends here.
//
// Deliveries are serialised by notifyMu and the snapshot is taken after it
// is acquired, so listeners see snapshots in mutation order and the last
// delivery always reflects the latest state. Lock order is notifyMu, then mu.
func (s *Store) notifyUnlock() {
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
