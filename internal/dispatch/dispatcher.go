package dispatch

import (
	"log/slog"
	"sync"

	"github.com/roach88/ticketsync/internal/clock"
	"github.com/roach88/ticketsync/internal/room"
)

// Conn is the per-connection context attached at handshake by the
// authentication collaborator. The dispatcher trusts these fields.
type Conn struct {
	ID               string
	UserID           string
	UserName         string
	CurrentProjectID string
}

// Dispatcher routes requests from all connections of one process.
type Dispatcher struct {
	rooms  *room.Registry
	repo   Repository
	ids    IDGenerator
	clock  clock.Clock
	logger *slog.Logger

	outboxLimit int

	// fanout serializes seq stamping with enqueueing so every outbox
	// receives a room's events in seq order.
	fanout sync.Mutex

	mu       sync.RWMutex
	outboxes map[string]*Outbox
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRepository wires the persistence collaborator. Without one the
// dispatcher only relays validated events.
func WithRepository(repo Repository) Option {
	return func(d *Dispatcher) { d.repo = repo }
}

// WithIDGenerator overrides the ticket id source (default UUIDv7Generator).
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithClock overrides the timestamp source (default clock.Real()).
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithOutboxLimit bounds every connection's outbox. 0 means unbounded.
func WithOutboxLimit(n int) Option {
	return func(d *Dispatcher) { d.outboxLimit = n }
}

// New creates a Dispatcher over the given registry.
func New(rooms *room.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rooms:    rooms,
		ids:      UUIDv7Generator{},
		clock:    clock.Real(),
		logger:   slog.Default(),
		outboxes: make(map[string]*Outbox),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Rooms exposes the registry for presence queries.
func (d *Dispatcher) Rooms() *room.Registry {
	return d.rooms
}

// Connect registers a connection and returns its Session. Connecting an id
// that is already connected replaces (and closes) the previous outbox.
func (d *Dispatcher) Connect(c Conn) *Session {
	box := NewOutbox(d.outboxLimit)

	d.mu.Lock()
	prev := d.outboxes[c.ID]
	d.outboxes[c.ID] = box
	d.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	d.logger.Debug("connection registered", "conn", c.ID, "user", c.UserID)
	return &Session{d: d, conn: c, outbox: box}
}

// Outbox returns the outbox of a connected id.
func (d *Dispatcher) Outbox(connID string) (*Outbox, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	box, ok := d.outboxes[connID]
	return box, ok
}

// ConnectionCount returns the number of registered connections.
func (d *Dispatcher) ConnectionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.outboxes)
}

func (d *Dispatcher) release(connID string, box *Outbox) {
	d.mu.Lock()
	if d.outboxes[connID] == box {
		delete(d.outboxes, connID)
	}
	d.mu.Unlock()
	box.Close()
}

// broadcast fans msg out to every member of roomID except sender. It is
// fire-and-forget: a full or closed outbox drops the message and logs.
func (d *Dispatcher) broadcast(roomID, sender string, msg Message) int {
	d.fanout.Lock()
	defer d.fanout.Unlock()

	recipients := room.Recipients(d.rooms.Members(roomID), sender)
	if len(recipients) == 0 {
		return 0
	}
	seq, _ := d.rooms.NextSeq(roomID)
	msg.RoomID = roomID
	msg.Sender = sender
	msg.Seq = seq

	delivered := 0
	for _, connID := range recipients {
		box, ok := d.Outbox(connID)
		if !ok || !box.Enqueue(msg) {
			d.logger.Warn("broadcast dropped", "room", roomID, "conn", connID, "event", msg.Name)
			continue
		}
		delivered++
	}
	return delivered
}
