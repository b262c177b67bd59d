package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/reconcile"
	"github.com/roach88/ticketsync/internal/room"
	"github.com/roach88/ticketsync/internal/ticket"
)

// ErrClientClosed is returned by requests issued after Close or after the
// connection dropped.
var ErrClientClosed = errors.New("transport: client closed")

// PresenceFunc observes user:joined and user:left broadcasts.
type PresenceFunc func(name string, p dispatch.Presence)

// Client is one board connection. Broadcasts from peers are applied to the
// Store; local mutations go through the optimistic flow.
type Client struct {
	conn     *websocket.Conn
	store    *reconcile.Store
	logger   *slog.Logger
	presence PresenceFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	waiters map[string]chan dispatch.Ack
	lastSeq map[string]int64
	closed  bool
	err     error

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger (default slog.Default()).
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithPresence registers a presence observer.
func WithPresence(f PresenceFunc) ClientOption {
	return func(c *Client) { c.presence = f }
}

// Dial connects to a /ws endpoint. header carries the identity headers
// read by HeaderIdentity; it may be nil.
func Dial(ctx context.Context, url, origin string, header http.Header, store *reconcile.Store, opts ...ClientOption) (*Client, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			cfg.Header.Add(k, v)
		}
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(conn, store, opts...), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn *websocket.Conn, store *reconcile.Store, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		store:   store,
		logger:  slog.Default(),
		waiters: make(map[string]chan dispatch.Ack),
		lastSeq: make(map[string]int64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Store returns the local ticket store.
func (c *Client) Store() *reconcile.Store {
	return c.store
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and fails outstanding requests.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// LastSeq returns the highest broadcast seq seen for a room.
func (c *Client) LastSeq(roomID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq[roomID]
}

// Request sends req and waits for its ack. Requests without an ack
// (room:leave) return a zero Ack as soon as the frame is written.
func (c *Client) Request(ctx context.Context, req dispatch.Request) (dispatch.Ack, error) {
	if _, isLeave := dispatch.Deref(req).(dispatch.LeaveRoom); isLeave {
		f, err := RequestFrame("", req)
		if err != nil {
			return dispatch.Ack{}, err
		}
		return dispatch.Ack{}, c.write(f)
	}

	id, wait, err := c.register()
	if err != nil {
		return dispatch.Ack{}, err
	}
	defer c.unregister(id)

	f, err := RequestFrame(id, req)
	if err != nil {
		return dispatch.Ack{}, err
	}
	if err := c.write(f); err != nil {
		return dispatch.Ack{}, err
	}

	select {
	case ack, ok := <-wait:
		if !ok {
			return dispatch.Ack{}, c.closeErr()
		}
		return ack, nil
	case <-ctx.Done():
		return dispatch.Ack{}, ctx.Err()
	}
}

// Join enters a project room, replaces the local store with the project's
// board from the ack and returns the room's members.
func (c *Client) Join(ctx context.Context, projectID string) ([]room.Member, error) {
	ack, err := c.Request(ctx, dispatch.JoinRoom{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	if err := ack.Err(); err != nil {
		return nil, err
	}
	c.store.Set(ack.Tickets)
	return ack.Members, nil
}

// Leave exits a project room.
func (c *Client) Leave(ctx context.Context, projectID string) error {
	_, err := c.Request(ctx, dispatch.LeaveRoom{ProjectID: projectID})
	return err
}

// Move applies the move locally, sends it, and confirms or rolls back on
// the ack. The local ticket must exist.
func (c *Client) Move(ctx context.Context, req dispatch.MoveTicket) error {
	return c.optimistic(ctx, req.TicketID, ticket.MovePatch(req.ToStatus, req.NewPosition), req)
}

// Update applies the patch locally, sends it, and confirms or rolls back.
func (c *Client) Update(ctx context.Context, ticketID, projectID string, p ticket.Patch) error {
	return c.optimistic(ctx, ticketID, p, dispatch.UpdateTicket{
		TicketID:  ticketID,
		ProjectID: projectID,
		Updates:   p,
	})
}

func (c *Client) optimistic(ctx context.Context, ticketID string, p ticket.Patch, req dispatch.Request) error {
	cancel, err := c.store.OptimisticUpdate(ticketID, p)
	if err != nil {
		return err
	}
	ack, err := c.Request(ctx, req)
	if err != nil {
		cancel()
		return err
	}
	if err := ack.Err(); err != nil {
		cancel()
		return err
	}
	c.store.ConfirmUpdate(ticketID, ack.Ticket)
	return nil
}

// Create sends a new ticket and adds the server's record to the store.
// Creation is not optimistic because the server assigns the id.
func (c *Client) Create(ctx context.Context, projectID string, t ticket.Ticket) (ticket.Ticket, error) {
	ack, err := c.Request(ctx, dispatch.CreateTicket{ProjectID: projectID, Ticket: t})
	if err != nil {
		return ticket.Ticket{}, err
	}
	if err := ack.Err(); err != nil {
		return ticket.Ticket{}, err
	}
	if ack.Ticket == nil {
		return ticket.Ticket{}, fmt.Errorf("create ack without ticket")
	}
	c.store.Add(*ack.Ticket)
	return *ack.Ticket, nil
}

// Delete removes a ticket on the server, then locally.
func (c *Client) Delete(ctx context.Context, ticketID, projectID string) error {
	ack, err := c.Request(ctx, dispatch.DeleteTicket{TicketID: ticketID, ProjectID: projectID})
	if err != nil {
		return err
	}
	if err := ack.Err(); err != nil {
		return err
	}
	c.store.Remove(ticketID)
	return nil
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := websocket.JSON.Send(c.conn, f); err != nil {
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

func (c *Client) register() (string, chan dispatch.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, c.errLocked()
	}
	c.nextID++
	id := strconv.FormatInt(c.nextID, 10)
	ch := make(chan dispatch.Ack, 1)
	c.waiters[id] = ch
	return id, ch, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errLocked()
}

func (c *Client) errLocked() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, c.err)
	}
	return ErrClientClosed
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f Frame
		if err := websocket.JSON.Receive(c.conn, &f); err != nil {
			c.shutdown(err)
			return
		}
		c.route(f)
	}
}

func (c *Client) route(f Frame) {
	switch f.Type {
	case FrameAck:
		var ack dispatch.Ack
		if err := jsonUnmarshal(f.Payload, &ack); err != nil {
			c.logger.Warn("malformed ack", "request", f.RequestID, "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.waiters[f.RequestID]
		delete(c.waiters, f.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- ack
		}
	case FrameError:
		var e ErrorPayload
		_ = jsonUnmarshal(f.Payload, &e)
		c.logger.Warn("server rejected frame", "request", f.RequestID, "code", e.Code, "message", e.Message)
		if f.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.waiters[f.RequestID]
			delete(c.waiters, f.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- dispatch.Ack{Error: &dispatch.AckError{Code: dispatch.ErrorCode(e.Code), Message: e.Message}}
			}
		}
	default:
		ev, ok, err := DecodeEvent(f)
		if !ok {
			c.logger.Debug("ignoring unknown frame", "type", f.Type)
			return
		}
		if err != nil {
			c.logger.Warn("malformed broadcast", "type", f.Type, "error", err)
			return
		}
		c.observeSeq(ev.Room, ev.Seq)
		if ev.Mutation != nil {
			c.store.HandleRemoteEvent(ev.Mutation)
			return
		}
		if c.presence != nil {
			c.presence(ev.Name, *ev.Presence)
		}
	}
}

// observeSeq records the room seq. Seq numbers are global per room while a
// client only sees broadcasts it did not cause, so gaps are expected and
// only a regression is worth reporting.
func (c *Client) observeSeq(roomID string, seq int64) {
	if roomID == "" || seq == 0 {
		return
	}
	c.mu.Lock()
	prev := c.lastSeq[roomID]
	if seq > prev {
		c.lastSeq[roomID] = seq
	}
	c.mu.Unlock()
	if seq <= prev {
		c.logger.Warn("broadcast out of order", "room", roomID, "seq", seq, "last", prev)
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
}
