package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/ticketsync/internal/dispatch"
	"github.com/roach88/ticketsync/internal/reconcile"
	"github.com/roach88/ticketsync/internal/room"
	"github.com/roach88/ticketsync/internal/store"
	"github.com/roach88/ticketsync/internal/testutil"
	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// Harness is the scenario execution engine. Every client is a dispatcher
// session paired with its own reconcile.Store, so a scenario exercises the
// server handlers and client-side reconciliation together.
type Harness struct {
	repo    *store.Store
	disp    *dispatch.Dispatcher
	clock   *testutil.FakeClock
	logger  *slog.Logger
	project string

	clients map[string]*simClient
	order   []string
	result  *Result
}

type simClient struct {
	id         string
	session    *dispatch.Session
	outbox     *dispatch.Outbox
	store      *reconcile.Store
	projection *reconcile.Projection
	received   map[string]int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database with a fake clock
// and sequential ticket ids, so the trace is identical across runs. The
// returned error reports a scenario that could not be executed; failed
// expectations and assertions are recorded in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	timeout := reconcile.DefaultRollbackTimeout
	if scenario.RollbackTimeout != "" {
		d, err := parsePositiveDuration(scenario.RollbackTimeout)
		if err != nil {
			return nil, fmt.Errorf("rollback_timeout: %w", err)
		}
		timeout = d
	}

	clk := testutil.NewFakeClock()
	repo, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer repo.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		repo:  repo,
		clock: clk,
		disp: dispatch.New(room.NewRegistry(clk),
			dispatch.WithRepository(repo),
			dispatch.WithClock(clk),
			dispatch.WithIDGenerator(testutil.NewSequentialIDs("ticket")),
			dispatch.WithLogger(logger),
		),
		logger:  logger,
		project: scenario.Project,
		clients: make(map[string]*simClient, len(scenario.Clients)),
		result:  NewResult(),
	}

	ctx := context.Background()
	seed, err := h.seed(ctx, scenario.Tickets)
	if err != nil {
		return nil, err
	}

	for _, spec := range scenario.Clients {
		session := h.disp.Connect(dispatch.Conn{ID: spec.ID, UserID: spec.ID, UserName: spec.Name})
		local := reconcile.NewStore(
			reconcile.WithClock(clk),
			reconcile.WithRollbackTimeout(timeout),
			reconcile.WithLogger(logger),
		)
		local.Set(seed)
		h.clients[spec.ID] = &simClient{
			id:         spec.ID,
			session:    session,
			outbox:     session.Outbox(),
			store:      local,
			projection: reconcile.NewProjection(local),
			received:   make(map[string]int),
		}
		h.order = append(h.order, spec.ID)
	}
	defer func() {
		for _, c := range h.clients {
			c.projection.Close()
		}
	}()

	for i, st := range scenario.Steps {
		if err := h.executeStep(ctx, i, st); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st.Action, err)
		}
		h.pump(i)
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	for _, id := range h.order {
		h.result.State[id] = h.clients[id].store.All()
	}
	return h.result, nil
}

func (h *Harness) seed(ctx context.Context, seeds []TicketSeed) ([]ticket.Ticket, error) {
	now := h.clock.Now()
	tickets := make([]ticket.Ticket, 0, len(seeds))
	for _, s := range seeds {
		status, err := workflow.ParseStatus(s.Status)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", s.ID, err)
		}
		tickets = append(tickets, ticket.Ticket{
			ID:        s.ID,
			ProjectID: h.project,
			Title:     s.Title,
			Priority:  s.Priority,
			Position:  s.Position,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := h.repo.ImportTickets(ctx, tickets); err != nil {
		return nil, fmt.Errorf("seed tickets: %w", err)
	}
	return tickets, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, st Step) error {
	if st.Action == ActionAdvance {
		return h.advance(i, st)
	}
	c := h.clients[st.Client]
	if c == nil {
		return fmt.Errorf("unknown client %q", st.Client)
	}

	switch st.Action {
	case ActionJoin:
		h.request(ctx, i, c, st, dispatch.JoinRoom{ProjectID: h.projectOf(st)})
	case ActionLeave:
		h.request(ctx, i, c, st, dispatch.LeaveRoom{ProjectID: h.projectOf(st)})
	case ActionDisconnect:
		if c.session == nil {
			return fmt.Errorf("client %s is already disconnected", c.id)
		}
		h.result.addTrace(TraceEvent{Step: i, Type: TraceRequest, Client: c.id, Name: ActionDisconnect})
		c.session.Disconnect(ctx)
		c.session = nil
	case ActionMove:
		return h.move(ctx, i, c, st)
	case ActionCreate:
		return h.create(ctx, i, c, st)
	case ActionUpdate:
		p, err := stepPatch(st)
		if err != nil {
			return err
		}
		h.optimistic(ctx, i, c, st, st.Ticket, p, dispatch.UpdateTicket{
			TicketID:  st.Ticket,
			ProjectID: h.projectOf(st),
			Updates:   p,
		})
	case ActionDelete:
		ack, ok := h.request(ctx, i, c, st, dispatch.DeleteTicket{TicketID: st.Ticket, ProjectID: h.projectOf(st)})
		if ok && ack.Success {
			c.store.Remove(st.Ticket)
		}
	case ActionOptimistic:
		p, err := stepPatch(st)
		if err != nil {
			return err
		}
		if _, err := c.store.OptimisticUpdate(st.Ticket, p); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			return nil
		}
		h.local(i, c, ActionOptimistic, st.Ticket)
	case ActionConfirm:
		var server *ticket.Ticket
		if t, err := h.repo.GetTicket(ctx, st.Ticket); err == nil {
			server = &t
		}
		c.store.ConfirmUpdate(st.Ticket, server)
		h.local(i, c, ActionConfirm, st.Ticket)
	case ActionRollback:
		c.store.Rollback(st.Ticket)
		h.local(i, c, ActionRollback, st.Ticket)
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

func (h *Harness) projectOf(st Step) string {
	if st.Project != "" {
		return st.Project
	}
	return h.project
}

// move sends ticket:move with the same optimistic flow a connected client
// uses. From and Position default to the client's local view of the ticket.
func (h *Harness) move(ctx context.Context, i int, c *simClient, st Step) error {
	to, err := workflow.ParseStatus(st.To)
	if err != nil {
		return err
	}
	local, _ := c.store.Get(st.Ticket)

	from := local.Status
	if st.From != "" {
		if from, err = workflow.ParseStatus(st.From); err != nil {
			return err
		}
	}
	position := local.Position
	if st.Position != nil {
		position = *st.Position
	}

	h.optimistic(ctx, i, c, st, st.Ticket, ticket.MovePatch(to, position), dispatch.MoveTicket{
		TicketID:    st.Ticket,
		ProjectID:   h.projectOf(st),
		FromStatus:  from,
		ToStatus:    to,
		NewPosition: position,
		TriggeredBy: c.id,
		Reason:      st.Reason,
	})
	return nil
}

// optimistic applies p locally, sends req and then confirms or rolls back
// depending on the ack. A ticket the client does not know is sent without
// a local apply so the server's answer can still be observed.
func (h *Harness) optimistic(ctx context.Context, i int, c *simClient, st Step, id string, p ticket.Patch, req dispatch.Request) {
	cancel, err := c.store.OptimisticUpdate(id, p)
	applied := err == nil
	if applied {
		h.local(i, c, ActionOptimistic, id)
	}

	ack, ok := h.request(ctx, i, c, st, req)
	if !applied {
		return
	}
	if ok && ack.Success {
		c.store.ConfirmUpdate(id, ack.Ticket)
		h.local(i, c, ActionConfirm, id)
		return
	}
	cancel()
	h.local(i, c, ActionRollback, id)
}

func (h *Harness) create(ctx context.Context, i int, c *simClient, st Step) error {
	draft := ticket.Ticket{Title: *st.Title}
	if st.Priority != nil {
		draft.Priority = *st.Priority
	}
	if st.Status != "" {
		status, err := workflow.ParseStatus(st.Status)
		if err != nil {
			return err
		}
		draft.Status = status
	}
	ack, ok := h.request(ctx, i, c, st, dispatch.CreateTicket{ProjectID: h.projectOf(st), Ticket: draft})
	if ok && ack.Success && ack.Ticket != nil {
		c.store.Add(*ack.Ticket)
	}
	return nil
}

// request hands req to the client's session and records the request and its
// ack. ok is false when the client is disconnected or the request takes no
// ack. A missing expect clause expects success.
func (h *Harness) request(ctx context.Context, i int, c *simClient, st Step, req dispatch.Request) (ack dispatch.Ack, ok bool) {
	h.result.addTrace(TraceEvent{Step: i, Type: TraceRequest, Client: c.id, Name: req.Name(), Ticket: st.Ticket})

	if c.session == nil {
		h.result.AddError(fmt.Sprintf("steps[%d]: client %s sent %s after disconnecting", i, c.id, req.Name()))
		return dispatch.Ack{}, false
	}

	ack, hasAck := c.session.Handle(ctx, req)
	if !hasAck {
		return ack, false
	}

	got := caseOf(ack)
	ticketID := st.Ticket
	if ack.Ticket != nil {
		ticketID = ack.Ticket.ID
	}
	h.result.addTrace(TraceEvent{Step: i, Type: TraceAck, Client: c.id, Name: req.Name(), Ticket: ticketID, Case: got})

	want := CaseSuccess
	if st.Expect != nil {
		want = st.Expect.Case
	}
	if got != want {
		h.result.AddError(fmt.Sprintf("steps[%d]: %s by %s: expected %s, got %s", i, req.Name(), c.id, want, got))
	}
	h.logger.Debug("step completed", "step", i, "client", c.id, "request", req.Name(), "case", got)
	return ack, true
}

func caseOf(ack dispatch.Ack) string {
	if ack.Success {
		return CaseSuccess
	}
	if ack.Error == nil {
		return "UNKNOWN"
	}
	return string(ack.Error.Code)
}

func (h *Harness) local(i int, c *simClient, name, id string) {
	h.result.addTrace(TraceEvent{Step: i, Type: TraceLocal, Client: c.id, Name: name, Ticket: id})
}

// advance moves the clock and lets every client expire overdue pending
// updates, as its sweep would.
func (h *Harness) advance(i int, st Step) error {
	d, err := parsePositiveDuration(st.Duration)
	if err != nil {
		return err
	}
	h.clock.Advance(d)
	h.result.addTrace(TraceEvent{Step: i, Type: TraceClock, Name: ActionAdvance + " " + d.String()})

	for _, id := range h.order {
		c := h.clients[id]
		if expired := c.store.ExpireDue(); len(expired) > 0 {
			h.result.addTrace(TraceEvent{Step: i, Type: TraceLocal, Client: c.id, Name: "expire", Expired: expired})
		}
	}
	return nil
}

// pump delivers every queued broadcast to its client store, clients in
// declaration order and messages in enqueue order.
func (h *Harness) pump(i int) {
	for _, id := range h.order {
		c := h.clients[id]
		for _, m := range c.outbox.Drain() {
			c.received[m.Name]++
			ev := TraceEvent{Step: i, Type: TraceDeliver, Client: c.id, Name: m.Name, Seq: m.Seq}
			if m.Mutation != nil {
				ev.Ticket = ticket.TargetID(m.Mutation)
				ev.Skipped = !c.store.HandleRemoteEvent(m.Mutation)
			}
			h.result.addTrace(ev)
		}
	}
}

// stepPatch builds the partial update of an update or optimistic step.
func stepPatch(st Step) (ticket.Patch, error) {
	p := ticket.Patch{Title: st.Title, Priority: st.Priority, Position: st.Position}
	if st.Status != "" {
		status, err := workflow.ParseStatus(st.Status)
		if err != nil {
			return ticket.Patch{}, err
		}
		p.Status = &status
	}
	return p, nil
}
