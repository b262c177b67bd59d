package reconcile

import (
	"sync"

	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// Columns maps each status to its tickets, in store insertion order.
type Columns map[workflow.Status][]ticket.Ticket

// GroupByStatus buckets tickets by status. Every known status is present
// as a key, with an empty slice when no ticket has it.
func GroupByStatus(tickets []ticket.Ticket) Columns {
	cols := make(Columns, len(workflow.AllStatuses()))
	for _, s := range workflow.AllStatuses() {
		cols[s] = []ticket.Ticket{}
	}
	for _, t := range tickets {
		cols[t.Status] = append(cols[t.Status], t)
	}
	return cols
}

// Projection keeps a by-status grouping of a Store current. It is
// recomputed on every store change and is never written to directly.
type Projection struct {
	mu        sync.Mutex
	cols      Columns
	listeners map[int]func(Columns)
	nextSub   int
	stop      func()
}

// NewProjection subscribes to s. Call Close to detach.
func NewProjection(s *Store) *Projection {
	p := &Projection{listeners: make(map[int]func(Columns))}
	p.stop = s.Subscribe(p.recompute)
	return p
}

func (p *Projection) recompute(tickets []ticket.Ticket) {
	cols := GroupByStatus(tickets)

	p.mu.Lock()
	p.cols = cols
	listeners := make([]func(Columns), 0, len(p.listeners))
	for i := 0; i < p.nextSub; i++ {
		if l, ok := p.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(cols.clone())
	}
}

// Columns returns a copy of the current grouping.
func (p *Projection) Columns() Columns {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols.clone()
}

// Column returns the tickets with status s.
func (p *Projection) Column(s workflow.Status) []ticket.Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ticket.Ticket{}, p.cols[s]...)
}

// Subscribe calls l now and after every recompute.
func (p *Projection) Subscribe(l func(Columns)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.listeners[id] = l
	cols := p.cols.clone()
	p.mu.Unlock()

	l(cols)
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Close detaches the projection from its store.
func (p *Projection) Close() {
	p.stop()
}

func (c Columns) clone() Columns {
	out := make(Columns, len(c))
	for s, ts := range c {
		out[s] = append([]ticket.Ticket{}, ts...)
	}
	return out
}
