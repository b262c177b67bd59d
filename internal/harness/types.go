package harness

import "github.com/roach88/ticketsync/internal/ticket"

// Trace event types.
const (
	TraceRequest = "request"
	TraceAck     = "ack"
	TraceDeliver = "deliver"
	TraceLocal   = "local"
	TraceClock   = "clock"
)

// TraceEvent is one observable thing that happened during a scenario: a
// request sent, its acknowledgement, a broadcast delivered to a client, a
// local store operation or a clock advance.
type TraceEvent struct {
	Step   int    `json:"step"`
	Type   string `json:"type"`
	Client string `json:"client,omitempty"`
	Name   string `json:"name"`
	Ticket string `json:"ticket,omitempty"`

	// Case is the outcome of an ack: "Success" or an error code.
	Case string `json:"case,omitempty"`

	// Seq is the room sequence number of a delivered broadcast.
	Seq int64 `json:"seq,omitempty"`

	// Skipped marks a delivered mutation the client store did not apply.
	Skipped bool `json:"skipped,omitempty"`

	// Expired lists the ids rolled back by a clock advance.
	Expired []string `json:"expired,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every request, ack and delivery in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is each client's final local board, keyed by client id.
	State map[string][]ticket.Ticket `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]ticket.Ticket),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
