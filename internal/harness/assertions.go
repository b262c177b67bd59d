package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/ticketsync/internal/ticket"
	"github.com/roach88/ticketsync/internal/workflow"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion against the finished session and
// returns one message per failure.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertTicketState:
		return h.assertTicketState(ctx, a)
	case AssertTicketAbsent:
		return h.assertTicketAbsent(ctx, a)
	case AssertPending:
		return h.assertPending(a)
	case AssertMembers:
		return h.assertMembers(a)
	case AssertReceived:
		return h.assertReceived(a)
	case AssertColumn:
		return h.assertColumn(a)
	case AssertHistory:
		return h.assertHistory(ctx, a)
	case AssertTraceOrder:
		return assertTraceOrder(h.result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// lookup finds a ticket in a client's local store, or in the persisted
// store for ServerClient.
func (h *Harness) lookup(ctx context.Context, client, id string) (ticket.Ticket, bool, error) {
	if client == ServerClient {
		t, err := h.repo.GetTicket(ctx, id)
		if errors.Is(err, ticket.ErrNotFound) {
			return ticket.Ticket{}, false, nil
		}
		if err != nil {
			return ticket.Ticket{}, false, err
		}
		return t, true, nil
	}
	c := h.clients[client]
	if c == nil {
		return ticket.Ticket{}, false, fmt.Errorf("unknown client %q", client)
	}
	t, ok := c.store.Get(id)
	return t, ok, nil
}

// assertTicketState compares the listed fields of the ticket's JSON form.
// Fields not listed are ignored.
func (h *Harness) assertTicketState(ctx context.Context, a Assertion) error {
	t, ok, err := h.lookup(ctx, a.Client, a.Ticket)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertTicketState,
			Expected: fmt.Sprintf("ticket %s in %s", a.Ticket, a.Client),
			Actual:   "not found",
		}
	}

	actual, err := jsonObject(t)
	if err != nil {
		return err
	}
	expected, err := jsonObject(a.Expect)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		if !reflect.DeepEqual(actual[k], expected[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want %v)", k, actual[k], expected[k]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertTicketState,
			Expected: fmt.Sprintf("ticket %s in %s to match %v", a.Ticket, a.Client, a.Expect),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func (h *Harness) assertTicketAbsent(ctx context.Context, a Assertion) error {
	_, ok, err := h.lookup(ctx, a.Client, a.Ticket)
	if err != nil {
		return err
	}
	if ok {
		return &AssertionError{
			Type:     AssertTicketAbsent,
			Expected: fmt.Sprintf("ticket %s absent from %s", a.Ticket, a.Client),
			Actual:   "present",
		}
	}
	return nil
}

func (h *Harness) assertPending(a Assertion) error {
	got := h.clients[a.Client].store.HasPendingUpdate(a.Ticket)
	if got != a.Pending {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("pending(%s) in %s = %t", a.Ticket, a.Client, a.Pending),
			Actual:   fmt.Sprintf("%t", got),
		}
	}
	return nil
}

// assertMembers compares the user ids of a room, order-insensitive.
func (h *Harness) assertMembers(a Assertion) error {
	project := a.Project
	if project == "" {
		project = h.project
	}
	var got []string
	for _, m := range h.disp.Rooms().Members(project) {
		got = append(got, m.UserID)
	}
	want := slices.Clone(a.Users)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertMembers,
			Expected: fmt.Sprintf("members of %s = %v", project, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertReceived(a Assertion) error {
	got := h.clients[a.Client].received[a.Event]
	if got != a.Count {
		return &AssertionError{
			Type:     AssertReceived,
			Expected: fmt.Sprintf("%s received %s %d times", a.Client, a.Event, a.Count),
			Actual:   fmt.Sprintf("%d times", got),
		}
	}
	return nil
}

// assertColumn checks the ids, in order, of one column of the client's
// derived board.
func (h *Harness) assertColumn(a Assertion) error {
	status, err := workflow.ParseStatus(a.Status)
	if err != nil {
		return err
	}
	var got []string
	for _, t := range h.clients[a.Client].projection.Column(status) {
		got = append(got, t.ID)
	}
	if !slices.Equal(got, a.Tickets) {
		return &AssertionError{
			Type:     AssertColumn,
			Expected: fmt.Sprintf("%s column %s = %v", a.Client, status, a.Tickets),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertHistory(ctx context.Context, a Assertion) error {
	entries, err := h.repo.History(ctx, a.Ticket)
	if err != nil {
		return err
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, string(e.Kind))
	}
	if !slices.Equal(got, a.Kinds) {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("history of %s = %v", a.Ticket, a.Kinds),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertTraceOrder checks that the named events appear in the trace in the
// given order. Other events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Name == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order %v", a.Events),
			Actual:   fmt.Sprintf("%q not found after %v", a.Events[next], a.Events[:next]),
		}
	}
	return nil
}

// jsonObject converts v to its generic JSON form so YAML-decoded
// expectations and typed tickets compare with the same number types.
func jsonObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode for comparison: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode for comparison: %w", err)
	}
	return out, nil
}
