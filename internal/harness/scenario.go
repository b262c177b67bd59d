package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ticketsync/internal/workflow"
)

// Scenario describes a synchronisation session between several clients of
// one project board and the assertions that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Project is the default room for steps that do not name one.
	Project string `yaml:"project"`

	// RollbackTimeout overrides the clients' pending-update deadline
	// (Go duration syntax). Defaults to reconcile.DefaultRollbackTimeout.
	RollbackTimeout string `yaml:"rollback_timeout,omitempty"`

	// Clients are connected, in order, before the first step. Broadcasts
	// are delivered in this order too.
	Clients []ClientSpec `yaml:"clients"`

	// Tickets seed the server store and every client's local store.
	Tickets []TicketSeed `yaml:"tickets,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// ClientSpec is one simulated board client.
type ClientSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// TicketSeed is a ticket present before the first step.
type TicketSeed struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Status   string `yaml:"status"`
	Position int    `yaml:"position,omitempty"`
	Priority string `yaml:"priority,omitempty"`
}

// Step is one action taken by a client (or by the clock).
type Step struct {
	// Client performs the step. Not used by advance.
	Client string `yaml:"client,omitempty"`

	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Project overrides Scenario.Project for join and leave.
	Project string `yaml:"project,omitempty"`

	Ticket string `yaml:"ticket,omitempty"`

	// From defaults to the ticket's status in the client's local store.
	From     string `yaml:"from,omitempty"`
	To       string `yaml:"to,omitempty"`
	Position *int   `yaml:"position,omitempty"`
	Reason   string `yaml:"reason,omitempty"`

	// Title, Status and Priority form the patch of update and optimistic,
	// and the draft of create.
	Title    *string `yaml:"title,omitempty"`
	Status   string  `yaml:"status,omitempty"`
	Priority *string `yaml:"priority,omitempty"`

	// Duration is how far advance moves the clock.
	Duration string `yaml:"duration,omitempty"`

	// Expect checks the acknowledgement of a server request.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause names the expected outcome of a request: "Success" or an
// error code such as "INVALID_TRANSITION".
type ExpectClause struct {
	Case string `yaml:"case"`
}

// CaseSuccess is the outcome name of an accepted request.
const CaseSuccess = "Success"

// Step actions.
const (
	ActionJoin       = "join"
	ActionLeave      = "leave"
	ActionDisconnect = "disconnect"
	ActionMove       = "move"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionOptimistic = "optimistic"
	ActionConfirm    = "confirm"
	ActionRollback   = "rollback"
	ActionAdvance    = "advance"
)

// Assertion checks the final state of the session.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Client selects whose local store is inspected. ServerClient inspects
	// the persisted store.
	Client string `yaml:"client,omitempty"`

	Ticket string `yaml:"ticket,omitempty"`

	// Expect is a subset of the ticket's JSON fields (ticket_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Pending is the expected HasPendingUpdate result (pending).
	Pending bool `yaml:"pending,omitempty"`

	// Project and Users describe room membership (members).
	Project string   `yaml:"project,omitempty"`
	Users   []string `yaml:"users,omitempty"`

	// Event and Count describe deliveries to a client (received).
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Status and Tickets describe one board column (column).
	Status  string   `yaml:"status,omitempty"`
	Tickets []string `yaml:"tickets,omitempty"`

	// Kinds is the expected history of a ticket (history).
	Kinds []string `yaml:"kinds,omitempty"`

	// Events is the expected order of event names in the trace (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertTicketState  = "ticket_state"
	AssertTicketAbsent = "ticket_absent"
	AssertPending      = "pending"
	AssertMembers      = "members"
	AssertReceived     = "received"
	AssertColumn       = "column"
	AssertHistory      = "history"
	AssertTraceOrder   = "trace_order"
)

// ServerClient is the reserved client name that addresses the persisted
// store in ticket_state and ticket_absent assertions.
const ServerClient = "server"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Project == "" {
		return fmt.Errorf("project is required")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.RollbackTimeout != "" {
		if _, err := parsePositiveDuration(s.RollbackTimeout); err != nil {
			return fmt.Errorf("rollback_timeout: %w", err)
		}
	}

	clients := make(map[string]bool, len(s.Clients))
	for i, c := range s.Clients {
		switch {
		case c.ID == "":
			return fmt.Errorf("clients[%d]: id is required", i)
		case c.ID == ServerClient:
			return fmt.Errorf("clients[%d]: %q is reserved", i, ServerClient)
		case clients[c.ID]:
			return fmt.Errorf("clients[%d]: duplicate id %q", i, c.ID)
		}
		clients[c.ID] = true
	}

	seen := make(map[string]bool, len(s.Tickets))
	for i, t := range s.Tickets {
		if t.ID == "" {
			return fmt.Errorf("tickets[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tickets[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if _, err := workflow.ParseStatus(t.Status); err != nil {
			return fmt.Errorf("tickets[%d]: %w", i, err)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], clients); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], clients); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, clients map[string]bool) error {
	if st.Action == ActionAdvance {
		if _, err := parsePositiveDuration(st.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", index, err)
		}
		return nil
	}
	if !clients[st.Client] {
		return fmt.Errorf("steps[%d]: unknown client %q", index, st.Client)
	}

	switch st.Action {
	case ActionJoin, ActionLeave, ActionDisconnect:
	case ActionCreate:
		if st.Title == nil {
			return fmt.Errorf("steps[%d]: title is required for create", index)
		}
	case ActionMove:
		if st.Ticket == "" || st.To == "" {
			return fmt.Errorf("steps[%d]: ticket and to are required for move", index)
		}
	case ActionUpdate, ActionOptimistic:
		if st.Ticket == "" {
			return fmt.Errorf("steps[%d]: ticket is required for %s", index, st.Action)
		}
		if st.Title == nil && st.Status == "" && st.Priority == nil && st.Position == nil {
			return fmt.Errorf("steps[%d]: %s needs at least one field to change", index, st.Action)
		}
	case ActionDelete, ActionConfirm, ActionRollback:
		if st.Ticket == "" {
			return fmt.Errorf("steps[%d]: ticket is required for %s", index, st.Action)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if st.Expect != nil && st.Expect.Case == "" {
		return fmt.Errorf("steps[%d].expect: case is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, clients map[string]bool) error {
	knownClient := func() error {
		if !clients[a.Client] && a.Client != ServerClient {
			return fmt.Errorf("assertions[%d]: unknown client %q", index, a.Client)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTicketState:
		if a.Ticket == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: ticket and expect are required for ticket_state", index)
		}
		return knownClient()
	case AssertTicketAbsent:
		if a.Ticket == "" {
			return fmt.Errorf("assertions[%d]: ticket is required for ticket_absent", index)
		}
		return knownClient()
	case AssertPending:
		if a.Ticket == "" || !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: client and ticket are required for pending", index)
		}
	case AssertMembers:
	case AssertReceived:
		if a.Event == "" || !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: client and event are required for received", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for received", index)
		}
	case AssertColumn:
		if !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: unknown client %q", index, a.Client)
		}
		if _, err := workflow.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertHistory:
		if a.Ticket == "" {
			return fmt.Errorf("assertions[%d]: ticket is required for history", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}
