package ticket

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/ticketsync/internal/workflow"
)

// Ticket is a single work item on a project board.
//
// Position orders tickets inside a (ProjectID, Status) bucket. Duplicates are
// tolerated while a drag is in flight; the board converges once the move is
// confirmed.
type Ticket struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"projectId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Complexity  string          `json:"complexity,omitempty"`
	Position    int             `json:"position"`
	Status      workflow.Status `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy. Labels is the only reference-typed field.
func (t Ticket) Clone() Ticket {
	out := t
	if t.Labels != nil {
		out.Labels = make([]string, len(t.Labels))
		copy(out.Labels, t.Labels)
	}
	return out
}

// Normalize trims and NFC-normalises text fields and drops empty labels.
func (t Ticket) Normalize() Ticket {
	out := t.Clone()
	out.Title = normalizeText(out.Title)
	out.Description = norm.NFC.String(out.Description)
	out.Priority = normalizeText(out.Priority)
	out.Complexity = normalizeText(out.Complexity)
	out.Labels = normalizeLabels(out.Labels)
	return out
}

// Validate checks the invariants a ticket must satisfy before it is stored
// or broadcast.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &FieldError{Field: "id", Message: "id is required"}
	}
	if strings.TrimSpace(t.ProjectID) == "" {
		return &FieldError{Field: "projectId", Message: "projectId is required"}
	}
	if !t.Status.Valid() {
		return &FieldError{Field: "status", Message: "unknown status " + string(t.Status)}
	}
	if t.Position < 0 {
		return &FieldError{Field: "position", Message: "position must be non-negative"}
	}
	return nil
}

// FieldError reports a single invalid field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeLabels(labels []string) []string {
	if labels == nil {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = normalizeText(l)
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
