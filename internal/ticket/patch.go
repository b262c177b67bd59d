package ticket

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/ticketsync/internal/workflow"
)

// Patch is a partial update. A nil field means "leave unchanged".
type Patch struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *string          `json:"priority,omitempty"`
	Labels      *[]string        `json:"labels,omitempty"`
	Complexity  *string          `json:"complexity,omitempty"`
	Position    *int             `json:"position,omitempty"`
	Status      *workflow.Status `json:"status,omitempty"`
}

// Field names as they appear on the wire.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldLabels      = "labels"
	FieldComplexity  = "complexity"
	FieldPosition    = "position"
	FieldStatus      = "status"
)

// StatusPatch is shorthand for a patch that only changes the status.
func StatusPatch(s workflow.Status) Patch {
	return Patch{Status: &s}
}

// MovePatch changes status and position together, as a drag does.
func MovePatch(s workflow.Status, position int) Patch {
	return Patch{Status: &s, Position: &position}
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the wire names of the fields the patch sets.
func (p Patch) Fields() []string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, FieldTitle)
	}
	if p.Description != nil {
		fields = append(fields, FieldDescription)
	}
	if p.Priority != nil {
		fields = append(fields, FieldPriority)
	}
	if p.Labels != nil {
		fields = append(fields, FieldLabels)
	}
	if p.Complexity != nil {
		fields = append(fields, FieldComplexity)
	}
	if p.Position != nil {
		fields = append(fields, FieldPosition)
	}
	if p.Status != nil {
		fields = append(fields, FieldStatus)
	}
	return fields
}

// Apply returns a copy of t with the patch applied. t is not modified.
func (p Patch) Apply(t Ticket) Ticket {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Labels != nil {
		out.Labels = append([]string(nil), (*p.Labels)...)
	}
	if p.Complexity != nil {
		out.Complexity = *p.Complexity
	}
	if p.Position != nil {
		out.Position = *p.Position
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return out
}

// Merge layers next over p; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	out := p
	if next.Title != nil {
		out.Title = next.Title
	}
	if next.Description != nil {
		out.Description = next.Description
	}
	if next.Priority != nil {
		out.Priority = next.Priority
	}
	if next.Labels != nil {
		out.Labels = next.Labels
	}
	if next.Complexity != nil {
		out.Complexity = next.Complexity
	}
	if next.Position != nil {
		out.Position = next.Position
	}
	if next.Status != nil {
		out.Status = next.Status
	}
	return out
}

// MergeUnset copies fields from server into current, skipping every field the
// optimistic patch already set. Timestamps always come from the server when
// it supplied them.
func MergeUnset(current, server Ticket, optimistic Patch) Ticket {
	out := current.Clone()
	set := map[string]bool{}
	for _, f := range optimistic.Fields() {
		set[f] = true
	}
	if !set[FieldTitle] {
		out.Title = server.Title
	}
	if !set[FieldDescription] {
		out.Description = server.Description
	}
	if !set[FieldPriority] {
		out.Priority = server.Priority
	}
	if !set[FieldLabels] {
		out.Labels = append([]string(nil), server.Labels...)
	}
	if !set[FieldComplexity] {
		out.Complexity = server.Complexity
	}
	if !set[FieldPosition] {
		out.Position = server.Position
	}
	if !set[FieldStatus] && server.Status != "" {
		out.Status = server.Status
	}
	if !server.CreatedAt.IsZero() {
		out.CreatedAt = server.CreatedAt
	}
	if !server.UpdatedAt.IsZero() {
		out.UpdatedAt = server.UpdatedAt
	}
	return out
}

// Normalize applies the same text normalisation as Ticket.Normalize to the
// fields the patch sets.
func (p Patch) Normalize() Patch {
	out := p
	if p.Title != nil {
		v := normalizeText(*p.Title)
		out.Title = &v
	}
	if p.Description != nil {
		v := norm.NFC.String(*p.Description)
		out.Description = &v
	}
	if p.Priority != nil {
		v := normalizeText(*p.Priority)
		out.Priority = &v
	}
	if p.Complexity != nil {
		v := normalizeText(*p.Complexity)
		out.Complexity = &v
	}
	if p.Labels != nil {
		v := normalizeLabels(*p.Labels)
		if v == nil {
			v = []string{}
		}
		out.Labels = &v
	}
	return out
}

// Touch stamps UpdatedAt.
func Touch(t Ticket, now time.Time) Ticket {
	out := t.Clone()
	out.UpdatedAt = now.UTC()
	return out
}
