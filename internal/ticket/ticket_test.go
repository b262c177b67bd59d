package ticket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/workflow"
)

func sampleTicket() Ticket {
	return Ticket{
		ID:        "t1",
		ProjectID: "p1",
		Title:     "Write docs",
		Labels:    []string{"docs"},
		Position:  2,
		Status:    workflow.Backlog,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := sampleTicket()
	c := orig.Clone()
	c.Labels[0] = "changed"
	assert.Equal(t, "docs", orig.Labels[0])
}

func TestNormalize_NFCAndTrim(t *testing.T) {
	tk := sampleTicket()
	tk.Title = "  Cafe\u0301 menu  "
	tk.Labels = []string{" ux ", "", "re\u0301sume\u0301"}

	n := tk.Normalize()
	assert.Equal(t, "Caf\u00e9 menu", n.Title)
	assert.Equal(t, []string{"ux", "r\u00e9sum\u00e9"}, n.Labels)
}

func TestPatchNormalize_MatchesTicketNormalize(t *testing.T) {
	title := "  Cafe\u0301 menu  "
	desc := "  Re\u0301sume\u0301 draft\n"
	labels := []string{" ux ", "re\u0301sume\u0301"}
	p := Patch{Title: &title, Description: &desc, Labels: &labels}.Normalize()

	require.NotNil(t, p.Description)
	assert.Equal(t, "  R\u00e9sum\u00e9 draft\n", *p.Description)

	tk := sampleTicket()
	tk.Title, tk.Description, tk.Labels = title, desc, labels
	assert.Empty(t, cmp.Diff(tk.Normalize(), p.Apply(sampleTicket())))
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleTicket().Validate())

	tk := sampleTicket()
	tk.Status = "ARCHIVED"
	var fe *FieldError
	require.ErrorAs(t, tk.Validate(), &fe)
	assert.Equal(t, "status", fe.Field)

	tk = sampleTicket()
	tk.Position = -1
	require.ErrorAs(t, tk.Validate(), &fe)
	assert.Equal(t, "position", fe.Field)

	tk = sampleTicket()
	tk.ProjectID = ""
	require.ErrorAs(t, tk.Validate(), &fe)
	assert.Equal(t, "projectId", fe.Field)
}

func TestPatch_ApplyLeavesOriginal(t *testing.T) {
	orig := sampleTicket()
	title := "New title"
	p := Patch{Title: &title}.Merge(StatusPatch(workflow.Todo))

	got := p.Apply(orig)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, workflow.Todo, got.Status)
	assert.Equal(t, "Write docs", orig.Title)
	assert.Equal(t, workflow.Backlog, orig.Status)
	assert.Equal(t, []string{FieldTitle, FieldStatus}, p.Fields())
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, MovePatch(workflow.Todo, 0).IsEmpty())
}

func TestMergeUnset_KeepsOptimisticFields(t *testing.T) {
	current := StatusPatch(workflow.Todo).Apply(sampleTicket())

	server := sampleTicket()
	server.Status = workflow.Backlog
	server.Priority = "HIGH"
	server.UpdatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	got := MergeUnset(current, server, StatusPatch(workflow.Todo))
	assert.Equal(t, workflow.Todo, got.Status)
	assert.Equal(t, "HIGH", got.Priority)
	assert.Equal(t, server.UpdatedAt, got.UpdatedAt)
}

func TestEventPayloadCodec(t *testing.T) {
	events := []MutationEvent{
		Moved{TicketID: "t1", ProjectID: "p1", FromStatus: workflow.Todo, ToStatus: workflow.InProgress, NewPosition: 3, TriggeredBy: "u1", Reason: "picked up"},
		Created{ProjectID: "p1", Ticket: sampleTicket()},
		Updated{TicketID: "t1", ProjectID: "p1", Updates: StatusPatch(workflow.Review)},
		Deleted{TicketID: "t1", ProjectID: "p1"},
	}
	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			payload, err := EncodePayload(ev)
			require.NoError(t, err)
			decoded, err := DecodePayload(ev.Kind(), payload)
			require.NoError(t, err)
			if diff := cmp.Diff(ev, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, "p1", decoded.Project())
			assert.Equal(t, "t1", TargetID(decoded))
		})
	}
}

func TestMovedWireShape(t *testing.T) {
	body, err := EncodePayload(Moved{TicketID: "t1", ProjectID: "p1", FromStatus: workflow.Todo, ToStatus: workflow.InProgress, NewPosition: 1, TriggeredBy: "agent"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "TODO", raw["fromStatus"])
	assert.Equal(t, "IN_PROGRESS", raw["toStatus"])
	assert.NotContains(t, raw, "reason")
}

func TestEventNames(t *testing.T) {
	for _, k := range []EventKind{KindMoved, KindCreated, KindUpdated, KindDeleted} {
		name := EventName(k)
		back, ok := KindFromEventName(name)
		require.True(t, ok)
		assert.Equal(t, k, back)
	}
	_, ok := KindFromEventName("user:joined")
	assert.False(t, ok)

	_, err := DecodePayload("archived", json.RawMessage(`{}`))
	assert.Error(t, err)
}
