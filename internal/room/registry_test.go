package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ticketsync/internal/testutil"
)

func newTestRegistry() (*Registry, *testutil.FakeClock) {
	clk := testutil.NewFakeClock()
	return NewRegistry(clk), clk
}

func TestJoin_Idempotent(t *testing.T) {
	r, clk := newTestRegistry()

	assert.True(t, r.Join("p1", "c1", Meta{UserID: "u1"}))
	clk.Advance(time.Minute)
	assert.False(t, r.Join("p1", "c1", Meta{UserID: "u1", DisplayName: "Ada"}))

	members := r.Members("p1")
	require.Len(t, members, 1)
	assert.Equal(t, "Ada", members[0].DisplayName)
	assert.Equal(t, testutil.Epoch, members[0].JoinedAt, "rejoin keeps original JoinedAt")
}

func TestLeave_PrunesEmptyRoom(t *testing.T) {
	r, _ := newTestRegistry()
	r.Join("p1", "c1", Meta{})
	r.Join("p1", "c2", Meta{})

	assert.True(t, r.Leave("p1", "c1"))
	assert.Equal(t, []string{"p1"}, r.Rooms())

	assert.True(t, r.Leave("p1", "c2"))
	assert.Empty(t, r.Rooms())
	assert.Nil(t, r.Members("p1"))

	assert.False(t, r.Leave("p1", "c2"), "second leave is a no-op")
}

func TestLeaveAll_RemovesEverywhere(t *testing.T) {
	r, _ := newTestRegistry()
	r.Join("p2", "c1", Meta{})
	r.Join("p1", "c1", Meta{})
	r.Join("p1", "c2", Meta{})

	left := r.LeaveAll("c1")
	assert.Equal(t, []string{"p1", "p2"}, left)
	assert.False(t, r.IsInRoom("p1", "c1"))
	assert.False(t, r.IsInRoom("p2", "c1"))
	assert.Empty(t, r.RoomsOf("c1"))

	members := r.Members("p1")
	require.Len(t, members, 1)
	assert.Equal(t, "c2", members[0].ConnectionID)
	assert.Equal(t, []string{"p1"}, r.Rooms())
}

func TestLeaveAll_UnknownConnection(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Empty(t, r.LeaveAll("ghost"))
	assert.Empty(t, r.LeaveAll("ghost"))
}

func TestMembers_OrderedByJoin(t *testing.T) {
	r, clk := newTestRegistry()
	r.Join("p1", "c3", Meta{})
	clk.Advance(time.Second)
	r.Join("p1", "c1", Meta{})
	r.Join("p1", "c2", Meta{})

	var ids []string
	for _, m := range r.Members("p1") {
		ids = append(ids, m.ConnectionID)
	}
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids)
}

func TestMembers_IsSnapshot(t *testing.T) {
	r, _ := newTestRegistry()
	r.Join("p1", "c1", Meta{})
	snap := r.Members("p1")
	r.Join("p1", "c2", Meta{})
	assert.Len(t, snap, 1)
}

func TestNextSeq(t *testing.T) {
	r, _ := newTestRegistry()
	_, ok := r.NextSeq("p1")
	assert.False(t, ok)

	r.Join("p1", "c1", Meta{})
	s1, _ := r.NextSeq("p1")
	s2, _ := r.NextSeq("p1")
	assert.Equal(t, int64(1), s1)
	assert.Equal(t, int64(2), s2)
}

func TestClear(t *testing.T) {
	r, _ := newTestRegistry()
	r.Join("p1", "c1", Meta{})
	r.Clear()
	assert.Empty(t, r.Rooms())
	assert.False(t, r.IsInRoom("p1", "c1"))
	assert.Empty(t, r.LeaveAll("c1"))
}

func TestRecipients_ExcludesSender(t *testing.T) {
	members := []Member{{ConnectionID: "a"}, {ConnectionID: "b"}, {ConnectionID: "c"}}
	assert.Equal(t, []string{"a", "c"}, Recipients(members, "b"))
	assert.Equal(t, []string{"a", "b", "c"}, Recipients(members, "z"))
	assert.Empty(t, Recipients(nil, "a"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r, _ := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				r.Join("p1", conn, Meta{})
				r.Join("p2", conn, Meta{})
				r.LeaveAll(conn)
			}
		}(i)
	}
	wg.Wait()
	assert.Empty(t, r.Rooms())
}
