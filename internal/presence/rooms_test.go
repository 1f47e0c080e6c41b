// ABOUTME: Tests for the room membership tracker and its notifications.
// ABOUTME: Covers index symmetry, duplicate joins, and disconnect cleanup.

package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/registry"
)

type testConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []protocol.EventType
	data   []any
}

func newTestConn(id, userID string) *testConn {
	return &testConn{id: id, userID: userID}
}

func (c *testConn) ID() string     { return c.id }
func (c *testConn) UserID() string { return c.userID }

func (c *testConn) Send(event protocol.EventType, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.data = append(c.data, data)
	return nil
}

func (c *testConn) received() []protocol.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.EventType, len(c.events))
	copy(out, c.events)
	return out
}

func (c *testConn) lastData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 {
		return nil
	}
	return c.data[len(c.data)-1]
}

func trackerSetup(t *testing.T) (*registry.Registry, *Tracker) {
	t.Helper()
	reg := registry.New(nil)
	return reg, NewTracker(broadcast.NewDispatcher(reg, nil), reg, nil)
}

func join(reg *registry.Registry, tr *Tracker, room string, c *testConn) {
	reg.Add(c)
	reg.Subscribe(room, c.ID())
	tr.Join(room, c.UserID(), c.ID())
}

func TestTracker_Join_NotifiesExistingMembers(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	b := newTestConn("conn-b", "bob")

	join(reg, tr, "conversation_1", a)
	count := func() int {
		reg.Add(b)
		reg.Subscribe("conversation_1", b.ID())
		return tr.Join("conversation_1", "bob", "conn-b")
	}()

	assert.Equal(t, 2, count)

	// Alice saw bob join; bob did not see his own join.
	require.Equal(t, []protocol.EventType{protocol.EventUserJoined}, a.received())
	assert.Empty(t, b.received())

	envelope, ok := a.lastData().(protocol.SystemEnvelope)
	require.True(t, ok)
	assert.Equal(t, protocol.RoomEvent{UserID: "bob", UserCount: 2}, envelope.Data)
}

func TestTracker_Join_SecondConnectionSuppressed(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	b := newTestConn("conn-b", "bob")
	join(reg, tr, "conversation_1", a)
	join(reg, tr, "conversation_1", b)

	// Alice joins again from a second device.
	a2 := newTestConn("conn-a2", "alice")
	reg.Add(a2)
	reg.Subscribe("conversation_1", "conn-a2")
	count := tr.Join("conversation_1", "alice", "conn-a2")

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"alice", "bob"}, tr.RoomUsers("conversation_1"))

	// No duplicate user_joined for a user already present.
	for _, e := range b.received() {
		assert.NotEqual(t, protocol.EventUserJoined, e, "bob should only see alice join once")
	}
	assert.Len(t, b.received(), 0)
}

func TestTracker_Leave_Symmetry(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	b := newTestConn("conn-b", "bob")
	join(reg, tr, "conversation_1", a)
	join(reg, tr, "conversation_1", b)

	count := tr.Leave("conversation_1", "alice", "conn-a")

	assert.Equal(t, 1, count)
	assert.False(t, tr.InRoom("conversation_1", "alice"))
	assert.Empty(t, tr.UserRooms("alice"))

	events := b.received()
	require.NotEmpty(t, events)
	assert.Equal(t, protocol.EventUserLeft, events[len(events)-1])
}

func TestTracker_Leave_NonMemberNoOp(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	join(reg, tr, "conversation_1", a)

	tr.Leave("conversation_1", "ghost", "")
	tr.Leave("conversation_nowhere", "alice", "")

	assert.Empty(t, a.received())
	assert.Equal(t, []string{"alice"}, tr.RoomUsers("conversation_1"))
}

func TestTracker_EmptyRoomDeleted(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	join(reg, tr, "conversation_1", a)

	tr.Leave("conversation_1", "alice", "conn-a")

	assert.Empty(t, tr.RoomUsers("conversation_1"))
	assert.Equal(t, 0, tr.RoomStats("conversation_1").UserCount)
}

func TestTracker_CleanupOnDisconnect_AllRooms(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	b := newTestConn("conn-b", "bob")
	join(reg, tr, "conversation_1", a)
	join(reg, tr, "conversation_2", a)
	join(reg, tr, "conversation_1", b)

	rooms := tr.CleanupOnDisconnect("alice", "conn-a")

	assert.Equal(t, []string{"conversation_1", "conversation_2"}, rooms)
	assert.Empty(t, tr.UserRooms("alice"))
	assert.Equal(t, []string{"bob"}, tr.RoomUsers("conversation_1"))

	events := b.received()
	require.NotEmpty(t, events)
	assert.Equal(t, protocol.EventUserDisconnected, events[len(events)-1])
}

func TestTracker_CleanupOnDisconnect_Idempotent(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	join(reg, tr, "conversation_1", a)

	require.Len(t, tr.CleanupOnDisconnect("alice", "conn-a"), 1)
	assert.Empty(t, tr.CleanupOnDisconnect("alice", "conn-a"))
	assert.Empty(t, tr.CleanupOnDisconnect("never-joined", ""))
}

func TestTracker_RoomStats(t *testing.T) {
	reg, tr := trackerSetup(t)
	a := newTestConn("conn-a", "alice")
	a2 := newTestConn("conn-a2", "alice")
	join(reg, tr, "conversation_1", a)
	join(reg, tr, "conversation_1", a2)

	stats := tr.RoomStats("conversation_1")

	assert.Equal(t, "conversation_1", stats.Room)
	assert.Equal(t, 1, stats.UserCount)
	assert.Equal(t, 2, stats.ConnCount)
}
