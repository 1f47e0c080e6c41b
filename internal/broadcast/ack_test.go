// ABOUTME: Tests for acknowledgment tracking of room broadcasts.
// ABOUTME: Covers exactly-once completion, duplicate receipts, and timeouts.

package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/registry"
)

type completionCapture struct {
	mu      sync.Mutex
	results []AckResult
	fired   chan struct{}
}

func newCompletionCapture() *completionCapture {
	return &completionCapture{fired: make(chan struct{}, 10)}
}

func (c *completionCapture) fn(_ string, res AckResult) {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *completionCapture) wait(t *testing.T) AckResult {
	t.Helper()
	select {
	case <-c.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[len(c.results)-1]
}

func (c *completionCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func ackSetup(t *testing.T, timeout time.Duration) (*registry.Registry, *AckTracker) {
	t.Helper()
	reg := registry.New(nil)
	tracker := NewAckTracker(reg, timeout, nil)

	for _, pair := range [][2]string{{"conn-a", "alice"}, {"conn-b", "bob"}, {"conn-c", "carol"}} {
		c := newTestConn(pair[0], pair[1])
		reg.Add(c)
		reg.Subscribe("conversation_1", pair[0])
	}
	return reg, tracker
}

func TestAckTracker_FullAcknowledgment(t *testing.T) {
	_, tracker := ackSetup(t, time.Minute)
	done := newCompletionCapture()

	id := "bcast-1"
	tracker.Broadcast(id, "conversation_1", protocol.EventNewMessage, nil, "conn-a", done.fn)
	assert.Equal(t, 1, tracker.PendingCount())

	tracker.Ack(id, "conn-b")
	assert.Equal(t, 0, done.count())

	tracker.Ack(id, "conn-c")
	res := done.wait(t)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Acknowledged)
	assert.Equal(t, 2, res.Expected)
	assert.Equal(t, 0, tracker.PendingCount())
}

func TestAckTracker_DuplicateReceiptsIgnored(t *testing.T) {
	_, tracker := ackSetup(t, time.Minute)
	done := newCompletionCapture()

	id := "bcast-1"
	tracker.Broadcast(id, "conversation_1", protocol.EventNewMessage, nil, "conn-a", done.fn)

	tracker.Ack(id, "conn-b")
	tracker.Ack(id, "conn-b")
	tracker.Ack(id, "conn-b")

	assert.Equal(t, 0, done.count())
	assert.Equal(t, 1, tracker.PendingCount())
}

func TestAckTracker_Timeout_PartialAcks(t *testing.T) {
	_, tracker := ackSetup(t, 50*time.Millisecond)
	done := newCompletionCapture()

	id := "bcast-1"
	tracker.Broadcast(id, "conversation_1", protocol.EventNewMessage, nil, "", done.fn)
	tracker.Ack(id, "conn-a")
	tracker.Ack(id, "conn-b")

	res := done.wait(t)

	assert.False(t, res.Success)
	assert.Equal(t, "acknowledgment timeout", res.Error)
	assert.Equal(t, 2, res.Acknowledged)
	assert.Equal(t, 3, res.Expected)
	assert.Equal(t, 0, tracker.PendingCount())
}

func TestAckTracker_CompletionFiresExactlyOnce(t *testing.T) {
	_, tracker := ackSetup(t, 20*time.Millisecond)
	done := newCompletionCapture()

	id := "bcast-1"
	tracker.Broadcast(id, "conversation_1", protocol.EventNewMessage, nil, "conn-a", done.fn)

	tracker.Ack(id, "conn-b")
	tracker.Ack(id, "conn-c")
	done.wait(t)

	// Let the timer fire (or try to); completion must not fire again.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, done.count())

	// Late receipts for a completed broadcast are no-ops.
	tracker.Ack(id, "conn-a")
	assert.Equal(t, 1, done.count())
}

func TestAckTracker_EmptyRoom_ImmediateSuccess(t *testing.T) {
	reg := registry.New(nil)
	tracker := NewAckTracker(reg, time.Minute, nil)
	done := newCompletionCapture()

	tracker.Broadcast("bcast-1", "conversation_empty", protocol.EventNewMessage, nil, "", done.fn)

	res := done.wait(t)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Expected)
	assert.Equal(t, 0, tracker.PendingCount())
}

func TestAckTracker_SoleSenderExcluded_ImmediateSuccess(t *testing.T) {
	reg := registry.New(nil)
	tracker := NewAckTracker(reg, time.Minute, nil)
	c := newTestConn("conn-a", "alice")
	reg.Add(c)
	reg.Subscribe("conversation_1", "conn-a")
	done := newCompletionCapture()

	tracker.Broadcast("bcast-1", "conversation_1", protocol.EventNewMessage, nil, "conn-a", done.fn)

	res := done.wait(t)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Expected)
}

func TestAckTracker_UnknownBroadcast_NoOp(t *testing.T) {
	_, tracker := ackSetup(t, time.Minute)

	tracker.Ack("never-issued", "conn-a")

	assert.Equal(t, 0, tracker.PendingCount())
}
