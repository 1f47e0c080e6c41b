// ABOUTME: Tracks delivery acknowledgments for broadcasts against an expected count
// ABOUTME: Completion fires exactly once, on full acknowledgment or timeout

package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/registry"
)

// AckResult is handed to the completion callback of a tracked broadcast.
type AckResult struct {
	Success      bool
	Error        string
	Acknowledged int
	Expected     int
}

// CompletionFunc receives the final result of a tracked broadcast.
type CompletionFunc func(broadcastID string, res AckResult)

type ackRecord struct {
	expected int
	acked    map[string]struct{} // conn IDs that have acknowledged
	done     CompletionFunc
	timer    *time.Timer
}

// AckTracker verifies that every room member confirmed receipt of a
// broadcast within a bounded time. Presence of a record in pending is the
// single source of truth for "not yet completed": whichever of full
// acknowledgment or timeout deletes the record first fires the callback.
type AckTracker struct {
	mu      sync.Mutex
	pending map[string]*ackRecord // broadcast ID -> record

	reg     *registry.Registry
	timeout time.Duration
	logger  *slog.Logger
}

// NewAckTracker creates a tracker with the given per-broadcast timeout.
func NewAckTracker(reg *registry.Registry, timeout time.Duration, logger *slog.Logger) *AckTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AckTracker{
		pending: make(map[string]*ackRecord),
		reg:     reg,
		timeout: timeout,
		logger:  logger.With("component", "ack-tracker"),
	}
}

// Broadcast emits an event to a room and tracks acknowledgments from every
// recipient connection under the caller-supplied broadcast ID, which the
// payload must carry so recipients can echo it in their receipt frames. If
// the room has no recipients the completion fires immediately with success
// and zero counts.
func (t *AckTracker) Broadcast(id, room string, event protocol.EventType, data any, excludeConnID string, done CompletionFunc) {
	expected := t.reg.RoomConnCount(room)
	if excludeConnID != "" && t.reg.InRoom(room, excludeConnID) {
		expected--
	}
	if expected <= 0 {
		done(id, AckResult{Success: true, Acknowledged: 0, Expected: 0})
		return
	}

	rec := &ackRecord{
		expected: expected,
		acked:    make(map[string]struct{}),
		done:     done,
	}
	rec.timer = time.AfterFunc(t.timeout, func() { t.expire(id) })

	t.mu.Lock()
	t.pending[id] = rec
	t.mu.Unlock()

	t.reg.EmitToRoom(room, event, data, excludeConnID)

	t.logger.Debug("tracked broadcast issued",
		"broadcast_id", id,
		"room", room,
		"expected", expected,
	)
}

// Ack records a delivery receipt from a connection. Duplicate receipts from
// the same connection are ignored. When the last expected connection acks,
// the timeout is canceled and the completion callback fires with success.
func (t *AckTracker) Ack(broadcastID, connID string) {
	t.mu.Lock()
	rec, ok := t.pending[broadcastID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, seen := rec.acked[connID]; seen {
		t.mu.Unlock()
		return
	}
	rec.acked[connID] = struct{}{}

	if len(rec.acked) < rec.expected {
		t.mu.Unlock()
		return
	}

	// Fully acknowledged: deleting the record claims completion.
	delete(t.pending, broadcastID)
	rec.timer.Stop()
	acked := len(rec.acked)
	t.mu.Unlock()

	rec.done(broadcastID, AckResult{
		Success:      true,
		Acknowledged: acked,
		Expected:     rec.expected,
	})
}

// expire fires when the timeout elapses before full acknowledgment.
func (t *AckTracker) expire(broadcastID string) {
	t.mu.Lock()
	rec, ok := t.pending[broadcastID]
	if !ok {
		// Completed already; the timer lost the race.
		t.mu.Unlock()
		return
	}
	delete(t.pending, broadcastID)
	acked := len(rec.acked)
	t.mu.Unlock()

	metrics.AckTimeoutsTotal.Inc()
	t.logger.Debug("tracked broadcast timed out",
		"broadcast_id", broadcastID,
		"acknowledged", acked,
		"expected", rec.expected,
	)

	rec.done(broadcastID, AckResult{
		Success:      false,
		Error:        "acknowledgment timeout",
		Acknowledged: acked,
		Expected:     rec.expected,
	})
}

// PendingCount returns the number of in-flight tracked broadcasts.
func (t *AckTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
