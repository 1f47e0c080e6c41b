// ABOUTME: Bidirectional room/user membership index driving join/leave notifications
// ABOUTME: The two indexes are kept in lock-step under one mutex

package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/registry"
)

// RoomStats reports user-level membership next to the registry's live
// connection count, which may transiently differ around a disconnect.
type RoomStats struct {
	Room      string
	UserCount int
	ConnCount int
}

// Tracker maintains room -> users and user -> rooms in lock-step.
// A user appears in roomUsers[r] exactly when r appears in userRooms[u].
type Tracker struct {
	mu        sync.Mutex
	roomUsers map[string]map[string]struct{}
	userRooms map[string]map[string]struct{}

	dispatcher *broadcast.Dispatcher
	reg        *registry.Registry
	logger     *slog.Logger
}

// NewTracker creates an empty membership tracker.
func NewTracker(dispatcher *broadcast.Dispatcher, reg *registry.Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		roomUsers:  make(map[string]map[string]struct{}),
		userRooms:  make(map[string]map[string]struct{}),
		dispatcher: dispatcher,
		reg:        reg,
		logger:     logger.With("component", "presence"),
	}
}

// Join adds a user to a room, creating the room on first join, and emits a
// user_joined system event to the room excluding the joining connection.
// A repeat join from a second connection of the same user leaves the index
// unchanged and suppresses the duplicate notification. Returns the room's
// user count after the join.
func (t *Tracker) Join(room, userID, excludeConnID string) int {
	t.mu.Lock()
	if _, ok := t.roomUsers[room]; !ok {
		t.roomUsers[room] = make(map[string]struct{})
	}
	_, already := t.roomUsers[room][userID]
	t.roomUsers[room][userID] = struct{}{}

	if _, ok := t.userRooms[userID]; !ok {
		t.userRooms[userID] = make(map[string]struct{})
	}
	t.userRooms[userID][room] = struct{}{}
	count := len(t.roomUsers[room])
	t.mu.Unlock()

	if !already {
		t.dispatcher.SystemEvent(room, protocol.EventUserJoined, protocol.RoomEvent{
			UserID:    userID,
			UserCount: count,
		}, excludeConnID)
		t.logger.Debug("user joined room", "room", room, "user_id", userID, "user_count", count)
	}
	return count
}

// Leave removes a user from a room and emits user_left with the updated
// count, excluding the leaving connection. Leaving a room the user is not in
// is a no-op. The room entry is deleted entirely once empty.
func (t *Tracker) Leave(room, userID, excludeConnID string) int {
	t.mu.Lock()
	count, removed := t.removeLocked(room, userID)
	t.mu.Unlock()

	if removed {
		t.dispatcher.SystemEvent(room, protocol.EventUserLeft, protocol.RoomEvent{
			UserID:    userID,
			UserCount: count,
		}, excludeConnID)
		t.logger.Debug("user left room", "room", room, "user_id", userID, "user_count", count)
	}
	return count
}

// CleanupOnDisconnect removes a user from every joined room, emitting a
// user_disconnected event per room. Idempotent: a user with no memberships
// produces no events and no error, and no empty-room entries linger.
// Returns the rooms the user was removed from.
func (t *Tracker) CleanupOnDisconnect(userID, excludeConnID string) []string {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.userRooms[userID]))
	for room := range t.userRooms[userID] {
		rooms = append(rooms, room)
	}
	counts := make(map[string]int, len(rooms))
	for _, room := range rooms {
		count, _ := t.removeLocked(room, userID)
		counts[room] = count
	}
	t.mu.Unlock()

	sort.Strings(rooms)
	for _, room := range rooms {
		t.dispatcher.SystemEvent(room, protocol.EventUserDisconnected, protocol.RoomEvent{
			UserID:    userID,
			UserCount: counts[room],
		}, excludeConnID)
	}
	if len(rooms) > 0 {
		t.logger.Info("disconnect cleanup", "user_id", userID, "rooms", len(rooms))
	}
	return rooms
}

// removeLocked deletes the membership from both indexes. Must be called with
// mu held. Returns the room's remaining user count and whether the user was
// actually a member.
func (t *Tracker) removeLocked(room, userID string) (int, bool) {
	users, ok := t.roomUsers[room]
	if !ok {
		return 0, false
	}
	if _, member := users[userID]; !member {
		return len(users), false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.roomUsers, room)
	}

	if rooms, ok := t.userRooms[userID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(t.userRooms, userID)
		}
	}
	return len(users), true
}

// RoomUsers returns the users present in a room, sorted.
func (t *Tracker) RoomUsers(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.roomUsers[room]))
	for id := range t.roomUsers[room] {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// UserRooms returns the rooms a user has joined, sorted.
func (t *Tracker) UserRooms(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := make([]string, 0, len(t.userRooms[userID]))
	for room := range t.userRooms[userID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// InRoom reports whether a user is a member of a room.
func (t *Tracker) InRoom(room, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.roomUsers[room][userID]
	return ok
}

// RoomStats returns the membership count alongside the registry's live
// connection count for the room.
func (t *Tracker) RoomStats(room string) RoomStats {
	t.mu.Lock()
	userCount := len(t.roomUsers[room])
	t.mu.Unlock()

	return RoomStats{
		Room:      room,
		UserCount: userCount,
		ConnCount: t.reg.RoomConnCount(room),
	}
}
