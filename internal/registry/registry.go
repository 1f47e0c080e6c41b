// ABOUTME: Tracks live connections and their room/user indexes.
// ABOUTME: Single point through which components emit to a conn, user, room, or everyone.

package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/parley/internal/protocol"
)

// Conn is the transport-owned handle for one live connection. The registry
// references connections, it never owns them; the transport adds a conn on
// handshake and removes it on disconnect.
type Conn interface {
	ID() string
	UserID() string
	Send(event protocol.EventType, data any) error
}

// Registry holds the live connection set with user and room indexes.
// All emit primitives copy their targets under the read lock and send
// outside it, so a slow connection never blocks the maps.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn            // conn ID -> conn
	users map[string]map[string]Conn // user ID -> conn ID -> conn
	rooms map[string]map[string]Conn // room -> conn ID -> conn

	logger *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]Conn),
		users:  make(map[string]map[string]Conn),
		rooms:  make(map[string]map[string]Conn),
		logger: logger.With("component", "registry"),
	}
}

// Add registers a live connection. Adding the same conn ID twice is a no-op.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return
	}
	r.conns[c.ID()] = c
	if _, ok := r.users[c.UserID()]; !ok {
		r.users[c.UserID()] = make(map[string]Conn)
	}
	r.users[c.UserID()][c.ID()] = c

	r.logger.Info("connection added",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"total_conns", len(r.conns),
	)
}

// Remove drops a connection from every index. Safe to call twice.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[connID]
	if !exists {
		return
	}
	delete(r.conns, connID)

	if userConns, ok := r.users[c.UserID()]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.users, c.UserID())
		}
	}
	for room, members := range r.rooms {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}

	r.logger.Info("connection removed",
		"conn_id", connID,
		"user_id", c.UserID(),
		"total_conns", len(r.conns),
	)
}

// Subscribe adds a connection to a room, creating the room on first use.
// Unknown connections are ignored.
func (r *Registry) Subscribe(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[connID]
	if !exists {
		return
	}
	if _, ok := r.rooms[room]; !ok {
		r.rooms[room] = make(map[string]Conn)
	}
	r.rooms[room][connID] = c
}

// Unsubscribe removes a connection from a room, deleting the room once empty.
func (r *Registry) Unsubscribe(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// EmitToRoom sends an event to every connection in a room, skipping
// excludeConnID when non-empty. Returns the number of connections the event
// was handed to. An unknown or empty room is not an error; it reports zero.
func (r *Registry) EmitToRoom(room string, event protocol.EventType, data any, excludeConnID string) int {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]Conn, 0, len(members))
	for id, c := range members {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.send(targets, event, data)
}

// EmitToConn sends an event to one connection by ID.
func (r *Registry) EmitToConn(connID string, event protocol.EventType, data any) bool {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.send([]Conn{c}, event, data) == 1
}

// EmitToUser sends an event to every connection of a user.
func (r *Registry) EmitToUser(userID string, event protocol.EventType, data any) int {
	r.mu.RLock()
	userConns := r.users[userID]
	targets := make([]Conn, 0, len(userConns))
	for _, c := range userConns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.send(targets, event, data)
}

// BroadcastAll sends an event to every live connection.
func (r *Registry) BroadcastAll(event protocol.EventType, data any) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.send(targets, event, data)
}

func (r *Registry) send(targets []Conn, event protocol.EventType, data any) int {
	sent := 0
	for _, c := range targets {
		if err := c.Send(event, data); err != nil {
			r.logger.Debug("send failed",
				"conn_id", c.ID(),
				"event", string(event),
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}

// ConnectedCount returns the number of live connections.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomConnCount returns the number of connections subscribed to a room.
// This is the acknowledgment tracker's view of "expected recipients" and may
// transiently differ from user-level membership around a disconnect.
func (r *Registry) RoomConnCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// InRoom reports whether a connection is subscribed to a room.
func (r *Registry) InRoom(room, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// UserConnCount returns the number of live connections for a user.
func (r *Registry) UserConnCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// OnlineUsers returns the IDs of users with at least one live connection,
// sorted for stable output.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
