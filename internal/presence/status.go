// ABOUTME: Best-effort in-memory presence status per connected user
// ABOUTME: Not persisted; cleared when the user's last connection drops

package presence

import "sync"

// DefaultStatus is reported for online users who never set a status.
const DefaultStatus = "online"

// Statuses holds the per-user presence status map.
type Statuses struct {
	mu       sync.RWMutex
	statuses map[string]string
}

// NewStatuses creates an empty status map.
func NewStatuses() *Statuses {
	return &Statuses{statuses: make(map[string]string)}
}

// Set records a user's status.
func (s *Statuses) Set(userID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[userID] = status
}

// Get returns a user's status, or DefaultStatus if none was set.
func (s *Statuses) Get(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.statuses[userID]; ok {
		return status
	}
	return DefaultStatus
}

// Remove clears a user's status.
func (s *Statuses) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, userID)
}
