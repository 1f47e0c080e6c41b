// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Thread-safe maps with call counting for persistence assertions

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store for tests. It counts CreateMessage calls so
// tests can assert whether persistence was reached.
type MockStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string]*Message

	createMessageCalls int

	// CreateMessageErr, when set, is returned by CreateMessage.
	CreateMessageErr error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
	}
}

// CreateConversation stores a conversation.
func (m *MockStore) CreateConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conv
	m.conversations[conv.ID] = &c
	return nil
}

// GetConversation returns a stored conversation or ErrNotFound.
func (m *MockStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// CreateMessage stores a message, counting the call.
func (m *MockStore) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createMessageCalls++
	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

// GetMessage returns a stored message or ErrNotFound.
func (m *MockStore) GetMessage(_ context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// UpdateMessage replaces a stored message or returns ErrNotFound.
func (m *MockStore) UpdateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

// DeleteMessage removes a stored message or returns ErrNotFound.
func (m *MockStore) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

// ListConversationMessages returns stored messages for a conversation.
func (m *MockStore) ListConversationMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			msgs = append(msgs, &cp)
		}
		if limit > 0 && len(msgs) >= limit {
			break
		}
	}
	return msgs, nil
}

// CreateMessageCalls returns how many times CreateMessage was invoked.
func (m *MockStore) CreateMessageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createMessageCalls
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
