// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Message, Conversation structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MessageType constants for message types
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message represents a single persisted chat message
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Content         string
	Type            string // "text", "image", "file" (defaults to "text")
	Metadata        map[string]any
	ParentMessageID string
	CreatedAt       time.Time
	EditedAt        *time.Time
}

// Conversation represents a conversation with its owner and member set
type Conversation struct {
	ID        string
	OwnerID   string
	MemberIDs []string
	CreatedAt time.Time
}

// CanView reports whether a user may view this conversation.
func (c *Conversation) CanView(userID string) bool {
	if c.OwnerID == userID {
		return true
	}
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MessageStore defines message persistence as consumed by the relay handlers
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id string) error
	ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// ConversationStore defines the authorization lookup consumed by join handling
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// Store is the full persistence interface
type Store interface {
	MessageStore
	ConversationStore

	// Close releases any resources held by the store
	Close() error
}
