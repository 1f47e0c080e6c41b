// ABOUTME: Closed set of wire event types and their payload structs
// ABOUTME: Defines the JSON frame format exchanged over a connection

package protocol

import (
	"encoding/json"
	"time"
)

// EventType identifies a wire event. The set is closed; the connection read
// loop switches over these constants and rejects anything else.
type EventType string

// Inbound events (client -> server).
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventEditMessage       EventType = "edit_message"
	EventDeleteMessage     EventType = "delete_message"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
	EventUpdateStatus      EventType = "update_status"
	EventGetOnlineUsers    EventType = "get_online_users"
)

// Outbound events (server -> client).
const (
	EventNewMessage       EventType = "new_message"
	EventMessageUpdated   EventType = "message_updated"
	EventMessageDeleted   EventType = "message_deleted"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventUserDisconnected EventType = "user_disconnected"
	EventTypingIndicator  EventType = "typing_indicator"
	EventUserOffline      EventType = "user_offline"
	EventStatusChanged    EventType = "status_changed"
	EventDeliveryReport   EventType = "delivery_report"
)

// Control events.
const (
	// EventAck carries the server's reply to an inbound frame that had an ID.
	EventAck EventType = "ack"
	// EventReceipt is sent by a client to confirm delivery of a tracked
	// broadcast; the frame ID is the broadcast ID.
	EventReceipt EventType = "receipt"
)

// Frame is the JSON envelope for every wire message.
// ID correlates a call with its ack, or names the broadcast being receipted.
type Frame struct {
	Event EventType       `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomName returns the broadcast room for a conversation.
// Every component derives room names through this one function.
func RoomName(conversationID string) string {
	return "conversation_" + conversationID
}

// Message is the wire form of a chat message.
type Message struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	SenderID        string         `json:"sender_id"`
	Content         string         `json:"content"`
	Type            string         `json:"type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	EditedAt        *time.Time     `json:"edited_at,omitempty"`
}

// JoinConversationPayload is the data for join_conversation and
// leave_conversation calls.
type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload is the data for a send_message call.
type SendMessagePayload struct {
	ConversationID  string         `json:"conversation_id"`
	Content         string         `json:"content"`
	Type            string         `json:"type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`

	// RequireAck asks the server to track delivery receipts for the
	// resulting broadcast and report back with a delivery_report event.
	RequireAck bool `json:"require_ack,omitempty"`
}

// EditMessagePayload is the data for an edit_message call.
type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMessagePayload is the data for a delete_message call.
type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
}

// TypingPayload is the data for typing_start and typing_stop.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// UpdateStatusPayload is the data for update_status.
type UpdateStatusPayload struct {
	Status string `json:"status"`
}

// Ack is the reply payload for any inbound call.
type Ack struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Message *Message `json:"message,omitempty"`
	Users   []User   `json:"users,omitempty"`
}

// User describes an online user with their presence status.
type User struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// NewMessageEvent is the payload of a new_message broadcast. BroadcastID is
// set only for tracked broadcasts; recipients echo it in a receipt frame.
type NewMessageEvent struct {
	Message     *Message  `json:"message"`
	Sender      string    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
}

// MessageUpdatedEvent is the payload of a message_updated broadcast.
type MessageUpdatedEvent struct {
	Message   *Message  `json:"message"`
	EditedBy  string    `json:"edited_by"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeletedEvent is the payload of a message_deleted broadcast.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	DeletedBy string    `json:"deleted_by"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomEvent is the data carried by user_joined, user_left and
// user_disconnected system events.
type RoomEvent struct {
	UserID    string `json:"user_id"`
	UserCount int    `json:"user_count"`
}

// SystemEnvelope wraps the data of a system broadcast.
type SystemEnvelope struct {
	Type      string    `json:"type"`
	Event     EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TypingIndicatorEvent is the payload of a typing_indicator broadcast.
type TypingIndicatorEvent struct {
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChangedEvent is the payload of a status_changed broadcast.
type StatusChangedEvent struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// UserOfflineEvent is the payload of a user_offline broadcast.
type UserOfflineEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryReport is the payload of a delivery_report event, summarizing
// acknowledgment tracking for a broadcast issued with RequireAck.
type DeliveryReport struct {
	BroadcastID  string `json:"broadcast_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Acknowledged int    `json:"acknowledged"`
	Expected     int    `json:"expected"`
}
