// ABOUTME: Protocol surface for conversation events: join/leave, messages, typing, presence
// ABOUTME: Validates input, persists through the store, and drives the dispatcher

package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/presence"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/ratelimit"
	"github.com/2389/parley/internal/registry"
	"github.com/2389/parley/internal/store"
)

// DefaultMaxMessageLength bounds send_message content when config leaves it unset.
const DefaultMaxMessageLength = 4000

// Session identifies the connection a call arrived on.
type Session struct {
	ConnID string
	UserID string
}

// Config collects the relay's dependencies.
type Config struct {
	Store            store.Store
	Registry         *registry.Registry
	Rooms            *presence.Tracker
	Statuses         *presence.Statuses
	Dispatcher       *broadcast.Dispatcher
	Acks             *broadcast.AckTracker
	Limiter          *ratelimit.Limiter
	MaxMessageLength int
	Logger           *slog.Logger
}

// Relay implements the conversation event handlers. Every call returns an
// ack payload; no failure escapes as an error across the connection boundary.
type Relay struct {
	store      store.Store
	reg        *registry.Registry
	rooms      *presence.Tracker
	statuses   *presence.Statuses
	dispatcher *broadcast.Dispatcher
	acks       *broadcast.AckTracker
	limiter    *ratelimit.Limiter
	maxLen     int
	logger     *slog.Logger
}

// New creates a relay from its dependencies.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := cfg.MaxMessageLength
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &Relay{
		store:      cfg.Store,
		reg:        cfg.Registry,
		rooms:      cfg.Rooms,
		statuses:   cfg.Statuses,
		dispatcher: cfg.Dispatcher,
		acks:       cfg.Acks,
		limiter:    cfg.Limiter,
		maxLen:     maxLen,
		logger:     logger.With("component", "relay"),
	}
}

func fail(msg string) protocol.Ack {
	return protocol.Ack{Success: false, Error: msg}
}

// JoinConversation checks the caller may view the conversation, subscribes
// the connection to the room, and records the membership.
func (r *Relay) JoinConversation(ctx context.Context, sess Session, p protocol.JoinConversationPayload) protocol.Ack {
	if p.ConversationID == "" {
		return fail("conversation_id is required")
	}

	conv, err := r.store.GetConversation(ctx, p.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("conversation not found")
	}
	if err != nil {
		r.logger.Error("conversation lookup failed", "conversation_id", p.ConversationID, "error", err)
		return fail("conversation lookup failed")
	}
	if !conv.CanView(sess.UserID) {
		return fail("not authorized to view this conversation")
	}

	room := protocol.RoomName(p.ConversationID)
	r.reg.Subscribe(room, sess.ConnID)
	r.rooms.Join(room, sess.UserID, sess.ConnID)
	return protocol.Ack{Success: true}
}

// LeaveConversation removes the caller from the room. Always succeeds, even
// if the caller was not a member.
func (r *Relay) LeaveConversation(_ context.Context, sess Session, p protocol.JoinConversationPayload) protocol.Ack {
	if p.ConversationID == "" {
		return fail("conversation_id is required")
	}

	room := protocol.RoomName(p.ConversationID)
	r.reg.Unsubscribe(room, sess.ConnID)
	r.rooms.Leave(room, sess.UserID, sess.ConnID)
	return protocol.Ack{Success: true}
}

// SendMessage persists the message, then broadcasts it to the room excluding
// the sender. The ack carries the persisted message. Rate-limited; a
// rejected call fails quietly and never reaches persistence.
func (r *Relay) SendMessage(ctx context.Context, sess Session, p protocol.SendMessagePayload) protocol.Ack {
	if !r.limiter.Allow(sess.ConnID, ratelimit.ActionMessage) {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(ratelimit.ActionMessage)).Inc()
		return fail("rate limit exceeded")
	}
	if p.ConversationID == "" {
		return fail("conversation_id is required")
	}
	if p.Content == "" {
		return fail("content is required")
	}
	if len(p.Content) > r.maxLen {
		return fail("content exceeds maximum length")
	}

	room := protocol.RoomName(p.ConversationID)
	if !r.rooms.InRoom(room, sess.UserID) {
		return fail("not a member of this conversation")
	}

	msg := &store.Message{
		ID:              uuid.New().String(),
		ConversationID:  p.ConversationID,
		SenderID:        sess.UserID,
		Content:         p.Content,
		Type:            p.Type,
		Metadata:        p.Metadata,
		ParentMessageID: p.ParentMessageID,
		CreatedAt:       time.Now(),
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeText
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		r.logger.Error("message persist failed", "conversation_id", p.ConversationID, "error", err)
		return fail("failed to save message")
	}

	wire := wireMessage(msg)
	if p.RequireAck {
		r.trackedMessage(room, sess, wire)
	} else {
		r.dispatcher.Message(room, wire, sess.ConnID)
	}
	return protocol.Ack{Success: true, Message: wire}
}

// trackedMessage broadcasts with acknowledgment tracking and reports the
// outcome back to the sender as a delivery_report event. The broadcast ID
// rides in the payload so recipients can echo it in a receipt frame.
func (r *Relay) trackedMessage(room string, sess Session, wire *protocol.Message) {
	event := protocol.NewMessageEvent{
		Message:     wire,
		Sender:      wire.SenderID,
		Timestamp:   wire.CreatedAt,
		BroadcastID: uuid.New().String(),
	}
	r.acks.Broadcast(event.BroadcastID, room, protocol.EventNewMessage, event, sess.ConnID, func(id string, res broadcast.AckResult) {
		r.reg.EmitToConn(sess.ConnID, protocol.EventDeliveryReport, protocol.DeliveryReport{
			BroadcastID:  id,
			Success:      res.Success,
			Error:        res.Error,
			Acknowledged: res.Acknowledged,
			Expected:     res.Expected,
		})
	})
}

// EditMessage updates a message the caller authored and broadcasts the
// update to the conversation's room.
func (r *Relay) EditMessage(ctx context.Context, sess Session, p protocol.EditMessagePayload) protocol.Ack {
	if p.MessageID == "" {
		return fail("message_id is required")
	}
	if p.Content == "" {
		return fail("content is required")
	}
	if len(p.Content) > r.maxLen {
		return fail("content exceeds maximum length")
	}

	msg, err := r.store.GetMessage(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("message not found")
	}
	if err != nil {
		r.logger.Error("message lookup failed", "message_id", p.MessageID, "error", err)
		return fail("message lookup failed")
	}
	if msg.SenderID != sess.UserID {
		return fail("not the author of this message")
	}

	now := time.Now()
	msg.Content = p.Content
	msg.EditedAt = &now
	if err := r.store.UpdateMessage(ctx, msg); err != nil {
		r.logger.Error("message update failed", "message_id", p.MessageID, "error", err)
		return fail("failed to update message")
	}

	wire := wireMessage(msg)
	room := protocol.RoomName(msg.ConversationID)
	r.dispatcher.SystemEvent(room, protocol.EventMessageUpdated, protocol.MessageUpdatedEvent{
		Message:   wire,
		EditedBy:  sess.UserID,
		Timestamp: now,
	}, "")
	return protocol.Ack{Success: true, Message: wire}
}

// DeleteMessage removes a message the caller authored and broadcasts the
// deletion to the conversation's room.
func (r *Relay) DeleteMessage(ctx context.Context, sess Session, p protocol.DeleteMessagePayload) protocol.Ack {
	if p.MessageID == "" {
		return fail("message_id is required")
	}

	msg, err := r.store.GetMessage(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("message not found")
	}
	if err != nil {
		r.logger.Error("message lookup failed", "message_id", p.MessageID, "error", err)
		return fail("message lookup failed")
	}
	if msg.SenderID != sess.UserID {
		return fail("not the author of this message")
	}

	if err := r.store.DeleteMessage(ctx, p.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error("message delete failed", "message_id", p.MessageID, "error", err)
		return fail("failed to delete message")
	}

	room := protocol.RoomName(msg.ConversationID)
	r.dispatcher.SystemEvent(room, protocol.EventMessageDeleted, protocol.MessageDeletedEvent{
		MessageID: p.MessageID,
		DeletedBy: sess.UserID,
		Timestamp: time.Now(),
	}, "")
	return protocol.Ack{Success: true}
}

// Typing broadcasts a typing indicator to the room, excluding the sender.
// Rate-limited; rejected or non-member calls are dropped silently.
func (r *Relay) Typing(_ context.Context, sess Session, p protocol.TypingPayload, isTyping bool) {
	if p.ConversationID == "" {
		return
	}
	if !r.limiter.Allow(sess.ConnID, ratelimit.ActionTyping) {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(ratelimit.ActionTyping)).Inc()
		return
	}

	room := protocol.RoomName(p.ConversationID)
	if !r.rooms.InRoom(room, sess.UserID) {
		return
	}
	r.dispatcher.Typing(room, sess.UserID, isTyping, sess.ConnID)
}

// UpdateStatus records the caller's presence status and announces the change.
func (r *Relay) UpdateStatus(_ context.Context, sess Session, p protocol.UpdateStatusPayload) protocol.Ack {
	if p.Status == "" {
		return fail("status is required")
	}

	r.statuses.Set(sess.UserID, p.Status)
	r.reg.BroadcastAll(protocol.EventStatusChanged, protocol.StatusChangedEvent{
		UserID:    sess.UserID,
		Status:    p.Status,
		Timestamp: time.Now(),
	})
	return protocol.Ack{Success: true}
}

// OnlineUsers reports every user with a live connection and their status.
func (r *Relay) OnlineUsers(_ context.Context, _ Session) protocol.Ack {
	ids := r.reg.OnlineUsers()
	users := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, protocol.User{ID: id, Status: r.statuses.Get(id)})
	}
	return protocol.Ack{Success: true, Users: users}
}

// Receipt records a delivery acknowledgment for a tracked broadcast.
func (r *Relay) Receipt(sess Session, broadcastID string) {
	if broadcastID == "" {
		return
	}
	r.acks.Ack(broadcastID, sess.ConnID)
}

// Disconnect cleans up after a connection drops: membership removal with
// per-room notifications, presence cleanup once the user's last connection
// is gone, and a registry-wide offline announcement.
func (r *Relay) Disconnect(sess Session) {
	r.rooms.CleanupOnDisconnect(sess.UserID, sess.ConnID)
	r.limiter.Forget(sess.ConnID)

	// The user may still be online through another connection.
	if r.reg.UserConnCount(sess.UserID) > 0 {
		return
	}
	r.statuses.Remove(sess.UserID)
	r.reg.BroadcastAll(protocol.EventUserOffline, protocol.UserOfflineEvent{
		UserID:    sess.UserID,
		Timestamp: time.Now(),
	})
}

// wireMessage converts a stored message to its wire form.
func wireMessage(msg *store.Message) *protocol.Message {
	return &protocol.Message{
		ID:              msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		Type:            msg.Type,
		Metadata:        msg.Metadata,
		ParentMessageID: msg.ParentMessageID,
		CreatedAt:       msg.CreatedAt,
		EditedAt:        msg.EditedAt,
	}
}
