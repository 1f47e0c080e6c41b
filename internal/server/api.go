// ABOUTME: REST endpoints for conversation management and message history
// ABOUTME: Bearer-token authenticated, JSON request/response

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/store"
)

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID        string   `json:"id"`
	OwnerID   string   `json:"owner_id"`
	MemberIDs []string `json:"member_ids"`
	CreatedAt string   `json:"created_at"`
}

// MessageResponse is the JSON shape of a persisted message.
type MessageResponse struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	SenderID        string         `json:"sender_id"`
	Content         string         `json:"content"`
	Type            string         `json:"type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	CreatedAt       string         `json:"created_at"`
	EditedAt        string         `json:"edited_at,omitempty"`
}

// ConversationMessagesResponse is the body of GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// ConversationStatsResponse is the body of GET /api/conversations/{id}/stats.
type ConversationStatsResponse struct {
	ConversationID string `json:"conversation_id"`
	UserCount      int    `json:"user_count"`
	ConnCount      int    `json:"conn_count"`
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// authenticate extracts and verifies the bearer token, returning the user ID.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenStr, err := auth.TokenFromRequest(r)
	if err != nil {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	userID, err := s.verifier.Verify(tokenStr)
	if err != nil {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// handleConversationRoutes dispatches /api/conversations and its subpaths.
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")

	if rest == "" {
		if r.Method == http.MethodPost {
			s.handleCreateConversation(w, r)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "messages" {
		s.handleConversationMessages(w, r, parts[0])
		return
	}
	if len(parts) == 2 && parts[1] == "stats" {
		s.handleConversationStats(w, r, parts[0])
		return
	}
	s.sendJSONError(w, http.StatusNotFound, "not found")
}

// handleCreateConversation creates a conversation owned by the caller.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req CreateConversationRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	conv := &store.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		MemberIDs: req.MemberIDs,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ConversationResponse{
		ID:        conv.ID,
		OwnerID:   conv.OwnerID,
		MemberIDs: conv.MemberIDs,
		CreatedAt: conv.CreatedAt.Format(time.RFC3339),
	})
}

// handleConversationMessages returns recent messages in chronological order.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	// Parse optional limit parameter (default 50, max 1000)
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !conv.CanView(userID) {
		s.sendJSONError(w, http.StatusForbidden, "not authorized to view this conversation")
		return
	}

	messages, err := s.store.ListConversationMessages(r.Context(), conversationID, limit)
	if err != nil {
		s.logger.Error("failed to get messages", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ConversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		response.Messages[i] = messageResponse(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleConversationStats reports live occupancy for a conversation's room.
func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !conv.CanView(userID) {
		s.sendJSONError(w, http.StatusForbidden, "not authorized to view this conversation")
		return
	}

	stats := s.rooms.RoomStats(protocol.RoomName(conversationID))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ConversationStatsResponse{
		ConversationID: conversationID,
		UserCount:      stats.UserCount,
		ConnCount:      stats.ConnCount,
	})
}

func messageResponse(msg *store.Message) MessageResponse {
	msgType := msg.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}
	resp := MessageResponse{
		ID:              msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		Type:            msgType,
		Metadata:        msg.Metadata,
		ParentMessageID: msg.ParentMessageID,
		CreatedAt:       msg.CreatedAt.Format(time.RFC3339),
	}
	if msg.EditedAt != nil {
		resp.EditedAt = msg.EditedAt.Format(time.RFC3339)
	}
	return resp
}
