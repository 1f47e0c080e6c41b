// ABOUTME: Websocket transport: handshake auth, per-connection read/write loops
// ABOUTME: Decodes wire frames and dispatches them to the relay handlers

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/relay"
)

const (
	// outBufferSize is the per-connection outbound frame buffer.
	outBufferSize = 64
	pingInterval  = 20 * time.Second
)

var errSendBufferFull = errors.New("send buffer full")

// wsConn adapts a websocket to the registry.Conn interface. The registry and
// dispatcher enqueue frames; the write loop drains them.
type wsConn struct {
	id     string
	userID string
	sock   *websocket.Conn
	out    chan protocol.Frame
}

func newWSConn(userID string, sock *websocket.Conn) *wsConn {
	return &wsConn{
		id:     uuid.New().String(),
		userID: userID,
		sock:   sock,
		out:    make(chan protocol.Frame, outBufferSize),
	}
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

// Send marshals data and enqueues an event frame. Non-blocking: the frame is
// dropped with an error when the buffer is full, so one slow connection never
// stalls a broadcast.
func (c *wsConn) Send(event protocol.EventType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.enqueue(protocol.Frame{Event: event, Data: raw})
}

// sendAck enqueues the reply to an inbound call frame.
func (c *wsConn) sendAck(callID string, ack protocol.Ack) {
	raw, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = c.enqueue(protocol.Frame{Event: protocol.EventAck, ID: callID, Data: raw})
}

func (c *wsConn) enqueue(frame protocol.Frame) error {
	select {
	case c.out <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// writeLoop drains outbound frames and keeps the connection alive with pings.
func (c *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.out:
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.sock.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleWS upgrades the request, authenticates the user, and runs the
// connection's read loop until it drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	tokenStr, err := auth.TokenFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := s.verifier.Verify(tokenStr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	c := newWSConn(userID, sock)
	s.reg.Add(c)
	metrics.ConnectionsActive.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.writeLoop(ctx)

	sess := relay.Session{ConnID: c.id, UserID: c.userID}
	s.readLoop(ctx, c, sess)

	s.reg.Remove(c.id)
	s.relay.Disconnect(sess)
	metrics.ConnectionsActive.Dec()
	_ = sock.Close(websocket.StatusNormalClosure, "bye")
}

// readLoop processes inbound frames sequentially, preserving the per-
// connection ordering guarantee.
func (s *Server) readLoop(ctx context.Context, c *wsConn, sess relay.Session) {
	for {
		typ, data, err := c.sock.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("invalid frame", "conn_id", c.id, "error", err)
			continue
		}
		s.dispatch(ctx, c, sess, frame)
	}
}

// dispatch routes a frame to its handler and acks calls that carry an ID.
func (s *Server) dispatch(ctx context.Context, c *wsConn, sess relay.Session, frame protocol.Frame) {
	var ack protocol.Ack

	switch frame.Event {
	case protocol.EventJoinConversation:
		p, err := decode[protocol.JoinConversationPayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.JoinConversation(ctx, sess, p)

	case protocol.EventLeaveConversation:
		p, err := decode[protocol.JoinConversationPayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.LeaveConversation(ctx, sess, p)

	case protocol.EventSendMessage:
		p, err := decode[protocol.SendMessagePayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.SendMessage(ctx, sess, p)

	case protocol.EventEditMessage:
		p, err := decode[protocol.EditMessagePayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.EditMessage(ctx, sess, p)

	case protocol.EventDeleteMessage:
		p, err := decode[protocol.DeleteMessagePayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.DeleteMessage(ctx, sess, p)

	case protocol.EventTypingStart, protocol.EventTypingStop:
		p, err := decode[protocol.TypingPayload](frame.Data)
		if err != nil {
			return
		}
		s.relay.Typing(ctx, sess, p, frame.Event == protocol.EventTypingStart)
		return

	case protocol.EventUpdateStatus:
		p, err := decode[protocol.UpdateStatusPayload](frame.Data)
		if err != nil {
			ack = invalidPayload(err)
			break
		}
		ack = s.relay.UpdateStatus(ctx, sess, p)

	case protocol.EventGetOnlineUsers:
		ack = s.relay.OnlineUsers(ctx, sess)

	case protocol.EventReceipt:
		s.relay.Receipt(sess, frame.ID)
		return

	default:
		ack = protocol.Ack{Success: false, Error: "unknown event: " + string(frame.Event)}
	}

	if frame.ID != "" {
		c.sendAck(frame.ID, ack)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func invalidPayload(err error) protocol.Ack {
	return protocol.Ack{Success: false, Error: "invalid payload: " + err.Error()}
}
