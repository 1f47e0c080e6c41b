// ABOUTME: Composes registry sends into room-level chat, system, and typing broadcasts
// ABOUTME: Fire-and-forget; reports recipient counts but makes no delivery guarantee

package broadcast

import (
	"log/slog"
	"time"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/registry"
)

// Publisher mirrors local broadcasts to other instances. The redis bus
// implements it; a nil publisher keeps everything single-process.
type Publisher interface {
	Publish(room string, event protocol.EventType, data any)
}

// Dispatcher fans events out to a room through the registry.
type Dispatcher struct {
	reg    *registry.Registry
	bus    Publisher
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reg:    reg,
		logger: logger.With("component", "dispatcher"),
	}
}

// SetPublisher attaches a cross-instance publisher. Must be called before
// the server starts accepting connections.
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.bus = p
}

// Message emits a new_message event to the room, excluding excludeConnID when
// non-empty (normally the sender, to avoid an echo). The send timestamp is
// stamped here if the caller left it zero. Returns the recipient count.
func (d *Dispatcher) Message(room string, msg *protocol.Message, excludeConnID string) int {
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	event := protocol.NewMessageEvent{
		Message:   msg,
		Sender:    msg.SenderID,
		Timestamp: ts,
	}
	return d.emit(room, protocol.EventNewMessage, event, excludeConnID, "message")
}

// SystemEvent wraps data in a system envelope and emits it under eventName.
func (d *Dispatcher) SystemEvent(room string, eventName protocol.EventType, data any, excludeConnID string) int {
	envelope := protocol.SystemEnvelope{
		Type:      "system",
		Event:     eventName,
		Timestamp: time.Now(),
		Data:      data,
	}
	return d.emit(room, eventName, envelope, excludeConnID, "system")
}

// Typing emits a typing_indicator event. Rate limiting happens upstream in
// the relay handlers, not here.
func (d *Dispatcher) Typing(room, userID string, isTyping bool, excludeConnID string) int {
	event := protocol.TypingIndicatorEvent{
		UserID:    userID,
		IsTyping:  isTyping,
		Timestamp: time.Now(),
	}
	return d.emit(room, protocol.EventTypingIndicator, event, excludeConnID, "typing")
}

// Raw emits an already-shaped payload to a room. Used by the bus when
// replaying broadcasts from other instances, so they are not re-published.
func (d *Dispatcher) Raw(room string, event protocol.EventType, data any) int {
	sent := d.reg.EmitToRoom(room, event, data, "")
	metrics.EventsDeliveredTotal.Add(float64(sent))
	return sent
}

func (d *Dispatcher) emit(room string, event protocol.EventType, data any, excludeConnID, kind string) int {
	sent := d.reg.EmitToRoom(room, event, data, excludeConnID)

	metrics.BroadcastsTotal.WithLabelValues(kind).Inc()
	metrics.EventsDeliveredTotal.Add(float64(sent))

	if d.bus != nil {
		d.bus.Publish(room, event, data)
	}

	d.logger.Debug("broadcast",
		"room", room,
		"event", string(event),
		"recipients", sent,
	)
	return sent
}
