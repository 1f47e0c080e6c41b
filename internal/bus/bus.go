// ABOUTME: Redis pub/sub bridge mirroring room broadcasts across instances
// ABOUTME: Frames carry an origin server ID and are deduplicated on receipt

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/protocol"
)

const channelPrefix = "parley:room:"

// Frame is the wire format published on the redis channel for a room.
type Frame struct {
	ID     string             `json:"id"`
	Origin string             `json:"origin"`
	Room   string             `json:"room"`
	Event  protocol.EventType `json:"event"`
	Data   json.RawMessage    `json:"data"`
}

// Bus publishes local broadcasts to redis and replays remote ones into the
// local dispatcher. Frames published by this instance are skipped on receipt
// by origin ID; the dedupe cache catches redelivered frames.
type Bus struct {
	rdb        *redis.Client
	serverID   string
	seen       *dedupe.Cache
	dispatcher *broadcast.Dispatcher
	logger     *slog.Logger
}

// New connects to redis and verifies connectivity.
func New(ctx context.Context, addr string, db int, dispatcher *broadcast.Dispatcher, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Bus{
		rdb:        rdb,
		serverID:   fmt.Sprintf("parley-%d", time.Now().UnixNano()%1000000),
		seen:       dedupe.New(5*time.Minute, 100_000),
		dispatcher: dispatcher,
		logger:     logger.With("component", "bus"),
	}, nil
}

// Publish mirrors a local broadcast to the room's redis channel.
// Implements broadcast.Publisher. Failures are soft: the local broadcast has
// already happened, so a publish error is only logged.
func (b *Bus) Publish(room string, event protocol.EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("bus marshal failed", "room", room, "event", string(event), "error", err)
		return
	}
	frame := Frame{
		ID:     uuid.New().String(),
		Origin: b.serverID,
		Room:   room,
		Event:  event,
		Data:   payload,
	}
	raw, _ := json.Marshal(frame)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channelPrefix+room, raw).Err(); err != nil {
		b.logger.Warn("bus publish failed", "room", room, "error", err)
	}
}

// Run subscribes to all room channels and replays remote frames into the
// local dispatcher until the context is canceled.
func (b *Bus) Run(ctx context.Context) {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle([]byte(msg.Payload))
		}
	}
}

func (b *Bus) handle(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.logger.Warn("bus frame decode failed", "error", err)
		return
	}
	if frame.Origin == b.serverID {
		return
	}
	if b.seen.SeenOrMark(frame.ID) {
		return
	}

	sent := b.dispatcher.Raw(frame.Room, frame.Event, frame.Data)
	b.logger.Debug("bus frame replayed",
		"room", frame.Room,
		"event", string(frame.Event),
		"recipients", sent,
	)
}

// Close releases the redis connection and dedupe cache.
func (b *Bus) Close() {
	b.seen.Close()
	_ = b.rdb.Close()
}
