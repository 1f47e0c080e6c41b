// Package server wires the parley components behind one HTTP listener.
//
// # Overview
//
// The server package is the central coordinator of the parley server. It owns
// the connection registry, the relay handlers, the store, and the optional
// redis bus, and exposes them through a websocket endpoint and a small REST
// API.
//
// # Websocket Protocol
//
// Clients connect to /ws with a JWT (Authorization header or ?token= query
// parameter). Every wire message is a JSON frame:
//
//	{"event": "send_message", "id": "42", "data": {...}}
//
// Frames that carry an id are calls; the server replies with an ack frame
// under the same id:
//
//	{"event": "ack", "id": "42", "data": {"success": true, ...}}
//
// Inbound events: join_conversation, leave_conversation, send_message,
// edit_message, delete_message, typing_start, typing_stop, update_status,
// get_online_users, receipt.
//
// Outbound events: new_message, message_updated, message_deleted,
// user_joined, user_left, user_disconnected, typing_indicator, user_offline,
// status_changed, delivery_report.
//
// # HTTP API
//
// REST endpoints in api.go, bearer-token authenticated:
//
//   - POST /api/conversations - Create a conversation
//   - GET /api/conversations/{id}/messages - Recent message history
//   - GET /api/conversations/{id}/stats - Live room occupancy
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # Lifecycle
//
// Start the server:
//
//	srv, err := server.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = srv.Run(ctx)
//
// Run blocks until the context is canceled or a listener fails, then performs
// a graceful shutdown. With tailscale.enabled the listener is a tsnet node
// instead of a plain TCP socket; with redis.enabled broadcasts are mirrored
// across instances through the bus.
package server
