// ABOUTME: Server orchestrator wiring the registry, relay, store, and bus
// ABOUTME: Manages HTTP/websocket listeners, health endpoints, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/presence"
	"github.com/2389/parley/internal/ratelimit"
	"github.com/2389/parley/internal/registry"
	"github.com/2389/parley/internal/relay"
	"github.com/2389/parley/internal/store"
)

// Server orchestrates the parley components behind one HTTP listener.
type Server struct {
	config      *config.Config
	store       store.Store
	verifier    *auth.JWTVerifier
	reg         *registry.Registry
	rooms       *presence.Tracker
	statuses    *presence.Statuses
	dispatcher  *broadcast.Dispatcher
	acks        *broadcast.AckTracker
	limiter     *ratelimit.Limiter
	relay       *relay.Relay
	bus         *bus.Bus
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates the store from config, with PARLEY_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func rulesFromConfig(cfg *config.Config) map[ratelimit.Action]ratelimit.Rule {
	return map[ratelimit.Action]ratelimit.Rule{
		ratelimit.ActionMessage: {
			Max:    cfg.Limits.MessageRate.Max,
			Window: cfg.Limits.MessageRate.Window,
		},
		ratelimit.ActionTyping: {
			Max:    cfg.Limits.TypingRate.Max,
			Window: cfg.Limits.TypingRate.Window,
		},
	}
}

// New builds a fully wired server from config. The redis bus, when enabled,
// is connected lazily in Run so construction never needs the network.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	dispatcher := broadcast.NewDispatcher(reg, logger)
	acks := broadcast.NewAckTracker(reg, cfg.Ack.Timeout, logger)
	rooms := presence.NewTracker(dispatcher, reg, logger)
	statuses := presence.NewStatuses()
	limiter := ratelimit.New(rulesFromConfig(cfg))

	s := &Server{
		config:     cfg,
		store:      st,
		verifier:   auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		reg:        reg,
		rooms:      rooms,
		statuses:   statuses,
		dispatcher: dispatcher,
		acks:       acks,
		limiter:    limiter,
		logger:     logger.With("component", "server"),
	}
	s.relay = relay.New(relay.Config{
		Store:            st,
		Registry:         reg,
		Rooms:            rooms,
		Statuses:         statuses,
		Dispatcher:       dispatcher,
		Acks:             acks,
		Limiter:          limiter,
		MaxMessageLength: cfg.Limits.MaxMessageLength,
		Logger:           logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/api/conversations/", s.handleConversationRoutes)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts the server and blocks until the context is canceled or a
// listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	if s.config.Redis.Enabled {
		b, err := bus.New(ctx, s.config.Redis.Addr, s.config.Redis.DB, s.dispatcher, s.logger)
		if err != nil {
			return fmt.Errorf("connecting redis bus: %w", err)
		}
		s.bus = b
		s.dispatcher.SetPublisher(b)
		go b.Run(ctx)
	}

	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "parley", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	if _, err := s.tsnetServer.Up(ctx); err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	if s.bus != nil {
		s.bus.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the server accepts connections.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", s.reg.ConnectedCount())
}
