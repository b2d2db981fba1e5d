// Package api provides the HTTP server for FlowPilot.
//
// It exposes the flow catalog, stored conversations and their turns, a
// stateless engine endpoint, and the inbound Twilio SMS webhook. Every
// conversation write goes through the messaging turn service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/messaging"
)

// Server configuration defaults.
const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds reading a request
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds writing a response
	DefaultWriteTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds the graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// MaxRequestBodyBytes caps JSON request bodies
	MaxRequestBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	TwilioSvc  *messaging.TwilioService
	IDGen      func() string
	ShutdownTO time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioService enables the inbound SMS webhook.
func WithTwilioService(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.TwilioSvc = svc }
}

// WithIDGenerator overrides how conversation ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(o *Opts) { o.IDGen = fn }
}

// WithShutdownTimeout sets how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTO = d }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	addr        string
	respHandler *messaging.ResponseHandler
	states      flow.StateManager
	engine      *flow.Engine
	twilioSvc   *messaging.TwilioService
	newID       func() string
	shutdownTO  time.Duration
	startedAt   time.Time
}

// NewServer creates a Server routing turns through respHandler.
func NewServer(respHandler *messaging.ResponseHandler, states flow.StateManager, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, IDGen: uuid.NewString, ShutdownTO: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:        cfg.Addr,
		respHandler: respHandler,
		states:      states,
		engine:      respHandler.Engine(),
		twilioSvc:   cfg.TwilioSvc,
		newID:       cfg.IDGen,
		shutdownTO:  cfg.ShutdownTO,
		startedAt:   time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /flows", s.flowsHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("POST /engine/turn", s.engineTurnHandler)
	mux.HandleFunc("POST /conversations", s.createConversationHandler)
	mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("DELETE /conversations/{id}", s.deleteConversationHandler)
	mux.HandleFunc("POST /conversations/{id}/turns", s.turnHandler)
	mux.HandleFunc("PUT /conversations/{id}/context", s.replaceContextHandler)
	if s.twilioSvc != nil {
		mux.HandleFunc("/webhooks/twilio/sms", s.twilioSvc.TwilioWebhookHandler)
		slog.Debug("Server.Handler: Twilio webhook enabled")
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("FlowPilot API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down", "timeout", s.shutdownTO)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTO)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	return nil
}
