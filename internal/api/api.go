// Package api provides HTTP handlers and the main API server for FlowDeck.
//
// It exposes RESTful endpoints for authoring flows, starting sessions,
// delivering user events, and inspecting session state. The API integrates
// with the flow engine and the store modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FlowDeckHQ/FlowDeck/internal/flow"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the FlowDeck HTTP API.
type Server struct {
	engine *flow.Engine
	store  store.Store
	addr   string
	http   *http.Server
}

// NewServer creates an API server over the given engine and store.
func NewServer(engine *flow.Engine, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{engine: engine, store: st, addr: cfg.Addr}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/flows", s.saveFlowHandler)
	mux.HandleFunc("/v1/flows/", s.getFlowHandler)
	mux.HandleFunc("/v1/flow/start", s.startHandler)
	mux.HandleFunc("/v1/flow/event", s.eventHandler)
	mux.HandleFunc("/v1/sessions/", s.sessionHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: FlowDeck API listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Server.Run: shutting down API server")
		return s.http.Shutdown(shutdownCtx)
	}
}
