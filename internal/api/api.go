// Package api provides HTTP handlers and the main API server logic for LeadPipe.
//
// It exposes RESTful endpoints for managing qualification flows, ingesting
// lead events and answers, inspecting sessions and assignment requests, and
// simulating flows without touching live sessions. The API integrates the
// store, flow engine, messaging, and genai modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadpipe/LeadPipe/internal/genai"
	"github.com/leadpipe/LeadPipe/internal/messaging"
	"github.com/leadpipe/LeadPipe/internal/store"
)

// Default server configuration.
const (
	// DefaultAPIAddr is the default listen address for the API server.
	DefaultAPIAddr = ":8080"
	// DefaultReadHeaderTimeout bounds slow-header clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP surface to the store, the qualifier, and the
// messaging service.
type Server struct {
	st         store.Store
	msgService messaging.Service
	gaClient   genai.ClientInterface
	qualifier  *messaging.Qualifier
	opts       Opts
}

// NewServer creates a Server from already-constructed collaborators. Used
// directly by tests; production wiring goes through Run.
func NewServer(st store.Store, msgService messaging.Service, gaClient genai.ClientInterface, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAPIAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		st:         st,
		msgService: msgService,
		gaClient:   gaClient,
		qualifier:  messaging.NewQualifier(st, msgService, gaClient),
		opts:       cfg,
	}
}

// Run constructs the configured modules and serves the API until the process
// receives SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []messaging.TwilioOption, apiOpts []Option) error {
	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Failed to close store", "error", cerr)
		}
	}()

	gaClient := buildGenAIClient(genaiOpts)
	msgService := buildMessagingService(twilioOpts)

	srv := NewServer(st, msgService, gaClient, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if serr := msgService.Stop(); serr != nil {
			slog.Error("Failed to stop messaging service", "error", serr)
		}
	}()
	srv.qualifier.Run(ctx)

	httpServer := &http.Server{
		Addr:              srv.opts.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LeadPipe API listening", "addr", srv.opts.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

// Routes registers all API endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/flows/", s.flowByIDHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/response", s.responseHandler)
	mux.HandleFunc("/simulate", s.simulateHandler)
	mux.HandleFunc("/sessions/", s.sessionByIDHandler)
	mux.HandleFunc("/assignments", s.assignmentsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioSvc.WebhookHandler)
	}
	return mux
}

// buildStore selects the store backend from the configured DSN. No DSN means
// the in-memory store, a postgres DSN means PostgreSQL, anything else is
// treated as a SQLite file path.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("Using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// buildGenAIClient constructs the optional GenAI rendering client. Without an
// API key the qualifier sends question prompt keys verbatim.
func buildGenAIClient(genaiOpts []genai.Option) genai.ClientInterface {
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("GenAI client not configured, questions will be sent verbatim", "error", err)
		return nil
	}
	return client
}

// buildMessagingService constructs the channel adapter: Twilio when
// credentials are available, otherwise the simulated in-memory service.
func buildMessagingService(twilioOpts []messaging.TwilioOption) messaging.Service {
	svc, err := messaging.NewTwilioService(twilioOpts...)
	if err != nil {
		slog.Warn("Twilio not configured, using simulated messaging service", "error", err)
		return messaging.NewSimulatedService()
	}
	slog.Info("Using Twilio WhatsApp messaging service")
	return svc
}
