// Package relayhost hosts the inbox poller as a long-running service: a
// healthz HTTP endpoint plus an interval-driven poll loop with a per-run time
// budget.
package relayhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/poller"
)

// Config holds configuration for the relay host.
type Config struct {
	HTTPPort string
	// PollInterval is the pause between poll runs.
	PollInterval time.Duration
	// RunBudget is the time budget handed to each poll run; the poller exits
	// a run early when the remaining budget falls below its own minimum.
	RunBudget time.Duration
}

// NewConfigDefaults provides a config with sensible defaults, overridable via
// RELAY_HTTP_PORT, RELAY_POLL_INTERVAL and RELAY_RUN_BUDGET.
func NewConfigDefaults() *Config {
	cfg := &Config{
		HTTPPort:     ":8080",
		PollInterval: time.Minute,
		RunBudget:    5 * time.Minute,
	}
	if port := os.Getenv("RELAY_HTTP_PORT"); port != "" {
		cfg.HTTPPort = port
	}
	if interval := os.Getenv("RELAY_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.PollInterval = d
		}
	}
	if budget := os.Getenv("RELAY_RUN_BUDGET"); budget != "" {
		if d, err := time.ParseDuration(budget); err == nil {
			cfg.RunBudget = d
		}
	}
	return cfg
}

// Service runs the poller on an interval and serves health checks.
type Service struct {
	cfg    Config
	poller *poller.Poller
	logger zerolog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex

	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a relay host service.
func New(cfg Config, p *poller.Poller, logger zerolog.Logger) (*Service, error) {
	if p == nil {
		return nil, fmt.Errorf("poller cannot be nil")
	}
	if cfg.PollInterval <= 0 || cfg.RunBudget <= 0 {
		return nil, fmt.Errorf("poll interval and run budget must be positive")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthzHandler)
	return &Service{
		cfg:    cfg,
		poller: p,
		logger: logger.With().Str("component", "RelayHost").Logger(),
		mux:    mux,
		httpServer: &http.Server{
			Addr:    cfg.HTTPPort,
			Handler: mux,
		},
	}, nil
}

// Start begins serving health checks and running the poll loop.
func (s *Service) Start(ctx context.Context) error {
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.HTTPPort, err)
	}
	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen.")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed.")
		}
	}()

	s.wg.Add(1)
	go s.pollLoop()
	return nil
}

// pollLoop runs the poller once per interval until shutdown.
func (s *Service) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runOnce()
	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Info().Msg("Poll loop shutting down.")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Service) runOnce() {
	deadline := time.Now().Add(s.cfg.RunBudget)
	remaining := func() time.Duration { return time.Until(deadline) }

	runCtx, cancel := context.WithDeadline(s.shutdownCtx, deadline)
	defer cancel()
	if err := s.poller.Run(runCtx, remaining); err != nil {
		s.logger.Error().Err(err).Msg("Poll run failed.")
	}
}

// Shutdown stops the poll loop and the HTTP server, respecting ctx's
// deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down relay host...")
	if s.shutdownFunc != nil {
		s.shutdownFunc()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for poll loop to finish.")
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("Relay host stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on.
func (s *Service) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.cfg.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux.
func (s *Service) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
