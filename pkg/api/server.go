package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/owlog/pkg/log"
)

// Server runs the HealthServer handlers on a TCP address
type Server struct {
	health *HealthServer
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(health *HealthServer) *Server {
	return &Server{
		health: health,
		http: &http.Server{
			Handler:      health.GetHandler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	logger.Info().Msg("HTTP API stopped")
	return nil
}
