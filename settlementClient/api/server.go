// Package api serves read-only queries over the local settlement ledger and the
// fee and address helpers used by front ends.
package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/fees"
)

// Server provides HTTP endpoints
type Server struct {
	logger    zerolog.Logger
	server    *http.Server
	store     SettlementStore
	programs  ProgramSource
	tolerance decimal.Decimal
	precision int32
}

// Option customizes a Server.
type Option func(*Server)

// WithFeeSettings sets the goal tolerance and amount precision used by fill quotes.
func WithFeeSettings(tolerance decimal.Decimal, precision int32) Option {
	return func(s *Server) {
		s.tolerance = tolerance
		s.precision = precision
	}
}

// NewServer creates a new Server instance
func NewServer(logger zerolog.Logger, port int, store SettlementStore, programs ProgramSource, opts ...Option) *Server {
	s := &Server{
		logger:    logger.With().Str("component", "query_server").Logger(),
		store:     store,
		programs:  programs,
		tolerance: fees.DefaultTolerance,
		precision: fees.DefaultPrecision,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	startupChan := make(chan error, 1)

	go func() {
		// Bind first so a busy port is reported to the caller
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			startupChan <- fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
			return
		}

		startupChan <- nil

		err = s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("Query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("Query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("Query server error")
		}
	}()

	select {
	case err := <-startupChan:
		if err != nil {
			return err
		}
		s.logger.Info().Str("addr", s.server.Addr).Msg("Query server started")
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server startup timeout")
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
