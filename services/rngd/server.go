// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rngd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/telemetry"
)

// ServiceName identifies the service in traces and logs.
const ServiceName = "qrng-rngd"

// Config holds HTTP service settings.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// RatePerSecond is the sustained request rate across all clients.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gt=0"`

	// Burst is the token bucket depth.
	Burst int `yaml:"burst" json:"burst" validate:"gte=1"`

	// MaxBytes bounds one bytes request and one stream frame.
	MaxBytes int `yaml:"max_bytes" json:"max_bytes" validate:"gte=1,lte=1048576"`

	// MaxStreamChunks bounds the frames of one websocket stream.
	MaxStreamChunks int `yaml:"max_stream_chunks" json:"max_stream_chunks" validate:"gte=1"`

	// MaxBodyBytes bounds POST bodies. Values below what two MaxBytes
	// states need are raised to that floor; zero means the floor. See
	// BodyLimit.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8787",
		RatePerSecond:   200,
		Burst:           400,
		MaxBytes:        64 * 1024,
		MaxStreamChunks: 1024,
		ShutdownTimeout: 5 * time.Second,
	}
}

// bodyOverhead is the JSON framing allowed around the hex states of one
// request: keys, quotes, whitespace and 0x prefixes.
const bodyOverhead = 256

var configValidate = validator.New()

// BodyLimit returns the POST body limit in effect: MaxBodyBytes, but never
// less than two hex-encoded MaxBytes states plus framing.
func (c Config) BodyLimit() int64 {
	floor := 4*int64(c.MaxBytes) + bodyOverhead
	if c.MaxBodyBytes < floor {
		return floor
	}
	return c.MaxBodyBytes
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

// Server is the rngd HTTP service.
//
// # Description
//
// Routes requests to a shared Engine. Rate limiting applies to the /v1
// group only so that /health and /metrics stay reachable under load.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Server struct {
	cfg     Config
	engine  *Engine
	metrics *telemetry.Metrics
	logger  *slog.Logger
	limiter *rate.Limiter
	router  *gin.Engine
}

// NewServer builds the router. metrics and logger may be nil.
func NewServer(cfg Config, engine *Engine, metrics *telemetry.Metrics, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("rngd: engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(requestID())
	if metrics != nil {
		router.Use(recordMetrics(metrics))
	}
	RegisterRoutes(router, NewHandlers(s))
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rngd listening", "addr", ln.Addr().String(), "version", qrng.Version())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("rngd shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
