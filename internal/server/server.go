// Package server provides the admin HTTP endpoint of a bootstrapped process.
//
// It serves a health check, Prometheus metrics and the net/http/pprof
// handlers, so a profiler.RemoteSession can sample the process while it
// runs. Requests produce server spans through otelhttp.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/fyrsmithlabs/otelboot/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds admin server configuration.
type Config struct {
	Enabled         bool            `koanf:"enabled"`
	Addr            string          `koanf:"addr"`
	Pprof           bool            `koanf:"pprof"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns a disabled server on localhost:6060 with pprof.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Addr:            "127.0.0.1:6060",
		Pprof:           true,
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("addr %q is invalid: %w", c.Addr, err)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

// HealthResponse is the JSON response for /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Server represents the admin HTTP server.
type Server struct {
	config  *Config
	service string
	logger  *logging.Logger
	echo    *echo.Echo

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates the admin server for the named service.
func NewServer(cfg *Config, service string, logger *logging.Logger) *Server {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger.Named("server"),
		echo:    e,
		ready:   make(chan struct{}),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return telemetry.HTTPHandler(next, "admin")
	}))
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.logger.Debug(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	// Default registry: Go and process collectors, plus OTel meters when
	// telemetry was started with WithPrometheus(prometheus.DefaultRegisterer).
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if s.config.Pprof {
		g := s.echo.Group("/debug/pprof")
		g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(pprof.Cmdline)))
		g.GET("/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
		g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(pprof.Symbol)))
		g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(pprof.Symbol)))
		g.GET("/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))
		// Index also serves the named runtime profiles (heap, goroutine, ...).
		g.GET("/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: s.service,
	})
}

// Start listens on the configured address and blocks until ctx is cancelled.
//
// On cancellation the server shuts down gracefully within the configured
// timeout and returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.echo.Listener = ln

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info(ctx, "admin server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("pprof", s.config.Pprof))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			s.config.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Ready is closed once Start is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the base URL of the listening server, or "" before Start.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String()
}

// Echo returns the underlying Echo instance for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
