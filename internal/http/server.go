// Package http serves the reviewd API: change set state, hop logs, check
// signals, run triggers, the GitHub webhook and a live event stream.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewd/internal/webhook"
)

// Reviews reads change set state. *orchestrator.Orchestrator implements it.
type Reviews interface {
	Snapshot(ctx context.Context, key ledger.Key) (ledger.Snapshot, error)
	Hops(ctx context.Context, key ledger.Key) ([]ledger.HopEntry, error)
	Checks(ctx context.Context, key ledger.Key) ([]checks.Signal, error)
	List(ctx context.Context, limit int) ([]ledger.Snapshot, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithTrigger enables the run and close endpoints.
func WithTrigger(t webhook.Trigger) Option {
	return func(s *Server) { s.trigger = t }
}

// WithWebhook mounts h at POST /webhook.
func WithWebhook(h http.Handler) Option {
	return func(s *Server) { s.webhook = h }
}

// WithEvents enables the SSE stream backed by NATS subjects under prefix.
func WithEvents(nc *nats.Conn, prefix string) Option {
	return func(s *Server) {
		s.nc = nc
		s.prefix = prefix
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server provides HTTP endpoints for reviewd.
type Server struct {
	echo    *echo.Echo
	reviews Reviews
	trigger webhook.Trigger
	webhook http.Handler
	nc      *nats.Conn
	prefix  string
	metrics *HTTPMetrics
	logger  *logging.Logger
	config  *Config

	heartbeat time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(reviews Reviews, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if reviews == nil {
		return nil, fmt.Errorf("reviews cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		reviews:   reviews,
		logger:    logger,
		config:    cfg,
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.webhook != nil {
		s.echo.POST("/webhook", echo.WrapHandler(s.webhook))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/changesets", s.handleList)

	cs := v1.Group("/changesets/:owner/:repo/:id")
	cs.GET("", s.handleSnapshot)
	cs.GET("/hops", s.handleHops)
	cs.GET("/checks", s.handleChecks)
	if s.nc != nil {
		cs.GET("/events", s.handleEvents)
	}
	if s.trigger != nil {
		cs.POST("/runs", s.handleRun)
		cs.POST("/close", s.handleClose)
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunRequest is the request body for POST .../runs.
type RunRequest struct {
	Revision string `json:"revision"`
	Ref      string `json:"ref"`
	Tier     string `json:"tier"`
}

// CloseRequest is the request body for POST .../close.
type CloseRequest struct {
	Reason string `json:"reason"`
}

// StatusResponse acknowledges accepted commands.
type StatusResponse struct {
	Status string `json:"status"`
	Key    string `json:"key,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// changeSetKey reads the key from the path. Keys are checked against the
// same rules the log context enforces.
func changeSetKey(c echo.Context) (ledger.Key, error) {
	key := ledger.Key{
		Repository: c.Param("owner") + "/" + c.Param("repo"),
		ChangeSet:  c.Param("id"),
	}
	if err := (logging.ChangeSet{Repository: key.Repository, ID: key.ChangeSet}).Validate(); err != nil {
		return ledger.Key{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return key, nil
}

// httpError maps domain errors onto status codes.
func (s *Server) httpError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "change set not found")
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrClosed), errors.Is(err, ledger.ErrLedgerArchived):
		return echo.NewHTTPError(http.StatusConflict, "change set closed")
	}
	s.logger.Error(c.Request().Context(), op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (s *Server) handleList(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	snaps, err := s.reviews.List(c.Request().Context(), limit)
	if err != nil {
		return s.httpError(c, "list change sets", err)
	}
	return c.JSON(http.StatusOK, snaps)
}

func (s *Server) handleSnapshot(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	snap, err := s.reviews.Snapshot(c.Request().Context(), key)
	if err != nil {
		return s.httpError(c, "snapshot", err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHops(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	hops, err := s.reviews.Hops(c.Request().Context(), key)
	if err != nil {
		return s.httpError(c, "hops", err)
	}
	return c.JSON(http.StatusOK, hops)
}

func (s *Server) handleChecks(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	sigs, err := s.reviews.Checks(c.Request().Context(), key)
	if err != nil {
		return s.httpError(c, "checks", err)
	}
	return c.JSON(http.StatusOK, sigs)
}

func (s *Server) handleRun(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Revision == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "revision field is required")
	}
	if err := (logging.ChangeSet{Repository: key.Repository, ID: key.ChangeSet, Revision: req.Revision}).Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var tier gate.Tier
	if req.Tier != "" {
		if tier, err = gate.ParseTier(req.Tier); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	err = s.trigger.StartReview(c.Request().Context(), orchestrator.RunRequest{
		Key:      key,
		Revision: req.Revision,
		Ref:      req.Ref,
		Tier:     tier,
	})
	if err != nil {
		return s.httpError(c, "start review", err)
	}
	return c.JSON(http.StatusAccepted, StatusResponse{Status: "started", Key: key.String()})
}

func (s *Server) handleClose(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	var req CloseRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if err := s.trigger.CloseChangeSet(c.Request().Context(), key, req.Reason); err != nil {
		return s.httpError(c, "close change set", err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "closed", Key: key.String()})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
