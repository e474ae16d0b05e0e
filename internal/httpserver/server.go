// Package httpserver exposes the feedback-ingest HTTP API.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/feedback"
)

// FeedbackSink accepts feedback events, typically the SQLite store.
type FeedbackSink interface {
	Record(ctx context.Context, ev feedback.Event) (feedback.StoreOutcome, error)
}

// Server serves the feedback and health endpoints.
type Server struct {
	echo   *echo.Echo
	sink   FeedbackSink
	logger *zap.Logger
	config config.ServerConfig
}

// NewServer creates the feedback HTTP server.
func NewServer(sink FeedbackSink, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("feedback sink cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		sink:   sink,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/feedback", s.handleFeedback)
	v1.POST("/reactions", s.handleReaction)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	DigestItemID string `json:"digest_item_id"`
	UserID       string `json:"user_id"`
	Signal       string `json:"signal"`
	Note         string `json:"note,omitempty"`
}

// FeedbackResponse is the response body for feedback submissions.
type FeedbackResponse struct {
	Outcome string `json:"outcome"`
}

// handleFeedback ingests an explicit feedback signal.
func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	return s.record(c, feedback.Event{
		DigestItemID: req.DigestItemID,
		UserID:       req.UserID,
		Signal:       feedback.Signal(req.Signal),
		Note:         req.Note,
	})
}

// ReactionRequest is the request body for POST /api/v1/reactions, the
// shape a chat reaction webhook delivers.
type ReactionRequest struct {
	DigestItemID string `json:"digest_item_id"`
	UserID       string `json:"user_id"`
	Emoji        string `json:"emoji"`
}

// handleReaction maps a chat reaction emoji onto a feedback signal.
// Unmapped emoji are acknowledged and discarded.
func (s *Server) handleReaction(c echo.Context) error {
	var req ReactionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reaction request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	signal, ok := feedback.SignalFromEmoji(req.Emoji)
	if !ok {
		return c.JSON(http.StatusOK, FeedbackResponse{Outcome: "ignored"})
	}

	return s.record(c, feedback.Event{
		DigestItemID: req.DigestItemID,
		UserID:       req.UserID,
		Signal:       signal,
	})
}

func (s *Server) record(c echo.Context, ev feedback.Event) error {
	outcome, err := s.sink.Record(c.Request().Context(), ev)
	switch {
	case errors.Is(err, feedback.ErrInvalidSignal),
		errors.Is(err, feedback.ErrMissingUser):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, feedback.ErrUnknownItem):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("failed to store feedback", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store feedback")
	}

	return c.JSON(http.StatusOK, FeedbackResponse{Outcome: string(outcome)})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting feedback server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down feedback server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
