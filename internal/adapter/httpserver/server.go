package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/adapter/metrics"
	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/broadcast"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/ingest"
	"github.com/RustyBraze/Stickerwall/internal/platform/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type catalogService interface {
	ListAll(ctx context.Context) ([]domain.StickerUsage, error)
	Moderate(ctx context.Context, id uuid.UUID, action domain.ModerationAction, reason string) (*domain.Sticker, error)
	ListUsers(ctx context.Context) ([]domain.SubmittingUser, error)
	SetUserBan(ctx context.Context, userID string, banned bool, reason string) (*domain.SubmittingUser, error)
	SetUserPolicy(ctx context.Context, userID string, policy *domain.RateLimitPolicy) (*domain.SubmittingUser, error)
}

type authService interface {
	Login(ctx context.Context, username, password string) (string, *domain.AccessToken, error)
	Validate(ctx context.Context, raw string) (*domain.AccessToken, error)
	Revoke(ctx context.Context, raw string) error
	CreateAPIKey(ctx context.Context, label string) (string, *domain.AccessToken, error)
	ListAPIKeys(ctx context.Context) ([]domain.AccessToken, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type submissionProcessor interface {
	Process(ctx context.Context, msg domain.StickerSubmission, notifier ingest.Notifier) ingest.Result
}

type payloadReader interface {
	Open(ctx context.Context, key string) (*storage.Object, error)
}

// Deps are the services the server routes to. Metrics and Limits are optional.
type Deps struct {
	Catalog      catalogService
	Auth         authService
	Hub          *broadcast.Hub
	Pipeline     submissionProcessor
	Payloads     payloadReader
	Limits       *ConnectionLimits
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	WSMetrics    *metrics.WebSocketMetrics
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	catalog  catalogService
	auth     authService
	hub      *broadcast.Hub
	pipeline submissionProcessor
	payloads payloadReader
	limits   *ConnectionLimits

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	wsMetrics   *metrics.WebSocketMetrics

	upgrader     websocket.Upgrader
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		catalog:      deps.Catalog,
		auth:         deps.Auth,
		hub:          deps.Hub,
		pipeline:     deps.Pipeline,
		payloads:     deps.Payloads,
		limits:       deps.Limits,
		registry:     deps.Registry,
		httpMetrics:  deps.HTTPMetrics,
		wsMetrics:    deps.WSMetrics,
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Wall displays and producers are served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
