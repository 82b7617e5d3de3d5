package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/RustyBraze/Stickerwall/internal/adapter/metrics"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	loginRatePerSecond = 0.2
	loginBurst         = 5

	apiRatePerSecond = 10
	apiBurst         = 30
)

func (s *Server) registerRoutes() {
	var errorsTotal *prometheus.CounterVec
	if s.httpMetrics != nil {
		errorsTotal = s.httpMetrics.ErrorsTotal
		s.echo.Use(s.httpMetrics.Middleware())
	}

	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(apperrors.Middleware(translateError, errorsTotal))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, headerAPIKey},
	}))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; img-src 'self'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	s.registerHealthRoutes()
	s.registerWebSocketRoutes()
	s.registerStaticRoutes()
	s.registerAPIRoutes()

	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api/v1")

	loginLimiter := newRateLimiter(loginRatePerSecond, loginBurst, byClientIP)
	api.POST("/auth/login", s.handleLogin, loginLimiter)
	api.POST("/auth/logout", s.handleLogout, s.requireToken)

	authed := api.Group("", s.requireToken, newRateLimiter(apiRatePerSecond, apiBurst, byToken))
	authed.GET("/stickers", s.handleListStickers)
	authed.POST("/stickers/:uuid", s.handleModerateSticker)
	authed.GET("/users", s.handleListUsers)
	authed.POST("/users/:id/ban", s.handleBanUser)
	authed.POST("/users/:id/unban", s.handleUnbanUser)
	authed.PUT("/users/:id/policy", s.handleSetUserPolicy)
	authed.DELETE("/users/:id/policy", s.handleClearUserPolicy)
	authed.POST("/wall/clear", s.handleWallClear)
	authed.POST("/wall/reload", s.handleWallReload)

	admin := authed.Group("/admin", requireAdmin)
	admin.POST("/apikeys", s.handleCreateAPIKey)
	admin.GET("/apikeys", s.handleListAPIKeys)
	admin.DELETE("/apikeys/:id", s.handleRevokeAPIKey)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			level := slog.LevelInfo
			if v.Status == http.StatusOK && (v.URI == "/health/live" || v.URI == "/health/ready") {
				level = slog.LevelDebug
			}
			slog.Log(c.Request().Context(), level, "Request", attrs...)
			return nil
		},
	})
}
