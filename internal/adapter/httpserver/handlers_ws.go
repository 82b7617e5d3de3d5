package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/RustyBraze/Stickerwall/internal/broadcast"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/ingest"
	"github.com/RustyBraze/Stickerwall/internal/platform/correlation"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxProducerFrame   = 8 << 20
	maxSubscriberFrame = 4 << 10
)

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws/producer", s.handleProducerWS)
	s.echo.GET("/ws/telegram", s.handleProducerWS)
	s.echo.GET("/ws/subscriber", s.handleSubscriberWS)
	s.echo.GET("/ws/wall", s.handleSubscriberWS)
}

func (s *Server) producerAuthorized(key string) bool {
	secret := s.config.ProducerSecret
	return secret != "" && subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1
}

func (s *Server) handleProducerWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.DebugContext(c.Request().Context(), "Producer upgrade failed", "error", err)
		return nil
	}

	if !s.producerAuthorized(c.Request().Header.Get(headerAPIKey)) {
		slog.WarnContext(c.Request().Context(), "Rejected producer with invalid key", "remote_ip", c.RealIP())
		s.recordRejected("unauthorized")
		broadcast.RejectConnection(conn, s.clock, broadcast.CloseUnauthorized, "unauthorized")
		return nil
	}

	ctx := context.WithoutCancel(c.Request().Context())
	client := broadcast.NewClient(connectionID(ctx), broadcast.RoleProducer, conn, s.clock, s.config.ClientQueueSize)
	if err := s.hub.Attach(ctx, client); err != nil {
		slog.ErrorContext(ctx, "Failed to attach producer", "error", err)
	}
	defer s.hub.Detach(client)

	slog.InfoContext(ctx, "Producer connected", "remote_ip", c.RealIP())
	s.readProducer(ctx, client)
	slog.InfoContext(ctx, "Producer disconnected", "remote_ip", c.RealIP())
	return nil
}

func (s *Server) readProducer(ctx context.Context, client *broadcast.Client) {
	conn := client.Conn()
	conn.SetReadLimit(maxProducerFrame)
	notifier := ingest.NotifierFunc(func(event domain.Event) bool {
		return s.hub.Notify(client, event)
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logReadError(ctx, err)
			return
		}
		client.Touch()

		var msg domain.ProducerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.WarnContext(ctx, "Malformed producer message", "error", err)
			continue
		}

		switch msg.Type {
		case domain.MessageHeartbeat:
			slog.DebugContext(ctx, "Producer heartbeat", "bot_name", msg.BotName)
		case domain.MessageBotInfo:
			info := domain.BotInfo{Username: msg.Username, FullName: msg.FullName}
			if err := s.hub.SetBotInfo(info); err != nil {
				slog.ErrorContext(ctx, "Failed to publish bot info", "error", err)
			}
			slog.InfoContext(ctx, "Producer identified", "username", info.Username)
		case domain.MessageSticker:
			s.pipeline.Process(ctx, msg.StickerSubmission, notifier)
		default:
			slog.WarnContext(ctx, "Unknown producer message type", "type", msg.Type)
		}
	}
}

func (s *Server) handleSubscriberWS(c echo.Context) error {
	ip := c.RealIP()
	if s.limits != nil {
		ok, reason := s.limits.Acquire(ip)
		if !ok {
			s.recordRejected(string(reason))
			return apperrors.PolicyDeniedError("too many connections", string(reason)).WithField("remote_ip", ip)
		}
		defer s.limits.Release(ip)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.DebugContext(c.Request().Context(), "Subscriber upgrade failed", "error", err)
		return nil
	}

	ctx := context.WithoutCancel(c.Request().Context())
	client := broadcast.NewClient(connectionID(ctx), broadcast.RoleSubscriber, conn, s.clock, s.config.ClientQueueSize)
	if err := s.hub.Attach(ctx, client); err != nil {
		// Stays connected; the next reload catches it up.
		slog.ErrorContext(ctx, "Failed to replay wall to subscriber", "error", err)
	}
	defer s.hub.Detach(client)

	slog.DebugContext(ctx, "Subscriber connected", "remote_ip", ip)
	s.readSubscriber(ctx, client)
	slog.DebugContext(ctx, "Subscriber disconnected", "remote_ip", ip)
	return nil
}

func (s *Server) readSubscriber(ctx context.Context, client *broadcast.Client) {
	conn := client.Conn()
	conn.SetReadLimit(maxSubscriberFrame)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logReadError(ctx, err)
			return
		}
		client.Touch()

		var msg domain.SubscriberMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.DebugContext(ctx, "Malformed subscriber message", "error", err)
			continue
		}
		if msg.Type != domain.MessageGetBotInfo {
			continue
		}
		if info, ok := s.hub.BotInfo(); ok {
			s.hub.Notify(client, domain.BotInfoEvent(info))
		}
	}
}

func (s *Server) recordRejected(reason string) {
	if s.wsMetrics != nil {
		s.wsMetrics.ConnectionRejected(reason)
	}
}

func connectionID(ctx context.Context) string {
	if id, ok := correlation.ID(ctx); ok {
		return id
	}
	return correlation.NewID()
}

func logReadError(ctx context.Context, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		slog.DebugContext(ctx, "WebSocket read ended", "error", err)
	}
}
