package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

type moderateRequest struct {
	Type   string `json:"type" validate:"required"`
	Reason string `json:"reason" validate:"max=512"`
}

func (s *Server) handleListStickers(c echo.Context) error {
	usage, err := s.catalog.ListAll(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list stickers", err)
	}

	resp := lo.Map(usage, func(u domain.StickerUsage, _ int) stickerResponse {
		return newStickerUsageResponse(u)
	})
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleModerateSticker(c echo.Context) error {
	ctx := c.Request().Context()

	idStr := c.Param("uuid")
	id, err := uuid.Parse(idStr)
	if err != nil {
		return apperrors.ValidationError("invalid UUID format").WithField("uuid", idStr)
	}

	var req moderateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	action, err := domain.ParseModerationAction(req.Type)
	if err != nil {
		return apperrors.ValidationError(err.Error()).WithField("type", req.Type)
	}

	sticker, err := s.catalog.Moderate(ctx, id, action, req.Reason)
	if err != nil {
		return err
	}

	if event, ok := moderationEvent(action, *sticker); ok {
		if _, err := s.hub.Broadcast(event); err != nil {
			slog.ErrorContext(ctx, "Failed to broadcast moderation", "sticker_uuid", id, "action", action, "error", err)
		}
	}

	if err := c.JSON(http.StatusOK, newStickerResponse(*sticker)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// moderationEvent is the wall update that follows a moderation action.
// Unban leaves the sticker hidden, so it has none.
func moderationEvent(action domain.ModerationAction, s domain.Sticker) (domain.Event, bool) {
	switch action {
	case domain.ActionBan, domain.ActionHide:
		return domain.StickerRemoveEvent(s.UUID), true
	case domain.ActionShow:
		if s.Displayable() {
			return domain.StickerAddEvent(s), true
		}
	}
	return domain.Event{}, false
}
