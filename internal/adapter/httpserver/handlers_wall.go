package httpserver

import (
	"fmt"
	"net/http"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// handleWallClear empties connected displays. The catalog is untouched, so
// the next reload or join brings the stickers back.
func (s *Server) handleWallClear(c echo.Context) error {
	delivered, err := s.hub.Broadcast(domain.ClearEvent())
	if err != nil {
		return apperrors.InternalError("failed to clear wall", err)
	}
	return writeDelivered(c, delivered)
}

func (s *Server) handleWallReload(c echo.Context) error {
	delivered, err := s.hub.Replay(c.Request().Context(), s.hub.ReplayLimit())
	if err != nil {
		return apperrors.InternalError("failed to reload wall", err)
	}
	return writeDelivered(c, delivered)
}

func writeDelivered(c echo.Context, delivered int) error {
	if err := c.JSON(http.StatusOK, map[string]any{"status": "ok", "subscribers": delivered}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
