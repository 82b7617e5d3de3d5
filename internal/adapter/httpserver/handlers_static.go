package httpserver

import (
	"errors"
	"net/http"

	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerStaticRoutes() {
	s.echo.GET("/stickers/:file", s.handleStickerFile)
}

// handleStickerFile streams a stored payload. The catalog path is
// "stickers/<file>", so wall clients can use it as a relative URL.
func (s *Server) handleStickerFile(c echo.Context) error {
	key := "stickers/" + c.Param("file")

	obj, err := s.payloads.Open(c.Request().Context(), key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		return apperrors.NotFoundError("sticker file not found").WithField("key", key)
	}
	if err != nil {
		return apperrors.ExternalError("failed to read sticker file", err).WithField("key", key)
	}
	defer func() { _ = obj.Close() }()

	// Resubmissions overwrite the key, so clients must revalidate.
	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderContentType, storage.ContentType(key))
	if obj.ETag != "" {
		h.Set("ETag", obj.ETag)
	}
	http.ServeContent(c.Response(), c.Request(), key, obj.ModTime, obj)
	return nil
}
