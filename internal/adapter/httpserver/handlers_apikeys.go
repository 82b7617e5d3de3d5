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

type createAPIKeyRequest struct {
	Label string `json:"label" validate:"required,max=128"`
}

func (s *Server) handleCreateAPIKey(c echo.Context) error {
	ctx := c.Request().Context()

	var req createAPIKeyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	raw, token, err := s.auth.CreateAPIKey(ctx, req.Label)
	if err != nil {
		return apperrors.InternalError("failed to create API key", err)
	}
	slog.InfoContext(ctx, "API key created", "label", req.Label, "prefix", token.Prefix, "created_by", c.Get(ctxKeyTokenOwner))

	if err := c.JSON(http.StatusCreated, newTokenResponse(*token, raw)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListAPIKeys(c echo.Context) error {
	keys, err := s.auth.ListAPIKeys(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list API keys", err)
	}

	resp := lo.Map(keys, func(k domain.AccessToken, _ int) tokenResponse {
		return newTokenResponse(k, "")
	})
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRevokeAPIKey(c echo.Context) error {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		return apperrors.ValidationError("invalid UUID format").WithField("id", idStr)
	}

	if err := s.auth.RevokeAPIKey(c.Request().Context(), id); err != nil {
		return err
	}
	slog.InfoContext(c.Request().Context(), "API key revoked", "id", id, "revoked_by", c.Get(ctxKeyTokenOwner))
	return c.NoContent(http.StatusNoContent)
}
