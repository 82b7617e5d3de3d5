package httpserver

import (
	"fmt"
	"net/http"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

type banRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

type policyRequest struct {
	MaxSubmissions int   `json:"max_submissions" validate:"gte=1"`
	WindowSeconds  int64 `json:"window_seconds" validate:"gte=1,lte=31536000"`
}

func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.catalog.ListUsers(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list users", err)
	}

	resp := lo.Map(users, func(u domain.SubmittingUser, _ int) userResponse {
		return newUserResponse(u)
	})
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleBanUser(c echo.Context) error {
	var req banRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return s.setUserBan(c, true, req.Reason)
}

func (s *Server) handleUnbanUser(c echo.Context) error {
	return s.setUserBan(c, false, "")
}

func (s *Server) setUserBan(c echo.Context, banned bool, reason string) error {
	user, err := s.catalog.SetUserBan(c.Request().Context(), c.Param("id"), banned, reason)
	if err != nil {
		return err
	}
	return s.writeUser(c, user)
}

func (s *Server) handleSetUserPolicy(c echo.Context) error {
	var req policyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	policy := domain.RateLimitPolicy{MaxSubmissions: req.MaxSubmissions, WindowSeconds: req.WindowSeconds}
	user, err := s.catalog.SetUserPolicy(c.Request().Context(), c.Param("id"), &policy)
	if err != nil {
		return err
	}
	return s.writeUser(c, user)
}

func (s *Server) handleClearUserPolicy(c echo.Context) error {
	user, err := s.catalog.SetUserPolicy(c.Request().Context(), c.Param("id"), nil)
	if err != nil {
		return err
	}
	return s.writeUser(c, user)
}

func (s *Server) writeUser(c echo.Context, user *domain.SubmittingUser) error {
	if err := c.JSON(http.StatusOK, newUserResponse(*user)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
