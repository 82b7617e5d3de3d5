package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	raw, token, err := s.auth.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, newTokenResponse(*token, raw)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	raw, _ := c.Get(ctxKeyRawToken).(string)
	if err := s.auth.Revoke(c.Request().Context(), raw); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
