package httpserver

import (
	"errors"
	"strings"

	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/platform/correlation"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

const (
	headerAPIKey = "X-API-Key"

	ctxKeyToken      = "token"
	ctxKeyRawToken   = "rawToken"
	ctxKeyTokenOwner = "tokenOwner"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.HeaderName))
		c.Response().Header().Set(correlation.HeaderName, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// bearerToken reads "Authorization: Bearer <t>" and falls back to X-API-Key.
func bearerToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.Request().Header.Get(headerAPIKey))
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := bearerToken(c)
		if raw == "" {
			return apperrors.UnauthorizedError("missing access token")
		}

		token, err := s.auth.Validate(c.Request().Context(), raw)
		if errors.Is(err, domain.ErrTokenInvalid) {
			return apperrors.UnauthorizedError("invalid or expired access token")
		}
		if err != nil {
			return apperrors.InternalError("failed to validate access token", err)
		}

		c.Set(ctxKeyToken, token)
		c.Set(ctxKeyRawToken, raw)
		c.Set(ctxKeyTokenOwner, token.OwnerLabel)
		return next(c)
	}
}

// requireAdmin allows only interactive sessions of admin accounts.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(ctxKeyToken).(*domain.AccessToken)
		if !ok {
			return apperrors.UnauthorizedError("missing access token")
		}
		if token.Kind != domain.TokenKindSession || !token.IsAdmin {
			return apperrors.ForbiddenError("admin session required").WithField("token_prefix", token.Prefix)
		}
		return next(c)
	}
}

// translateError maps domain and storage sentinels onto HTTP error types.
func translateError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStickerNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFoundError(err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.ConflictError(err.Error())
	case errors.Is(err, domain.ErrUnknownAction),
		errors.Is(err, domain.ErrInvalidPolicy):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		return apperrors.UnauthorizedError("invalid username or password")
	case errors.Is(err, domain.ErrTokenInvalid):
		return apperrors.UnauthorizedError("invalid or expired access token")
	case errors.Is(err, domain.ErrStickerBanned):
		return apperrors.PolicyDeniedError(err.Error(), "sticker_banned")
	default:
		return err
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	return nil
}

// bindAndValidate decodes the JSON body into req and checks its tags.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return c.Validate(req)
}
