package httpserver

import (
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	apperrors "github.com/RustyBraze/Stickerwall/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// identifier picks the bucket a request is charged to.
type identifier func(c echo.Context) string

func byClientIP(c echo.Context) string {
	return "ip:" + c.RealIP()
}

// byToken charges the authenticated token, so one API key cannot starve
// another behind the same proxy. It must run after requireToken.
func byToken(c echo.Context) string {
	if token, ok := c.Get(ctxKeyToken).(*domain.AccessToken); ok {
		return "token:" + token.ID.String()
	}
	return byClientIP(c)
}

func newRateLimiter(ratePerSecond float64, burst int, identify identifier) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return identify(c), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, id string, err error) error {
			return apperrors.PolicyDeniedError("rate limit exceeded", "too_many_requests").WithField("bucket", id)
		},
	})
}
