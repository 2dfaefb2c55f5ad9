package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"pq-gateway/internal/failure"
)

// RateLimiter returns a per-IP rate limiter. Rejections are written as
// GraphQL error envelopes so clients see one error shape.
func RateLimiter(rps float64, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "rate_limiter")
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return failure.WriteMessage(c.Response(), http.StatusForbidden, "Unable to identify client.")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Debug("request rate limited", "remote_ip", identifier)
			return failure.WriteMessage(c.Response(), http.StatusTooManyRequests, "Too many requests.")
		},
	})
}
