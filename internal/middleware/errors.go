package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"pq-gateway/internal/failure"
)

// ErrorHandler renders errors that reach Echo (routing misses, BodyLimit,
// recovered panics) as GraphQL error envelopes.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "http_error")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
		var he *echo.HTTPError
		var f *failure.Failure
		switch {
		case errors.As(err, &f):
			status, msg = f.StatusCode, f.Message
		case errors.As(err, &he):
			status = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			} else {
				msg = fmt.Sprint(he.Message)
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "status", status, "err", err, "path", c.Request().URL.Path)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = failure.WriteMessage(c.Response(), status, msg)
		}
		if err != nil {
			logger.Debug("writing error response", "err", err)
		}
	}
}
