package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"pq-gateway/internal/bodyparse"
	"pq-gateway/internal/failure"
	"pq-gateway/internal/model"
	"pq-gateway/internal/service"
)

// GraphQLHandler forwards resolved GraphQL requests to the upstream endpoint.
type GraphQLHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewGraphQLHandler creates a GraphQLHandler.
func NewGraphQLHandler(svc *service.ForwardService, logger *slog.Logger) *GraphQLHandler {
	return &GraphQLHandler{
		service: svc,
		logger:  logger.With("component", "graphql_handler"),
	}
}

// Handle forwards the request and streams the upstream response back.
// A body mapping left by the persisted queries middleware replaces the raw body.
func (h *GraphQLHandler) Handle(c echo.Context) error {
	req := c.Request()

	fr := &model.ForwardRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Query:  bodyparse.ParseSearchParams(req.URL.RawQuery),
		Header: req.Header,
	}
	if mapping, ok := model.AsMapping(model.Body(c)); ok {
		fr.Mapping = mapping
	} else {
		fr.Body = req.Body
	}

	resp, err := h.service.Forward(fr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a failed copy leaves the client with a
	// truncated body, so it is only logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError reports a transport failure as a GraphQL error envelope.
func (h *GraphQLHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("upstream error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	status, msg := http.StatusBadGateway, "Upstream request failed."

	var dnsErr *net.DNSError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		status, msg = http.StatusGatewayTimeout, "Upstream request timed out."
	case errors.Is(err, context.Canceled):
		msg = "Client disconnected."
	case errors.As(err, &dnsErr):
		msg = "Upstream host unreachable."
	case errors.As(err, &urlErr):
		msg = "Upstream connection failed."
	}

	return failure.WriteMessage(c.Response(), status, msg)
}
