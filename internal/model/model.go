// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// BodyMapping is a structured request body keyed by field name.
type BodyMapping map[string]any

// bodyKey is the echo context key holding the request's logical body.
const bodyKey = "pq.body"

// Body returns the request's logical body slot. It is nil until something
// (an upstream body parser or the persisted-query middleware) sets it.
func Body(c echo.Context) any {
	return c.Get(bodyKey)
}

// SetBody replaces the request's logical body slot.
func SetBody(c echo.Context, v any) {
	c.Set(bodyKey, v)
}

// AsMapping reports whether v is a non-nil body mapping.
func AsMapping(v any) (BodyMapping, bool) {
	switch m := v.(type) {
	case BodyMapping:
		return m, m != nil
	case map[string]any:
		return BodyMapping(m), m != nil
	}
	return nil, false
}

// ForwardRequest is a client request to be forwarded to the upstream GraphQL endpoint.
// When Mapping is set it replaces the raw Body.
type ForwardRequest struct {
	Ctx     context.Context
	Method  string
	Query   url.Values
	Header  http.Header
	Body    io.ReadCloser
	Mapping BodyMapping
}

// UpstreamResponse represents the upstream response to be streamed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
