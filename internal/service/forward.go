// Package service implements forwarding to the upstream GraphQL endpoint and
// the construction of the persisted-query option source.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"pq-gateway/internal/client"
	"pq-gateway/internal/config"
	"pq-gateway/internal/model"
)

// forwardableRequestHeaders are the only request headers forwarded upstream.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Authorization",
	"Content-Type",
	"Content-Encoding",
	"Content-Length",
	"X-Request-Id",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"X-Request-Id":     true,
}

// ForwardService sends client requests to the upstream GraphQL endpoint.
type ForwardService struct {
	client   *client.UpstreamClient
	logger   *slog.Logger
	upstream *url.URL
}

// NewForwardService creates a ForwardService for cfg.Upstream.URL.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	return &ForwardService{
		client:   c,
		logger:   logger.With("component", "forward_service"),
		upstream: u,
	}, nil
}

// Forward sends fr upstream and returns the response.
// The caller is responsible for closing the response body.
//
// With a body mapping the request is re-encoded as a JSON POST; otherwise the
// original method and body stream through untouched.
func (s *ForwardService) Forward(fr *model.ForwardRequest) (*model.UpstreamResponse, error) {
	header := s.filterRequestHeaders(fr.Header)
	method := fr.Method
	query := fr.Query
	var body io.Reader = fr.Body

	if fr.Mapping != nil {
		payload, err := json.Marshal(fr.Mapping)
		if err != nil {
			return nil, fmt.Errorf("encode body mapping: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(payload)
		header.Del("Content-Encoding")
		header.Set("Content-Type", "application/json")
		header.Set("Content-Length", strconv.Itoa(len(payload)))

		// The body's query is authoritative.
		if query.Has("query") {
			query = cloneValues(query)
			query.Del("query")
		}
	}

	s.logger.Debug("forwarding request",
		"method", method,
		"mapped", fr.Mapping != nil,
	)

	resp, err := s.client.DoStream(fr.Ctx, method, s.buildUpstreamURL(query), header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL merges the client's search params over the upstream URL's own.
func (s *ForwardService) buildUpstreamURL(query url.Values) string {
	u := *s.upstream

	q := u.Query()
	for k, v := range query {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func (s *ForwardService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

func (s *ForwardService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
