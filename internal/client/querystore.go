package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrQueryNotFound is returned by FetchQuery when the store has no document for the ID.
var ErrQueryNotFound = errors.New("query not found in store")

var errNotFound = errors.New("not found")

// maxDocumentBytes bounds query store and manifest responses.
const maxDocumentBytes = 8 << 20

// FetchQuery retrieves the query text stored under id from the query store
// at storeURL. The ID is path-escaped and appended as the last path segment.
func (c *UpstreamClient) FetchQuery(ctx context.Context, storeURL, id string) (string, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return "", fmt.Errorf("parse store url: %w", err)
	}
	u = u.JoinPath(url.PathEscape(id))

	data, err := c.get(ctx, u.String(), "text/plain, application/graphql")
	if errors.Is(err, errNotFound) {
		return "", ErrQueryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetch query %q: %w", id, err)
	}
	return string(data), nil
}

// FetchManifest downloads a persisted query manifest.
func (c *UpstreamClient) FetchManifest(ctx context.Context, manifestURL string) ([]byte, error) {
	data, err := c.get(ctx, manifestURL, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	c.logger.Info("manifest fetched",
		"url", manifestURL,
		"size", humanize.IBytes(uint64(len(data))),
	)
	return data, nil
}

// get performs a GET and returns the body of a 200 response. Any other
// status is an error.
func (c *UpstreamClient) get(ctx context.Context, target, accept string) ([]byte, error) {
	header := make(http.Header)
	header.Set("Accept", accept)

	resp, err := c.DoStream(ctx, http.MethodGet, target, header, http.NoBody)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errNotFound
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("response exceeds %s", humanize.IBytes(maxDocumentBytes))
	}
	return data, nil
}
