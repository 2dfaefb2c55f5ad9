package bodyparse

import (
	"mime"
	"net/http"
	"strings"

	"pq-gateway/internal/model"
)

// Materializer turns a request body into a body mapping when its declared
// Content-Type is JSON or URL-encoded form.
type Materializer struct {
	limit int64
}

// NewMaterializer creates a Materializer with the given decoded-byte ceiling.
func NewMaterializer(limit int64) *Materializer {
	return &Materializer{limit: limit}
}

// Materialize returns the logical body for r given its current body slot.
//
// The slot is returned as is when it already holds a mapping, when the request
// has no Content-Type, or when the Content-Type is not parsable; in the last
// case the raw stream is left unread for downstream consumers.
func (m *Materializer) Materialize(r *http.Request, current any) (any, error) {
	if _, ok := model.AsMapping(current); ok {
		return current, nil
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return current, nil
	}

	mediaType, params := parseContentType(contentType)
	if !Parsable(mediaType) {
		return current, nil
	}

	dec, err := NewDecompressor(r.Header.Get("Content-Encoding"), m.limit)
	if err != nil {
		return nil, err
	}
	cd, err := NewCharsetDecoder(params["charset"])
	if err != nil {
		return nil, err
	}

	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	stream, err := dec.Open(body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	text, err := cd.Decode(stream)
	if err != nil {
		return nil, err
	}

	mapping, _, err := Parse(mediaType, text)
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// parseContentType falls back to the bare media type when parameters are malformed.
func parseContentType(v string) (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(v)
	if err != nil || mediaType == "" {
		mediaType, _, _ = strings.Cut(v, ";")
		return strings.ToLower(strings.TrimSpace(mediaType)), map[string]string{}
	}
	return mediaType, params
}
