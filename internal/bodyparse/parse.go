package bodyparse

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"pq-gateway/internal/failure"
	"pq-gateway/internal/model"
)

// Media types the parser understands.
const (
	MediaTypeJSON = "application/json"
	MediaTypeForm = "application/x-www-form-urlencoded"
)

var errNotObject = errors.New("body does not start with '{'")

// Parsable reports whether Parse produces a mapping for mediaType.
func Parsable(mediaType string) bool {
	return mediaType == MediaTypeJSON || mediaType == MediaTypeForm
}

// Parse converts text into a body mapping. For media types other than JSON
// and URL-encoded form it returns ok=false and no error.
func Parse(mediaType, text string) (mapping model.BodyMapping, ok bool, err error) {
	switch mediaType {
	case MediaTypeJSON:
		m, err := parseJSONObject(text)
		if err != nil {
			return nil, false, err
		}
		return m, true, nil
	case MediaTypeForm:
		return parseForm(text), true, nil
	}
	return nil, false, nil
}

func parseJSONObject(text string) (model.BodyMapping, error) {
	trimmed := strings.TrimLeft(text, " \t\n\r")
	if !strings.HasPrefix(trimmed, "{") {
		return nil, failure.NewNotJSONObject(errNotObject)
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, failure.NewNotJSONObject(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after JSON object")
		}
		return nil, failure.NewNotJSONObject(err)
	}
	return model.BodyMapping(m), nil
}

// parseForm keeps single values as strings and repeated keys as []string.
func parseForm(text string) model.BodyMapping {
	values := ParseSearchParams(text)
	m := make(model.BodyMapping, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			m[k] = vs[0]
			continue
		}
		m[k] = vs
	}
	return m
}
