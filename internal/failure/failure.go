// Package failure defines the gateway's request failure taxonomy and the
// GraphQL-compatible error envelope every failure is rendered as.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a Failure.
type Kind int

const (
	ConfigurationInvalid Kind = iota + 1
	UpstreamRejected
	UnsupportedEncoding
	UnsupportedCharset
	BodyTooLarge
	MalformedBody
	StrictViolation
	QueryIDNotFound
)

var kindNames = map[Kind]string{
	ConfigurationInvalid: "configuration_invalid",
	UpstreamRejected:     "upstream_rejected",
	UnsupportedEncoding:  "unsupported_encoding",
	UnsupportedCharset:   "unsupported_charset",
	BodyTooLarge:         "body_too_large",
	MalformedBody:        "malformed_body",
	StrictViolation:      "strict_violation",
	QueryIDNotFound:      "query_id_not_found",
}

// String returns the metric/log label for k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Failure is a request failure carrying the status code and the client-facing message.
type Failure struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error // underlying cause, never sent to the client
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", f.Kind, f.StatusCode, f.Message, f.Err)
	}
	return fmt.Sprintf("%s (%d): %s", f.Kind, f.StatusCode, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// From converts err into a Failure. Errors that are not already a Failure
// become UpstreamRejected with status 500 and the original message.
func From(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{
		Kind:       UpstreamRejected,
		StatusCode: http.StatusInternalServerError,
		Message:    err.Error(),
		Err:        err,
	}
}

// NewConfigurationInvalid reports unusable persisted-query options.
func NewConfigurationInvalid(msg string) *Failure {
	return &Failure{Kind: ConfigurationInvalid, StatusCode: http.StatusInternalServerError, Message: msg}
}

// NewUpstreamRejected wraps an error raised by an option source or a lookup callback.
func NewUpstreamRejected(err error) *Failure {
	return &Failure{Kind: UpstreamRejected, StatusCode: http.StatusInternalServerError, Message: err.Error(), Err: err}
}

// NewUnsupportedEncoding reports a Content-Encoding the gateway cannot decode.
func NewUnsupportedEncoding(token string) *Failure {
	return &Failure{
		Kind:       UnsupportedEncoding,
		StatusCode: http.StatusUnsupportedMediaType,
		Message:    `Unsupported Content-Encoding: "` + token + `".`,
	}
}

// NewUnsupportedCharset reports a charset outside utf-8/utf8/utf16le.
// The token is echoed upper-cased.
func NewUnsupportedCharset(upper string) *Failure {
	return &Failure{
		Kind:       UnsupportedCharset,
		StatusCode: http.StatusUnsupportedMediaType,
		Message:    `Unsupported charset "` + upper + `".`,
	}
}

// NewBodyTooLarge reports a decoded body above the configured ceiling.
func NewBodyTooLarge(limit int64) *Failure {
	return &Failure{
		Kind:       BodyTooLarge,
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    "Request body is too large.",
		Err:        fmt.Errorf("decoded body exceeds %d bytes", limit),
	}
}

// NewInvalidBody reports a stream-level read failure (bad gzip data, truncated stream).
func NewInvalidBody(err error) *Failure {
	return &Failure{Kind: MalformedBody, StatusCode: http.StatusBadRequest, Message: "Invalid request body.", Err: err}
}

// NewNotJSONObject reports a JSON body that is not a single JSON object.
func NewNotJSONObject(err error) *Failure {
	return &Failure{
		Kind:       MalformedBody,
		StatusCode: http.StatusBadRequest,
		Message:    "Request body is not a valid JSON object.",
		Err:        err,
	}
}

// NewQueryInSearchParams reports raw query text in the search params while strict.
func NewQueryInSearchParams() *Failure {
	return &Failure{
		Kind:       StrictViolation,
		StatusCode: http.StatusBadRequest,
		Message:    `Search params have "query" but only persisted queries are allowed.`,
	}
}

// NewQueryInBody reports raw query text in the body while strict.
func NewQueryInBody() *Failure {
	return &Failure{
		Kind:       StrictViolation,
		StatusCode: http.StatusBadRequest,
		Message:    `Request body has "query" but only persisted queries are allowed.`,
	}
}

// NewMissingQueryID reports a strict request that supplied no query ID.
func NewMissingQueryID(queryIDKey string) *Failure {
	return &Failure{
		Kind:       StrictViolation,
		StatusCode: http.StatusBadRequest,
		Message: `Request must provide a query ID under "` + queryIDKey +
			`" key either in search params or request body.`,
	}
}

// NewQueryIDNotFound reports a query ID with no persisted query. The ID is
// interpolated verbatim.
func NewQueryIDNotFound(queryID string) *Failure {
	return &Failure{
		Kind:       QueryIDNotFound,
		StatusCode: http.StatusBadRequest,
		Message:    `The provided query ID "` + queryID + `" did not match any persisted query.`,
	}
}
