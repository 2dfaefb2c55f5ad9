package failure

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// ContentType is the media type of every error envelope.
const ContentType = "application/json; charset=utf-8"

type envelopeError struct {
	Message string `json:"message"`
}

type envelope struct {
	Errors []envelopeError `json:"errors"`
}

// Encode renders f as {"errors":[{"message":...}]}.
func Encode(f *Failure) []byte {
	return encodeMessage(f.Message)
}

func encodeMessage(msg string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// A struct of strings cannot fail to encode.
	_ = enc.Encode(envelope{Errors: []envelopeError{{Message: msg}}})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Write sends err to w as a GraphQL error envelope. Errors that are not a
// *Failure are reported as 500 with their message preserved.
func Write(w http.ResponseWriter, err error) error {
	f := From(err)
	return WriteMessage(w, f.StatusCode, f.Message)
}

// WriteMessage sends a single-message error envelope with the given status.
func WriteMessage(w http.ResponseWriter, status int, msg string) error {
	payload := encodeMessage(msg)

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(status)
	_, err := w.Write(payload)
	return err
}
