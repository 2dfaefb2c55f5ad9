package bodyparse

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pq-gateway/internal/failure"
)

// DefaultCharset applies when the Content-Type carries no charset parameter.
const DefaultCharset = "utf-8"

var charsets = map[string]encoding.Encoding{
	"utf-8":   unicode.UTF8,
	"utf8":    unicode.UTF8,
	"utf16le": unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
}

// CharsetDecoder turns decoded body bytes into text.
type CharsetDecoder struct {
	charset string
	enc     encoding.Encoding
}

// NewCharsetDecoder looks up charset case-insensitively. Unsupported
// charsets are reported upper-cased.
func NewCharsetDecoder(charset string) (*CharsetDecoder, error) {
	if charset == "" {
		charset = DefaultCharset
	}
	name := strings.ToLower(charset)
	enc, ok := charsets[name]
	if !ok {
		return nil, failure.NewUnsupportedCharset(strings.ToUpper(charset))
	}
	return &CharsetDecoder{charset: name, enc: enc}, nil
}

// Charset returns the lower-cased charset name.
func (d *CharsetDecoder) Charset() string { return d.charset }

// Decode reads r to the end. Invalid byte sequences become U+FFFD.
// Failures raised by r are returned unchanged.
func (d *CharsetDecoder) Decode(r io.Reader) (string, error) {
	var sb strings.Builder
	if _, err := io.Copy(&sb, transform.NewReader(r, d.enc.NewDecoder())); err != nil {
		var f *failure.Failure
		if errors.As(err, &f) {
			return "", f
		}
		return "", failure.NewInvalidBody(err)
	}
	return sb.String(), nil
}
