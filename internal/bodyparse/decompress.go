// Package bodyparse materializes HTTP request bodies of JSON or URL-encoded
// form type into a body mapping, with bounded memory use.
//
// A body passes through three stages: Content-Encoding decoding with a
// decoded-byte ceiling, charset decoding, and structured parsing. Encoding and
// charset are both validated before the first byte of the stream is read.
package bodyparse

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"pq-gateway/internal/failure"
)

type decodeFunc func(io.Reader) (io.ReadCloser, error)

// Decompressor undoes at most one Content-Encoding and enforces a ceiling on
// the number of decoded bytes.
type Decompressor struct {
	encoding string
	limit    int64
	decode   decodeFunc
}

// NewDecompressor validates the Content-Encoding token without touching any stream.
// An empty token means identity.
func NewDecompressor(encoding string, limit int64) (*Decompressor, error) {
	token := strings.ToLower(strings.TrimSpace(encoding))
	if token == "" {
		token = "identity"
	}

	var decode decodeFunc
	switch token {
	case "identity":
		decode = func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }
	case "gzip":
		decode = func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }
	case "deflate":
		decode = zlib.NewReader
	default:
		return nil, failure.NewUnsupportedEncoding(token)
	}

	return &Decompressor{encoding: token, limit: limit, decode: decode}, nil
}

// Encoding returns the normalized Content-Encoding token.
func (d *Decompressor) Encoding() string { return d.encoding }

// Open wraps body in the decoder. Reads from the returned stream fail with a
// BodyTooLarge failure as soon as the decoded size crosses the ceiling.
func (d *Decompressor) Open(body io.ReadCloser) (io.ReadCloser, error) {
	dec, err := d.decode(body)
	if err != nil {
		return nil, failure.NewInvalidBody(err)
	}
	return &boundedReader{dec: dec, raw: body, limit: d.limit}, nil
}

// boundedReader counts decoded bytes. It never delivers a byte past the limit.
type boundedReader struct {
	dec   io.ReadCloser
	raw   io.Closer
	limit int64
	n     int64
	err   error

	closed bool
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	// One byte of look-ahead is enough to detect the crossing.
	if room := b.limit + 1 - b.n; int64(len(p)) > room {
		p = p[:room]
	}
	n, err := b.dec.Read(p)
	b.n += int64(n)
	if b.n > b.limit {
		b.err = failure.NewBodyTooLarge(b.limit)
		_ = b.Close()
		return n - int(b.n-b.limit), b.err
	}
	if err != nil && err != io.EOF {
		b.err = failure.NewInvalidBody(err)
		return n, b.err
	}
	return n, err
}

func (b *boundedReader) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	derr := b.dec.Close()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return derr
}
