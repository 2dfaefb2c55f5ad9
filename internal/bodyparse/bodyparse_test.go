package bodyparse

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"pq-gateway/internal/failure"
	"pq-gateway/internal/model"
)

const testLimit = 100 << 10

func encodeCharset(t *testing.T, charset, s string) []byte {
	t.Helper()
	if charset == "utf16le" {
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(s)
		require.NoError(t, err)
		return []byte(out)
	}
	return []byte(s)
}

func compress(t *testing.T, encoding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "deflate":
		w := zlib.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.Write(data)
	}
	return buf.Bytes()
}

func newRequest(body []byte, contentType, encoding string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	return req
}

func requireFailure(t *testing.T, err error, status int, msg string) {
	t.Helper()
	require.Error(t, err)
	f := failure.From(err)
	assert.Equal(t, status, f.StatusCode)
	if msg != "" {
		assert.Equal(t, msg, f.Message)
	}
}

// failReader fails the test if anything reads it.
type failReader struct{ t *testing.T }

func (r failReader) Read([]byte) (int, error) {
	r.t.Error("body stream must not be read")
	return 0, io.ErrUnexpectedEOF
}

func TestMaterialize_RoundTrip(t *testing.T) {
	original := `{"queryId":"greet","variables":{"name":"Zoë","n":12345678901234567890},"list":[1,"二",null]}`
	var want map[string]any
	dec := json.NewDecoder(strings.NewReader(original))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&want))

	for _, charset := range []string{"utf-8", "utf8", "utf16le"} {
		for _, encoding := range []string{"identity", "gzip", "deflate"} {
			t.Run(charset+"/"+encoding, func(t *testing.T) {
				body := compress(t, encoding, encodeCharset(t, charset, original))
				req := newRequest(body, "application/json; charset="+charset, encoding)

				got, err := NewMaterializer(testLimit).Materialize(req, nil)
				require.NoError(t, err)
				m, ok := model.AsMapping(got)
				require.True(t, ok)
				assert.Equal(t, want, map[string]any(m))
			})
		}
	}
}

func TestMaterialize_UnsupportedEncoding(t *testing.T) {
	for _, body := range []string{`{"a":1}`, "not json", ""} {
		for _, token := range []string{"br", "compress", "gzip, deflate", "x-custom"} {
			req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Content-Encoding", token)

			_, err := NewMaterializer(testLimit).Materialize(req, nil)
			requireFailure(t, err, http.StatusUnsupportedMediaType, `Unsupported Content-Encoding: "`+token+`".`)
		}
	}
}

func TestMaterialize_UnsupportedCharset(t *testing.T) {
	tests := []struct {
		charset string
		want    string
	}{
		{"utf-18", `Unsupported charset "UTF-18".`},
		{"Latin1", `Unsupported charset "LATIN1".`},
		{"utf-16", `Unsupported charset "UTF-16".`},
	}
	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graphql", io.NopCloser(failReader{t}))
			req.Header.Set("Content-Type", "application/json; charset="+tt.charset)

			_, err := NewMaterializer(testLimit).Materialize(req, nil)
			requireFailure(t, err, http.StatusUnsupportedMediaType, tt.want)
		})
	}
}

func TestMaterialize_CharsetCaseInsensitive(t *testing.T) {
	req := newRequest([]byte(`{"a":"b"}`), "application/json; charset=UTF-8", "")
	got, err := NewMaterializer(testLimit).Materialize(req, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BodyMapping{"a": "b"}, got)
}

func TestMaterialize_ExistingMappingIsUntouched(t *testing.T) {
	existing := model.BodyMapping{"query": "{ a }"}
	req := httptest.NewRequest(http.MethodPost, "/graphql", io.NopCloser(failReader{t}))
	req.Header.Set("Content-Type", "application/json")

	got, err := NewMaterializer(testLimit).Materialize(req, existing)
	require.NoError(t, err)
	m, ok := model.AsMapping(got)
	require.True(t, ok)
	m["marker"] = true
	assert.Equal(t, true, existing["marker"], "mapping must be returned by identity")
}

func TestMaterialize_NoContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", io.NopCloser(failReader{t}))
	got, err := NewMaterializer(testLimit).Materialize(req, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMaterialize_OtherContentTypeLeavesStream(t *testing.T) {
	req := newRequest([]byte("--boundary"), "multipart/form-data; boundary=boundary", "")
	got, err := NewMaterializer(testLimit).Materialize(req, "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "--boundary", string(rest))
}

func TestMaterialize_NonMappingBodyIsReparsed(t *testing.T) {
	req := newRequest([]byte(`{"a":"b"}`), "application/json", "")
	got, err := NewMaterializer(testLimit).Materialize(req, "already a string")
	require.NoError(t, err)
	assert.Equal(t, model.BodyMapping{"a": "b"}, got)
}

func TestMaterialize_SizeBoundary(t *testing.T) {
	// 7 characters but 12 bytes in UTF-8.
	body := []byte(`{"a":"éééééé"}`)
	size := int64(len(body))
	require.Less(t, int64(len([]rune(string(body)))), size)

	for _, encoding := range []string{"identity", "gzip", "deflate"} {
		t.Run(encoding, func(t *testing.T) {
			req := newRequest(compress(t, encoding, body), "application/json", encoding)
			_, err := NewMaterializer(size).Materialize(req, nil)
			require.NoError(t, err)

			req = newRequest(compress(t, encoding, body), "application/json", encoding)
			_, err = NewMaterializer(size-1).Materialize(req, nil)
			requireFailure(t, err, http.StatusRequestEntityTooLarge, "Request body is too large.")
		})
	}
}

func TestMaterialize_LimitAppliesToDecodedSize(t *testing.T) {
	body := []byte(`{"a":"` + strings.Repeat("x", 4096) + `"}`)
	compressed := compress(t, "gzip", body)
	require.Less(t, len(compressed), 1024)

	req := newRequest(compressed, "application/json", "gzip")
	_, err := NewMaterializer(1024).Materialize(req, nil)
	requireFailure(t, err, http.StatusRequestEntityTooLarge, "")
}

func TestMaterialize_MalformedStreams(t *testing.T) {
	valid := compress(t, "gzip", []byte(`{"a":"b"}`))
	tests := []struct {
		name     string
		body     []byte
		encoding string
	}{
		{"not gzip", []byte("plain text"), "gzip"},
		{"truncated gzip", valid[:len(valid)-6], "gzip"},
		{"empty gzip", nil, "gzip"},
		{"not zlib", []byte("plain text"), "deflate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(tt.body, "application/json", tt.encoding)
			_, err := NewMaterializer(testLimit).Materialize(req, nil)
			requireFailure(t, err, http.StatusBadRequest, "Invalid request body.")
		})
	}
}

func TestMaterialize_Form(t *testing.T) {
	req := newRequest([]byte("queryId=greet&tag=a&tag=b&name=J%C3%BCrgen+X"), "application/x-www-form-urlencoded", "")
	got, err := NewMaterializer(testLimit).Materialize(req, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BodyMapping{
		"queryId": "greet",
		"tag":     []string{"a", "b"},
		"name":    "Jürgen X",
	}, got)
}

func TestParse_JSONObjectCheck(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"[]",
		`"query"`,
		"42",
		"null",
		"\v{}",
		"\u00a0{}",
		`{"a":`,
		`{"a":1} {"b":2}`,
		`{"a":1}x`,
	}
	for _, text := range bad {
		t.Run(text, func(t *testing.T) {
			_, _, err := Parse(MediaTypeJSON, text)
			requireFailure(t, err, http.StatusBadRequest, "Request body is not a valid JSON object.")
		})
	}

	m, ok, err := Parse(MediaTypeJSON, " \t\r\n{\"a\":true}\n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.BodyMapping{"a": true}, m)
}

func TestParse_OtherTypes(t *testing.T) {
	m, ok, err := Parse("text/plain", "{}")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestParseContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		charset string
	}{
		{"application/json", "application/json", ""},
		{"Application/JSON; Charset=utf16le", "application/json", "utf16le"},
		{"application/json; charset", "application/json", ""},
		{"application/x-www-form-urlencoded;charset=utf-8", "application/x-www-form-urlencoded", "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mediaType, params := parseContentType(tt.in)
			assert.Equal(t, tt.want, mediaType)
			assert.Equal(t, tt.charset, params["charset"])
		})
	}
}

func TestMaterialize_FormKeepsSemicolons(t *testing.T) {
	req := newRequest([]byte("query=x;y&a;b=c&queryId=greet"), "application/x-www-form-urlencoded", "")
	got, err := NewMaterializer(testLimit).Materialize(req, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BodyMapping{
		"query":   "x;y",
		"a;b":     "c",
		"queryId": "greet",
	}, got)
}

func TestParseSearchParams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want url.Values
	}{
		{"empty", "", url.Values{}},
		{"plain", "a=1&b=2", url.Values{"a": {"1"}, "b": {"2"}}},
		{"repeated", "a=1&a=2", url.Values{"a": {"1", "2"}}},
		{"semicolon value", "queryId=a;b", url.Values{"queryId": {"a;b"}}},
		{"semicolon key", "q;id=x", url.Values{"q;id": {"x"}}},
		{"no equals", "flag", url.Values{"flag": {""}}},
		{"empty pairs", "&&a=1&", url.Values{"a": {"1"}}},
		{"value with equals", "a=b=c", url.Values{"a": {"b=c"}}},
		{"escapes", "name=J%C3%BCrgen+X", url.Values{"name": {"Jürgen X"}}},
		{"bad escape kept", "a=100%&b=%zz+1", url.Values{"a": {"100%"}, "b": {"%zz 1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSearchParams(tt.in))
		})
	}
}
