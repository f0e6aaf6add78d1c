package echo

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
)

type recorder struct {
	status int
	header http.Header
	writes []string
	fins   []bool
	ended  bool
}

func (r *recorder) SendHeaders(status int, header http.Header, endStream bool) error {
	r.status = status
	r.header = header.Clone()
	r.ended = endStream
	return nil
}

func (r *recorder) WriteData(p []byte, endStream bool) (int, error) {
	r.writes = append(r.writes, string(p))
	r.fins = append(r.fins, endStream)
	r.ended = endStream
	return len(p), nil
}

func (r *recorder) WriteTrailers(http.Header) error { return errors.New("unexpected trailers") }

func (r *recorder) ID() uint32 { return 3 }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func newRequest(t *testing.T, method string, body *strings.Reader, header http.Header) *http.Request {
	t.Helper()
	u, err := url.Parse("https://example.test/echo")
	require.NoError(t, err)
	req := &http.Request{Method: method, URL: u, Header: header}
	if body != nil {
		req.Body = readCloser{body}
	}
	return req
}

type readCloser struct{ *strings.Reader }

func (readCloser) Close() error { return nil }

func TestEcho_Body(t *testing.T) {
	h, err := New(nil, logger.NewDiscardLogger())
	require.NoError(t, err)

	rec := &recorder{}
	h.ServeHTTP2(rec, newRequest(t, http.MethodPost, strings.NewReader("ping"), http.Header{"Content-Type": {"text/plain"}}))
	assert.Equal(t, http.StatusOK, rec.status)
	assert.Equal(t, "text/plain", rec.header.Get("Content-Type"))
	assert.Equal(t, "4", rec.header.Get("Content-Length"))
	assert.Equal(t, http.MethodPost, rec.header.Get("X-Echo-Method"))
	assert.Equal(t, []string{"ping"}, rec.writes)
	assert.True(t, rec.ended)
}

func TestEcho_Chunked(t *testing.T) {
	h, err := New(json.RawMessage(`{"status":202,"chunk_size":3}`), logger.NewDiscardLogger())
	require.NoError(t, err)

	rec := &recorder{}
	h.ServeHTTP2(rec, newRequest(t, http.MethodPut, strings.NewReader("abcdefgh"), http.Header{}))
	assert.Equal(t, http.StatusAccepted, rec.status)
	assert.Equal(t, "application/octet-stream", rec.header.Get("Content-Type"))
	assert.Equal(t, []string{"abc", "def", "gh"}, rec.writes)
	assert.Equal(t, []bool{false, false, true}, rec.fins)
}

func TestEcho_NoBody(t *testing.T) {
	h, err := New(nil, logger.NewDiscardLogger())
	require.NoError(t, err)

	rec := &recorder{}
	h.ServeHTTP2(rec, newRequest(t, http.MethodGet, nil, http.Header{}))
	assert.True(t, rec.ended)
	assert.Empty(t, rec.writes)
}

func TestEcho_ReadFailure(t *testing.T) {
	h, err := New(nil, logger.NewDiscardLogger())
	require.NoError(t, err)

	u, _ := url.Parse("https://example.test/echo")
	req := &http.Request{Method: http.MethodPost, URL: u, Header: http.Header{}, Body: nopCloser{failingReader{}}}
	rec := &recorder{}
	h.ServeHTTP2(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.status)
}

type nopCloser struct{ failingReader }

func (nopCloser) Close() error { return nil }

func TestNew_Invalid(t *testing.T) {
	_, err := New(json.RawMessage(`{"chunk_size":-1}`), logger.NewDiscardLogger())
	assert.Error(t, err)
	_, err = New(json.RawMessage(`[`), logger.NewDiscardLogger())
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	reg := router.NewHandlerRegistry()
	require.NoError(t, Register(reg))
	h, err := reg.CreateHandler(HandlerType, nil, logger.NewDiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Handler{}, h)
}
