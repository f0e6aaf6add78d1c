package memsession

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

// recordingDelegate captures stream and push events.
type recordingDelegate struct {
	dataAvailable int
	trailers      transport.HeaderBlock
	trailerLen    int
	closed        int
	errs          []error

	varyOK     bool
	rendezvous []transport.Stream
	results    int
}

func (d *recordingDelegate) OnTrailingHeadersAvailable(h transport.HeaderBlock, n int) {
	d.trailers = h
	d.trailerLen = n
}
func (d *recordingDelegate) OnDataAvailable() { d.dataAvailable++ }
func (d *recordingDelegate) OnClose()         { d.closed++ }
func (d *recordingDelegate) OnError(err error) {
	d.errs = append(d.errs, err)
}
func (d *recordingDelegate) CheckVary(_, _, _ transport.HeaderBlock) bool { return d.varyOK }
func (d *recordingDelegate) OnRendezvousResult(st transport.Stream) {
	d.results++
	d.rendezvous = append(d.rendezvous, st)
}

// completion records the result of a pending operation.
type completion struct {
	called int
	n      int
	err    error
}

func (c *completion) fn() transport.CompletionFunc {
	return func(n int, err error) {
		c.called++
		c.n = n
		c.err = err
	}
}

func requestBlock(t *testing.T, method, rawURL string, header http.Header) transport.HeaderBlock {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return transport.NewRequestHeaderBlock(method, u, header)
}

// okHandler answers with 200 and body, echoing the request body length in
// a header.
func okHandler(body string) router.Handler {
	return router.HandlerFunc(func(w router.ResponseWriter, req *http.Request) {
		got, _ := io.ReadAll(req.Body)
		h := http.Header{"X-Request-Bytes": {strconv.Itoa(len(got))}, "X-Method": {req.Method}}
		if body == "" {
			_ = w.SendHeaders(http.StatusOK, h, true)
			return
		}
		_ = w.SendHeaders(http.StatusOK, h, false)
		_, _ = w.WriteData([]byte(body), true)
	})
}

func openStream(t *testing.T, s *Session, d transport.StreamDelegate) transport.Stream {
	t.Helper()
	require.NoError(t, s.RequestStream(false, func(int, error) { t.Fatal("unexpected completion") }))
	return s.ReleaseStream(d)
}

func TestRequestStream_Sync(t *testing.T) {
	s := New(nil)
	d := &recordingDelegate{}

	first := openStream(t, s, d)
	second := openStream(t, s, d)
	assert.Equal(t, transport.StreamID(5), first.ID())
	assert.Equal(t, transport.StreamID(7), second.ID())
	assert.True(t, first.IsFirstStream())
	assert.False(t, second.IsFirstStream())
	assert.Equal(t, 2, s.ActiveStreams())
	assert.Equal(t, []string{"request_stream", "release_stream 5", "request_stream", "release_stream 7"}, s.Events())
}

func TestRequestStream_Disconnected(t *testing.T) {
	s := New(nil)
	s.Abort(transport.ConnPeerGoingAway, "bye")
	err := s.RequestStream(false, func(int, error) {})
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
	assert.False(t, s.IsConnected())
}

func TestRequestStream_Async(t *testing.T) {
	s := New(nil, WithAsyncStreamRequests(true))
	var c completion
	err := s.RequestStream(false, c.fn())
	require.ErrorIs(t, err, transport.ErrPending)
	assert.Zero(t, c.called)

	s.RunUntilIdle()
	require.Equal(t, 1, c.called)
	require.NoError(t, c.err)
	st := s.ReleaseStream(&recordingDelegate{})
	assert.Equal(t, transport.StreamID(5), st.ID())
}

func TestRequestStream_WaitsForConfirmation(t *testing.T) {
	s := New(nil, WithHandshakeConfirmed(false))
	assert.True(t, s.ConnectTiming().SSLEnd.IsZero())

	// Requests that do not need confirmation go through.
	require.NoError(t, s.RequestStream(false, nil))
	s.ReleaseStream(&recordingDelegate{})

	var c completion
	require.ErrorIs(t, s.RequestStream(true, c.fn()), transport.ErrPending)
	s.RunUntilIdle()
	assert.Zero(t, c.called)

	s.ConfirmHandshake()
	assert.True(t, s.IsHandshakeConfirmed())
	assert.False(t, s.ConnectTiming().SSLEnd.IsZero())
	s.RunUntilIdle()
	assert.Equal(t, 1, c.called)
	assert.NoError(t, c.err)
}

func TestFailStreamRequests(t *testing.T) {
	boom := errors.New("boom")

	s := New(nil)
	s.FailStreamRequests(boom)
	assert.Equal(t, boom, s.RequestStream(false, nil))

	s = New(nil, WithAsyncStreamRequests(true))
	s.FailStreamRequests(boom)
	var c completion
	require.ErrorIs(t, s.RequestStream(false, c.fn()), transport.ErrPending)
	s.RunUntilIdle()
	assert.Equal(t, boom, c.err)

	s.FailStreamRequests(nil)
	require.ErrorIs(t, s.RequestStream(false, c.fn()), transport.ErrPending)
	s.RunUntilIdle()
	assert.NoError(t, c.err)
}

func TestReleaseStream_WithoutGrantPanics(t *testing.T) {
	s := New(nil)
	assert.Panics(t, func() { s.ReleaseStream(&recordingDelegate{}) })
}

func TestRoundTrip(t *testing.T) {
	s := New(nil, WithHandler(okHandler("hello world")))
	d := &recordingDelegate{}
	st := openStream(t, s, d)

	n, err := st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/a", http.Header{"Accept": {"*/*"}}), true)
	require.NoError(t, err)
	assert.Greater(t, n, headerFrameOverhead)

	var resp transport.HeaderBlock
	var c completion
	_, err = st.ReadInitialHeaders(&resp, c.fn())
	require.ErrorIs(t, err, transport.ErrPending)

	s.RunUntilIdle()
	require.Equal(t, 1, c.called)
	assert.Greater(t, c.n, headerFrameOverhead)
	parsed, err := resp.ParseResponse()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, parsed.StatusCode)
	assert.Equal(t, "GET", parsed.Header.Get("X-Method"))
	assert.Equal(t, 1, d.dataAvailable)

	// Headers already arrived: synchronous.
	var again transport.HeaderBlock
	n, err = st.ReadInitialHeaders(&again, nil)
	require.NoError(t, err)
	assert.Equal(t, c.n, n)

	buf := make([]byte, 5)
	n, err = st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.False(t, st.IsDoneReading())

	rest := make([]byte, 64)
	n, err = st.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest[:n]))
	assert.True(t, st.IsDoneReading())
	assert.Equal(t, int64(11), st.NumBytesConsumed())
	assert.Equal(t, int64(11), st.BytesRead())

	n, err = st.Read(rest)
	assert.NoError(t, err)
	assert.Zero(t, n)

	st.OnFinRead()
	assert.Equal(t, 1, d.closed)
	assert.Zero(t, s.ActiveStreams())
}

func TestRead_PendingUntilData(t *testing.T) {
	s := New(nil)
	st := openStream(t, s, &recordingDelegate{})
	_, err := st.Read(make([]byte, 4))
	assert.ErrorIs(t, err, transport.ErrPending)
}

func TestWriteStreamData_FlowControl(t *testing.T) {
	s := New(nil, WithStreamSendWindow(4), WithHandler(okHandler("")))
	st := openStream(t, s, &recordingDelegate{})
	_, err := st.WriteHeaders(requestBlock(t, http.MethodPost, "https://example.test/upload", nil), false)
	require.NoError(t, err)

	var c completion
	err = st.WriteStreamData([]byte("0123456789"), true, c.fn())
	require.ErrorIs(t, err, transport.ErrPending)
	assert.Equal(t, int64(4), st.BytesWritten())
	assert.Panics(t, func() { _ = st.WriteStreamData([]byte("x"), false, nil) })

	var resp transport.HeaderBlock
	var hc completion
	_, err = st.ReadInitialHeaders(&resp, hc.fn())
	require.ErrorIs(t, err, transport.ErrPending)

	s.RunUntilIdle()
	require.Equal(t, 1, c.called)
	assert.NoError(t, c.err)
	assert.Equal(t, 10, c.n)
	assert.Equal(t, int64(10), st.BytesWritten())

	require.Equal(t, 1, hc.called)
	parsed, err := resp.ParseResponse()
	require.NoError(t, err)
	assert.Equal(t, "10", parsed.Header.Get("X-Request-Bytes"))
	assert.Equal(t, "POST", parsed.Header.Get("X-Method"))
}

func TestWriteStreamData_Errors(t *testing.T) {
	s := New(nil)
	st := openStream(t, s, &recordingDelegate{})
	assert.Error(t, st.WriteStreamData([]byte("x"), false, nil), "no headers yet")

	_, err := st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/", nil), true)
	require.NoError(t, err)
	assert.Error(t, st.WriteStreamData([]byte("x"), false, nil), "write side finished")

	_, err = st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/", nil), true)
	assert.Error(t, err)
}

func TestTrailers(t *testing.T) {
	h := router.HandlerFunc(func(w router.ResponseWriter, _ *http.Request) {
		_ = w.SendHeaders(http.StatusOK, http.Header{}, false)
		_, _ = w.WriteData([]byte("ab"), false)
		_ = w.WriteTrailers(http.Header{"X-Sum": {"3"}})
		assert.Error(t, w.WriteTrailers(http.Header{}))
	})
	s := New(nil, WithHandler(h))
	d := &recordingDelegate{}
	st := openStream(t, s, d)
	_, err := st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/t", nil), true)
	require.NoError(t, err)
	s.RunUntilIdle()

	v, ok := d.trailers.Get("x-sum")
	require.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Greater(t, d.trailerLen, headerFrameOverhead)
	_, hasStatus := d.trailers.Get(":status")
	assert.False(t, hasStatus)

	assert.False(t, st.IsDoneReading(), "body still buffered")
	_, _ = st.Read(make([]byte, 8))
	assert.True(t, st.IsDoneReading())
}

func TestNoHandler_NotFound(t *testing.T) {
	s := New(nil)
	st := openStream(t, s, &recordingDelegate{})
	_, err := st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/x", nil), true)
	require.NoError(t, err)
	s.RunUntilIdle()

	var resp transport.HeaderBlock
	_, err = st.ReadInitialHeaders(&resp, nil)
	require.NoError(t, err)
	status, _ := resp.Get(":status")
	assert.Equal(t, "404", status)
}

func TestResetStreamFromPeer(t *testing.T) {
	s := New(nil)
	d := &recordingDelegate{}
	st := openStream(t, s, d)

	require.NoError(t, s.ResetStreamFromPeer(st.ID(), transport.StreamRefused))
	assert.Equal(t, 1, d.closed)
	assert.Equal(t, transport.StreamRefused, st.StreamError())
	assert.Error(t, s.ResetStreamFromPeer(st.ID(), transport.StreamRefused))

	_, err := st.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestLocalReset(t *testing.T) {
	s := New(nil, WithHandler(okHandler("late")))
	d := &recordingDelegate{}
	st := openStream(t, s, d)
	_, err := st.WriteHeaders(requestBlock(t, http.MethodGet, "https://example.test/", nil), true)
	require.NoError(t, err)

	st.Reset(transport.StreamCancelled)
	st.Reset(transport.StreamCancelled)
	s.RunUntilIdle()

	assert.Zero(t, d.closed, "local reset is not reported")
	assert.Zero(t, d.dataAvailable, "nothing delivered after reset")
	assert.Equal(t, transport.StreamCancelled, st.StreamError())
	assert.Contains(t, s.Events(), "reset 5 STREAM_CANCELLED")
}

func TestAbort(t *testing.T) {
	s := New(nil, WithHandshakeConfirmed(false))
	d := &recordingDelegate{}
	st := openStream(t, s, d)

	var waiting completion
	require.ErrorIs(t, s.RequestStream(true, waiting.fn()), transport.ErrPending)

	s.Abort(transport.ConnNetworkIdleTimeout, "idle")
	s.Abort(transport.ConnNetworkIdleTimeout, "again")

	require.Len(t, d.errs, 1)
	var se *transport.SessionError
	require.ErrorAs(t, d.errs[0], &se)
	assert.Equal(t, transport.ConnNetworkIdleTimeout, se.Code)
	assert.Equal(t, transport.StreamConnectionError, st.StreamError())
	assert.Equal(t, transport.ConnNetworkIdleTimeout, st.ConnectionError())

	require.Equal(t, 1, waiting.called)
	assert.ErrorAs(t, waiting.err, &se)

	_, err := s.PeerAddress()
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)

	var details transport.ErrorDetails
	s.PopulateErrorDetails(&details)
	assert.Equal(t, transport.ConnNetworkIdleTimeout, details.ConnectionError)
	assert.False(t, details.HandshakeConfirmed)
	assert.Zero(t, details.ActiveStreams)
	assert.Equal(t, transport.ConnectionInfoFromVersion(transport.Version39), details.ConnectionInfo)
}

func TestConnectionState(t *testing.T) {
	s := New(nil, WithServerID(transport.ServerID{Host: "www.example.org", Port: 443}))
	state, ok := s.ConnectionState()
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS13), state.Version)
	assert.True(t, state.HandshakeComplete)
	require.Len(t, state.PeerCertificates, 1)
	assert.Contains(t, state.PeerCertificates[0].DNSNames, "www.example.org")
	assert.NoError(t, state.PeerCertificates[0].VerifyHostname("www.example.org"))

	again, _ := s.ConnectionState()
	assert.Same(t, state.PeerCertificates[0], again.PeerCertificates[0], "generated once")

	_, ok = New(nil, WithTLS(false)).ConnectionState()
	assert.False(t, ok)
}

func TestDisableConnectionMigration(t *testing.T) {
	s := New(nil)
	st := openStream(t, s, &recordingDelegate{})
	st.DisableConnectionMigration()
	assert.Contains(t, s.Events(), "disable_migration 5")
}
