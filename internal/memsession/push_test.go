package memsession

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/transport"
)

const pushURL = "https://example.test/style.css"

func styleOffer() PushOffer {
	return PushOffer{
		URL:    pushURL,
		Header: http.Header{"Content-Type": {"text/css"}},
		Body:   []byte("body{}"),
	}
}

func TestGetPromised(t *testing.T) {
	s := New(nil)
	// A missing offer is a nil interface, not a typed nil.
	assert.True(t, s.PushIndex().GetPromised(pushURL) == nil)

	id, err := s.Promise(styleOffer())
	require.NoError(t, err)
	assert.Equal(t, transport.StreamID(2), id)

	p := s.PushIndex().GetPromised(pushURL)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID())
	assert.Equal(t, pushURL, p.URL())
}

func TestPromise_Invalid(t *testing.T) {
	s := New(nil)
	_, err := s.Promise(PushOffer{URL: "/relative"})
	assert.Error(t, err)

	_, err = s.Promise(styleOffer())
	require.NoError(t, err)
	_, err = s.Promise(styleOffer())
	assert.Error(t, err, "duplicate url")

	s.Abort(transport.ConnPeerGoingAway, "")
	_, err = s.Promise(PushOffer{URL: "https://example.test/other"})
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestTry_UnknownURL(t *testing.T) {
	s := New(nil)
	h, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), &recordingDelegate{varyOK: true})
	assert.Nil(t, h)
	assert.Equal(t, transport.AsyncFailure, status)
}

func TestTry_Success(t *testing.T) {
	s := New(nil)
	_, err := s.Push(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: true}
	h, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	assert.Nil(t, h)
	require.Equal(t, transport.AsyncSuccess, status)
	require.Equal(t, 1, d.results)
	st := d.rendezvous[0]
	require.NotNil(t, st)
	assert.Equal(t, transport.StreamID(2), st.ID())
	assert.False(t, st.IsFirstStream())
	assert.True(t, s.PushIndex().GetPromised(pushURL) == nil, "adopted offers leave the index")

	var resp transport.HeaderBlock
	_, err = st.ReadInitialHeaders(&resp, nil)
	require.NoError(t, err)
	ct, _ := resp.Get("content-type")
	assert.Equal(t, "text/css", ct)

	buf := make([]byte, 16)
	n, err := st.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(buf[:n]))
	assert.True(t, st.IsDoneReading())
}

func TestTry_VaryMismatch(t *testing.T) {
	s := New(nil)
	_, err := s.Push(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: false}
	_, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	assert.Equal(t, transport.AsyncFailure, status)
	require.Equal(t, 1, d.results)
	assert.Nil(t, d.rendezvous[0])
	assert.True(t, s.PushIndex().GetPromised(pushURL) == nil)
	assert.Contains(t, s.Events(), "reset_promised 2 PROMISE_VARY_MISMATCH")
}

func TestTry_PendingThenDelivered(t *testing.T) {
	s := New(nil)
	_, err := s.Promise(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: true}
	h, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	require.Equal(t, transport.AsyncPending, status)
	require.NotNil(t, h)
	assert.Zero(t, d.results)

	// A second claimant is turned away.
	other := &recordingDelegate{varyOK: true}
	_, status = s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), other)
	assert.Equal(t, transport.AsyncFailure, status)
	assert.Zero(t, other.results)

	require.NoError(t, s.DeliverPushResponse(pushURL))
	require.Equal(t, 1, d.results)
	assert.NotNil(t, d.rendezvous[0])

	// The handle is spent; cancelling it must not reset anything.
	h.Cancel()
	assert.Zero(t, countEvents(s, "reset_promised 2 STREAM_CANCELLED"))
	assert.Error(t, s.DeliverPushResponse(pushURL))
}

func TestTry_PendingThenVaryMismatch(t *testing.T) {
	s := New(nil)
	_, err := s.Promise(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: false}
	_, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	require.Equal(t, transport.AsyncPending, status)

	require.NoError(t, s.DeliverPushResponse(pushURL))
	require.Equal(t, 1, d.results, "notified exactly once")
	assert.Nil(t, d.rendezvous[0])
}

func TestPushHandle_Cancel(t *testing.T) {
	s := New(nil)
	_, err := s.Promise(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: true}
	h, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	require.Equal(t, transport.AsyncPending, status)

	h.Cancel()
	h.Cancel()
	assert.Zero(t, d.results, "cancelled claims are not notified")
	assert.True(t, s.PushIndex().GetPromised(pushURL) == nil)
	assert.Equal(t, 1, countEvents(s, "reset_promised 2 STREAM_CANCELLED"))
}

func TestResetPromised_NotifiesClaimant(t *testing.T) {
	s := New(nil)
	id, err := s.Promise(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: true}
	_, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	require.Equal(t, transport.AsyncPending, status)

	s.ResetPromised(id, transport.StreamRefused)
	require.Equal(t, 1, d.results)
	assert.Nil(t, d.rendezvous[0])

	// Unknown ids are ignored.
	s.ResetPromised(99, transport.StreamCancelled)
}

func TestAbort_FailsPendingClaims(t *testing.T) {
	s := New(nil)
	_, err := s.Promise(styleOffer())
	require.NoError(t, err)

	d := &recordingDelegate{varyOK: true}
	_, status := s.PushIndex().Try(requestBlock(t, http.MethodGet, pushURL, nil), d)
	require.Equal(t, transport.AsyncPending, status)

	s.Abort(transport.ConnPublicReset, "reset")
	require.Equal(t, 1, d.results)
	assert.Nil(t, d.rendezvous[0])
}

func countEvents(s *Session, ev string) int {
	n := 0
	for _, e := range s.Events() {
		if e == ev {
			n++
		}
	}
	return n
}
