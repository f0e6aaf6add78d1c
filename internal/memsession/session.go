// Package memsession is an in-memory multiplexed session. A routed handler
// plays the remote peer, and every transport event is delivered through an
// EventLoop owned by the caller, so request lifecycles run deterministically.
package memsession

import (
	"crypto/tls"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

const (
	// Streams 1 and 3 carry the handshake and the header stream.
	firstClientStreamID transport.StreamID = 5
	firstPushStreamID   transport.StreamID = 2

	// headerFrameOverhead is added to every encoded header block.
	headerFrameOverhead = 9
)

var _ transport.Session = (*Session)(nil)

// Session implements transport.Session in memory.
type Session struct {
	loop *EventLoop
	log  *logger.Logger

	version  transport.Version
	peer     netip.AddrPort
	serverID transport.ServerID
	handler  router.Handler

	connected          bool
	handshakeConfirmed bool
	asyncRequests      bool
	sendWindow         uint32
	tlsEnabled         bool
	tlsState           *tls.ConnectionState

	connectTiming transport.ConnectTiming
	lastActivity  time.Time
	connErr       transport.ConnectionErrorCode

	// Each direction has its own HPACK context, as on a real connection.
	clientCodec *transport.HeaderCodec
	peerCodec   *transport.HeaderCodec

	streams      map[transport.StreamID]*stream
	nextStreamID transport.StreamID
	nextPushID   transport.StreamID

	pending      []*streamRequest
	granted      int
	requestsFail error

	push   *pushIndex
	events []string
}

// streamRequest is a RequestStream call waiting to be granted.
type streamRequest struct {
	requiresConfirmation bool
	cb                   transport.CompletionFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithVersion sets the negotiated transport version.
func WithVersion(v transport.Version) Option {
	return func(s *Session) { s.version = v }
}

// WithPeerAddress sets the address reported for the peer.
func WithPeerAddress(addr netip.AddrPort) Option {
	return func(s *Session) { s.peer = addr }
}

// WithServerID sets the origin the session is connected to.
func WithServerID(id transport.ServerID) Option {
	return func(s *Session) { s.serverID = id }
}

// WithHandler sets the peer's request handler, usually a router.Router.
func WithHandler(h router.Handler) Option {
	return func(s *Session) { s.handler = h }
}

// WithHandshakeConfirmed sets whether the handshake starts out confirmed.
// An unconfirmed session holds back streams that require confirmation until
// ConfirmHandshake.
func WithHandshakeConfirmed(confirmed bool) Option {
	return func(s *Session) { s.handshakeConfirmed = confirmed }
}

// WithAsyncStreamRequests makes every RequestStream go pending and be
// granted from the event loop.
func WithAsyncStreamRequests(async bool) Option {
	return func(s *Session) { s.asyncRequests = async }
}

// WithStreamSendWindow limits each stream's body send window. Zero leaves
// writes unlimited.
func WithStreamSendWindow(n uint32) Option {
	return func(s *Session) { s.sendWindow = n }
}

// WithTLS sets whether the session reports a TLS connection state.
func WithTLS(enabled bool) Option {
	return func(s *Session) { s.tlsEnabled = enabled }
}

// New creates a connected session.
func New(loop *EventLoop, opts ...Option) *Session {
	if loop == nil {
		loop = &EventLoop{}
	}
	now := time.Now()
	s := &Session{
		loop:               loop,
		log:                logger.NewDiscardLogger(),
		version:            transport.Version39,
		peer:               netip.MustParseAddrPort("127.0.0.1:443"),
		serverID:           transport.ServerID{Host: "localhost", Port: 443},
		connected:          true,
		handshakeConfirmed: true,
		tlsEnabled:         true,
		clientCodec:        transport.NewHeaderCodec(transport.DefaultHeaderTableSize),
		peerCodec:          transport.NewHeaderCodec(transport.DefaultHeaderTableSize),
		streams:            make(map[transport.StreamID]*stream),
		nextStreamID:       firstClientStreamID,
		nextPushID:         firstPushStreamID,
		lastActivity:       now,
		connectTiming: transport.ConnectTiming{
			DNSStart:     now,
			DNSEnd:       now,
			ConnectStart: now,
			ConnectEnd:   now,
			SSLStart:     now,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handshakeConfirmed {
		s.connectTiming.SSLEnd = now
	}
	s.push = newPushIndex(s)
	return s
}

// Loop returns the session's event loop.
func (s *Session) Loop() *EventLoop { return s.loop }

// RunUntilIdle delivers every queued transport event.
func (s *Session) RunUntilIdle() int { return s.loop.RunUntilIdle() }

// Events returns the session operations recorded so far, oldest first.
func (s *Session) Events() []string {
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Session) record(format string, args ...interface{}) {
	s.events = append(s.events, fmt.Sprintf(format, args...))
	s.lastActivity = time.Now()
}

func (s *Session) IsConnected() bool          { return s.connected }
func (s *Session) IsHandshakeConfirmed() bool { return s.handshakeConfirmed }
func (s *Session) Version() transport.Version { return s.version }
func (s *Session) ServerID() transport.ServerID {
	return s.serverID
}
func (s *Session) ConnectTiming() transport.ConnectTiming {
	return s.connectTiming
}

// PushIndex returns the session's push offers.
func (s *Session) PushIndex() transport.PushIndex { return s.push }

// PeerAddress returns the peer's address while connected.
func (s *Session) PeerAddress() (netip.AddrPort, error) {
	if !s.connected {
		return netip.AddrPort{}, errors.WithMessage(transport.ErrConnectionClosed, "no peer address")
	}
	return s.peer, nil
}

// ConnectionState returns a TLS 1.3 state backed by a self-signed
// certificate for the server host. The certificate is created on first use.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	if !s.tlsEnabled {
		return tls.ConnectionState{}, false
	}
	if s.tlsState == nil {
		state, err := newConnectionState(s.serverID.Host)
		if err != nil {
			s.log.Error("Failed to create TLS state", logger.LogFields{"error": err.Error()})
			return tls.ConnectionState{}, false
		}
		s.tlsState = &state
	}
	return *s.tlsState, true
}

// PopulateErrorDetails fills in connection diagnostics.
func (s *Session) PopulateErrorDetails(d *transport.ErrorDetails) {
	d.ConnectionInfo = transport.ConnectionInfoFromVersion(s.version)
	d.ConnectionError = s.connErr
	d.HandshakeConfirmed = s.handshakeConfirmed
	d.ActiveStreams = len(s.streams)
	d.IdleFor = time.Since(s.lastActivity)
}

// RequestStream implements transport.Session.
func (s *Session) RequestStream(requiresConfirmation bool, cb transport.CompletionFunc) error {
	s.record("request_stream")
	if !s.connected {
		return errors.WithMessage(transport.ErrConnectionClosed, "stream requested on a closed session")
	}

	if s.requestsFail != nil {
		if !s.asyncRequests {
			return s.requestsFail
		}
		err := s.requestsFail
		s.loop.Post(func() { cb(0, err) })
		return transport.ErrPending
	}

	if s.asyncRequests || (requiresConfirmation && !s.handshakeConfirmed) {
		req := &streamRequest{requiresConfirmation: requiresConfirmation, cb: cb}
		s.pending = append(s.pending, req)
		if !requiresConfirmation || s.handshakeConfirmed {
			s.loop.Post(func() { s.grant(req) })
		}
		return transport.ErrPending
	}

	s.granted++
	return nil
}

// grant hands a stream to a waiting request, if it is still waiting.
func (s *Session) grant(req *streamRequest) {
	for i, r := range s.pending {
		if r != req {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.granted++
		req.cb(0, nil)
		return
	}
}

// ReleaseStream implements transport.Session.
func (s *Session) ReleaseStream(d transport.StreamDelegate) transport.Stream {
	if s.granted == 0 {
		panic("memsession: ReleaseStream without a granted stream request")
	}
	s.granted--

	st := s.newStream(s.nextStreamID)
	s.nextStreamID += 2
	st.delegate = d
	s.streams[st.id] = st
	s.record("release_stream %d", st.id)
	s.log.Debug("Stream released", logger.LogFields{"stream_id": uint32(st.id)})
	return st
}

// ResetPromised implements transport.Session. Unknown ids are ignored.
func (s *Session) ResetPromised(id transport.StreamID, code transport.StreamErrorCode) {
	s.record("reset_promised %d %s", id, code)
	s.push.reset(id, code)
}

// ConfirmHandshake completes the handshake and grants the stream requests
// that waited for it.
func (s *Session) ConfirmHandshake() {
	if s.handshakeConfirmed {
		return
	}
	s.handshakeConfirmed = true
	s.connectTiming.SSLEnd = time.Now()
	s.record("handshake_confirmed")
	for _, req := range s.pending {
		req := req
		s.loop.Post(func() { s.grant(req) })
	}
}

// FailStreamRequests makes every later RequestStream fail with err. A nil
// err restores normal behavior.
func (s *Session) FailStreamRequests(err error) {
	s.requestsFail = err
}

// Abort closes the session with code. Open streams are told through
// OnError, waiting stream requests fail, and pending push claims are
// resolved without a stream.
func (s *Session) Abort(code transport.ConnectionErrorCode, msg string) {
	if !s.connected {
		return
	}
	s.connected = false
	s.connErr = code
	s.record("abort %s", code)
	s.log.Warn("Session aborted", logger.LogFields{"code": code.String(), "reason": msg})

	err := transport.NewSessionError(code, msg, nil)

	ids := make([]transport.StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		st := s.streams[id]
		if st == nil {
			continue
		}
		delete(s.streams, id)
		st.closed = true
		st.connErr = code
		st.streamErr = transport.StreamConnectionError
		st.window.Close()
		if d := st.delegate; d != nil {
			d.OnError(err)
		}
	}

	waiting := s.pending
	s.pending = nil
	for _, req := range waiting {
		req.cb(0, err)
	}

	s.push.abort()
}

// ResetStreamFromPeer resets stream id as if the peer sent a reset with
// code. The stream's delegate sees OnClose.
func (s *Session) ResetStreamFromPeer(id transport.StreamID, code transport.StreamErrorCode) error {
	st, ok := s.streams[id]
	if !ok {
		return errors.Errorf("no open stream %d", id)
	}
	s.record("peer_reset %d %s", id, code)
	st.streamErr = code
	s.closeStream(st)
	return nil
}

// ActiveStreams returns the number of open streams.
func (s *Session) ActiveStreams() int {
	return len(s.streams)
}

func (s *Session) newStream(id transport.StreamID) *stream {
	return &stream{
		session: s,
		id:      id,
		window:  newSendWindow(s.sendWindow, id),
	}
}

// closeStream removes st and reports the closure to its delegate.
func (s *Session) closeStream(st *stream) {
	if st.closed {
		return
	}
	st.closed = true
	st.window.Close()
	st.headersCb = nil
	st.blocked = nil
	delete(s.streams, st.id)
	s.log.Debug("Stream closed", logger.LogFields{
		"stream_id":    uint32(st.id),
		"stream_error": st.streamErr.String(),
	})
	if d := st.delegate; d != nil {
		d.OnClose()
	}
}

// encodeHeaders passes h through the HPACK contexts of one direction and
// returns the block as the receiver sees it with its frame length.
func encodeHeaders(enc, dec *transport.HeaderCodec, h transport.HeaderBlock) (transport.HeaderBlock, int, error) {
	wire, err := enc.Encode(h)
	if err != nil {
		return nil, 0, errors.Wrap(err, "encoding header block")
	}
	decoded, err := dec.Decode(wire)
	if err != nil {
		return nil, 0, errors.Wrap(err, "decoding header block")
	}
	return decoded, len(wire) + headerFrameOverhead, nil
}
