// Package httpstream runs one HTTP request over one stream of an established
// multiplexed session.
//
// A Stream is driven from the session's event goroutine. Every operation
// either completes synchronously or returns transport.ErrPending, in which
// case the supplied callback is invoked later from a session event. At most
// one callback is outstanding at any time.
package httpstream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

// DefaultMaxPacketSize is the payload size of one transport packet.
const DefaultMaxPacketSize = 1350

// bodyBufferPackets is how many packets of upload data are read at once, so
// that body writes rarely produce partial packets.
const bodyBufferPackets = 10

var (
	_ transport.StreamDelegate = (*Stream)(nil)
	_ transport.PushDelegate   = (*Stream)(nil)
)

// Stream is the per-request state of one HTTP exchange.
type Stream struct {
	session transport.Session
	log     *logger.Logger

	bodyBufferSize   int
	disableMigration bool
	onTransition     func(State)

	next   State
	stream transport.Stream // nil before acquisition and after detach
	// detached is set once the stream was let go for any reason. Steps
	// check it before touching the stream.
	detached bool

	req         *RequestInfo
	reqHeader   http.Header
	priority    transport.RequestPriority
	requestTime time.Time
	upload      transport.UploadBody
	uploadEOF   bool // a read returned no data
	resp        *ResponseInfo

	requestHeaders  transport.HeaderBlock
	responseHeaders transport.HeaderBlock

	// Body transfer buffer: rawBody has the fixed capacity, body is the
	// unsent remainder of the last chunk read.
	rawBody []byte
	body    []byte

	hasStatus bool
	status    error

	responseHeadersReceived bool
	headersBytesReceived    int64
	headersBytesSent        int64
	closedReceivedBytes     int64
	closedSentBytes         int64
	closedIsFirstStream     bool

	connectTiming transport.ConnectTiming
	tlsState      tls.ConnectionState
	hasTLSState   bool

	sessionErr error // nil until the session reports an abort
	connErr    transport.ConnectionErrorCode
	streamErr  transport.StreamErrorCode

	foundPromise bool
	pushHandle   transport.PushHandle
	pushed       bool

	callback transport.CompletionFunc
	userBuf  []byte

	inLoop     bool
	generation uint64
	destroyed  bool
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// WithMaxPacketSize sizes the upload buffer from the transport's packet size.
func WithMaxPacketSize(n int) Option {
	return func(s *Stream) { s.bodyBufferSize = bodyBufferPackets * n }
}

// WithBodyBufferSize sets the upload buffer capacity directly.
func WithBodyBufferSize(n int) Option {
	return func(s *Stream) { s.bodyBufferSize = n }
}

// WithConnectionMigrationDisabled disables migration for every stream,
// regardless of the request's load flags.
func WithConnectionMigrationDisabled() Option {
	return func(s *Stream) { s.disableMigration = true }
}

// WithStateObserver registers fn to be called with every state the driver
// executes, and with StateOpen when the send side completes.
func WithStateObserver(fn func(State)) Option {
	return func(s *Stream) { s.onTransition = fn }
}

// New creates a Stream that will send its request over session.
func New(session transport.Session, opts ...Option) *Stream {
	s := &Stream{
		session:        session,
		log:            logger.NewDiscardLogger(),
		bodyBufferSize: bodyBufferPackets * DefaultMaxPacketSize,
		priority:       transport.MinimumPriority,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bodyBufferSize <= 0 {
		panic(fmt.Sprintf("httpstream: invalid body buffer size %d", s.bodyBufferSize))
	}
	return s
}

// InitializeStream binds the request to the session. When the session has a
// push offer for the request's URL, no stream is requested yet; the offer is
// claimed by SendRequest.
func (s *Stream) InitializeStream(req *RequestInfo, priority transport.RequestPriority, cb Callback) error {
	if s.callback != nil {
		panic("httpstream: InitializeStream with a callback outstanding")
	}
	if s.stream != nil {
		panic("httpstream: InitializeStream on an initialized stream")
	}

	// Callers may retry ErrHandshakeFailed over another transport, and
	// ErrConnectionClosed on another connection.
	if !s.session.IsConnected() {
		return s.responseStatus()
	}

	s.req = req
	s.requestTime = time.Now()
	s.priority = priority
	s.saveTLSState()
	s.log.Debug("Request bound to session", logger.LogFields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	if promised := s.session.PushIndex().GetPromised(req.URL.String()); promised != nil {
		s.foundPromise = true
		s.log.Info("Push promise rendezvous", logger.LogFields{
			"stream_id": uint32(promised.ID()),
			"url":       promised.URL(),
		})
		return nil
	}

	s.next = StateRequestingStream
	_, err := s.doLoop(0, nil)
	if errors.Is(err, transport.ErrPending) {
		s.arm(callbackFunc(cb))
	}
	return err
}

// SendRequest sends the request headers and body, or adopts a matching push
// stream. resp is filled in by ReadResponseHeaders.
func (s *Stream) SendRequest(header http.Header, resp *ResponseInfo, cb Callback) error {
	if s.upload != nil {
		panic("httpstream: SendRequest called twice")
	}
	if s.resp != nil {
		panic("httpstream: SendRequest with a response already bound")
	}
	if s.callback != nil {
		panic("httpstream: SendRequest with a callback outstanding")
	}
	if cb == nil || resp == nil {
		panic("httpstream: SendRequest needs a callback and a response")
	}
	if s.req == nil {
		panic("httpstream: SendRequest before InitializeStream")
	}

	// Adopting a push stream needs the session; anything else needs the
	// stream.
	if (!s.foundPromise && s.stream == nil) || !s.session.IsConnected() {
		return s.responseStatus()
	}

	s.reqHeader = header.Clone()
	s.requestHeaders = transport.NewRequestHeaderBlock(s.req.Method, s.req.URL, header)

	s.upload = s.req.Upload
	if s.upload != nil {
		// A request with a body cannot be served by a push, so give the
		// offer back before requesting a fresh stream.
		if s.foundPromise {
			s.releasePromise()
		}
		s.rawBody = make([]byte, s.bodyBufferSize)
		s.body = s.rawBody[:0]
	}

	s.resp = resp

	switch {
	case !s.foundPromise:
		s.next = StateSettingPriority
	case s.upload == nil:
		s.next = StateHandlingPromise
	default:
		s.foundPromise = false
		s.next = StateRequestingStream
	}
	_, err := s.doLoop(0, nil)
	if errors.Is(err, transport.ErrPending) {
		s.arm(callbackFunc(cb))
	}
	return err
}

// ReadResponseHeaders reads the response headers into the ResponseInfo given
// to SendRequest.
func (s *Stream) ReadResponseHeaders(cb Callback) error {
	if s.callback != nil {
		panic("httpstream: ReadResponseHeaders with a callback outstanding")
	}
	if cb == nil {
		panic("httpstream: ReadResponseHeaders needs a callback")
	}

	if s.stream == nil {
		return s.responseStatus()
	}
	if s.resp == nil {
		panic("httpstream: ReadResponseHeaders before SendRequest")
	}

	n, err := s.stream.ReadInitialHeaders(&s.responseHeaders, s.completion(s.onReadResponseHeadersComplete))
	if errors.Is(err, transport.ErrPending) {
		s.arm(callbackFunc(cb))
		return transport.ErrPending
	}
	if err != nil {
		return err
	}

	if s.responseHeadersReceived {
		return nil
	}
	s.headersBytesReceived += int64(n)
	return s.processResponseHeaders(s.responseHeaders)
}

// ReadResponseBody copies response body bytes into buf. It returns (0, nil)
// at the end of the body and transport.ErrPending when no data is available
// yet, in which case cb receives the result.
func (s *Stream) ReadResponseBody(buf []byte, cb ReadCallback) (int, error) {
	if s.callback != nil {
		panic("httpstream: ReadResponseBody with a callback outstanding")
	}
	if cb == nil || len(buf) == 0 {
		panic("httpstream: ReadResponseBody needs a callback and a buffer")
	}
	if s.userBuf != nil {
		panic("httpstream: ReadResponseBody with a read outstanding")
	}

	// The request is not needed once the body is being read; the caller
	// may release it.
	s.req = nil

	if s.stream == nil {
		return 0, s.responseStatus()
	}

	n, err := s.readAvailableData(buf)
	if !errors.Is(err, transport.ErrPending) {
		return n, err
	}
	s.arm(transport.CompletionFunc(cb))
	s.userBuf = buf
	return 0, transport.ErrPending
}

// Close cancels the request. A push claim is withdrawn, the stream is reset
// and the upload source is told to abort. No callback is invoked afterwards.
func (s *Stream) Close() {
	// Once a response was expected, closing is a cancellation. Before that
	// the request never left, and the resolver reports it as retryable.
	if s.resp != nil && s.sessionErr == nil {
		s.sessionErr = transport.ErrCancelled
	}
	s.saveResponseStatus()

	if s.pushHandle != nil {
		s.pushHandle.Cancel()
		s.pushHandle = nil
	}
	if s.stream != nil {
		s.stream.ClearDelegate()
		s.stream.Reset(transport.StreamCancelled)
	}
	s.resetStream()

	s.generation++
	s.callback = nil
	s.userBuf = nil
}

// Destroy closes the stream and invalidates every completion it handed out.
// It must not be called from inside one of the Stream's own callbacks while
// the driver is running.
func (s *Stream) Destroy() {
	if s.inLoop {
		panic("httpstream: Destroy while the driver loop is running")
	}
	if s.destroyed {
		return
	}
	s.Close()
	s.destroyed = true
}

// IsResponseBodyComplete reports whether the request was sent and the
// response fully read.
func (s *Stream) IsResponseBodyComplete() bool {
	return s.next == StateOpen && s.stream == nil
}

// IsConnectionReused reports whether the stream is not the first one on its
// connection.
func (s *Stream) IsConnectionReused() bool {
	return s.stream != nil && !s.stream.IsFirstStream()
}

// TotalReceivedBytes counts response header bytes and the body bytes handed
// to the caller.
func (s *Stream) TotalReceivedBytes() int64 {
	total := s.headersBytesReceived
	if s.stream != nil {
		total += s.stream.NumBytesConsumed()
	} else {
		total += s.closedReceivedBytes
	}
	return total
}

// TotalSentBytes counts request header and body bytes.
func (s *Stream) TotalSentBytes() int64 {
	total := s.headersBytesSent
	if s.stream != nil {
		total += s.stream.BytesWritten()
	} else {
		total += s.closedSentBytes
	}
	return total
}

// LoadTimingInfo reports whether the connection was reused. Connect timing
// is only attributed to the first stream on a connection.
func (s *Stream) LoadTimingInfo() LoadTimingInfo {
	isFirst := s.closedIsFirstStream
	if s.stream != nil {
		isFirst = s.stream.IsFirstStream()
	}
	if !isFirst {
		return LoadTimingInfo{SocketReused: true}
	}
	return LoadTimingInfo{ConnectTiming: s.connectTiming}
}

// AlternativeService returns the QUIC endpoint of the session.
func (s *Stream) AlternativeService() AlternativeService {
	id := s.session.ServerID()
	return AlternativeService{Protocol: "quic", Host: id.Host, Port: id.Port}
}

// PopulateNetErrorDetails fills d with connection diagnostics. The
// connection error is only reported once the handshake was confirmed.
func (s *Stream) PopulateNetErrorDetails(d *transport.ErrorDetails) {
	d.ConnectionInfo = transport.ConnectionInfoFromVersion(s.session.Version())
	s.session.PopulateErrorDetails(d)
	if s.session.IsHandshakeConfirmed() {
		d.ConnectionError = s.connErr
	}
}

// SetPriority changes the priority applied when the stream is set up.
func (s *Stream) SetPriority(p transport.RequestPriority) {
	s.priority = p
}

// SSLInfo returns the TLS state captured when the request was bound.
func (s *Stream) SSLInfo() (tls.ConnectionState, bool) {
	return s.tlsState, s.hasTLSState
}

// WasPushed reports whether the response is served from a push stream.
func (s *Stream) WasPushed() bool {
	return s.pushed
}

// ID returns the transport stream id, or 0 when no stream is held.
func (s *Stream) ID() transport.StreamID {
	if s.stream == nil {
		return 0
	}
	return s.stream.ID()
}

func (s *Stream) saveTLSState() {
	s.tlsState, s.hasTLSState = s.session.ConnectionState()
}

// resetStream lets go of the stream, freezing its byte counters. It also
// withdraws a pending push claim and aborts an upload read in progress.
func (s *Stream) resetStream() {
	if s.pushHandle != nil {
		s.pushHandle.Cancel()
		s.pushHandle = nil
	}
	s.detached = true
	if s.stream == nil {
		return
	}
	s.closedReceivedBytes = s.stream.NumBytesConsumed()
	s.closedSentBytes = s.stream.BytesWritten()
	s.closedIsFirstStream = s.stream.IsFirstStream()
	id := s.stream.ID()
	s.stream.ClearDelegate()
	s.stream = nil

	s.log.Debug("Stream detached", logger.LogFields{
		"stream_id": uint32(id),
		"received":  humanize.Bytes(uint64(s.closedReceivedBytes)),
		"sent":      humanize.Bytes(uint64(s.closedSentBytes)),
	})

	if s.upload != nil {
		s.upload.Reset()
	}
}

// releasePromise cancels the session's push offer for the request URL.
func (s *Stream) releasePromise() {
	promised := s.session.PushIndex().GetPromised(s.req.URL.String())
	if promised == nil {
		return
	}
	s.log.Debug("Releasing push promise for request with body", logger.LogFields{
		"stream_id": uint32(promised.ID()),
		"url":       promised.URL(),
	})
	s.session.ResetPromised(promised.ID(), transport.StreamCancelled)
}
