package transport

import (
	"crypto/tls"
	"net/netip"
	"time"
)

// StreamID identifies a stream within one connection.
type StreamID uint32

// CompletionFunc receives the outcome of an operation that returned
// ErrPending. n carries a byte count where the operation produces one.
// Completions are delivered on the session's event goroutine.
type CompletionFunc func(n int, err error)

// ConnectTiming holds the connection establishment marks reported by a session.
type ConnectTiming struct {
	DNSStart     time.Time
	DNSEnd       time.Time
	ConnectStart time.Time
	ConnectEnd   time.Time
	SSLStart     time.Time
	SSLEnd       time.Time
}

// ServerID names the origin a session is connected to.
type ServerID struct {
	Host string
	Port uint16
}

// ErrorDetails collects connection level diagnostics for a failed request.
type ErrorDetails struct {
	ConnectionInfo     ConnectionInfo
	ConnectionError    ConnectionErrorCode
	HandshakeConfirmed bool
	ActiveStreams      int
	IdleFor            time.Duration
}

// Session is a multiplexed transport connection. All methods, and all
// callbacks a Session invokes, run on a single event goroutine.
type Session interface {
	IsConnected() bool
	IsHandshakeConfirmed() bool

	// RequestStream asks for a new outgoing stream. requiresConfirmation is
	// set for methods that must not be sent before the handshake is
	// confirmed. It returns nil when a stream can be released immediately,
	// ErrPending when cb will be invoked later, or a failure.
	RequestStream(requiresConfirmation bool, cb CompletionFunc) error

	// ReleaseStream hands the stream obtained by the last successful
	// RequestStream to d. Ownership moves to the caller.
	ReleaseStream(d StreamDelegate) Stream

	PushIndex() PushIndex

	// ResetPromised cancels the push offer id with code.
	ResetPromised(id StreamID, code StreamErrorCode)

	PeerAddress() (netip.AddrPort, error)
	Version() Version
	ConnectTiming() ConnectTiming
	ServerID() ServerID

	// ConnectionState reports the TLS state of the connection, if any.
	ConnectionState() (tls.ConnectionState, bool)

	PopulateErrorDetails(d *ErrorDetails)
}

// Stream is one bidirectional stream of a Session, exclusively owned by the
// delegate it was released to.
type Stream interface {
	ID() StreamID

	// ReadInitialHeaders stores the response header block in dst and returns
	// its frame length, or returns ErrPending and invokes cb once it arrives.
	ReadInitialHeaders(dst *HeaderBlock, cb CompletionFunc) (int, error)

	// Read copies available body bytes into p. It returns (0, nil) once the
	// peer finished the stream and ErrPending when no data is buffered; in
	// that case the delegate's OnDataAvailable fires later.
	Read(p []byte) (int, error)

	// WriteHeaders writes the request header block and returns its frame
	// length. fin closes the write side.
	WriteHeaders(h HeaderBlock, fin bool) (int, error)

	// WriteStreamData writes body bytes. It returns nil when the write was
	// accepted, or ErrPending and invokes cb when it completes.
	WriteStreamData(p []byte, fin bool, cb CompletionFunc) error

	SetPriority(u Urgency)

	// Reset aborts the stream in both directions with code.
	Reset(code StreamErrorCode)

	SetDelegate(d StreamDelegate)
	ClearDelegate()

	// OnFinRead tells the stream the reader consumed the final byte.
	OnFinRead()
	IsDoneReading() bool

	// NumBytesConsumed counts body bytes handed to the reader.
	NumBytesConsumed() int64
	// BytesRead counts body bytes received from the peer.
	BytesRead() int64
	// BytesWritten counts body bytes written to the peer.
	BytesWritten() int64

	IsFirstStream() bool
	DisableConnectionMigration()

	ConnectionError() ConnectionErrorCode
	StreamError() StreamErrorCode
}

// StreamDelegate receives events for a Stream.
type StreamDelegate interface {
	OnTrailingHeadersAvailable(h HeaderBlock, frameLen int)
	OnDataAvailable()
	// OnClose reports the stream closed; error codes are on the stream.
	OnClose()
	// OnError reports a session level failure.
	OnError(err error)
}

// AsyncStatus is the outcome of a push claim attempt.
type AsyncStatus int

const (
	AsyncFailure AsyncStatus = iota
	AsyncSuccess
	AsyncPending
)

func (s AsyncStatus) String() string {
	switch s {
	case AsyncFailure:
		return "failure"
	case AsyncSuccess:
		return "success"
	case AsyncPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Promised is a push offer made by the peer.
type Promised interface {
	ID() StreamID
	URL() string
}

// PushHandle refers to a pending claim on a push offer.
type PushHandle interface {
	// Cancel withdraws the claim. The delegate is not notified afterwards.
	Cancel()
}

// PushDelegate is the claimant side of a push rendezvous.
type PushDelegate interface {
	// CheckVary reports whether the promised response applies to the
	// client's request.
	CheckVary(clientRequest, promiseRequest, promiseResponse HeaderBlock) bool

	// OnRendezvousResult delivers the adopted stream, or nil when the
	// rendezvous failed. It is called once per claim.
	OnRendezvousResult(s Stream)
}

// PushIndex is the session's registry of push offers.
type PushIndex interface {
	GetPromised(url string) Promised

	// Try claims the offer matching requestHeaders. On AsyncSuccess the
	// delegate has already received its stream. On AsyncPending the returned
	// handle stays valid until the delegate is notified or it is cancelled.
	Try(requestHeaders HeaderBlock, d PushDelegate) (PushHandle, AsyncStatus)
}

// UploadBody is the source of a request body.
type UploadBody interface {
	// Read fills p and returns the byte count, or ErrPending in which case
	// cb receives the result. A read of zero bytes without an error ends
	// the body, whatever IsEOF reports.
	Read(p []byte, cb CompletionFunc) (int, error)
	// IsEOF reports whether the last read returned the final bytes.
	IsEOF() bool
	// Reset aborts any read in progress.
	Reset()
}
