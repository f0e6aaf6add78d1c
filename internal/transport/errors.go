package transport

import (
	"errors"
	"fmt"
)

// Result errors shared by the transport and the request layer built on it.
var (
	// ErrPending reports that an operation will complete later through its
	// CompletionFunc. It is a marker, not a failure.
	ErrPending = errors.New("operation in progress")

	// ErrCancelled reports that the request was aborted by its owner.
	ErrCancelled = errors.New("request cancelled")

	// ErrConnectionClosed reports that the connection went away before the
	// request was sent. Callers may retry it on another connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrProtocolError is the generic stream failure.
	ErrProtocolError = errors.New("protocol error")

	// ErrHandshakeFailed reports that the cryptographic handshake was never
	// confirmed. Callers may retry over an alternate transport.
	ErrHandshakeFailed = errors.New("handshake failed")
)

// StreamErrorCode is the code carried by a stream reset.
type StreamErrorCode uint32

const (
	StreamNoError StreamErrorCode = iota
	// StreamErrorProcessingStream is used when the local side cannot continue
	// producing the stream, e.g. the upload source failed.
	StreamErrorProcessingStream
	StreamMultipleTerminations
	StreamBadApplicationPayload
	// StreamConnectionError is set on every stream when the connection closes.
	StreamConnectionError
	StreamPeerGoingAway
	StreamCancelled
	StreamRstAcknowledgement
	StreamRefused
	StreamInvalidPromiseURL
	StreamUnauthorizedPromiseURL
	StreamDuplicatePromiseURL
	StreamPromiseVaryMismatch
	StreamInvalidPromiseMethod
)

// String returns the string representation of the StreamErrorCode.
func (c StreamErrorCode) String() string {
	switch c {
	case StreamNoError:
		return "STREAM_NO_ERROR"
	case StreamErrorProcessingStream:
		return "ERROR_PROCESSING_STREAM"
	case StreamMultipleTerminations:
		return "MULTIPLE_TERMINATIONS"
	case StreamBadApplicationPayload:
		return "BAD_APPLICATION_PAYLOAD"
	case StreamConnectionError:
		return "STREAM_CONNECTION_ERROR"
	case StreamPeerGoingAway:
		return "STREAM_PEER_GOING_AWAY"
	case StreamCancelled:
		return "STREAM_CANCELLED"
	case StreamRstAcknowledgement:
		return "RST_ACKNOWLEDGEMENT"
	case StreamRefused:
		return "REFUSED_STREAM"
	case StreamInvalidPromiseURL:
		return "INVALID_PROMISE_URL"
	case StreamUnauthorizedPromiseURL:
		return "UNAUTHORIZED_PROMISE_URL"
	case StreamDuplicatePromiseURL:
		return "DUPLICATE_PROMISE_URL"
	case StreamPromiseVaryMismatch:
		return "PROMISE_VARY_MISMATCH"
	case StreamInvalidPromiseMethod:
		return "INVALID_PROMISE_METHOD"
	default:
		return fmt.Sprintf("UNKNOWN_STREAM_ERROR_%d", uint32(c))
	}
}

// ConnectionErrorCode is the code a connection was closed with.
type ConnectionErrorCode uint32

const (
	ConnNoError ConnectionErrorCode = iota
	ConnInternalError
	ConnPeerGoingAway
	ConnPublicReset
	ConnHandshakeTimeout
	ConnNetworkIdleTimeout
	ConnTooManyRTOs
	ConnPacketWriteError
	ConnInvalidVersion
)

// String returns the string representation of the ConnectionErrorCode.
func (c ConnectionErrorCode) String() string {
	switch c {
	case ConnNoError:
		return "NO_ERROR"
	case ConnInternalError:
		return "INTERNAL_ERROR"
	case ConnPeerGoingAway:
		return "PEER_GOING_AWAY"
	case ConnPublicReset:
		return "PUBLIC_RESET"
	case ConnHandshakeTimeout:
		return "HANDSHAKE_TIMEOUT"
	case ConnNetworkIdleTimeout:
		return "NETWORK_IDLE_TIMEOUT"
	case ConnTooManyRTOs:
		return "TOO_MANY_RTOS"
	case ConnPacketWriteError:
		return "PACKET_WRITE_ERROR"
	case ConnInvalidVersion:
		return "INVALID_VERSION"
	default:
		return fmt.Sprintf("UNKNOWN_CONNECTION_ERROR_%d", uint32(c))
	}
}

// StreamError represents an error specific to one stream.
type StreamError struct {
	StreamID StreamID
	Code     StreamErrorCode
	Msg      string
	Cause    error // Optional underlying cause
}

// Error returns a string representation of the StreamError.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error on stream %d: %s (code %s): %s", e.StreamID, e.Msg, e.Code, e.Cause)
	}
	return fmt.Sprintf("stream error on stream %d: %s (code %s)", e.StreamID, e.Msg, e.Code)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewStreamError creates a new StreamError.
func NewStreamError(id StreamID, code StreamErrorCode, msg string) *StreamError {
	return &StreamError{StreamID: id, Code: code, Msg: msg}
}

// SessionError is the abort code a session reports to its streams. The
// request layer surfaces it to callers verbatim.
type SessionError struct {
	Code  ConnectionErrorCode
	Msg   string
	Cause error // Optional underlying cause
}

// Error returns a string representation of the SessionError.
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session aborted: %s (code %s): %s", e.Msg, e.Code, e.Cause)
	}
	return fmt.Sprintf("session aborted: %s (code %s)", e.Msg, e.Code)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// NewSessionError creates a new SessionError.
func NewSessionError(code ConnectionErrorCode, msg string, cause error) *SessionError {
	return &SessionError{Code: code, Msg: msg, Cause: cause}
}
