package httpstream

import (
	"fmt"

	"example.com/muxhttp/v2/internal/transport"
)

// responseStatus returns the request's final status, computing it on first
// use. A nil status means the request succeeded.
func (s *Stream) responseStatus() error {
	s.saveResponseStatus()
	return s.status
}

func (s *Stream) saveResponseStatus() {
	if !s.hasStatus {
		s.setResponseStatus(s.computeResponseStatus())
	}
}

// setResponseStatus caches err unless a status is already cached.
func (s *Stream) setResponseStatus(err error) {
	if s.hasStatus {
		return
	}
	s.hasStatus = true
	s.status = err
}

// computeResponseStatus collapses the failure signals seen so far into one
// status. Earlier checks win.
func (s *Stream) computeResponseStatus() error {
	if s.hasStatus {
		panic("httpstream: response status computed twice")
	}

	// Handled by the caller by falling back to another transport.
	if !s.session.IsHandshakeConfirmed() {
		return transport.ErrHandshakeFailed
	}

	// An abort by the session or the owner is reported as is.
	if s.sessionErr != nil {
		return s.sessionErr
	}

	// The request was never sent, so it is safe to retry.
	if s.resp == nil {
		return transport.ErrConnectionClosed
	}

	// Explicit stream errors are always fatal.
	if s.streamErr != transport.StreamNoError && s.streamErr != transport.StreamConnectionError {
		return fmt.Errorf("%w: stream reset with %s", transport.ErrProtocolError, s.streamErr)
	}

	// Clean but unexplained closures land here as well.
	return transport.ErrProtocolError
}
