package httpstream

import (
	"errors"
	"fmt"
	"time"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

func (s *Stream) onReadResponseHeadersComplete(n int, err error) {
	if s.responseHeadersReceived {
		panic("httpstream: response headers completed twice")
	}
	if err == nil {
		s.headersBytesReceived += int64(n)
		err = s.processResponseHeaders(s.responseHeaders)
	}
	if !errors.Is(err, transport.ErrPending) && s.callback != nil {
		s.doCallback(0, err)
	}
}

// processResponseHeaders fills in the ResponseInfo from the response header
// block.
func (s *Stream) processResponseHeaders(h transport.HeaderBlock) error {
	parsed, err := h.ParseResponse()
	if err != nil {
		s.log.Warn("Invalid response headers", logger.LogFields{
			"stream_id": uint32(s.ID()),
			"error":     err.Error(),
		})
		return fmt.Errorf("%w: %v", transport.ErrProtocolError, err)
	}

	addr, err := s.session.PeerAddress()
	if err != nil {
		return err
	}

	resp := s.resp
	resp.StatusCode = parsed.StatusCode
	resp.Status = parsed.Status
	resp.Header = parsed.Header
	resp.SocketAddress = addr
	resp.ConnectionInfo = transport.ConnectionInfoFromVersion(s.session.Version())
	resp.Vary.Init(s.reqHeader, resp.Header)
	resp.WasALPNNegotiated = true
	resp.ALPNNegotiatedProtocol = resp.ConnectionInfo.String()
	resp.ResponseTime = time.Now()
	resp.RequestTime = s.requestTime
	s.responseHeadersReceived = true

	// Taken here rather than at setup so that requests sent before the
	// handshake completed still see the final timing.
	s.connectTiming = s.session.ConnectTiming()

	s.log.Debug("Response headers received", logger.LogFields{
		"stream_id": uint32(s.ID()),
		"status":    parsed.StatusCode,
		"bytes":     s.headersBytesReceived,
	})
	return nil
}

// readAvailableData reads body bytes into buf. Once the stream has delivered
// everything the request is complete and the stream is let go.
func (s *Stream) readAvailableData(buf []byte) (int, error) {
	n, err := s.stream.Read(buf)
	if s.stream == nil {
		// Closed while reading.
		return n, err
	}
	if s.stream.IsDoneReading() {
		s.stream.ClearDelegate()
		s.stream.OnFinRead()
		s.setResponseStatus(nil)
		s.resetStream()
	}
	return n, err
}

// OnTrailingHeadersAvailable counts trailers and finishes the read side
// when nothing else is left. Trailers are not surfaced.
func (s *Stream) OnTrailingHeadersAvailable(_ transport.HeaderBlock, frameLen int) {
	s.headersBytesReceived += int64(frameLen)
	if s.stream != nil && s.stream.IsDoneReading() {
		// OnFinRead may close the stream and report it through OnClose,
		// which must then see the request as complete.
		s.setResponseStatus(nil)
		s.stream.OnFinRead()
	}
}

// OnDataAvailable completes an outstanding body read.
func (s *Stream) OnDataAvailable() {
	if s.callback == nil || s.userBuf == nil {
		// Nobody is waiting for body data.
		return
	}
	n, err := s.readAvailableData(s.userBuf)
	if errors.Is(err, transport.ErrPending) {
		// Spurious notification.
		return
	}
	s.userBuf = nil
	s.doCallback(n, err)
}

// OnClose records the stream's error codes and lets it go.
func (s *Stream) OnClose() {
	if s.stream != nil {
		s.connErr = s.stream.ConnectionError()
		s.streamErr = s.stream.StreamError()
		s.log.Debug("Stream closed", logger.LogFields{
			"stream_id":        uint32(s.stream.ID()),
			"stream_error":     s.streamErr.String(),
			"connection_error": s.connErr.String(),
		})
	}
	s.saveResponseStatus()
	s.resetStream()

	// The driver reports the status itself when it is running.
	if s.inLoop {
		return
	}
	if s.callback != nil {
		s.userBuf = nil
		s.doCallback(0, s.responseStatus())
	}
}

// OnError records a session abort.
func (s *Stream) OnError(err error) {
	s.resetStream()
	s.sessionErr = err
	s.saveResponseStatus()
	if s.inLoop {
		return
	}
	if s.callback != nil {
		s.userBuf = nil
		s.doCallback(0, s.responseStatus())
	}
}
