package httpstream

import (
	"errors"
	"fmt"
	"net/http"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

// doLoop runs states until the send side is open, a step is pending, or a
// step fails. n and err are the result of the step that last went pending.
func (s *Stream) doLoop(n int, err error) (int, error) {
	if s.inLoop {
		panic("httpstream: driver loop entered recursively")
	}
	s.inLoop = true
	defer func() { s.inLoop = false }()

	for {
		state := s.next
		s.next = StateIdle
		if err != nil && !state.consumesResult() {
			panic(fmt.Sprintf("httpstream: state %v entered with error %v", state, err))
		}
		s.observe(state)

		if state != StateOpen && s.detached {
			// The stream went away underneath us. Report that instead of
			// operating on it.
			n, err = 0, s.responseStatus()
			break
		}

		switch state {
		case StateHandlingPromise:
			n, err = s.doHandlePromise()
		case StatePromiseResolved:
			n, err = s.doPromiseResolved()
		case StateRequestingStream:
			n, err = s.doRequestStream()
		case StateStreamAcquired:
			n, err = s.doStreamAcquired(err)
		case StateSettingPriority:
			n, err = s.doSetPriority()
		case StateSendingHeaders:
			n, err = s.doSendHeaders()
		case StateHeadersSent:
			n, err = s.doHeadersSent(n, err)
		case StateReadingBody:
			n, err = s.doReadBody()
		case StateBodyChunkRead:
			n, err = s.doBodyChunkRead(n, err)
		case StateSendingBody:
			n, err = s.doSendBody()
		case StateBodyChunkSent:
			n, err = s.doBodyChunkSent(err)
		case StateOpen:
		case StateIdle:
			panic("httpstream: driver loop run without a next state")
		default:
			panic(fmt.Sprintf("httpstream: unknown state %v", state))
		}

		if s.next == StateIdle || s.next == StateOpen || errors.Is(err, transport.ErrPending) {
			break
		}
	}
	if s.next == StateOpen {
		s.observe(StateOpen)
	}
	return n, err
}

func (s *Stream) observe(state State) {
	if s.onTransition != nil {
		s.onTransition(state)
	}
}

// onIOComplete resumes the driver with the result of a pending step.
func (s *Stream) onIOComplete(n int, err error) {
	n, err = s.doLoop(n, err)
	if !errors.Is(err, transport.ErrPending) && s.callback != nil {
		s.doCallback(n, err)
	}
}

func (s *Stream) doHandlePromise() (int, error) {
	handle, status := s.session.PushIndex().Try(s.requestHeaders, s)
	switch status {
	case transport.AsyncFailure:
		s.next = StateRequestingStream
	case transport.AsyncSuccess:
		s.next = StatePromiseResolved
	case transport.AsyncPending:
		s.pushHandle = handle
		s.next = StatePromiseResolved
		return 0, transport.ErrPending
	default:
		panic(fmt.Sprintf("httpstream: unknown push claim status %v", status))
	}
	return 0, nil
}

func (s *Stream) doPromiseResolved() (int, error) {
	if s.stream == nil {
		panic("httpstream: push rendezvous resolved without a stream")
	}
	s.next = StateOpen
	s.pushed = true
	s.log.Info("Adopted push stream", logger.LogFields{
		"stream_id": uint32(s.stream.ID()),
		"url":       s.req.URL.String(),
	})
	return 0, nil
}

func (s *Stream) doRequestStream() (int, error) {
	s.next = StateStreamAcquired
	requiresConfirmation := s.req.Method == http.MethodPost
	err := s.session.RequestStream(requiresConfirmation, s.completion(s.onIOComplete))
	return 0, err
}

func (s *Stream) doStreamAcquired(err error) (int, error) {
	if err != nil {
		s.sessionErr = err
		return 0, s.responseStatus()
	}

	s.stream = s.session.ReleaseStream(s)
	if s.disableMigration || s.req.LoadFlags&LoadDisableConnectionMigration != 0 {
		s.stream.DisableConnectionMigration()
	}

	// A response is already bound when an asynchronous push rendezvous
	// fell back to a fresh stream from SendRequest.
	if s.resp != nil {
		s.next = StateSettingPriority
	}
	return 0, nil
}

func (s *Stream) doSetPriority() (int, error) {
	s.stream.SetPriority(transport.ConvertRequestPriority(s.priority))
	s.next = StateSendingHeaders
	return 0, nil
}

func (s *Stream) doSendHeaders() (int, error) {
	hasUpload := s.upload != nil
	if s.log.DebugEnabled() {
		s.log.Debug("Sending request headers", logger.LogFields{
			"stream_id": uint32(s.stream.ID()),
			"priority":  s.priority.String(),
			"fields":    len(s.requestHeaders),
			"fin":       !hasUpload,
		})
	}

	s.next = StateHeadersSent
	n, err := s.stream.WriteHeaders(s.requestHeaders, !hasUpload)
	s.headersBytesSent += int64(n)
	// Written once; the stream keeps what it needs.
	s.requestHeaders = nil
	return n, err
}

func (s *Stream) doHeadersSent(n int, err error) (int, error) {
	if err != nil {
		return n, err
	}
	if s.upload != nil {
		s.next = StateReadingBody
	} else {
		s.next = StateOpen
	}
	return 0, nil
}

func (s *Stream) doReadBody() (int, error) {
	s.next = StateBodyChunkRead
	return s.upload.Read(s.rawBody, s.completion(s.onIOComplete))
}

func (s *Stream) doBodyChunkRead(n int, err error) (int, error) {
	if err != nil {
		s.log.Warn("Reading request body failed", logger.LogFields{
			"stream_id": uint32(s.stream.ID()),
			"error":     err.Error(),
		})
		s.stream.ClearDelegate()
		s.stream.Reset(transport.StreamErrorProcessingStream)
		s.resetStream()
		return 0, err
	}

	if n == 0 {
		// A zero-length read ends the body even when the source does not
		// report IsEOF.
		s.uploadEOF = true
	}
	s.body = s.rawBody[:n]
	s.next = StateSendingBody
	return 0, nil
}

func (s *Stream) doSendBody() (int, error) {
	eof := s.uploadExhausted()
	if len(s.body) > 0 || eof {
		s.next = StateBodyChunkSent
		return 0, s.stream.WriteStreamData(s.body, eof, s.completion(s.onIOComplete))
	}
	s.next = StateOpen
	return 0, nil
}

// doBodyChunkSent does not reset the stream on a failed write: the
// transport already failed the stream and reports it through the delegate.
func (s *Stream) doBodyChunkSent(err error) (int, error) {
	if err != nil {
		return 0, err
	}

	s.body = s.body[len(s.body):]
	if !s.uploadExhausted() {
		s.next = StateReadingBody
		return 0, nil
	}
	s.next = StateOpen
	return 0, nil
}

func (s *Stream) uploadExhausted() bool {
	return s.uploadEOF || s.upload.IsEOF()
}
