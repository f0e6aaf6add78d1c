package memsession

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

// serve runs the peer's handler once the request is complete.
func (st *stream) serve() {
	if st.closed || st.served {
		return
	}
	st.served = true
	s := st.session

	req, err := requestFromHeaders(st.reqHeaders, st.reqBody.Bytes())
	if err != nil {
		s.log.Warn("Peer rejected malformed request", logger.LogFields{
			"stream_id": uint32(st.id),
			"error":     err.Error(),
		})
		st.streamErr = transport.StreamBadApplicationPayload
		s.closeStream(st)
		return
	}

	w := &responseWriter{st: st}
	if s.handler == nil {
		router.WriteErrorResponse(w, http.StatusNotFound, req.Header, "No handler configured.", s.log)
		return
	}
	s.handler.ServeHTTP2(w, req)
}

// requestFromHeaders rebuilds the request the peer sees.
func requestFromHeaders(h transport.HeaderBlock, body []byte) (*http.Request, error) {
	method, ok := h.Get(":method")
	if !ok {
		return nil, errors.New("request has no :method")
	}
	u, err := url.Parse(h.URL())
	if err != nil {
		return nil, errors.Wrap(err, "request has an invalid URL")
	}
	req := &http.Request{
		Method:        method,
		URL:           u,
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        h.RequestHeader(),
		Host:          u.Host,
		RequestURI:    u.RequestURI(),
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
	return req, nil
}

// responseWriter is the peer's end of a stream. Every frame it writes
// reaches the client through the event loop.
type responseWriter struct {
	st          *stream
	headersSent bool
	ended       bool
}

var _ router.ResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) ID() uint32 { return uint32(w.st.id) }

func (w *responseWriter) check() error {
	if w.st.closed {
		return errors.Errorf("stream %d is closed", w.st.id)
	}
	if w.ended {
		return errors.Errorf("stream %d response already ended", w.st.id)
	}
	return nil
}

func (w *responseWriter) SendHeaders(status int, header http.Header, endStream bool) error {
	if err := w.check(); err != nil {
		return err
	}
	if w.headersSent {
		return errors.Errorf("stream %d response headers already sent", w.st.id)
	}
	s := w.st.session
	block, frameLen, err := encodeHeaders(s.peerCodec, s.clientCodec, transport.NewResponseHeaderBlock(status, header))
	if err != nil {
		return err
	}
	w.headersSent = true
	w.ended = endStream
	st := w.st
	s.loop.Post(func() { st.deliverHeaders(block, frameLen, endStream) })
	return nil
}

func (w *responseWriter) WriteData(p []byte, endStream bool) (int, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	if !w.headersSent {
		return 0, errors.Errorf("stream %d data before response headers", w.st.id)
	}
	data := append([]byte(nil), p...)
	w.ended = endStream
	st := w.st
	st.session.loop.Post(func() { st.deliverData(data, endStream) })
	return len(p), nil
}

func (w *responseWriter) WriteTrailers(trailers http.Header) error {
	if err := w.check(); err != nil {
		return err
	}
	if !w.headersSent {
		return errors.Errorf("stream %d trailers before response headers", w.st.id)
	}
	s := w.st.session
	// Trailers carry no :status.
	block := transport.NewResponseHeaderBlock(0, trailers)[1:]
	decoded, frameLen, err := encodeHeaders(s.peerCodec, s.clientCodec, block)
	if err != nil {
		return err
	}
	w.ended = true
	st := w.st
	s.loop.Post(func() { st.deliverTrailers(decoded, frameLen) })
	return nil
}
