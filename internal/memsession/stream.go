package memsession

import (
	"bytes"

	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

var _ transport.Stream = (*stream)(nil)

// stream is one bidirectional stream. The client writes the request and
// reads the response; the peer side is driven by serve and responseWriter.
type stream struct {
	session  *Session
	id       transport.StreamID
	delegate transport.StreamDelegate
	pushed   bool

	// Client to peer.
	reqHeaders   transport.HeaderBlock
	reqBody      bytes.Buffer
	writeFin     bool
	window       *sendWindow
	blocked      *blockedWrite
	bytesWritten int64
	served       bool

	// Peer to client.
	respHeaders    transport.HeaderBlock
	respHeaderLen  int
	headersArrived bool
	headersDst     *transport.HeaderBlock
	headersCb      transport.CompletionFunc
	recv           bytes.Buffer
	finReceived    bool
	bytesRead      int64
	consumed       int64
	finRead        bool

	urgency           transport.Urgency
	migrationDisabled bool

	closed    bool
	connErr   transport.ConnectionErrorCode
	streamErr transport.StreamErrorCode
}

// blockedWrite is the part of a body write waiting for send window.
type blockedWrite struct {
	data  []byte
	fin   bool
	total int
	cb    transport.CompletionFunc
}

func (st *stream) ID() transport.StreamID { return st.id }

// ReadInitialHeaders implements transport.Stream.
func (st *stream) ReadInitialHeaders(dst *transport.HeaderBlock, cb transport.CompletionFunc) (int, error) {
	if st.closed {
		return 0, errors.Errorf("stream %d is closed", st.id)
	}
	if st.headersArrived {
		*dst = st.respHeaders
		return st.respHeaderLen, nil
	}
	if st.headersCb != nil {
		panic("memsession: ReadInitialHeaders called twice")
	}
	st.headersDst = dst
	st.headersCb = cb
	return 0, transport.ErrPending
}

// Read implements transport.Stream.
func (st *stream) Read(p []byte) (int, error) {
	if st.recv.Len() == 0 {
		if st.finReceived {
			return 0, nil
		}
		if st.closed {
			return 0, errors.Errorf("stream %d is closed", st.id)
		}
		return 0, transport.ErrPending
	}
	n, _ := st.recv.Read(p)
	st.consumed += int64(n)
	return n, nil
}

// WriteHeaders implements transport.Stream.
func (st *stream) WriteHeaders(h transport.HeaderBlock, fin bool) (int, error) {
	if st.closed {
		return 0, errors.Errorf("stream %d is closed", st.id)
	}
	if st.reqHeaders != nil || st.pushed {
		return 0, errors.Errorf("stream %d already has request headers", st.id)
	}
	s := st.session
	decoded, frameLen, err := encodeHeaders(s.clientCodec, s.peerCodec, h)
	if err != nil {
		return 0, errors.Wrapf(err, "stream %d", st.id)
	}
	st.reqHeaders = decoded
	if fin {
		st.finishWriting()
	}
	return frameLen, nil
}

// WriteStreamData implements transport.Stream. Bytes beyond the send window
// are parked and the write completes through cb once the peer opens the
// window again.
func (st *stream) WriteStreamData(p []byte, fin bool, cb transport.CompletionFunc) error {
	if st.closed {
		return errors.Errorf("stream %d is closed", st.id)
	}
	if st.writeFin {
		return errors.Errorf("stream %d write side already finished", st.id)
	}
	if st.blocked != nil {
		panic("memsession: WriteStreamData while a write is blocked")
	}
	if st.reqHeaders == nil {
		return errors.Errorf("stream %d has no request headers", st.id)
	}

	sent, err := st.send(p)
	if err != nil {
		return err
	}
	if sent == len(p) {
		if fin {
			st.finishWriting()
		}
		return nil
	}

	st.blocked = &blockedWrite{data: p[sent:], fin: fin, total: len(p), cb: cb}
	st.session.log.Debug("Body write blocked on send window", logger.LogFields{
		"stream_id": uint32(st.id),
		"blocked":   len(p) - sent,
	})
	// The peer consumes what it got and opens the window again.
	st.session.loop.Post(st.windowUpdate)
	return transport.ErrPending
}

func (st *stream) send(p []byte) (int, error) {
	n, err := st.window.Acquire(len(p))
	if err != nil {
		return 0, err
	}
	st.reqBody.Write(p[:n])
	st.bytesWritten += int64(n)
	return n, nil
}

// windowUpdate grows the window by its initial size and resumes a blocked
// write.
func (st *stream) windowUpdate() {
	if st.closed || st.blocked == nil {
		return
	}
	if err := st.window.Increase(st.session.sendWindow); err != nil {
		bw := st.blocked
		st.blocked = nil
		bw.cb(0, err)
		return
	}
	bw := st.blocked
	sent, err := st.send(bw.data)
	if err != nil {
		st.blocked = nil
		bw.cb(0, err)
		return
	}
	bw.data = bw.data[sent:]
	if len(bw.data) > 0 {
		st.session.loop.Post(st.windowUpdate)
		return
	}
	st.blocked = nil
	if bw.fin {
		st.finishWriting()
	}
	bw.cb(bw.total, nil)
}

// finishWriting closes the write side and lets the peer serve the request.
func (st *stream) finishWriting() {
	st.writeFin = true
	st.session.loop.Post(st.serve)
}

func (st *stream) SetPriority(u transport.Urgency) { st.urgency = u }

// Reset implements transport.Stream. The delegate is not notified of a
// local reset.
func (st *stream) Reset(code transport.StreamErrorCode) {
	if st.closed {
		return
	}
	st.session.record("reset %d %s", st.id, code)
	st.streamErr = code
	st.delegate = nil
	st.session.closeStream(st)
}

func (st *stream) SetDelegate(d transport.StreamDelegate) { st.delegate = d }
func (st *stream) ClearDelegate()                         { st.delegate = nil }

// OnFinRead closes the stream once both directions are finished.
func (st *stream) OnFinRead() {
	if st.finRead {
		return
	}
	st.finRead = true
	if st.writeFin {
		st.session.closeStream(st)
	}
}

func (st *stream) IsDoneReading() bool {
	return st.headersArrived && st.finReceived && st.recv.Len() == 0
}

func (st *stream) NumBytesConsumed() int64 { return st.consumed }
func (st *stream) BytesRead() int64        { return st.bytesRead }
func (st *stream) BytesWritten() int64     { return st.bytesWritten }

func (st *stream) IsFirstStream() bool { return st.id == firstClientStreamID }

func (st *stream) DisableConnectionMigration() {
	st.migrationDisabled = true
	st.session.record("disable_migration %d", st.id)
}

func (st *stream) ConnectionError() transport.ConnectionErrorCode { return st.connErr }
func (st *stream) StreamError() transport.StreamErrorCode         { return st.streamErr }

// deliverHeaders is the arrival of the response HEADERS frame.
func (st *stream) deliverHeaders(h transport.HeaderBlock, frameLen int, fin bool) {
	if st.closed {
		return
	}
	st.respHeaders = h
	st.respHeaderLen = frameLen
	st.headersArrived = true
	if fin {
		st.finReceived = true
	}
	if cb := st.headersCb; cb != nil {
		*st.headersDst = h
		st.headersCb = nil
		st.headersDst = nil
		cb(frameLen, nil)
		return
	}
	if fin && st.delegate != nil {
		st.delegate.OnDataAvailable()
	}
}

// deliverData is the arrival of a DATA frame.
func (st *stream) deliverData(p []byte, fin bool) {
	if st.closed {
		return
	}
	st.recv.Write(p)
	st.bytesRead += int64(len(p))
	if fin {
		st.finReceived = true
	}
	if st.delegate != nil {
		st.delegate.OnDataAvailable()
	}
}

// deliverTrailers is the arrival of trailing HEADERS, which end the stream.
func (st *stream) deliverTrailers(h transport.HeaderBlock, frameLen int) {
	if st.closed {
		return
	}
	st.finReceived = true
	if st.delegate != nil {
		st.delegate.OnTrailingHeadersAvailable(h, frameLen)
	}
}
