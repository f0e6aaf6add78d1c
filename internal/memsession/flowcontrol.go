package memsession

import (
	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/transport"
)

// MaxWindowSize is the largest value a send window may reach (2^31 - 1).
const MaxWindowSize = (1 << 31) - 1

// sendWindow tracks how many body bytes a stream may still send. Unlike a
// network transport it never blocks: Acquire grants what is available and
// the writer parks the rest until Increase.
type sendWindow struct {
	streamID  transport.StreamID
	unlimited bool
	available int64
	closed    bool
	err       error
}

// newSendWindow creates a window of initialSize bytes. Zero means the window
// never limits writes.
func newSendWindow(initialSize uint32, streamID transport.StreamID) *sendWindow {
	if initialSize > MaxWindowSize {
		initialSize = MaxWindowSize
	}
	return &sendWindow{
		streamID:  streamID,
		unlimited: initialSize == 0,
		available: int64(initialSize),
	}
}

// Available returns the bytes that can be sent without blocking.
func (w *sendWindow) Available() int64 {
	if w.unlimited {
		return MaxWindowSize
	}
	return w.available
}

// Acquire takes up to n bytes from the window and returns how many were
// granted.
func (w *sendWindow) Acquire(n int) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, errors.Errorf("send window of stream %d is closed", w.streamID)
	}
	if w.unlimited {
		return n, nil
	}
	if int64(n) > w.available {
		n = int(w.available)
	}
	w.available -= int64(n)
	return n, nil
}

// Increase applies a window update from the peer. An update that would
// overflow MaxWindowSize poisons the window.
func (w *sendWindow) Increase(increment uint32) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return errors.Errorf("send window of stream %d is closed", w.streamID)
	}
	if increment == 0 {
		return errors.WithStack(transport.NewStreamError(w.streamID, transport.StreamBadApplicationPayload, "window update increment cannot be 0"))
	}
	if w.unlimited {
		return nil
	}
	newSize := w.available + int64(increment)
	if newSize > MaxWindowSize {
		w.err = errors.WithStack(transport.NewStreamError(w.streamID, transport.StreamBadApplicationPayload,
			"window update would overflow the send window"))
		return w.err
	}
	w.available = newSize
	return nil
}

// Close fails all further operations.
func (w *sendWindow) Close() {
	w.closed = true
}
