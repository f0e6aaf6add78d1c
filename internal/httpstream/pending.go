package httpstream

import (
	"errors"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

// callbackFunc adapts a Callback to the completion signature.
func callbackFunc(cb Callback) transport.CompletionFunc {
	if cb == nil {
		return nil
	}
	return func(_ int, err error) { cb(err) }
}

// arm stores the caller's continuation for an operation that went pending.
func (s *Stream) arm(cb transport.CompletionFunc) {
	if cb == nil {
		panic("httpstream: operation went pending without a callback")
	}
	if s.callback != nil {
		panic("httpstream: a callback is already outstanding")
	}
	s.callback = cb
}

// doCallback disarms and runs the caller's continuation. The callback may do
// anything, including destroying the Stream, so it is always the last thing
// done.
func (s *Stream) doCallback(n int, err error) {
	if errors.Is(err, transport.ErrPending) {
		panic("httpstream: completing a callback with ErrPending")
	}
	if s.callback == nil {
		panic("httpstream: no callback outstanding")
	}
	if s.inLoop {
		panic("httpstream: callback invoked from inside the driver loop")
	}
	cb := s.callback
	s.callback = nil
	cb(n, err)
}

// completion wraps fn so that it only runs while it is the most recent
// completion handed out and the Stream is alive. Anything else is a stale
// event from an abandoned operation.
func (s *Stream) completion(fn func(n int, err error)) transport.CompletionFunc {
	s.generation++
	gen := s.generation
	return func(n int, err error) {
		if s.destroyed || gen != s.generation {
			s.log.Debug("Stale completion discarded", logger.LogFields{
				"generation": gen,
				"current":    s.generation,
			})
			return
		}
		fn(n, err)
	}
}
