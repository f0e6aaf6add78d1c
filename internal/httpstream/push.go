package httpstream

import (
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

// CheckVary reports whether a promised response can serve the client's
// request. A promised response that cannot be parsed never matches; one
// without a Vary header matches on URL alone.
func (s *Stream) CheckVary(clientRequest, promiseRequest, promiseResponse transport.HeaderBlock) bool {
	resp, err := promiseResponse.ParseResponse()
	if err != nil {
		s.log.Warn("Invalid headers in promised response", logger.LogFields{"error": err.Error()})
		return false
	}

	var vary VaryData
	if !vary.Init(promiseRequest.RequestHeader(), resp.Header) {
		return true
	}
	return vary.MatchesRequest(clientRequest.RequestHeader(), resp.Header)
}

// OnRendezvousResult adopts a pushed stream, or falls back to requesting a
// fresh stream when st is nil.
func (s *Stream) OnRendezvousResult(st transport.Stream) {
	s.pushHandle = nil
	if st != nil {
		st.SetDelegate(s)
		s.stream = st
	}

	// A callback is only outstanding when the claim went pending; a
	// synchronous result is picked up by the driver itself.
	if s.callback == nil {
		return
	}

	if s.next != StatePromiseResolved {
		panic("httpstream: rendezvous result outside of a pending claim")
	}
	if st == nil {
		s.log.Debug("Push rendezvous failed, requesting a stream", logger.LogFields{
			"url": s.req.URL.String(),
		})
		s.next = StateRequestingStream
	}
	s.onIOComplete(0, nil)
}
