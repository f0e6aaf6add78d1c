package memsession

import (
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/transport"
)

// PushOffer describes a resource the peer pushes.
type PushOffer struct {
	URL string
	// RequestHeaders are the headers of the promised request.
	RequestHeaders http.Header
	// Status defaults to 200.
	Status int
	Header http.Header
	Body   []byte
}

// promise is one push offer. Its response arrives separately from the
// offer, and a client may claim it before that happens.
type promise struct {
	id         transport.StreamID
	url        string
	reqHeaders transport.HeaderBlock
	offer      PushOffer

	stream      *stream // nil until the response arrived
	respHeaders transport.HeaderBlock

	claimant  transport.PushDelegate
	clientReq transport.HeaderBlock
}

func (p *promise) ID() transport.StreamID { return p.id }
func (p *promise) URL() string            { return p.url }

// pushHandle is a pending claim on a promise.
type pushHandle struct {
	index *pushIndex
	p     *promise
}

// Cancel withdraws the claim and resets the offer. The claimant is not
// notified.
func (h *pushHandle) Cancel() {
	// Spent once the claim was resolved either way.
	if h.p == nil || h.p.claimant == nil {
		return
	}
	p := h.p
	h.p = nil
	p.claimant = nil
	h.index.s.ResetPromised(p.id, transport.StreamCancelled)
}

// pushIndex implements transport.PushIndex.
type pushIndex struct {
	s     *Session
	byURL map[string]*promise
	byID  map[transport.StreamID]*promise
}

var _ transport.PushIndex = (*pushIndex)(nil)

func newPushIndex(s *Session) *pushIndex {
	return &pushIndex{
		s:     s,
		byURL: make(map[string]*promise),
		byID:  make(map[transport.StreamID]*promise),
	}
}

// GetPromised returns the offer for url, or nil.
func (x *pushIndex) GetPromised(u string) transport.Promised {
	p, ok := x.byURL[u]
	if !ok {
		return nil
	}
	return p
}

// Try claims the offer matching requestHeaders.
func (x *pushIndex) Try(requestHeaders transport.HeaderBlock, d transport.PushDelegate) (transport.PushHandle, transport.AsyncStatus) {
	p, ok := x.byURL[requestHeaders.URL()]
	if !ok {
		return nil, transport.AsyncFailure
	}
	if p.claimant != nil {
		// Already claimed by another request.
		return nil, transport.AsyncFailure
	}
	if p.stream == nil {
		p.claimant = d
		p.clientReq = requestHeaders.Clone()
		x.s.record("push_claim_pending %d", p.id)
		return &pushHandle{index: x, p: p}, transport.AsyncPending
	}
	return nil, x.finalValidation(p, d, requestHeaders)
}

// finalValidation hands the pushed stream to d if the promised response
// applies to the client's request, and resets the offer otherwise.
func (x *pushIndex) finalValidation(p *promise, d transport.PushDelegate, clientReq transport.HeaderBlock) transport.AsyncStatus {
	if !d.CheckVary(clientReq, p.reqHeaders, p.respHeaders) {
		x.s.log.Info("Push promise does not match request", logger.LogFields{
			"stream_id": uint32(p.id),
			"url":       p.url,
		})
		x.s.ResetPromised(p.id, transport.StreamPromiseVaryMismatch)
		d.OnRendezvousResult(nil)
		return transport.AsyncFailure
	}
	x.remove(p)
	x.s.record("push_adopted %d", p.id)
	d.OnRendezvousResult(p.stream)
	return transport.AsyncSuccess
}

func (x *pushIndex) remove(p *promise) {
	delete(x.byURL, p.url)
	delete(x.byID, p.id)
}

// reset drops the offer id. A claimant still waiting is told the
// rendezvous failed.
func (x *pushIndex) reset(id transport.StreamID, code transport.StreamErrorCode) {
	p, ok := x.byID[id]
	if !ok {
		return
	}
	x.remove(p)
	if p.stream != nil && !p.stream.closed {
		p.stream.streamErr = code
		p.stream.delegate = nil
		x.s.closeStream(p.stream)
	}
	if d := p.claimant; d != nil {
		p.claimant = nil
		d.OnRendezvousResult(nil)
	}
}

// abort fails every waiting claim.
func (x *pushIndex) abort() {
	for _, p := range x.byID {
		x.remove(p)
		if d := p.claimant; d != nil {
			p.claimant = nil
			d.OnRendezvousResult(nil)
		}
	}
}

// Promise registers a push offer without its response. The response is
// delivered by DeliverPushResponse.
func (s *Session) Promise(offer PushOffer) (transport.StreamID, error) {
	if !s.connected {
		return 0, errors.WithMessage(transport.ErrConnectionClosed, "push on a closed session")
	}
	u, err := url.Parse(offer.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return 0, errors.Errorf("push url %q must be an absolute URL", offer.URL)
	}
	reqBlock := transport.NewRequestHeaderBlock(http.MethodGet, u, offer.RequestHeaders)
	if _, dup := s.push.byURL[reqBlock.URL()]; dup {
		return 0, errors.Errorf("push url %q is already promised", reqBlock.URL())
	}
	decoded, _, err := encodeHeaders(s.peerCodec, s.clientCodec, reqBlock)
	if err != nil {
		return 0, errors.Wrap(err, "push promise")
	}

	p := &promise{
		id:         s.nextPushID,
		url:        decoded.URL(),
		reqHeaders: decoded,
		offer:      offer,
	}
	s.nextPushID += 2
	s.push.byURL[p.url] = p
	s.push.byID[p.id] = p
	s.record("promise %d %s", p.id, p.url)
	s.log.Debug("Push promised", logger.LogFields{"stream_id": uint32(p.id), "url": p.url})
	return p.id, nil
}

// DeliverPushResponse makes the pushed response for u arrive. A request
// waiting on the offer is resolved.
func (s *Session) DeliverPushResponse(u string) error {
	p, ok := s.push.byURL[u]
	if !ok {
		return errors.Errorf("no push promised for %q", u)
	}
	if p.stream != nil {
		return errors.Errorf("push response for %q already delivered", u)
	}

	status := p.offer.Status
	if status == 0 {
		status = http.StatusOK
	}
	block, frameLen, err := encodeHeaders(s.peerCodec, s.clientCodec, transport.NewResponseHeaderBlock(status, p.offer.Header))
	if err != nil {
		return errors.Wrap(err, "push response")
	}

	st := s.newStream(p.id)
	st.pushed = true
	st.writeFin = true
	st.respHeaders = block
	st.respHeaderLen = frameLen
	st.headersArrived = true
	st.recv.Write(p.offer.Body)
	st.bytesRead = int64(len(p.offer.Body))
	st.finReceived = true
	s.streams[st.id] = st

	p.stream = st
	p.respHeaders = block
	s.record("push_response %d", p.id)

	if d := p.claimant; d != nil {
		p.claimant = nil
		s.push.finalValidation(p, d, p.clientReq)
	}
	return nil
}

// Push promises offer and delivers its response right away.
func (s *Session) Push(offer PushOffer) (transport.StreamID, error) {
	id, err := s.Promise(offer)
	if err != nil {
		return 0, err
	}
	p := s.push.byID[id]
	if err := s.DeliverPushResponse(p.url); err != nil {
		return 0, err
	}
	return id, nil
}
