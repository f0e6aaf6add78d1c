package memsession

import (
	"net/http"
	"net/netip"

	"github.com/pkg/errors"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

// NewFromConfig builds a session from a loaded configuration. The peer
// serves cfg's routes with handlers from registry, and every configured
// push offer is promised with its response already delivered. cfg must
// have had defaults applied.
func NewFromConfig(cfg *config.Config, lg *logger.Logger, registry *router.HandlerRegistry) (*Session, error) {
	if cfg == nil || cfg.Session == nil {
		return nil, errors.New("session configuration is missing")
	}
	sc := cfg.Session

	version, err := transport.ParseVersion(*sc.Version)
	if err != nil {
		return nil, errors.Wrap(err, "session.version")
	}
	peer, err := netip.ParseAddrPort(*sc.PeerAddress)
	if err != nil {
		return nil, errors.Wrap(err, "session.peer_address")
	}

	var routes []config.Route
	if cfg.Routing != nil {
		routes = cfg.Routing.Routes
	}
	rt, err := router.NewRouter(routes, registry, lg)
	if err != nil {
		return nil, errors.Wrap(err, "building peer router")
	}

	host := "localhost"
	if sc.ServerHost != nil && *sc.ServerHost != "" {
		host = *sc.ServerHost
	}

	opts := []Option{
		WithLogger(lg),
		WithVersion(version),
		WithPeerAddress(peer),
		WithServerID(transport.ServerID{Host: host, Port: uint16(*sc.ServerPort)}),
		WithHandler(rt),
	}
	if sc.HandshakeConfirmed != nil {
		opts = append(opts, WithHandshakeConfirmed(*sc.HandshakeConfirmed))
	}
	if sc.AsyncStreamRequests != nil {
		opts = append(opts, WithAsyncStreamRequests(*sc.AsyncStreamRequests))
	}
	if sc.StreamSendWindow != nil {
		opts = append(opts, WithStreamSendWindow(uint32(*sc.StreamSendWindow)))
	}
	s := New(&EventLoop{}, opts...)

	for i, po := range cfg.Push {
		if _, err := s.Push(pushOfferFromConfig(po)); err != nil {
			return nil, errors.Wrapf(err, "push[%d]", i)
		}
	}
	return s, nil
}

func pushOfferFromConfig(po config.PushOffer) PushOffer {
	offer := PushOffer{
		URL:            po.URL,
		Status:         po.Status,
		Header:         make(http.Header, len(po.Headers)),
		RequestHeaders: make(http.Header, len(po.RequestHeaders)),
		Body:           []byte(po.Body),
	}
	for k, v := range po.Headers {
		offer.Header.Set(k, v)
	}
	for k, v := range po.RequestHeaders {
		offer.RequestHeaders.Set(k, v)
	}
	return offer
}
