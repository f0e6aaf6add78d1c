package httpstream

import (
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"example.com/muxhttp/v2/internal/transport"
)

// LoadFlags alter how a request uses its transport.
type LoadFlags uint32

const (
	// LoadDisableConnectionMigration pins the request's stream to the
	// current network path.
	LoadDisableConnectionMigration LoadFlags = 1 << iota
)

// RequestInfo describes the request to send. It is owned by the caller and
// must stay valid until the first ReadResponseBody call.
type RequestInfo struct {
	Method    string
	URL       *url.URL
	LoadFlags LoadFlags
	// Upload is the request body, nil for requests without one.
	Upload transport.UploadBody
}

// ResponseInfo is filled in once the response headers arrive.
type ResponseInfo struct {
	StatusCode int
	Status     string
	Header     http.Header

	// SocketAddress is the peer's address.
	SocketAddress  netip.AddrPort
	ConnectionInfo transport.ConnectionInfo

	WasALPNNegotiated      bool
	ALPNNegotiatedProtocol string

	RequestTime  time.Time
	ResponseTime time.Time

	// Vary records the request header values named by the response's Vary
	// header, for cache validation.
	Vary VaryData
}

// LoadTimingInfo reports connection reuse and setup timing for a request.
type LoadTimingInfo struct {
	SocketReused bool
	// ConnectTiming is only set for the first stream on a connection.
	ConnectTiming transport.ConnectTiming
}

// AlternativeService names the endpoint a response was served from.
type AlternativeService struct {
	Protocol string
	Host     string
	Port     uint16
}

// Callback receives the result of InitializeStream, SendRequest or
// ReadResponseHeaders when they return transport.ErrPending.
type Callback func(err error)

// ReadCallback receives the result of a pending ReadResponseBody. n == 0 with
// a nil error marks the end of the body.
type ReadCallback func(n int, err error)
