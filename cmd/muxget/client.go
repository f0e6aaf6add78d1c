package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/httpstream"
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/memsession"
	"example.com/muxhttp/v2/internal/router"
	"example.com/muxhttp/v2/internal/transport"
)

// errStalled is returned when the session goes idle while an operation is
// still waiting for its callback.
var errStalled = errors.New("request stalled: session idle with an operation pending")

const readChunkSize = 16 * 1024

// client runs requests to completion over an in-memory session by driving
// its event loop.
type client struct {
	sess     *memsession.Session
	opts     []httpstream.Option
	priority transport.RequestPriority
	log      *logger.Logger
}

// result is the outcome of one request.
type result struct {
	Response *httpstream.ResponseInfo
	Body     []byte
	Pushed   bool
	StreamID transport.StreamID
	Sent     int64
	Received int64
	Duration time.Duration
}

func newClient(cfg *config.Config, lg *logger.Logger, registry *router.HandlerRegistry) (*client, error) {
	sess, err := memsession.NewFromConfig(cfg, lg, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	cc := cfg.Client
	priority, err := transport.ParseRequestPriority(*cc.DefaultPriority)
	if err != nil {
		return nil, err
	}
	opts := []httpstream.Option{
		httpstream.WithLogger(lg),
		httpstream.WithBodyBufferSize(*cc.MaxPacketSize * *cc.BodyBufferPackets),
	}
	if *cc.DisableConnectionMigration {
		opts = append(opts, httpstream.WithConnectionMigrationDisabled())
	}
	return &client{sess: sess, opts: opts, priority: priority, log: lg}, nil
}

// do sends one request and reads the whole response. body may be nil.
func (c *client) do(method, rawURL string, header http.Header, body io.Reader) (res *result, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", rawURL)
	}

	req := &httpstream.RequestInfo{Method: method, URL: u}
	if body != nil {
		req.Upload = transport.NewReaderUpload(body)
	}

	start := time.Now()
	s := httpstream.New(c.sess, c.opts...)
	res = &result{Response: &httpstream.ResponseInfo{}}
	defer func() {
		res.Pushed = s.WasPushed()
		res.Sent = s.TotalSentBytes()
		res.Received = s.TotalReceivedBytes()
		res.Duration = time.Since(start)
		c.logAccess(req, res, err)
		s.Destroy()
	}()

	if err = c.await(func(cb httpstream.Callback) error {
		return s.InitializeStream(req, c.priority, cb)
	}); err != nil {
		return res, fmt.Errorf("initializing stream: %w", err)
	}
	if err = c.await(func(cb httpstream.Callback) error {
		return s.SendRequest(header, res.Response, cb)
	}); err != nil {
		return res, fmt.Errorf("sending request: %w", err)
	}
	res.StreamID = s.ID()
	if err = c.await(s.ReadResponseHeaders); err != nil {
		return res, fmt.Errorf("reading response headers: %w", err)
	}

	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, rerr := c.read(s, chunk)
		if rerr != nil {
			err = fmt.Errorf("reading response body: %w", rerr)
			return res, err
		}
		if n == 0 {
			break
		}
		buf.Write(chunk[:n])
	}
	res.Body = buf.Bytes()
	return res, nil
}

// await runs op and, when it goes pending, the session until op's callback
// fires.
func (c *client) await(op func(httpstream.Callback) error) error {
	var (
		done   bool
		result error
	)
	err := op(func(err error) {
		done = true
		result = err
	})
	if !errors.Is(err, transport.ErrPending) {
		return err
	}
	c.sess.RunUntilIdle()
	if !done {
		return errStalled
	}
	return result
}

func (c *client) read(s *httpstream.Stream, buf []byte) (int, error) {
	var (
		done    bool
		n       int
		readErr error
	)
	got, err := s.ReadResponseBody(buf, func(rn int, rerr error) {
		done = true
		n, readErr = rn, rerr
	})
	if !errors.Is(err, transport.ErrPending) {
		return got, err
	}
	c.sess.RunUntilIdle()
	if !done {
		return 0, errStalled
	}
	return n, readErr
}

func (c *client) logAccess(req *httpstream.RequestInfo, res *result, err error) {
	c.log.Access(logger.AccessEntry{
		Method:        req.Method,
		URL:           req.URL.String(),
		Protocol:      res.Response.ALPNNegotiatedProtocol,
		StreamID:      uint32(res.StreamID),
		Status:        res.Response.StatusCode,
		Pushed:        res.Pushed,
		BytesSent:     res.Sent,
		BytesReceived: res.Received,
		Duration:      res.Duration,
		Err:           err,
	})
}
