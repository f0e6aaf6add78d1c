// Package echo returns the request body back to the client.
package echo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
)

// HandlerType is the route handler_type served by this package.
const HandlerType = "Echo"

// Config is the handler_config of Echo routes.
type Config struct {
	// Status defaults to 200.
	Status int `json:"status,omitempty"`
	// ChunkSize splits the echoed body into several data writes. Zero sends
	// it in one.
	ChunkSize int `json:"chunk_size,omitempty"`
}

// Handler echoes the request body with the request's content type.
type Handler struct {
	cfg Config
	log *logger.Logger
}

// New creates an Echo handler from its route configuration.
func New(handlerConfig json.RawMessage, lg *logger.Logger) (router.Handler, error) {
	var cfg Config
	if len(handlerConfig) > 0 && string(handlerConfig) != "null" {
		if err := json.Unmarshal(handlerConfig, &cfg); err != nil {
			return nil, fmt.Errorf("Echo: invalid handler config: %w", err)
		}
	}
	if cfg.Status == 0 {
		cfg.Status = http.StatusOK
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("Echo: chunk_size must not be negative")
	}
	return &Handler{cfg: cfg, log: lg}, nil
}

// Register adds the Echo factory to reg.
func Register(reg *router.HandlerRegistry) error {
	return reg.Register(HandlerType, New)
}

// ServeHTTP2 implements router.Handler.
func (h *Handler) ServeHTTP2(w router.ResponseWriter, req *http.Request) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			h.log.Error("Echo: reading request body failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
			router.WriteErrorResponse(w, http.StatusInternalServerError, req.Header, "Failed to read request body.", h.log)
			return
		}
	}

	header := http.Header{}
	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Echo-Method", req.Method)

	if err := w.SendHeaders(h.cfg.Status, header, len(body) == 0); err != nil {
		h.log.Warn("Echo: sending headers failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
		return
	}

	chunk := h.cfg.ChunkSize
	if chunk == 0 {
		chunk = len(body)
	}
	for len(body) > 0 {
		n := chunk
		if n > len(body) {
			n = len(body)
		}
		if _, err := w.WriteData(body[:n], n == len(body)); err != nil {
			h.log.Warn("Echo: sending body failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
			return
		}
		body = body[n:]
	}
}
