// Package static serves a fixed response configured per route.
package static

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
)

// HandlerType is the route handler_type served by this package.
const HandlerType = "StaticResponse"

// Handler answers every request with the same configured response.
type Handler struct {
	cfg config.StaticResponseConfig
	log *logger.Logger
}

// New parses handlerConfig into a Handler. An empty configuration yields an
// empty 200 response.
func New(handlerConfig json.RawMessage, lg *logger.Logger) (router.Handler, error) {
	var cfg config.StaticResponseConfig
	if len(handlerConfig) > 0 && string(handlerConfig) != "null" {
		if err := json.Unmarshal(handlerConfig, &cfg); err != nil {
			return nil, fmt.Errorf("StaticResponse: invalid handler config: %w", err)
		}
	}
	if cfg.Status == 0 {
		cfg.Status = http.StatusOK
	}
	if cfg.Status < 100 || cfg.Status > 999 {
		return nil, fmt.Errorf("StaticResponse: status %d out of range", cfg.Status)
	}
	return &Handler{cfg: cfg, log: lg}, nil
}

// Register adds the StaticResponse factory to reg.
func Register(reg *router.HandlerRegistry) error {
	return reg.Register(HandlerType, New)
}

// ServeHTTP2 writes the configured status, headers, body and trailers. HEAD
// requests get the headers only.
func (h *Handler) ServeHTTP2(w router.ResponseWriter, req *http.Request) {
	header := make(http.Header, len(h.cfg.Headers)+2)
	for k, v := range h.cfg.Headers {
		header.Set(k, v)
	}
	body := []byte(h.cfg.Body)
	if header.Get("Content-Type") == "" && len(body) > 0 {
		header.Set("Content-Type", ResolveMimeType(req.URL.Path, nil))
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))

	if req.Method == http.MethodHead {
		body = nil
	}
	hasTrailers := len(h.cfg.Trailers) > 0

	if err := w.SendHeaders(h.cfg.Status, header, len(body) == 0 && !hasTrailers); err != nil {
		h.log.Warn("StaticResponse: sending headers failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
		return
	}
	if len(body) > 0 {
		if _, err := w.WriteData(body, !hasTrailers); err != nil {
			h.log.Warn("StaticResponse: sending body failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
			return
		}
	}
	if hasTrailers {
		trailers := make(http.Header, len(h.cfg.Trailers))
		for k, v := range h.cfg.Trailers {
			trailers.Set(k, v)
		}
		if err := w.WriteTrailers(trailers); err != nil {
			h.log.Warn("StaticResponse: sending trailers failed", logger.LogFields{"stream": w.ID(), "error": err.Error()})
		}
	}
}
