package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"example.com/muxhttp/v2/internal/logger"
)

// ResponseWriter is the peer's side of one stream, used by handlers to
// produce a response.
type ResponseWriter interface {
	// SendHeaders sends the response headers. If endStream is true the
	// response has no body.
	SendHeaders(status int, header http.Header, endStream bool) error

	// WriteData sends a chunk of the response body. If endStream is true,
	// this is the final chunk.
	WriteData(p []byte, endStream bool) (n int, err error)

	// WriteTrailers sends trailing headers and ends the stream.
	WriteTrailers(trailers http.Header) error

	ID() uint32
}

// Handler processes requests for a route.
type Handler interface {
	// ServeHTTP2 processes the request. The handler received its
	// configuration when its factory created it.
	ServeHTTP2(w ResponseWriter, req *http.Request)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(w ResponseWriter, req *http.Request)

// ServeHTTP2 calls f(w, req).
func (f HandlerFunc) ServeHTTP2(w ResponseWriter, req *http.Request) {
	f(w, req)
}

// HandlerFactory creates a handler from its route's opaque configuration.
type HandlerFactory func(handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error)

// HandlerRegistry maps HandlerType strings from configuration to factories.
// It is safe for concurrent use.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewHandlerRegistry creates and returns a new HandlerRegistry instance.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register associates a HandlerType string with a factory function.
// It returns an error if a HandlerType is registered more than once.
func (r *HandlerRegistry) Register(handlerType string, factory HandlerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[handlerType]; exists {
		return fmt.Errorf("handler type '%s' already registered", handlerType)
	}
	r.factories[handlerType] = factory
	return nil
}

// GetFactory retrieves a registered HandlerFactory for the given handlerType.
func (r *HandlerRegistry) GetFactory(handlerType string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[handlerType]
	return factory, ok
}

// CreateHandler creates a new handler instance for handlerType. It fails if
// the type is not registered or the factory rejects the configuration.
func (r *HandlerRegistry) CreateHandler(handlerType string, handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error) {
	factory, ok := r.GetFactory(handlerType)
	if !ok {
		return nil, fmt.Errorf("no handler factory registered for type '%s'", handlerType)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil when creating handler type '%s'", handlerType)
	}
	return factory(handlerConfig, lg)
}
