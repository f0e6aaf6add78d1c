package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/logger"
)

// Router holds the routing table and dispatches requests to handlers.
type Router struct {
	// exactRoutes stores routes with MatchType "Exact", keyed by PathPattern.
	exactRoutes map[string]config.Route

	// prefixRoutes stores routes with MatchType "Prefix", longest pattern
	// first so that the most specific prefix wins.
	prefixRoutes []config.Route

	handlerRegistry *HandlerRegistry
	log             *logger.Logger
}

// NewRouter creates a Router over routes. Routes are assumed to have been
// validated by the config loader.
func NewRouter(routes []config.Route, registry *HandlerRegistry, lg *logger.Logger) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("handler registry cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	exactMap := make(map[string]config.Route)
	var prefixList []config.Route

	for _, route := range routes {
		switch route.MatchType {
		case config.MatchTypeExact:
			exactMap[route.PathPattern] = route
		case config.MatchTypePrefix:
			prefixList = append(prefixList, route)
		default:
			return nil, fmt.Errorf("route %q has unknown match type %q", route.PathPattern, route.MatchType)
		}
	}

	sort.SliceStable(prefixList, func(i, j int) bool {
		return len(prefixList[i].PathPattern) > len(prefixList[j].PathPattern)
	})

	return &Router{
		exactRoutes:     exactMap,
		prefixRoutes:    prefixList,
		handlerRegistry: registry,
		log:             lg,
	}, nil
}

// MatchedRoute holds the handler created for a matched route.
type MatchedRoute struct {
	Handler Handler
	Route   config.Route
}

// FindRoute matches path against the routing table. Exact matches take
// precedence over prefix matches, and the longest prefix wins. It returns
// nil when nothing matches.
func (r *Router) FindRoute(path string) (*MatchedRoute, error) {
	if route, ok := r.exactRoutes[path]; ok {
		return r.instantiate(path, route)
	}
	for _, route := range r.prefixRoutes {
		if strings.HasPrefix(path, route.PathPattern) {
			return r.instantiate(path, route)
		}
	}
	return nil, nil
}

func (r *Router) instantiate(path string, route config.Route) (*MatchedRoute, error) {
	handler, err := r.handlerRegistry.CreateHandler(route.HandlerType, json.RawMessage(route.HandlerConfig), r.log)
	if err != nil {
		r.log.Error("Failed to create handler for route", logger.LogFields{
			"path":        path,
			"pattern":     route.PathPattern,
			"handlerType": route.HandlerType,
			"error":       err.Error(),
		})
		return nil, err
	}
	return &MatchedRoute{Handler: handler, Route: route}, nil
}

// ServeHTTP2 dispatches req to the handler for its path. Unmatched paths
// get a 404, handlers that cannot be created a 500.
func (r *Router) ServeHTTP2(w ResponseWriter, req *http.Request) {
	requestPath := req.URL.Path

	matched, err := r.FindRoute(requestPath)
	if err != nil {
		WriteErrorResponse(w, http.StatusInternalServerError, req.Header, "Failed to initialize request handler.", r.log)
		return
	}
	if matched == nil {
		r.log.Info("No route matched for request", logger.LogFields{
			"path":   requestPath,
			"stream": w.ID(),
		})
		WriteErrorResponse(w, http.StatusNotFound, req.Header, "The requested resource was not found.", r.log)
		return
	}
	matched.Handler.ServeHTTP2(w, req)
}
