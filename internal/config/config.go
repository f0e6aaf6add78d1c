package config

import (
	"encoding/json"
	"fmt"
)

// MatchType defines how a path pattern is interpreted.
type MatchType string

const (
	// MatchTypeExact matches the path exactly.
	MatchTypeExact MatchType = "Exact"
	// MatchTypePrefix matches any path starting with the prefix.
	MatchTypePrefix MatchType = "Prefix"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Default values applied by ApplyDefaults.
const (
	DefaultMaxPacketSize     = 1350
	DefaultBodyBufferPackets = 10
	DefaultPriority          = "MEDIUM"
	DefaultVersion           = "39"
	DefaultPeerAddress       = "127.0.0.1:443"
	DefaultServerPort        = 443
	DefaultLogFormat         = "json"
)

// Config is the top-level configuration structure.
type Config struct {
	Client  *ClientConfig  `json:"client,omitempty" toml:"client,omitempty"`
	Session *SessionConfig `json:"session,omitempty" toml:"session,omitempty"`
	Push    []PushOffer    `json:"push,omitempty" toml:"push,omitempty"`
	Routing *RoutingConfig `json:"routing,omitempty" toml:"routing,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`
}

// ClientConfig holds the request stream settings.
type ClientConfig struct {
	MaxPacketSize              *int    `json:"max_packet_size,omitempty" toml:"max_packet_size,omitempty"`
	BodyBufferPackets          *int    `json:"body_buffer_packets,omitempty" toml:"body_buffer_packets,omitempty"`
	DisableConnectionMigration *bool   `json:"disable_connection_migration,omitempty" toml:"disable_connection_migration,omitempty"`
	DefaultPriority            *string `json:"default_priority,omitempty" toml:"default_priority,omitempty"` // e.g., "MEDIUM"
}

// SessionConfig describes the in-memory session the CLI talks to.
type SessionConfig struct {
	Version             *string `json:"version,omitempty" toml:"version,omitempty"`           // e.g., "39"
	PeerAddress         *string `json:"peer_address,omitempty" toml:"peer_address,omitempty"` // e.g., "127.0.0.1:443"
	ServerHost          *string `json:"server_host,omitempty" toml:"server_host,omitempty"`
	ServerPort          *int    `json:"server_port,omitempty" toml:"server_port,omitempty"`
	HandshakeConfirmed  *bool   `json:"handshake_confirmed,omitempty" toml:"handshake_confirmed,omitempty"`
	AsyncStreamRequests *bool   `json:"async_stream_requests,omitempty" toml:"async_stream_requests,omitempty"`
	StreamSendWindow    *int    `json:"stream_send_window,omitempty" toml:"stream_send_window,omitempty"` // 0 means unlimited
}

// PushOffer is a server push the peer announces as soon as the session opens.
type PushOffer struct {
	URL     string            `json:"url" toml:"url"`
	Status  int               `json:"status,omitempty" toml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" toml:"body,omitempty"`
	// RequestHeaders are the headers of the promised request, compared
	// against the client's request for fields named by Vary.
	RequestHeaders map[string]string `json:"request_headers,omitempty" toml:"request_headers,omitempty"`
}

// RoutingConfig contains the list of routes the peer serves.
type RoutingConfig struct {
	Routes []Route `json:"routes,omitempty" toml:"routes,omitempty"`
}

// Route defines a single routing rule.
type Route struct {
	PathPattern   string        `json:"path_pattern" toml:"path_pattern"`
	MatchType     MatchType     `json:"match_type" toml:"match_type"`
	HandlerType   string        `json:"handler_type" toml:"handler_type"`
	HandlerConfig HandlerConfig `json:"handler_config,omitempty" toml:"handler_config,omitempty"`
}

// HandlerConfig is an opaque handler configuration. It is kept as JSON
// whichever format the file was written in, so handlers parse one shape.
type HandlerConfig json.RawMessage

// MarshalJSON returns the raw JSON.
func (h HandlerConfig) MarshalJSON() ([]byte, error) {
	if len(h) == 0 {
		return []byte("null"), nil
	}
	return h, nil
}

// UnmarshalJSON stores a copy of the raw JSON.
func (h *HandlerConfig) UnmarshalJSON(data []byte) error {
	*h = append((*h)[:0], data...)
	return nil
}

// UnmarshalTOML re-encodes a decoded TOML value as JSON.
func (h *HandlerConfig) UnmarshalTOML(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("handler_config is not representable as JSON: %w", err)
	}
	*h = data
	return nil
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty"`
	Format    string           `json:"format,omitempty" toml:"format,omitempty"` // "json" or "console"
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty"`
}

// AccessLogConfig configures the per-request log.
type AccessLogConfig struct {
	Enabled *bool  `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Target  string `json:"target,omitempty" toml:"target,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target string `json:"target,omitempty" toml:"target,omitempty"`
}

// StaticResponseConfig is the HandlerConfig for "StaticResponse" routes.
// It will be unmarshalled from Route.HandlerConfig (json.RawMessage).
type StaticResponseConfig struct {
	Status  int               `json:"status,omitempty" toml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" toml:"body,omitempty"`
	// Trailers, when set, are sent after the body.
	Trailers map[string]string `json:"trailers,omitempty" toml:"trailers,omitempty"`
}

// IsFilePath reports whether a log target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}
