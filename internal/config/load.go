package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"example.com/muxhttp/v2/internal/transport"
)

// Format identifies a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	// FormatAuto tries TOML first and falls back to JSON.
	FormatAuto Format = ""
)

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension; unknown extensions are detected.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".json":
		format = FormatJSON
	}

	cfg, err := ParseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes data without applying defaults.
func ParseConfig(data []byte, format Format) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("configuration is empty")
	}
	var cfg Config
	switch format {
	case FormatTOML:
		if err := decodeTOML(data, &cfg); err != nil {
			return nil, err
		}
	case FormatJSON:
		if err := decodeJSON(data, &cfg); err != nil {
			return nil, err
		}
	case FormatAuto:
		if errTOML := decodeTOML(data, &cfg); errTOML != nil {
			cfg = Config{}
			if errJSON := decodeJSON(data, &cfg); errJSON != nil {
				return nil, fmt.Errorf("not valid TOML (%v) or JSON (%v)", errTOML, errJSON)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", format)
	}
	return &cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("toml: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, cfg *Config) error {
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Client == nil {
		cfg.Client = &ClientConfig{}
	}
	c := cfg.Client
	if c.MaxPacketSize == nil {
		c.MaxPacketSize = intPtr(DefaultMaxPacketSize)
	}
	if c.BodyBufferPackets == nil {
		c.BodyBufferPackets = intPtr(DefaultBodyBufferPackets)
	}
	if c.DisableConnectionMigration == nil {
		c.DisableConnectionMigration = boolPtr(false)
	}
	if c.DefaultPriority == nil {
		c.DefaultPriority = strPtr(DefaultPriority)
	}

	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	s := cfg.Session
	if s.Version == nil {
		s.Version = strPtr(DefaultVersion)
	}
	if s.PeerAddress == nil {
		s.PeerAddress = strPtr(DefaultPeerAddress)
	}
	if s.ServerPort == nil {
		s.ServerPort = intPtr(DefaultServerPort)
	}
	if s.HandshakeConfirmed == nil {
		s.HandshakeConfirmed = boolPtr(true)
	}
	if s.AsyncStreamRequests == nil {
		s.AsyncStreamRequests = boolPtr(false)
	}
	if s.StreamSendWindow == nil {
		s.StreamSendWindow = intPtr(0)
	}

	for i := range cfg.Push {
		if cfg.Push[i].Status == 0 {
			cfg.Push[i].Status = 200
		}
	}

	if cfg.Routing == nil {
		cfg.Routing = &RoutingConfig{}
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	l := cfg.Logging
	if l.LogLevel == "" {
		l.LogLevel = LogLevelInfo
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
	if l.ErrorLog == nil {
		l.ErrorLog = &ErrorLogConfig{}
	}
	if l.ErrorLog.Target == "" {
		l.ErrorLog.Target = "stderr"
	}
	if l.AccessLog == nil {
		l.AccessLog = &AccessLogConfig{}
	}
	if l.AccessLog.Enabled == nil {
		l.AccessLog.Enabled = boolPtr(false)
	}
	if l.AccessLog.Target == "" {
		l.AccessLog.Target = "stdout"
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if c := cfg.Client; c != nil {
		if c.MaxPacketSize != nil && *c.MaxPacketSize <= 0 {
			return fmt.Errorf("client.max_packet_size must be positive, got %d", *c.MaxPacketSize)
		}
		if c.BodyBufferPackets != nil && *c.BodyBufferPackets <= 0 {
			return fmt.Errorf("client.body_buffer_packets must be positive, got %d", *c.BodyBufferPackets)
		}
		if c.DefaultPriority != nil {
			if _, err := transport.ParseRequestPriority(*c.DefaultPriority); err != nil {
				return fmt.Errorf("client.default_priority: %w", err)
			}
		}
	}
	if s := cfg.Session; s != nil {
		if s.PeerAddress != nil {
			if _, err := netip.ParseAddrPort(*s.PeerAddress); err != nil {
				return fmt.Errorf("session.peer_address %q: %w", *s.PeerAddress, err)
			}
		}
		if s.Version != nil {
			if _, err := transport.ParseVersion(*s.Version); err != nil {
				return fmt.Errorf("session.version: %w", err)
			}
		}
		if s.ServerPort != nil && (*s.ServerPort <= 0 || *s.ServerPort > 65535) {
			return fmt.Errorf("session.server_port %d out of range", *s.ServerPort)
		}
		if s.StreamSendWindow != nil && *s.StreamSendWindow < 0 {
			return fmt.Errorf("session.stream_send_window must not be negative, got %d", *s.StreamSendWindow)
		}
	}
	for i, p := range cfg.Push {
		u, err := url.Parse(p.URL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("push[%d].url %q must be an absolute URL", i, p.URL)
		}
		if p.Status < 100 || p.Status > 999 {
			return fmt.Errorf("push[%d].status %d out of range", i, p.Status)
		}
	}
	if r := cfg.Routing; r != nil {
		for i, route := range r.Routes {
			if !strings.HasPrefix(route.PathPattern, "/") {
				return fmt.Errorf("routing.routes[%d].path_pattern %q must start with '/'", i, route.PathPattern)
			}
			if route.MatchType != MatchTypeExact && route.MatchType != MatchTypePrefix {
				return fmt.Errorf("routing.routes[%d].match_type %q must be Exact or Prefix", i, route.MatchType)
			}
			if route.HandlerType == "" {
				return fmt.Errorf("routing.routes[%d].handler_type cannot be empty", i)
			}
		}
	}
	if l := cfg.Logging; l != nil {
		switch l.LogLevel {
		case "", LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("logging.log_level %q is invalid", l.LogLevel)
		}
		switch l.Format {
		case "", "json", "console":
		default:
			return fmt.Errorf("logging.format %q must be json or console", l.Format)
		}
		if l.ErrorLog != nil && IsFilePath(l.ErrorLog.Target) && !filepath.IsAbs(l.ErrorLog.Target) {
			return fmt.Errorf("logging.error_log.target %q must be stdout, stderr or an absolute path", l.ErrorLog.Target)
		}
		if l.AccessLog != nil && IsFilePath(l.AccessLog.Target) && !filepath.IsAbs(l.AccessLog.Target) {
			return fmt.Errorf("logging.access_log.target %q must be stdout, stderr or an absolute path", l.AccessLog.Target)
		}
	}
	return nil
}
