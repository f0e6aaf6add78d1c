package transport

import (
	"fmt"
	"strconv"
)

// Version is a negotiated transport protocol version.
type Version int

const (
	VersionUnsupported Version = 0
	Version35          Version = 35
	Version36          Version = 36
	Version37          Version = 37
	Version38          Version = 38
	Version39          Version = 39
	Version40          Version = 40
)

// ParseVersion parses a bare version number such as "39".
func ParseVersion(s string) (Version, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return VersionUnsupported, fmt.Errorf("invalid transport version %q: %w", s, err)
	}
	v := Version(n)
	if ConnectionInfoFromVersion(v) == ConnectionInfoUnknownVersion {
		return VersionUnsupported, fmt.Errorf("unsupported transport version %d", n)
	}
	return v, nil
}

// ConnectionInfo labels the protocol a response was received over.
type ConnectionInfo int

const (
	ConnectionInfoUnknownVersion ConnectionInfo = iota
	ConnectionInfo35
	ConnectionInfo36
	ConnectionInfo37
	ConnectionInfo38
	ConnectionInfo39
	ConnectionInfo40
)

// ConnectionInfoFromVersion maps a negotiated version to its label.
func ConnectionInfoFromVersion(v Version) ConnectionInfo {
	switch v {
	case Version35:
		return ConnectionInfo35
	case Version36:
		return ConnectionInfo36
	case Version37:
		return ConnectionInfo37
	case Version38:
		return ConnectionInfo38
	case Version39:
		return ConnectionInfo39
	case Version40:
		return ConnectionInfo40
	default:
		return ConnectionInfoUnknownVersion
	}
}

// String returns the negotiated protocol label, e.g. "http/2+quic/39".
func (c ConnectionInfo) String() string {
	switch c {
	case ConnectionInfo35:
		return "http/2+quic/35"
	case ConnectionInfo36:
		return "http/2+quic/36"
	case ConnectionInfo37:
		return "http/2+quic/37"
	case ConnectionInfo38:
		return "http/2+quic/38"
	case ConnectionInfo39:
		return "http/2+quic/39"
	case ConnectionInfo40:
		return "http/2+quic/40"
	default:
		return "http/2+quic"
	}
}
