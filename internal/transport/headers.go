package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2/hpack"
)

// HeaderBlock is an ordered list of header fields as carried by one HEADERS
// frame. Pseudo-header fields come first and names are lowercase.
type HeaderBlock []hpack.HeaderField

// Get returns the first value of name.
func (h HeaderBlock) Get(name string) (string, bool) {
	for _, hf := range h {
		if hf.Name == name {
			return hf.Value, true
		}
	}
	return "", false
}

// Size returns the uncompressed size of the block as defined by HPACK.
func (h HeaderBlock) Size() int {
	n := 0
	for _, hf := range h {
		n += int(hf.Size())
	}
	return n
}

// Clone returns a copy of the block.
func (h HeaderBlock) Clone() HeaderBlock {
	if h == nil {
		return nil
	}
	c := make(HeaderBlock, len(h))
	copy(c, h)
	return c
}

// URL rebuilds the request URL from the :scheme, :authority and :path
// pseudo-header fields.
func (h HeaderBlock) URL() string {
	scheme, _ := h.Get(":scheme")
	authority, _ := h.Get(":authority")
	path, _ := h.Get(":path")
	return scheme + "://" + authority + path
}

// connection-specific fields that must not be forwarded on a multiplexed stream.
var hopByHopHeaders = map[string]bool{
	"connection":        true,
	"host":              true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// NewRequestHeaderBlock builds the header block for a request sent directly
// to the origin. Header names are lowercased and sorted so the block is
// deterministic; multiple values stay separate fields.
func NewRequestHeaderBlock(method string, u *url.URL, header http.Header) HeaderBlock {
	authority := u.Host
	if host := header.Get("Host"); host != "" {
		authority = host
	}
	if a, err := httpguts.PunycodeHostPort(authority); err == nil {
		authority = a
	}
	path := u.RequestURI()
	if method == http.MethodConnect {
		path = ""
	}

	block := HeaderBlock{
		{Name: ":method", Value: method},
		{Name: ":authority", Value: authority},
	}
	if method != http.MethodConnect {
		block = append(block,
			hpack.HeaderField{Name: ":scheme", Value: u.Scheme},
			hpack.HeaderField{Name: ":path", Value: path},
		)
	}

	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lower := strings.ToLower(name)
		if hopByHopHeaders[lower] {
			continue
		}
		for _, v := range header[name] {
			block = append(block, hpack.HeaderField{Name: lower, Value: v})
		}
	}
	return block
}

// RequestHeader converts the regular fields of a request block to an
// http.Header, dropping pseudo-header fields.
func (h HeaderBlock) RequestHeader() http.Header {
	header := make(http.Header, len(h))
	for _, hf := range h {
		if strings.HasPrefix(hf.Name, ":") {
			continue
		}
		header.Add(hf.Name, hf.Value)
	}
	return header
}

// ParsedResponse is a response header block converted to HTTP form.
type ParsedResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
}

// ParseResponse converts a response header block. It fails when :status is
// missing or malformed, or when a field is not a valid HTTP header field.
// Values joined with NUL are split into separate values.
func (h HeaderBlock) ParseResponse() (*ParsedResponse, error) {
	status, ok := h.Get(":status")
	if !ok {
		return nil, fmt.Errorf("response header block has no :status")
	}
	code := status
	reason := ""
	if i := strings.IndexByte(status, ' '); i >= 0 {
		code, reason = status[:i], status[i+1:]
	}
	statusCode, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || statusCode < 100 {
		return nil, fmt.Errorf("invalid :status %q", status)
	}
	if reason == "" {
		reason = http.StatusText(statusCode)
	}

	resp := &ParsedResponse{
		StatusCode: statusCode,
		Status:     strings.TrimSpace(code + " " + reason),
		Header:     make(http.Header, len(h)),
	}
	for _, hf := range h {
		if strings.HasPrefix(hf.Name, ":") {
			continue
		}
		if !httpguts.ValidHeaderFieldName(hf.Name) {
			return nil, fmt.Errorf("invalid response header name %q", hf.Name)
		}
		for _, v := range strings.Split(hf.Value, "\x00") {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("invalid value for response header %q", hf.Name)
			}
			resp.Header.Add(hf.Name, v)
		}
	}
	return resp, nil
}

// NewResponseHeaderBlock builds a response header block, used by peers.
func NewResponseHeaderBlock(statusCode int, header http.Header) HeaderBlock {
	block := HeaderBlock{{Name: ":status", Value: strconv.Itoa(statusCode)}}
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range header[name] {
			block = append(block, hpack.HeaderField{Name: strings.ToLower(name), Value: v})
		}
	}
	return block
}
