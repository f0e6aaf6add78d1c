package httpstream

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// VaryData records the request header values selected by a response's Vary
// header. The zero value is invalid and matches nothing.
type VaryData struct {
	valid  bool
	values []string
}

// IsValid reports whether Init found a usable Vary header.
func (v *VaryData) IsValid() bool {
	return v.valid
}

// Init captures the request values named by the response's Vary header. It
// returns false when the response has no Vary header. "Vary: *" is valid
// but never matches.
func (v *VaryData) Init(requestHeader, responseHeader http.Header) bool {
	v.valid = false
	v.values = nil

	names := varyFieldNames(responseHeader)
	if len(names) == 0 {
		return false
	}
	if httpguts.HeaderValuesContainsToken(responseHeader.Values("Vary"), "*") {
		v.valid = true
		return true
	}
	for _, name := range names {
		v.values = append(v.values, name+"\x00"+normalizedHeader(requestHeader, name))
	}
	v.valid = true
	return true
}

// MatchesRequest reports whether requestHeader selects the same values as
// the request v was initialized from.
func (v *VaryData) MatchesRequest(requestHeader, cachedResponseHeader http.Header) bool {
	if httpguts.HeaderValuesContainsToken(cachedResponseHeader.Values("Vary"), "*") {
		return false
	}
	var other VaryData
	if !other.Init(requestHeader, cachedResponseHeader) {
		return false
	}
	if len(other.values) != len(v.values) {
		return false
	}
	for i := range v.values {
		if other.values[i] != v.values[i] {
			return false
		}
	}
	return true
}

// varyFieldNames lists the lowercase field names of all Vary headers in
// order. Repeated names are kept.
func varyFieldNames(h http.Header) []string {
	var names []string
	for _, value := range h.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// normalizedHeader joins all values of name the way a single combined
// header line would carry them.
func normalizedHeader(h http.Header, name string) string {
	return strings.Join(h.Values(name), ", ")
}
