package router

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/muxhttp/v2/internal/logger"
)

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]struct {
	Title   string
	Heading string
	Message string
}{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method specified in the request is not allowed for the resource.",
	},
}

// PrefersJSON checks if the client prefers application/json based on the
// Accept header. Offers are ranked by q-value, then specificity, then order.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType := part
		q := 1.0

		if idx := strings.Index(part, ";"); idx != -1 {
			mediaType = strings.TrimSpace(part[:idx])
			for _, param := range strings.Split(part[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				v, err := strconv.ParseFloat(param[2:], 64)
				if err != nil || v < 0 || v > 1 {
					v = 0
				}
				q = v
				break
			}
		}

		// A media type with q=0 is not acceptable.
		if q > 0 {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         q,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}
	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a default error response, as JSON when the
// request prefers it and as HTML otherwise.
func WriteErrorResponse(w ResponseWriter, statusCode int, requestHeader http.Header, detailMessage string, lg *logger.Logger) error {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	var body []byte
	var contentType string
	if PrefersJSON(requestHeader.Get("Accept")) {
		contentType = "application/json; charset=utf-8"
		body, _ = json.Marshal(ErrorResponseJSON{
			Error: ErrorDetail{StatusCode: statusCode, Message: statusText, Detail: detailMessage},
		})
	} else {
		contentType = "text/html; charset=utf-8"
		body = errorPage(statusCode, statusText, detailMessage)
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if err := w.SendHeaders(statusCode, header, len(body) == 0); err != nil {
		if lg != nil {
			lg.Error("Failed to send error response headers", logger.LogFields{"error": err.Error(), "stream": w.ID(), "status": statusCode})
		}
		return fmt.Errorf("failed to send error response headers (status %d) for stream %d: %w", statusCode, w.ID(), err)
	}
	if len(body) > 0 {
		if _, err := w.WriteData(body, true); err != nil {
			if lg != nil {
				lg.Error("Failed to send error response body", logger.LogFields{"error": err.Error(), "stream": w.ID(), "status": statusCode})
			}
			return fmt.Errorf("failed to send error response body (status %d) for stream %d: %w", statusCode, w.ID(), err)
		}
	}
	return nil
}

func errorPage(statusCode int, statusText, detail string) []byte {
	title := fmt.Sprintf("%d %s", statusCode, statusText)
	heading := statusText
	message := "The server encountered an error processing your request."
	if known, ok := defaultHTMLMessages[statusCode]; ok {
		title, heading, message = known.Title, known.Heading, known.Message
		if detail != "" {
			message += " " + html.EscapeString(detail)
		}
	} else if detail != "" {
		message = html.EscapeString(detail)
	}
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(heading), message))
}
