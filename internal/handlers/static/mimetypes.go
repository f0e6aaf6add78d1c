package static

import (
	"mime"
	"path"
	"strings"
)

// defaultMimeTypes covers extensions mime.TypeByExtension may not know on
// minimal systems.
var defaultMimeTypes = map[string]string{
	".css":   "text/css; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".gif":   "image/gif",
	".htm":   "text/html; charset=utf-8",
	".html":  "text/html; charset=utf-8",
	".ico":   "image/vnd.microsoft.icon",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "text/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".png":   "image/png",
	".svg":   "image/svg+xml",
	".txt":   "text/plain; charset=utf-8",
	".wasm":  "application/wasm",
	".webp":  "image/webp",
	".woff2": "font/woff2",
	".xml":   "application/xml; charset=utf-8",
}

const defaultOctetStreamMimeType = "application/octet-stream"

// ResolveMimeType returns the content type for a request path. Custom
// mappings win over the built-in table, which wins over the system table.
func ResolveMimeType(requestPath string, custom map[string]string) string {
	ext := strings.ToLower(path.Ext(requestPath))
	if ext == "" {
		return defaultOctetStreamMimeType
	}
	if mimeType, ok := custom[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return defaultOctetStreamMimeType
}
