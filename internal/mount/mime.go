package mount

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// detectMIME returns the MIME type for a new Data node: content sniffing
// first, falling back to the extension when sniffing yields the generic
// octet-stream default and the extension says otherwise.
func detectMIME(path string, data []byte) string {
	sniffed := mimetype.Detect(data)
	if sniffed.String() != "application/octet-stream" {
		return sniffed.String()
	}
	if ext := filepath.Ext(path); ext != "" {
		if t := extType(ext); t != "" {
			return t
		}
	}
	return sniffed.String()
}

// extType maps a handful of common extensions mimetype's magic-based
// sniffing can't distinguish from octet-stream (plain text variants).
func extType(ext string) string {
	switch strings.ToLower(ext) {
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return ""
	}
}
