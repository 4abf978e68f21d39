// Package static serves files from a base directory into response bodies.
package static

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/router"
)

// MimeType guesses a content type from the file extension.
func MimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".htm", ".html", ".php":
		return "text/html"
	case ".css":
		return "text/css"
	case ".txt":
		return "text/plain"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".png":
		return "image/png"
	case ".jpe", ".jpeg", ".jpg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".ico":
		return "image/vnd.microsoft.icon"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".svg", ".svgz":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// Serve reads filename into the response body with the guessed content
// type. A missing file surfaces as a route miss so the client sees 404.
func Serve(resp *http.Response, filename string) (router.ManualResult, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return router.Manual, router.ErrRouteNotFound
	}
	resp.Set("Content-Type", MimeType(filename))
	resp.SetBody(data)
	return router.Manual, nil
}
