package lsp

import (
	"net/url"

	"go.lsp.dev/uri"
)

// URIToPath converts a file:// URI into a local path. ok is false for other
// schemes or malformed URIs.
func URIToPath(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != uri.FileScheme || u.Path == "" {
		return "", false
	}
	return uri.URI(s).Filename(), true
}

// PathToURI converts an absolute local path into a file:// URI.
func PathToURI(path string) string {
	return string(uri.File(path))
}
