package storage

import (
	"net/url"
	"strings"
)

// TransformURLToPathSegment turns a URL path into a filesystem-safe segment,
// e.g. "https://x/a/b/" -> "a_b". An empty path maps to "root".
func TransformURLToPathSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return "root", nil
	}
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.Map(func(r rune) rune {
		switch r {
		case '\\', ':', '*', '?', '"', '<', '>', '|', '.':
			return '_'
		}
		return r
	}, path)
	return path, nil
}

// ShortID returns the first 8 chars of an identifier such as a CDP target ID.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
