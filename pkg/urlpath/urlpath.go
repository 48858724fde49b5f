// Package urlpath operates on HTTP resource paths and site URLs.
//
// A canonical path is absolute and normalized, so two different
// canonical paths are never equivalent. Canonical paths are the only
// keys used for location matching; any transformation applied here
// must stay compatible with the transformations the front-end server
// applies to the paths it routes.
package urlpath

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// MaxPathLen bounds the length of a canonical location path.
const MaxPathLen = 2048

// ErrInvalidPath indicates a path that is not absolute and normalized.
var ErrInvalidPath = errors.New("urlpath: invalid path")

// Canonicalize validates and normalizes a raw, percent-encoded request
// path into the canonical form used for location matching.
//
// The query part is stripped and ignored (some front-end servers do
// not expose the encoded path without the query). A literal fragment
// marker fails validation: browsers do not send fragments, so one in
// an auth request is a sign of something suspicious. An encoded '%23'
// decodes to '#' in a path segment and is accepted.
//
// Repeated '/' separators are collapsed, because browsers do not
// normalize them and legitimate applications use them. Paths with
// '/./' or '/../' segments are rejected rather than resolved.
func Canonicalize(rawPath string) (string, error) {
	if strings.Contains(rawPath, "#") {
		return "", fmt.Errorf("%w: path contains a fragment ('#')", ErrInvalidPath)
	}

	stripped := StripQuery(rawPath)

	decoded, err := decode(stripped)
	if err != nil {
		return "", fmt.Errorf("%w: malformed percent encoding", ErrInvalidPath)
	}

	collapsed := CollapseSlashes(decoded)

	if !IsCanonical(collapsed) {
		return "", fmt.Errorf(
			"%w: path should be absolute and normalized (starting with / "+
				"without /../ or /./ or //)", ErrInvalidPath)
	}

	return collapsed, nil
}

// StripQuery drops the query part of a path, if any.
func StripQuery(p string) string {
	if idx := strings.IndexByte(p, '?'); idx != -1 {
		return p[:idx]
	}

	return p
}

// CollapseSlashes replaces repeated path separators with a single one.
func CollapseSlashes(p string) string {
	var b strings.Builder

	b.Grow(len(p))

	prevSlash := false

	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteByte(c)
	}

	return b.String()
}

// IsCanonical reports whether a path is absolute and normalized.
//
// '//' is recognized by POSIX as a normalized path, but it is not
// canonical (it is equivalent to '/'). A canonical path may or may not
// end with a single trailing '/'.
func IsCanonical(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}

	// path.Clean removes a trailing '/', which is allowed in a
	// canonical path.
	normalized := path.Clean(p)

	return normalized == p || normalized+"/" == p
}

// ContainsFragment reports whether a path contains a fragment part.
func ContainsFragment(p string) bool {
	return strings.Contains(p, "#")
}

// ContainsQuery reports whether a path contains a query part.
func ContainsQuery(p string) bool {
	return strings.Contains(p, "?")
}

// ContainsParams reports whether a path contains a params (';') part.
func ContainsParams(p string) bool {
	return strings.Contains(p, ";")
}

// ValidateLocationPath checks that a path is usable as a location
// path: canonical, without parts that play no role in access control
// (query, fragment, params), ASCII only and within the length bound.
func ValidateLocationPath(p string) error {
	if !IsCanonical(p) {
		return fmt.Errorf(
			"%w: path should be absolute and normalized (starting with / "+
				"without /../ or /./ or //)", ErrInvalidPath)
	}

	if ContainsFragment(p) {
		return fmt.Errorf(
			"%w: path should not contain fragment ('#' part)", ErrInvalidPath)
	}

	if ContainsQuery(p) {
		return fmt.Errorf(
			"%w: path should not contain query ('?' part)", ErrInvalidPath)
	}

	if ContainsParams(p) {
		return fmt.Errorf(
			"%w: path should not contain parameters (';' part)", ErrInvalidPath)
	}

	if len(p) > MaxPathLen {
		return fmt.Errorf("%w: path too long", ErrInvalidPath)
	}

	for i := 0; i < len(p); i++ {
		if p[i] > 127 {
			return fmt.Errorf(
				"%w: path should contain only ascii characters", ErrInvalidPath)
		}
	}

	return nil
}

// decode percent-decodes a path. '+' decodes to a space, matching
// what browsers produce for form-submitted paths.
func decode(p string) (string, error) {
	return url.QueryUnescape(p)
}

// ValidateSiteURL checks that a URL is usable as a site alias. The
// URL must consist of just a scheme and a host with an optional port.
// The returned URL has a default port stripped.
func ValidateSiteURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid site url: %w", err)
	}

	if parsed.Scheme == "" {
		return "", errors.New("site url: missing scheme (http:// or https://)")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New(
			"site url: incorrect scheme (should be http:// or https://)")
	}

	if parsed.Host == "" {
		return "", errors.New("site url: missing domain")
	}

	if parsed.Path != "" {
		return "", errors.New("site url: contains path")
	}

	if parsed.RawQuery != "" {
		return "", errors.New("site url: contains query")
	}

	if parsed.Fragment != "" {
		return "", errors.New("site url: contains fragment")
	}

	if parsed.User != nil {
		return "", errors.New("site url: contains credentials")
	}

	return RemoveDefaultPort(
		parsed.Scheme + "://" + strings.ToLower(parsed.Host)), nil
}

// RemoveDefaultPort strips ':80' from http URLs and ':443' from https
// URLs, so aliases compare equal regardless of an explicit default
// port.
func RemoveDefaultPort(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "http://") &&
		strings.HasSuffix(rawURL, ":80"):
		return strings.TrimSuffix(rawURL, ":80")
	case strings.HasPrefix(rawURL, "https://") &&
		strings.HasSuffix(rawURL, ":443"):
		return strings.TrimSuffix(rawURL, ":443")
	}

	return rawURL
}

// IsHTTPS reports whether a site URL uses the https scheme.
func IsHTTPS(siteURL string) bool {
	return strings.HasPrefix(strings.ToLower(siteURL), "https://")
}
