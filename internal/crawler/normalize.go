package crawler

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a raw URL for frontier deduplication.
// Returns the canonical form and true, or "" and false for unparseable
// input and non-http(s) schemes (data:, javascript:, mailto:, ftp:, ...).
//
// Canonical form: lowercase scheme and host (RFC 3986 case-insensitivity),
// path/query case preserved, fragment stripped, default ports 80/443
// stripped, a single trailing slash removed except for the root path.
// The function is idempotent.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	// Strip default ports
	host := parsed.Hostname()
	if host == "" {
		return "", false
	}
	port := parsed.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		parsed.Host = host
	}

	// Remove a single trailing slash, except for the root path
	if len(parsed.Path) > 1 && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = parsed.Path[:len(parsed.Path)-1]
	}
	if parsed.Path == "/" {
		parsed.Path = ""
	}

	return parsed.String(), true
}

// SameRegistrableHost reports whether two normalized URLs share a host,
// treating a leading "www." as equivalent. Used to keep the crawl on the
// target site.
func SameRegistrableHost(a, b string) bool {
	return hostOf(a) == hostOf(b)
}

func hostOf(normalized string) string {
	parsed, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
