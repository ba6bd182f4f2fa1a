// Package crawl implements the fetch worker: URL normalization and
// deduplication, robots.txt compliance, polite fetching, content
// extraction, and link discovery.
package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for deduplication: lower-cased scheme
// and host, fragment removed, trailing slash stripped from the path, query
// preserved. Idempotent.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", rawURL, err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// ValidTaskURL reports whether the URL parses and carries an http or https
// scheme with a non-empty host.
func ValidTaskURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// HostMatchesRestriction reports whether the URL's host contains the
// domain restriction as a substring. An empty restriction matches
// everything.
func HostMatchesRestriction(rawURL, restriction string) bool {
	if restriction == "" {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	return strings.Contains(parsed.Host, restriction)
}
