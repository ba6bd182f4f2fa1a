package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// RobotsChecker checks and caches robots.txt rules per host. Rules are
// cached for the life of the process; a fetch failure caches a permissive
// allow-all policy for that host.
type RobotsChecker struct {
	httpClient *http.Client
	userAgent  string
	mu         sync.RWMutex
	cache      map[string]*robotsEntry // keyed by host
}

// robotsEntry stores the parsed rules for one host.
type robotsEntry struct {
	data     *robotstxt.RobotsData
	allowAll bool // robots.txt missing or unreachable
}

// NewRobotsChecker creates a RobotsChecker.
func NewRobotsChecker(httpClient *http.Client, userAgent string) *RobotsChecker {
	return &RobotsChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		cache:      make(map[string]*robotsEntry),
	}
}

// IsAllowed reports whether the URL may be fetched under the host's
// robots.txt rules for the configured user agent.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()

	if !ok {
		entry = r.fetchAndCache(ctx, host, parsed.Scheme)
	}

	if entry.allowAll {
		return true, nil
	}

	return entry.data.TestAgent(parsed.Path, r.userAgent), nil
}

// fetchAndCache fetches robots.txt for the host and caches the parsed
// rules. Any failure caches allow-all (standard crawling practice).
func (r *RobotsChecker) fetchAndCache(ctx context.Context, host, scheme string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}

	entry := &robotsEntry{allowAll: true}

	body, statusCode, err := r.doFetch(ctx, scheme+"://"+host+robotsTxtPath)
	if err == nil && statusCode >= 200 && statusCode < 300 {
		if data, parseErr := robotstxt.FromBytes(body); parseErr == nil {
			entry = &robotsEntry{data: data}
		}
	}

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()

	return entry
}

func (r *RobotsChecker) doFetch(ctx context.Context, robotsURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", err)
	}

	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", err)
	}

	return body, resp.StatusCode, nil
}

// CachedHosts returns the number of hosts with cached rules.
func (r *RobotsChecker) CachedHosts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.cache)
}
