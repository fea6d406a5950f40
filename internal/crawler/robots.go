package crawler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
)

// RobotsRules holds the allow/disallow path patterns of the user agent group
// that applies to this crawl. Parsed once per scan, immutable afterwards.
type RobotsRules struct {
	allows    []string
	disallows []string
}

// AllowAllRules returns rules that permit every path. Used when robots.txt
// is missing, unfetchable, or unparseable - robots failures are non-fatal.
func AllowAllRules() *RobotsRules {
	return &RobotsRules{}
}

// FetchRobots downloads and parses the robots.txt of the target site.
// Any failure degrades to allow-all.
func FetchRobots(ctx context.Context, client *http.Client, targetURL, userAgent string, logger arbor.ILogger) *RobotsRules {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return AllowAllRules()
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return AllowAllRules()
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt fetch failed, allowing all")
		return AllowAllRules()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug().Int("status", resp.StatusCode).Str("url", robotsURL).Msg("robots.txt not available, allowing all")
		return AllowAllRules()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return AllowAllRules()
	}

	rules := ParseRobots(string(body), userAgent)
	logger.Debug().
		Int("allow_rules", len(rules.allows)).
		Int("disallow_rules", len(rules.disallows)).
		Str("url", robotsURL).
		Msg("robots.txt parsed")
	return rules
}

// ParseRobots parses a robots.txt body and extracts the rule group for the
// given user agent. Group selection follows RFC 9309: the group whose
// user-agent token is the longest case-insensitive prefix match of the
// crawler's product token wins; the "*" group is the fallback.
func ParseRobots(body, userAgent string) *RobotsRules {
	productToken := strings.ToLower(productTokenOf(userAgent))

	type group struct {
		agents    []string
		allows    []string
		disallows []string
	}

	var groups []*group
	var current *group
	inGroupHeader := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// Consecutive user-agent lines share one group
			if current == nil || !inGroupHeader {
				current = &group{}
				groups = append(groups, current)
			}
			current.agents = append(current.agents, strings.ToLower(value))
			inGroupHeader = true
		case "allow":
			if current != nil && value != "" {
				current.allows = append(current.allows, value)
			}
			inGroupHeader = false
		case "disallow":
			if current != nil && value != "" {
				current.disallows = append(current.disallows, value)
			}
			inGroupHeader = false
		default:
			inGroupHeader = false
		}
	}

	// Pick the most specific matching group, "*" as fallback
	var selected *group
	bestLen := -1
	for _, g := range groups {
		for _, agent := range g.agents {
			if agent == "*" {
				if bestLen < 0 {
					selected = g
					bestLen = 0
				}
				continue
			}
			if strings.Contains(productToken, agent) && len(agent) > bestLen {
				selected = g
				bestLen = len(agent)
			}
		}
	}

	if selected == nil {
		return AllowAllRules()
	}
	return &RobotsRules{
		allows:    selected.allows,
		disallows: selected.disallows,
	}
}

// Allowed evaluates a request path against the rules. The longest matching
// pattern is computed independently for the allow and disallow sets; no
// match on either side allows by default, otherwise the longer match wins
// and ties break in favor of allow (RFC 9309 precedence).
func (r *RobotsRules) Allowed(path string) bool {
	if path == "" {
		path = "/"
	}

	longestAllow := 0
	for _, pattern := range r.allows {
		if n := matchLength(pattern, path); n > longestAllow {
			longestAllow = n
		}
	}
	longestDisallow := 0
	for _, pattern := range r.disallows {
		if n := matchLength(pattern, path); n > longestDisallow {
			longestDisallow = n
		}
	}

	if longestAllow == 0 && longestDisallow == 0 {
		return true
	}
	return longestAllow >= longestDisallow
}

// matchLength returns the pattern length if the pattern matches the path,
// zero otherwise. Supports a trailing "*" wildcard and a "$" end anchor.
func matchLength(pattern, path string) int {
	if pattern == "" {
		return 0
	}

	if strings.HasSuffix(pattern, "$") {
		exact := pattern[:len(pattern)-1]
		if path == exact {
			return len(pattern)
		}
		return 0
	}

	if strings.HasSuffix(pattern, "*") {
		prefix := pattern[:len(pattern)-1]
		if strings.HasPrefix(path, prefix) {
			return len(pattern)
		}
		return 0
	}

	if strings.HasPrefix(path, pattern) {
		return len(pattern)
	}
	return 0
}

// productTokenOf extracts the product token from a full user agent string,
// e.g. "imgsentry/1.0 (+https://...)" -> "imgsentry".
func productTokenOf(userAgent string) string {
	token := userAgent
	if idx := strings.IndexAny(token, "/ "); idx >= 0 {
		token = token[:idx]
	}
	if token == "" {
		return userAgent
	}
	return token
}
