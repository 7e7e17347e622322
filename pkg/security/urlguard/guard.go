// Package urlguard enforces the navigation policy: which URLs browser
// sessions are allowed to visit.
package urlguard

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Guard matches navigation URLs against allow and deny glob patterns.
// Denied patterns take precedence; an empty allow list allows everything
// that is not denied.
type Guard struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// New compiles the allow and deny patterns into a Guard. Patterns use
// standard glob syntax and are matched against the full URL string, e.g.
// "https://*.example.com/*".
func New(allowed, denied []string) (*Guard, error) {
	g := &Guard{}

	// Compile allowed patterns
	for _, pattern := range allowed {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		g.allowedPatterns = append(g.allowedPatterns, compiled)
	}

	// Compile denied patterns
	for _, pattern := range denied {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		g.deniedPatterns = append(g.deniedPatterns, compiled)
	}

	return g, nil
}

// Check validates a navigation target. The URL must parse, carry an http or
// https scheme, and pass the pattern policy.
func (g *Guard) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme %q is not allowed (http and https only)", parsed.Scheme)
	}

	// Denied patterns take precedence
	for _, pattern := range g.deniedPatterns {
		if pattern.Match(rawURL) {
			return fmt.Errorf("url %q is denied by policy", rawURL)
		}
	}

	// If no allowed patterns specified, allow all (except denied)
	if len(g.allowedPatterns) == 0 {
		return nil
	}

	for _, pattern := range g.allowedPatterns {
		if pattern.Match(rawURL) {
			return nil
		}
	}

	return fmt.Errorf("url %q does not match any allowed pattern", rawURL)
}
