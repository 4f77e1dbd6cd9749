package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip documents that are never postings.
var defaultExcludePatterns = []string{
	"/*.pdf",
	"/blog/*",
	"/login",
	"/signup",
}

// PathMatcher filters URLs by host and glob-style path patterns.
// Uses path.Match from stdlib for proper glob matching, plus a segmented
// match so "/jobs/*" matches multi-level paths like "/jobs/123/apply".
type PathMatcher struct {
	hosts   []string
	include []string
	exclude []string
}

// NewPathMatcher creates a PathMatcher from exclude patterns (e.g.
// "/blog/*", "/*.pdf"). Falls back to default patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	return &PathMatcher{exclude: lowerAll(patterns)}
}

// Include restricts matches to paths matching any of patterns.
func (m *PathMatcher) Include(patterns ...string) *PathMatcher {
	m.include = append(m.include, lowerAll(patterns)...)
	return m
}

// OnHosts restricts matches to the given hosts and their subdomains.
func (m *PathMatcher) OnHosts(hosts ...string) *PathMatcher {
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
		if h != "" {
			m.hosts = append(m.hosts, h)
		}
	}
	return m
}

// IsExcluded checks whether a URL matches any exclude pattern.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return matchAny(m.exclude, strings.ToLower(u.Path))
}

// Allows reports whether rawURL is an absolute http(s) URL on an allowed
// host whose path matches an include pattern and no exclude pattern.
func (m *PathMatcher) Allows(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(m.hosts) > 0 && !m.hostAllowed(strings.ToLower(u.Hostname())) {
		return false
	}
	p := strings.ToLower(u.Path)
	if len(m.include) > 0 && !matchAny(m.include, p) {
		return false
	}
	return !matchAny(m.exclude, p)
}

func (m *PathMatcher) hostAllowed(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, h := range m.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, urlPath string) bool {
	for _, pattern := range patterns {
		if matchSegmented(pattern, urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where a pattern like "/jobs/*"
// matches both "/jobs/1" and "/jobs/1/apply". A pattern without glob
// characters matches as a substring ("/jobs/" matches "/acme/jobs/1").
func matchSegmented(pattern, urlPath string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.Contains(urlPath, pattern)
	}

	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(urlPath, prefix+"/") && len(urlPath) > len(prefix)+1 {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
