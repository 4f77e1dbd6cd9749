// Package search turns a free-text recruiting query into web search queries
// and runs them against a search engine.
package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// DefaultLocation is used when a query names no location.
const DefaultLocation = "remote"

// Query is a parsed recruiting query.
type Query struct {
	Role     string   `json:"role"`
	Location string   `json:"location"`
	Filters  []string `json:"filters"`
}

// Parser turns raw text into a Query.
type Parser interface {
	Parse(ctx context.Context, raw string) (*Query, error)
}

// RuleParser parses "<role> in <location> with <filters>" shaped queries
// without calling a model.
type RuleParser struct{}

var (
	leadIns  = regexp.MustCompile(`(?i)^(please\s+)?(find|search for|look for|looking for|hire|hiring|get me|source)(\s+|$)`)
	trailers = regexp.MustCompile(`(?i)\s+(jobs|roles|positions|openings)$`)
	remoteRe = regexp.MustCompile(`(?i)\b(remote|anywhere)\b`)
	splitRe  = regexp.MustCompile(`(?i)\s*(,|;|\band\b)\s*`)
)

// Parse implements Parser.
func (RuleParser) Parse(_ context.Context, raw string) (*Query, error) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return nil, resilience.NewValidationError("query", "must not be blank")
	}

	var filters []string
	if before, after, ok := cutFold(s, " with "); ok {
		s = before
		for _, f := range splitRe.Split(after, -1) {
			if f = strings.TrimSpace(f); f != "" {
				filters = append(filters, f)
			}
		}
	}

	location := ""
	if before, after, ok := cutLastFold(s, " in "); ok {
		s, location = before, strings.TrimSpace(after)
	}
	if remoteRe.MatchString(s) {
		if location == "" {
			location = DefaultLocation
		}
		s = strings.TrimSpace(remoteRe.ReplaceAllString(s, ""))
	}
	if location == "" {
		location = DefaultLocation
	}

	role := leadIns.ReplaceAllString(strings.TrimSpace(s), "")
	role = trailers.ReplaceAllString(role, "")
	role = singular(strings.Join(strings.Fields(role), " "))
	if role == "" {
		return nil, resilience.NewValidationError("query", "no role found in "+raw)
	}

	return &Query{Role: role, Location: location, Filters: filters}, nil
}

var uncountable = map[string]struct{}{
	"sales": {}, "devops": {}, "ops": {}, "analytics": {}, "operations": {}, "news": {},
}

// singular drops a plural "s" from the last word ("engineers" -> "engineer").
func singular(role string) string {
	i := strings.LastIndex(role, " ") + 1
	last := role[i:]
	lower := strings.ToLower(last)
	if _, keep := uncountable[lower]; keep {
		return role
	}
	if len(last) > 3 && strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss") {
		return role[:i] + last[:len(last)-1]
	}
	return role
}

func cutFold(s, sep string) (string, string, bool) {
	i := strings.Index(strings.ToLower(s), sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func cutLastFold(s, sep string) (string, string, bool) {
	i := strings.LastIndex(strings.ToLower(s), sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
