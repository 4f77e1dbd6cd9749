package search

import (
	"fmt"
	"strings"
)

// DefaultSite is the job board queries target.
const DefaultSite = "workatastartup.com"

// BuildQueries renders the Google queries for q restricted to site: the
// plain role, the quoted role, a "jobs" variant, then one per filter.
func BuildQueries(site string, q Query) []string {
	if site == "" {
		site = DefaultSite
	}
	base := "site:" + site
	loc := ""
	if q.Location != "" {
		loc = fmt.Sprintf(" %q", q.Location)
	}

	out := []string{
		fmt.Sprintf("%s %s%s", base, q.Role, loc),
		fmt.Sprintf("%s %q%s", base, q.Role, loc),
		fmt.Sprintf("%s %s jobs%s", base, q.Role, loc),
	}
	for _, f := range q.Filters {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, fmt.Sprintf("%s %s%s %q", base, q.Role, loc, f))
		}
	}
	return out
}
