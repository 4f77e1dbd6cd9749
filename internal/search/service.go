package search

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
)

// DefaultPostingPattern matches job posting paths on the default site.
const DefaultPostingPattern = "/jobs/"

// Config configures a Service.
type Config struct {
	// Site is the job board domain queries are restricted to.
	Site string
	// PostingPattern selects result URLs that are job postings.
	PostingPattern string
}

// Service plans and executes job searches.
type Service struct {
	parser  Parser
	engine  Engine
	site    string
	matcher *scrape.PathMatcher
}

// NewService creates a Service. A nil parser means RuleParser.
func NewService(parser Parser, engine Engine, cfg Config) *Service {
	if parser == nil {
		parser = RuleParser{}
	}
	if cfg.Site == "" {
		cfg.Site = DefaultSite
	}
	if cfg.PostingPattern == "" {
		cfg.PostingPattern = DefaultPostingPattern
	}
	return &Service{
		parser:  parser,
		engine:  engine,
		site:    cfg.Site,
		matcher: scrape.NewPathMatcher(nil).OnHosts(cfg.Site).Include(cfg.PostingPattern),
	}
}

// Plan parses raw and renders the queries to run for it.
func (s *Service) Plan(ctx context.Context, raw string, limit int) (*model.SearchPlan, error) {
	if limit <= 0 {
		return nil, resilience.NewValidationError("result_limit", "must be positive")
	}
	q, err := s.parser.Parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	plan := &model.SearchPlan{
		Role:     q.Role,
		Location: q.Location,
		Filters:  q.Filters,
		Queries:  BuildQueries(s.site, *q),
	}
	zap.L().Debug("search: planned",
		zap.String("role", plan.Role),
		zap.String("location", plan.Location),
		zap.Int("queries", len(plan.Queries)),
		zap.Int("limit", limit),
	)
	return plan, nil
}

// Execute runs query and returns the distinct job posting URLs among the
// results, normalized and in rank order.
func (s *Service) Execute(ctx context.Context, query string) ([]string, error) {
	links, err := s.engine.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if !s.matcher.Allows(l) {
			continue
		}
		n := Normalize(l)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	zap.L().Debug("search: executed",
		zap.String("engine", s.engine.Name()),
		zap.String("query", query),
		zap.Int("results", len(links)),
		zap.Int("postings", len(out)),
	)
	return out, nil
}

// Normalize lowercases the host and drops the query, fragment and trailing
// slash so the same posting linked two ways compares equal.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}
