package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/contact"
	"github.com/sells-group/outreach-cli/internal/mailer"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/search"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/apollo"
	"github.com/sells-group/outreach-cli/pkg/firecrawl"
	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/perplexity"
	"github.com/sells-group/outreach-cli/pkg/resend"
	"github.com/sells-group/outreach-cli/pkg/serpapi"
)

// appEnv holds the store and, for commands that call providers, the pipeline.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store and, for ModePipeline and ModeServe, wires the
// provider ports into a Pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	if mode == config.ModeStore {
		// Store-only commands still get a pipeline for reads and requeues.
		env.Pipeline = pipeline.New(st, pipeline.Ports{}, pipelineOptions(cfg))
		return env, nil
	}

	ports, err := buildPorts(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = pipeline.New(st, ports, pipelineOptions(cfg), pipeline.WithGuards(buildGuards(cfg)))
	return env, nil
}

func pipelineOptions(c *config.Config) pipeline.Options {
	opts := pipeline.Options{
		Concurrency:       c.Pipeline.Concurrency,
		ClaimTTL:          c.Pipeline.ClaimTTL(),
		MaxPlanSize:       c.Pipeline.MaxPlanSize,
		MaxResultLimit:    c.Pipeline.MaxResultLimit,
		DefaultTemplate:   c.Outreach.DefaultTemplate,
		TemplateFallbacks: c.Outreach.Fallbacks,
	}
	if s := c.Outreach.Schedule; s.Enabled {
		bh, err := mailer.NewBusinessHours(s.Timezone, s.StartHour, s.EndHour)
		if err != nil {
			zap.L().Warn("outreach schedule disabled", zap.Error(err))
		} else {
			opts.Schedule = bh.Next
		}
	}
	return opts
}

// buildGuards creates one guard per port from the retry, circuit and rate
// limit settings.
func buildGuards(c *config.Config) pipeline.Guards {
	guard := func(name string, r config.PortRate) *resilience.Guard {
		state := monitoring.CircuitState.WithLabelValues(name)
		state.Set(float64(resilience.CircuitClosed))
		return resilience.NewGuard(name, resilience.GuardConfig{
			RatePerSec:  r.RPS,
			Burst:       r.Burst,
			CallTimeout: c.Pipeline.CallTimeout(),
			Retry: resilience.RetryConfig{
				MaxAttempts:    c.Retry.MaxAttempts,
				InitialBackoff: time.Duration(c.Retry.InitialBackoffMS) * time.Millisecond,
				MaxBackoff:     time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond,
			},
			Circuit: resilience.CircuitBreakerConfig{
				FailureThreshold: c.Circuit.FailureThreshold,
				ResetTimeout:     time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second,
				OnStateChange: func(from, to resilience.CircuitState) {
					state.Set(float64(to))
					zap.L().Warn("circuit breaker state change",
						zap.String("port", name),
						zap.String("from", from.String()),
						zap.String("to", to.String()),
					)
				},
			},
		})
	}
	return pipeline.Guards{
		Search: guard("search", c.RateLimit.Search),
		Scrape: guard("scrape", c.RateLimit.Scrape),
		Lookup: guard("lookup", c.RateLimit.Lookup),
		Email:  guard("email", c.RateLimit.Email),
	}
}

// buildPorts constructs the provider adapters.
func buildPorts(c *config.Config) (pipeline.Ports, error) {
	jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
	if c.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(c.Jina.Key, jinaOpts...)

	engine, err := buildEngine(c, jinaClient)
	if err != nil {
		return pipeline.Ports{}, err
	}
	searchSvc := search.NewService(buildParser(c), engine, search.Config{
		Site:           c.Search.Site,
		PostingPattern: c.Search.URLPattern,
	})

	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(
			scrape.WithHostLimiter(resilience.NewHostLimiter(c.Scrape.HostRPS, c.Scrape.HostBurst)),
			scrape.WithUserAgent(c.Scrape.UserAgent),
		),
		scrape.NewJinaAdapter(jinaClient),
	}
	if c.Firecrawl.Key != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(
			firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL)),
		))
	} else {
		zap.L().Debug("OUTREACH_FIRECRAWL_KEY not set, firecrawl fallback disabled")
	}
	chain := scrape.NewChain(scrape.NewPathMatcher(c.Scrape.ExcludePaths), scrapers...)

	lookup := contact.NewApolloLookup(apollo.NewClient(c.Apollo.Key, apollo.WithBaseURL(c.Apollo.BaseURL)))

	var mailOpts []mailer.Option
	if c.Resend.ReplyTo != "" {
		mailOpts = append(mailOpts, mailer.WithReplyTo(c.Resend.ReplyTo))
	}
	mailOpts = append(mailOpts, mailer.WithVerifyPages(c.Resend.VerifyPages))
	email := mailer.NewResendMailer(resend.NewClient(c.Resend.Key, resend.WithBaseURL(c.Resend.BaseURL)), c.Resend.From, mailOpts...)

	return pipeline.Ports{
		Search: searchSvc,
		Scrape: scrape.NewPostingScraper(chain),
		Lookup: lookup,
		Email:  email,
	}, nil
}

func buildEngine(c *config.Config, jinaClient jina.Client) (search.Engine, error) {
	switch c.Search.Engine {
	case "serpapi":
		return search.SerpEngine{
			Client: serpapi.NewClient(c.SerpAPI.Key, serpapi.WithBaseURL(c.SerpAPI.BaseURL)),
			Num:    c.Search.ResultsPerQuery,
		}, nil
	case "jina":
		return search.JinaEngine{Client: jinaClient, Site: c.Search.Site}, nil
	default:
		return nil, eris.Errorf("unsupported search engine: %s", c.Search.Engine)
	}
}

// buildParser picks the query parser. A model-backed parser without a key
// falls back to the rule parser.
func buildParser(c *config.Config) search.Parser {
	switch c.Search.Parser {
	case "anthropic":
		if c.Anthropic.Key != "" {
			var opts []anthropic.Option
			if c.Anthropic.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(c.Anthropic.BaseURL))
			}
			return search.NewLLMParser(search.AnthropicCompleter{
				Client: anthropic.NewClient(c.Anthropic.Key, opts...),
				Model:  c.Anthropic.Model,
			})
		}
	case "perplexity":
		if c.Perplexity.Key != "" {
			return search.NewLLMParser(search.PerplexityCompleter{
				Client: perplexity.NewClient(c.Perplexity.Key,
					perplexity.WithBaseURL(c.Perplexity.BaseURL),
					perplexity.WithModel(c.Perplexity.Model)),
			})
		}
	}
	zap.L().Debug("using rule-based query parser", zap.String("parser", c.Search.Parser))
	return search.RuleParser{}
}

// newChecker builds the background health checker for serve.
func newChecker(st store.Store, c *config.Config) *monitoring.Checker {
	stuck := time.Duration(c.Monitoring.StuckSendMins) * time.Minute
	return monitoring.NewChecker(
		monitoring.NewCollector(st, stuck),
		monitoring.NewAlerter(c.Monitoring),
		c.Monitoring,
	)
}
