package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi" mapstructure:"serpapi"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Apollo     ApolloConfig     `yaml:"apollo" mapstructure:"apollo"`
	Resend     ResendConfig     `yaml:"resend" mapstructure:"resend"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	Concurrency        int `yaml:"concurrency" mapstructure:"concurrency"`
	CallTimeoutSecs    int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	ClaimTTLMins       int `yaml:"claim_ttl_mins" mapstructure:"claim_ttl_mins"`
	MaxPlanSize        int `yaml:"max_plan_size" mapstructure:"max_plan_size"`
	MaxResultLimit     int `yaml:"max_result_limit" mapstructure:"max_result_limit"`
	DefaultResultLimit int `yaml:"default_result_limit" mapstructure:"default_result_limit"`
}

// CallTimeout returns the per-call port timeout.
func (c PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// ClaimTTL returns how long a lead claim stays live.
func (c PipelineConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLMins) * time.Minute
}

// SearchConfig configures query planning and the search engine.
type SearchConfig struct {
	Site            string `yaml:"site" mapstructure:"site"`
	URLPattern      string `yaml:"url_pattern" mapstructure:"url_pattern"`
	Engine          string `yaml:"engine" mapstructure:"engine"` // serpapi or jina
	Parser          string `yaml:"parser" mapstructure:"parser"` // anthropic, perplexity or rules
	ResultsPerQuery int    `yaml:"results_per_query" mapstructure:"results_per_query"`
}

// SerpAPIConfig holds SerpAPI settings.
type SerpAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	UserAgent    string   `yaml:"user_agent" mapstructure:"user_agent"`
	HostRPS      float64  `yaml:"host_rps" mapstructure:"host_rps"`
	HostBurst    int      `yaml:"host_burst" mapstructure:"host_burst"`
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ApolloConfig holds Apollo API settings.
type ApolloConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	From        string `yaml:"from" mapstructure:"from"`
	ReplyTo     string `yaml:"reply_to" mapstructure:"reply_to"`
	VerifyPages int    `yaml:"verify_pages" mapstructure:"verify_pages"`
}

// OutreachConfig configures message rendering and delivery timing.
type OutreachConfig struct {
	DefaultTemplate string            `yaml:"default_template" mapstructure:"default_template"`
	Fallbacks       map[string]string `yaml:"fallbacks" mapstructure:"fallbacks"`
	Schedule        ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
}

// ScheduleConfig configures business-hours delivery.
type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Timezone  string `yaml:"timezone" mapstructure:"timezone"`
	StartHour int    `yaml:"start_hour" mapstructure:"start_hour"`
	EndHour   int    `yaml:"end_hour" mapstructure:"end_hour"`
}

// PortRate is a token bucket for one port.
type PortRate struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// RateLimitConfig holds the per-port call rates.
type RateLimitConfig struct {
	Search PortRate `yaml:"search" mapstructure:"search"`
	Scrape PortRate `yaml:"scrape" mapstructure:"scrape"`
	Lookup PortRate `yaml:"lookup" mapstructure:"lookup"`
	Email  PortRate `yaml:"email" mapstructure:"email"`
}

// RetryConfig configures retries of transient port failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-port circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedLeads     int     `yaml:"min_finished_leads" mapstructure:"min_finished_leads"`
	StuckSendMins        int     `yaml:"stuck_send_mins" mapstructure:"stuck_send_mins"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables use the OUTREACH_ prefix with "." replaced by "_",
// e.g. OUTREACH_RESEND_KEY.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("pipeline.call_timeout_secs", 30)
	v.SetDefault("pipeline.claim_ttl_mins", 15)
	v.SetDefault("pipeline.max_plan_size", 10)
	v.SetDefault("pipeline.max_result_limit", 200)
	v.SetDefault("pipeline.default_result_limit", 25)
	v.SetDefault("search.site", "workatastartup.com")
	v.SetDefault("search.url_pattern", "/jobs/")
	v.SetDefault("search.engine", "serpapi")
	v.SetDefault("search.parser", "anthropic")
	v.SetDefault("search.results_per_query", 20)
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; outreach-cli/1.0)")
	v.SetDefault("scrape.host_rps", 1.0)
	v.SetDefault("scrape.host_burst", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("resend.base_url", "https://api.resend.com")
	v.SetDefault("resend.verify_pages", 5)
	v.SetDefault("outreach.default_template", "default")
	v.SetDefault("outreach.schedule.enabled", false)
	v.SetDefault("outreach.schedule.timezone", "America/Los_Angeles")
	v.SetDefault("outreach.schedule.start_hour", 9)
	v.SetDefault("outreach.schedule.end_hour", 13)
	v.SetDefault("ratelimit.search.rps", 2.0)
	v.SetDefault("ratelimit.search.burst", 2)
	v.SetDefault("ratelimit.scrape.rps", 5.0)
	v.SetDefault("ratelimit.scrape.burst", 5)
	v.SetDefault("ratelimit.lookup.rps", 1.0)
	v.SetDefault("ratelimit.lookup.burst", 2)
	v.SetDefault("ratelimit.email.rps", 2.0)
	v.SetDefault("ratelimit.email.burst", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_finished_leads", 5)
	v.SetDefault("monitoring.stuck_send_mins", 30)
}

// Command modes accepted by Validate.
const (
	ModeStore    = "store"    // store access only
	ModePipeline = "pipeline" // stages that call external providers
	ModeServe    = "serve"
)

// Validate checks that the settings the given mode needs are present and
// in range.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, key string) {
		if !ok {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case ModeStore, ModePipeline, ModeServe:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url")
	case "sqlite":
		require(c.Store.Path != "", "store.path")
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	if mode == ModePipeline || mode == ModeServe {
		switch c.Search.Engine {
		case "serpapi":
			require(c.SerpAPI.Key != "", "serpapi.key")
		case "jina":
			require(c.Jina.Key != "", "jina.key")
		default:
			errs = append(errs, fmt.Sprintf("search.engine %q must be serpapi or jina", c.Search.Engine))
		}
		switch c.Search.Parser {
		case "anthropic", "perplexity", "rules":
		default:
			errs = append(errs, fmt.Sprintf("search.parser %q must be anthropic, perplexity or rules", c.Search.Parser))
		}
		require(c.Apollo.Key != "", "apollo.key")
		require(c.Resend.Key != "", "resend.key")
		require(c.Resend.From != "", "resend.from")

		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 50 {
			errs = append(errs, "pipeline.concurrency must be between 1 and 50")
		}
		if s := c.Outreach.Schedule; s.Enabled && (s.StartHour < 0 || s.EndHour > 24 || s.StartHour >= s.EndHour) {
			errs = append(errs, "outreach.schedule hours must satisfy 0 <= start_hour < end_hour <= 24")
		}
	}

	if mode == ModeServe {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
