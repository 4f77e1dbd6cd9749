package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "outreach.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
	assert.Equal(t, 30, cfg.Pipeline.CallTimeoutSecs)
	assert.Equal(t, 25, cfg.Pipeline.DefaultResultLimit)
	assert.Equal(t, "workatastartup.com", cfg.Search.Site)
	assert.Equal(t, "/jobs/", cfg.Search.URLPattern)
	assert.Equal(t, "serpapi", cfg.Search.Engine)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v2", cfg.Firecrawl.BaseURL)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://api.apollo.io/api/v1", cfg.Apollo.BaseURL)
	assert.Equal(t, 5, cfg.Resend.VerifyPages)
	assert.Equal(t, "default", cfg.Outreach.DefaultTemplate)
	assert.False(t, cfg.Outreach.Schedule.Enabled)
	assert.Equal(t, "America/Los_Angeles", cfg.Outreach.Schedule.Timezone)
	assert.Equal(t, 9, cfg.Outreach.Schedule.StartHour)
	assert.Equal(t, 13, cfg.Outreach.Schedule.EndHour)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 5.0, cfg.RateLimit.Scrape.RPS, 0.001)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/outreach
log:
  level: debug
  format: console
pipeline:
  concurrency: 8
outreach:
  fallbacks:
    contact_title: Founder
  schedule:
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, "Founder", cfg.Outreach.Fallbacks["contact_title"])
	assert.True(t, cfg.Outreach.Schedule.Enabled)
	// Defaults still apply for unset values
	assert.Equal(t, 13, cfg.Outreach.Schedule.EndHour)
	assert.Equal(t, 15, cfg.Pipeline.ClaimTTLMins)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("OUTREACH_STORE_DRIVER", "postgres")
	t.Setenv("OUTREACH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OUTREACH_RESEND_FROM=team@example.com\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OUTREACH_RESEND_FROM") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "team@example.com", cfg.Resend.From)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [\n"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	p := PipelineConfig{CallTimeoutSecs: 10, ClaimTTLMins: 2}
	assert.Equal(t, "10s", p.CallTimeout().String())
	assert.Equal(t, "2m0s", p.ClaimTTL().String())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validPipeline returns a Config that passes pipeline validation.
func validPipeline() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "outreach.db"
	cfg.Server.Port = 8080
	cfg.Pipeline.Concurrency = 5
	cfg.Search.Engine = "serpapi"
	cfg.Search.Parser = "rules"
	cfg.SerpAPI.Key = "serp"
	cfg.Apollo.Key = "apollo"
	cfg.Resend.Key = "re_key"
	cfg.Resend.From = "team@example.com"
	cfg.Monitoring.FailureRateThreshold = 0.5
	return cfg
}

func TestValidateStore(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"

	err := cfg.Validate(ModeStore)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/outreach"
	assert.NoError(t, cfg.Validate(ModeStore))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate(ModeStore)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be sqlite or postgres")
}

func TestValidatePipeline_AllPresent(t *testing.T) {
	assert.NoError(t, validPipeline().Validate(ModePipeline))
	assert.NoError(t, validPipeline().Validate(ModeServe))
}

func TestValidatePipeline_MissingFields(t *testing.T) {
	cfg := validPipeline()
	cfg.SerpAPI.Key = ""
	cfg.Apollo.Key = ""
	cfg.Resend.From = ""

	err := cfg.Validate(ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serpapi.key is required")
	assert.Contains(t, err.Error(), "apollo.key is required")
	assert.Contains(t, err.Error(), "resend.from is required")

	// Store-only commands do not need provider keys.
	assert.NoError(t, cfg.Validate(ModeStore))
}

func TestValidatePipeline_JinaEngine(t *testing.T) {
	cfg := validPipeline()
	cfg.Search.Engine = "jina"

	err := cfg.Validate(ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jina.key is required")

	cfg.Jina.Key = "jina"
	assert.NoError(t, cfg.Validate(ModePipeline))
}

func TestValidatePipeline_UnknownChoices(t *testing.T) {
	cfg := validPipeline()
	cfg.Search.Engine = "bing"
	cfg.Search.Parser = "gpt"

	err := cfg.Validate(ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.engine")
	assert.Contains(t, err.Error(), "search.parser")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validPipeline()

	cfg.Pipeline.Concurrency = 0
	err := cfg.Validate(ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.concurrency must be between 1 and 50")

	cfg.Pipeline.Concurrency = 51
	assert.Error(t, cfg.Validate(ModePipeline))

	cfg.Pipeline.Concurrency = 50
	assert.NoError(t, cfg.Validate(ModePipeline))
}

func TestValidateSchedule(t *testing.T) {
	cfg := validPipeline()
	cfg.Outreach.Schedule = ScheduleConfig{Enabled: true, StartHour: 13, EndHour: 9}

	err := cfg.Validate(ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outreach.schedule")

	cfg.Outreach.Schedule.Enabled = false
	assert.NoError(t, cfg.Validate(ModePipeline))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validPipeline()
	cfg.Server.Port = 0

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validPipeline().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
