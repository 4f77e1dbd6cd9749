package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// errNeedsFallback marks a Jina response that came back but is unusable.
var errNeedsFallback = eris.New("jina: response needs fallback")

// JinaAdapter wraps a Jina Reader client as a Scraper with a circuit breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter from a Jina client.
// Three consecutive failures open the circuit for 60s, causing immediate
// fallback to the next scraper.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
			ShouldTrip: func(err error) bool {
				return resilience.IsTransient(err) || eris.Is(err, errNeedsFallback)
			},
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("scrape: jina circuit breaker",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a URL as HTML via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL, jina.WithFormat("html"))
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, resilience.NewPermanentError(errNeedsFallback, resp.Code)
		}

		pageURL := resp.Data.URL
		if pageURL == "" {
			pageURL = targetURL
		}
		return &Result{
			Page: Page{
				URL:        pageURL,
				Title:      resp.Data.Title,
				HTML:       resp.Data.Body(),
				StatusCode: 200,
			},
			Source: "jina",
		}, nil
	})
}

// needsFallback checks whether a Jina response contains usable content
// or indicates the page is blocked/empty.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}

	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Body())
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range []string{
		"checking your browser",
		"enable javascript",
		"access denied",
		"403 forbidden",
		"just a moment",
		"attention required",
	} {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}

	blocked, _ := DetectBlockBody([]byte(content))
	return blocked
}
