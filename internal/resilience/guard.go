package resilience

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// GuardConfig configures the protection wrapped around one external port.
type GuardConfig struct {
	// RatePerSec caps calls per second; zero disables rate limiting.
	RatePerSec float64
	Burst      int
	// CallTimeout bounds each individual attempt; zero means no bound.
	CallTimeout time.Duration
	Retry       RetryConfig
	Circuit     CircuitBreakerConfig
}

// Guard applies rate limiting, a circuit breaker, a per-call timeout and
// retries to calls against one provider. It is safe for concurrent use.
type Guard struct {
	name    string
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewGuard creates a Guard for the named port.
func NewGuard(name string, cfg GuardConfig) *Guard {
	g := &Guard{
		name:    name,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.Circuit),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if g.cfg.Retry.OnRetry == nil {
		g.cfg.Retry.OnRetry = RetryLogger(name, "call")
	}
	return g
}

// Name returns the port name the guard protects.
func (g *Guard) Name() string { return g.name }

// Call runs fn under g and reports the number of attempts made. A nil guard
// calls fn once.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, int, error) {
	if g == nil {
		v, err := fn(ctx)
		return v, 1, err
	}
	return DoCount(ctx, g.cfg.Retry, func(ctx context.Context) (T, error) {
		var zero T
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, eris.Wrapf(err, "%s: rate limit wait", g.name)
			}
		}
		return ExecuteVal(ctx, g.breaker, func(ctx context.Context) (T, error) {
			callCtx := ctx
			if g.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
				defer cancel()
			}
			return fn(callCtx)
		})
	})
}

// HostLimiter rate-limits requests per hostname.
type HostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

// NewHostLimiter allows reqPerSec requests per host with the given burst.
func NewHostLimiter(reqPerSec float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		m: make(map[string]*rate.Limiter),
		r: rate.Limit(reqPerSec),
		b: burst,
	}
}

func (hl *HostLimiter) limiterFor(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if lim, ok := hl.m[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(hl.r, hl.b)
	hl.m[host] = lim
	return lim
}

// WaitURL blocks until a request to raw's host is allowed.
func (hl *HostLimiter) WaitURL(ctx context.Context, raw string) error {
	if hl == nil || hl.r <= 0 {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return hl.limiterFor("_").Wait(ctx)
	}
	return hl.limiterFor(u.Host).Wait(ctx)
}
