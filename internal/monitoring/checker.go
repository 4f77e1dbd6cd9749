package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// defaultRepeatAfter is how long an alert type stays quiet after it was sent.
const defaultRepeatAfter = time.Hour

// Checker periodically snapshots pipeline health, exports it as gauges and
// forwards alerts. An alert type that keeps firing is re-sent at most once per
// repeat window.
type Checker struct {
	collector   *Collector
	alerter     *Alerter
	cfg         config.MonitoringConfig
	repeatAfter time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector:   collector,
		alerter:     alerter,
		cfg:         cfg,
		repeatAfter: defaultRepeatAfter,
		now:         time.Now,
		lastSent:    make(map[AlertType]time.Time),
	}
}

// Run checks on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and returns the alerts it raised. Alerts sent
// within the repeat window are returned but not re-sent.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}
	exportSnapshot(snap)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.mu.Lock()
		clear(c.lastSent)
		c.mu.Unlock()
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	due := c.due(alerts)
	sent := c.alerter.SendAlerts(ctx, due)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// due filters out alert types sent within the repeat window and marks the
// rest as sent. Types that stopped firing are forgotten so they alert again
// as soon as they return.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	firing := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.repeatAfter {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}

func exportSnapshot(s *MetricsSnapshot) {
	ActiveJobs.Set(float64(s.JobsActive))
	LeadFailureRate.Set(s.LeadFailRate)
	StuckSends.Set(float64(s.StuckSending))
}
