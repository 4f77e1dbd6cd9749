package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal    int `json:"jobs_total"`
	JobsActive   int `json:"jobs_active"`
	JobsComplete int `json:"jobs_complete"`
	JobsFailed   int `json:"jobs_failed"`

	// Leads created within the lookback window. Finished leads are those in
	// a terminal or ready status.
	LeadsTotal    int     `json:"leads_total"`
	LeadsFinished int     `json:"leads_finished"`
	LeadsFailed   int     `json:"leads_failed"`
	LeadFailRate  float64 `json:"lead_fail_rate"`

	EmailsSent   int `json:"emails_sent"`
	EmailsFailed int `json:"emails_failed"`

	// Leads left in Sending longer than the stuck threshold.
	StuckSending int `json:"stuck_sending"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the store method the collector reads.
type StatsSource interface {
	Stats(ctx context.Context, since, stuckBefore time.Time) (*store.Stats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store    StatsSource
	stuckFor time.Duration
	now      func() time.Time
}

// NewCollector creates a new metrics collector. Sends claimed longer than
// stuckFor ago count as stuck.
func NewCollector(st StatsSource, stuckFor time.Duration) *Collector {
	if stuckFor <= 0 {
		stuckFor = 30 * time.Minute
	}
	return &Collector{store: st, stuckFor: stuckFor, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	stats, err := c.store.Stats(ctx, cutoff, now.Add(-c.stuckFor))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}

	for status, n := range stats.JobsByStatus {
		snap.JobsTotal += n
		switch status {
		case model.JobStatusComplete:
			snap.JobsComplete += n
		case model.JobStatusFailed:
			snap.JobsFailed += n
		default:
			snap.JobsActive += n
		}
	}

	for status, n := range stats.LeadsByStatus {
		snap.LeadsTotal += n
		switch {
		case status.IsFailure():
			snap.LeadsFailed += n
			snap.LeadsFinished += n
		case status == model.LeadStatusReadyToSend, status == model.LeadStatusEmailSent:
			snap.LeadsFinished += n
		}
	}
	if snap.LeadsFinished > 0 {
		snap.LeadFailRate = float64(snap.LeadsFailed) / float64(snap.LeadsFinished)
	}

	snap.EmailsSent = stats.EmailsSent
	snap.EmailsFailed = stats.EmailsFailed
	snap.StuckSending = stats.StuckSending

	return snap, nil
}
