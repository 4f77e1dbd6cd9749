package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLeadFailureRate AlertType = "lead_failure_rate"
	AlertStuckSends      AlertType = "stuck_sends"
	AlertEmailFailures   AlertType = "email_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minFinished := a.cfg.MinFinishedLeads
	if minFinished <= 0 {
		minFinished = 5
	}

	// Lead failure rate.
	if snap.LeadsFinished >= minFinished && snap.LeadFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLeadFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Lead failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.LeadFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.LeadsFailed, snap.LeadsFinished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.LeadFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.LeadsFailed,
				"finished":     snap.LeadsFinished,
			},
			Timestamp: now,
		})
	}

	// Sends whose outcome is unknown need reconcile.
	if snap.StuckSending > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckSends,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d lead(s) stuck in sending; run reconcile",
				snap.StuckSending,
			),
			Details: map[string]any{
				"stuck_sending": snap.StuckSending,
			},
			Timestamp: now,
		})
	}

	if snap.EmailsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertEmailFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d email(s) failed to send in last %dh (%d sent)",
				snap.EmailsFailed, snap.LookbackHours, snap.EmailsSent,
			),
			Details: map[string]any{
				"emails_failed": snap.EmailsFailed,
				"emails_sent":   snap.EmailsSent,
			},
			Timestamp: now,
		})
	}

	for _, al := range alerts {
		AlertsFired.WithLabelValues(string(al.Type), al.Severity).Inc()
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
