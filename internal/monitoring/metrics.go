package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_jobs_started_total",
		Help: "The total number of outreach jobs created",
	})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_job_transitions_total",
		Help: "Job status transitions performed by the orchestrator",
	}, []string{"to"})

	LeadsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_leads_discovered_total",
		Help: "Leads created by the discover stage",
	})

	LeadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_lead_outcomes_total",
		Help: "Lead results written by the enrich and outreach stages",
	}, []string{"stage", "status"}) // status: any lead status, or released

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_emails_total",
		Help: "Delivery attempts recorded, by outcome",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_stage_duration_seconds",
		Help:    "Duration of one stage invocation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	PortCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_port_calls_total",
		Help: "External port calls, by port and error class",
	}, []string{"port", "class"}) // class is "ok" on success

	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_reconciled_leads_total",
		Help: "Stale claims resolved by reconciliation",
	}, []string{"result"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_active_jobs",
		Help: "Jobs not yet complete or failed at the last health check",
	})

	LeadFailureRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_lead_failure_rate",
		Help: "Share of finished leads in a failure status over the lookback window",
	})

	StuckSends = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_stuck_sends",
		Help: "Leads held in sending past the stuck threshold",
	})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outreach_circuit_state",
		Help: "Circuit breaker state per port: 0 closed, 1 open, 2 half-open",
	}, []string{"port"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_alerts_total",
		Help: "Alerts raised by the health checker",
	}, []string{"type", "severity"})
)
