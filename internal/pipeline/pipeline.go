// Package pipeline drives outreach jobs through plan, discover, enrich and
// outreach. Every stage is resumable: it reads its input from the store,
// claims work with compare-and-swap transitions and can be re-run safely.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StagePlan     Stage = "plan"
	StageDiscover Stage = "discover"
	StageEnrich   Stage = "enrich"
	StageOutreach Stage = "outreach"
	StageNone     Stage = "none"
)

// stageFor maps a job status to the stage that consumes it.
func stageFor(s model.JobStatus) Stage {
	switch s {
	case model.JobStatusPending:
		return StagePlan
	case model.JobStatusSearching:
		return StageDiscover
	case model.JobStatusProcessingLeads:
		return StageEnrich
	case model.JobStatusSendingEmails:
		return StageOutreach
	}
	return StageNone
}

// Options tunes pipeline behavior.
type Options struct {
	// Concurrency bounds lead workers per stage. Default: 5.
	Concurrency int
	// ClaimTTL is how long a claimed lead may stay in Enriching or Sending
	// before reconciliation treats the claim as abandoned. Default: 15m.
	ClaimTTL time.Duration
	// MaxPlanSize bounds the number of search queries kept from a plan. Default: 10.
	MaxPlanSize int
	// MaxResultLimit rejects jobs asking for more leads. Zero disables the check.
	MaxResultLimit int
	// DefaultTemplate is used when a job names no template. Default: "default".
	DefaultTemplate string
	// TemplateFallbacks fill template variables a lead leaves blank.
	TemplateFallbacks map[string]string
	// Schedule returns the delivery time for a message sent at now, or nil
	// to deliver immediately.
	Schedule func(now time.Time) *time.Time
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 15 * time.Minute
	}
	if o.MaxPlanSize <= 0 {
		o.MaxPlanSize = 10
	}
	if o.DefaultTemplate == "" {
		o.DefaultTemplate = "default"
	}
	return o
}

// Guards holds the per-port resilience wrappers. A nil guard calls the port
// once with no rate limit, breaker or retry.
type Guards struct {
	Search *resilience.Guard
	Scrape *resilience.Guard
	Lookup *resilience.Guard
	Email  *resilience.Guard
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithGuards installs per-port resilience guards.
func WithGuards(g Guards) Option {
	return func(p *Pipeline) { p.guards = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline orchestrates outreach jobs. It holds no per-job state, so one
// instance may serve many jobs and many processes may share a store.
type Pipeline struct {
	store  store.Store
	ports  Ports
	guards Guards
	opts   Options
	now    func() time.Time
}

// New creates a Pipeline over st and the given ports.
func New(st store.Store, ports Ports, opts Options, extra ...Option) *Pipeline {
	p := &Pipeline{
		store: st,
		ports: ports,
		opts:  opts.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range extra {
		o(p)
	}
	return p
}

// StageOutcome reports what one Advance call did.
type StageOutcome struct {
	JobID    string          `json:"job_id"`
	Stage    Stage           `json:"stage"`
	From     model.JobStatus `json:"from"`
	To       model.JobStatus `json:"to"`
	Advanced bool            `json:"advanced"`
	// Blocked is set when another invocation still holds live claims on
	// leads of this stage, so the job cannot advance yet.
	Blocked bool `json:"blocked,omitempty"`

	LeadsCreated int `json:"leads_created,omitempty"`
	Processed    int `json:"processed,omitempty"`
	Succeeded    int `json:"succeeded,omitempty"`
	Failed       int `json:"failed,omitempty"`
	Skipped      int `json:"skipped,omitempty"`
	Released     int `json:"released,omitempty"`

	Reconcile *ReconcileReport `json:"reconcile,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// JobStatusReport is a job together with its lead counts.
type JobStatusReport struct {
	Job   *model.Job       `json:"job"`
	Leads model.LeadCounts `json:"leads"`
	Total int              `json:"total_leads"`
}

// StartJob validates and persists a new job in Pending.
func (p *Pipeline) StartJob(ctx context.Context, query string, resultLimit int, templateName string) (*model.Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, resilience.NewValidationError("query", "query is required")
	}
	if resultLimit <= 0 {
		return nil, resilience.NewValidationError("result_limit", "must be greater than zero")
	}
	if p.opts.MaxResultLimit > 0 && resultLimit > p.opts.MaxResultLimit {
		return nil, resilience.NewValidationError("result_limit",
			fmt.Sprintf("must be at most %d", p.opts.MaxResultLimit))
	}
	if templateName == "" {
		templateName = p.opts.DefaultTemplate
	}

	job := &model.Job{RawQuery: query, ResultLimit: resultLimit, TemplateName: templateName}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, resilience.NewStoreError("create job", err)
	}
	monitoring.JobsStarted.Inc()
	zap.L().Info("pipeline: job created",
		zap.String("job_id", job.ID),
		zap.Int("result_limit", resultLimit),
		zap.String("template", templateName),
	)
	return job, nil
}

// RunStage is Advance under the name the HTTP and CLI surfaces use.
func (p *Pipeline) RunStage(ctx context.Context, jobID string) (*StageOutcome, error) {
	return p.Advance(ctx, jobID)
}

// Advance reconciles abandoned claims of the job and then runs exactly the
// stage that matches its current status. Terminal jobs are a no-op. It is
// safe to call repeatedly and from several processes at once.
func (p *Pipeline) Advance(ctx context.Context, jobID string) (*StageOutcome, error) {
	start := time.Now()

	report, err := p.Reconcile(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, resilience.NewStoreError("get job", err)
	}

	out := &StageOutcome{
		JobID: job.ID,
		Stage: stageFor(job.Status),
		From:  job.Status,
		To:    job.Status,
	}
	if len(report.Unresolved) > 0 || report.Total() > 0 {
		out.Reconcile = report
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("stage", string(out.Stage)))

	switch job.Status {
	case model.JobStatusPending:
		err = p.plan(ctx, job, out)
	case model.JobStatusSearching:
		err = p.discover(ctx, job, out)
	case model.JobStatusProcessingLeads:
		err = p.enrich(ctx, job, out)
	case model.JobStatusSendingEmails:
		err = p.outreach(ctx, job, out)
	default:
		log.Debug("pipeline: job is terminal")
		return out, nil
	}

	out.Duration = time.Since(start)
	monitoring.StageDuration.WithLabelValues(string(out.Stage)).Observe(out.Duration.Seconds())
	if err != nil {
		log.Error("pipeline: stage aborted", zap.Error(err))
		return out, err
	}

	log.Info("pipeline: stage finished",
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
		zap.Bool("advanced", out.Advanced),
		zap.Bool("blocked", out.Blocked),
		zap.Int("processed", out.Processed),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// Run advances the job until it is terminal or a stage cannot advance it.
// It returns the job as last read together with every stage outcome.
func (p *Pipeline) Run(ctx context.Context, jobID string) (*model.Job, []StageOutcome, error) {
	var outcomes []StageOutcome
	for {
		if err := ctx.Err(); err != nil {
			return nil, outcomes, eris.Wrap(err, "pipeline: run cancelled")
		}
		out, err := p.Advance(ctx, jobID)
		if out != nil {
			outcomes = append(outcomes, *out)
		}
		if err != nil {
			return nil, outcomes, err
		}
		if out.Stage == StageNone || !out.Advanced || out.To.IsTerminal() {
			break
		}
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, outcomes, resilience.NewStoreError("get job", err)
	}
	return job, outcomes, nil
}

// GetJobStatus returns the job and its lead counts by status.
func (p *Pipeline) GetJobStatus(ctx context.Context, jobID string) (*JobStatusReport, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, resilience.NewStoreError("get job", err)
	}
	counts, err := p.store.CountLeads(ctx, jobID)
	if err != nil {
		return nil, resilience.NewStoreError("count leads", err)
	}
	return &JobStatusReport{Job: job, Leads: counts, Total: counts.Total()}, nil
}

// GetLeads returns every lead of the job, optionally narrowed to statuses.
func (p *Pipeline) GetLeads(ctx context.Context, jobID string, statuses ...model.LeadStatus) ([]model.Lead, error) {
	if _, err := p.store.GetJob(ctx, jobID); err != nil {
		return nil, resilience.NewStoreError("get job", err)
	}
	leads, err := p.store.ListLeads(ctx, store.LeadFilter{JobID: jobID, Statuses: statuses})
	if err != nil {
		return nil, resilience.NewStoreError("list leads", err)
	}
	return leads, nil
}

// RequeueLead returns a failed lead to the entry status of the stage that
// failed it. The job must not have moved past that stage, since stages only
// pick up leads while the job is in their status.
func (p *Pipeline) RequeueLead(ctx context.Context, leadID string) (*model.Lead, error) {
	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, resilience.NewStoreError("get lead", err)
	}
	target, ok := lead.Status.RequeueTarget()
	if !ok {
		return nil, resilience.NewValidationError("status",
			fmt.Sprintf("lead %s is %s; only failed leads can be requeued", lead.ID, lead.Status))
	}

	job, err := p.store.GetJob(ctx, lead.JobID)
	if err != nil {
		return nil, resilience.NewStoreError("get job", err)
	}
	if !requeueAllowed(job.Status, target) {
		return nil, resilience.NewValidationError("status",
			fmt.Sprintf("job %s is %s; a %s lead would never be picked up", job.ID, job.Status, target))
	}

	if err := p.store.TransitionLead(ctx, lead.ID, lead.Status, target, ""); err != nil {
		return nil, resilience.NewStoreError("requeue lead", err)
	}
	zap.L().Info("pipeline: lead requeued",
		zap.String("job_id", lead.JobID),
		zap.String("lead_id", lead.ID),
		zap.String("from", string(lead.Status)),
		zap.String("to", string(target)),
	)
	lead.Status = target
	lead.ErrorMessage = ""
	return lead, nil
}

func requeueAllowed(job model.JobStatus, target model.LeadStatus) bool {
	switch target {
	case model.LeadStatusPending:
		return job == model.JobStatusProcessingLeads
	case model.LeadStatusReadyToSend:
		return job == model.JobStatusProcessingLeads || job == model.JobStatusSendingEmails
	}
	return false
}

// transitionJob moves the job and records the move on out. It reports false
// without error when another invocation already moved the job.
func (p *Pipeline) transitionJob(ctx context.Context, job *model.Job, to model.JobStatus, errMsg string, out *StageOutcome) (bool, error) {
	err := p.store.TransitionJob(ctx, job.ID, job.Status, to, errMsg)
	if eris.Is(err, store.ErrConflict) {
		zap.L().Info("pipeline: job moved by another invocation",
			zap.String("job_id", job.ID),
			zap.String("expected", string(job.Status)),
		)
		return false, nil
	}
	if err != nil {
		return false, resilience.NewStoreError("transition job", err)
	}
	monitoring.JobTransitions.WithLabelValues(string(to)).Inc()
	job.Status = to
	job.ErrorMessage = errMsg
	out.To = to
	out.Advanced = true
	return true, nil
}

// failJob moves the job to Failed with a detailed message.
func (p *Pipeline) failJob(ctx context.Context, job *model.Job, stage Stage, attempts int, cause error, out *StageOutcome) error {
	msg := p.failureMessage(stage, attempts, cause)
	zap.L().Error("pipeline: job failed",
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)
	_, err := p.transitionJob(ctx, job, model.JobStatusFailed, msg, out)
	return err
}

// failureMessage formats the error text persisted on jobs, leads and emails:
// stage, time, attempt count, error class and the full error chain.
func (p *Pipeline) failureMessage(stage Stage, attempts int, cause error) string {
	return fmt.Sprintf("[%s] %s attempts=%d class=%s: %s",
		stage,
		p.now().UTC().Format(time.RFC3339),
		attempts,
		resilience.Classify(cause),
		eris.ToString(cause, true),
	)
}

// isCancelled reports whether ctx is done and err is a result of it.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err != nil
}

func portResult(port string, err error) {
	class := "ok"
	if err != nil {
		class = string(resilience.Classify(err))
	}
	monitoring.PortCalls.WithLabelValues(port, class).Inc()
}
