package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// discover executes the job's search plan and creates leads for the result
// URLs. The result limit is enforced by the store, so reruns and concurrent
// invocations never push a job past it.
func (p *Pipeline) discover(ctx context.Context, job *model.Job, out *StageOutcome) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("stage", string(StageDiscover)))

	existing, err := p.store.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	if err != nil {
		return resilience.NewStoreError("list leads", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		known[l.JobURL] = struct{}{}
	}
	need := job.ResultLimit - len(existing)

	var (
		candidates []string
		fresh      = make(map[string]struct{})
		succeeded  int
		attempts   int
		lastErr    error
	)
	for _, q := range job.SearchPlan {
		if need <= 0 || len(fresh) >= need {
			break
		}
		urls, n, err := resilience.Call(ctx, p.guards.Search, func(ctx context.Context) ([]string, error) {
			return p.ports.Search.Execute(ctx, q)
		})
		portResult("search", err)
		attempts += n
		if isCancelled(ctx, err) {
			return eris.Wrap(ctx.Err(), "pipeline: discover cancelled")
		}
		if err != nil {
			lastErr = eris.Wrapf(err, "execute query %q", q)
			log.Warn("pipeline: search query failed", zap.String("query", q), zap.Error(err))
			continue
		}
		succeeded++
		for _, u := range urls {
			if u == "" {
				continue
			}
			candidates = append(candidates, u)
			if _, ok := known[u]; !ok {
				fresh[u] = struct{}{}
			}
		}
	}

	// need <= 0 means an earlier invocation already filled the job and only
	// the status move is left.
	if need > 0 && succeeded == 0 {
		if lastErr == nil {
			lastErr = resilience.NewPermanentError(eris.New("search plan has no queries"), 0)
		}
		return p.failJob(ctx, job, StageDiscover, attempts,
			eris.Wrapf(lastErr, "all %d search queries failed", len(job.SearchPlan)), out)
	}

	created := 0
	if len(candidates) > 0 {
		created, err = p.store.CreateLeads(ctx, job.ID, candidates, job.ResultLimit)
		if eris.Is(err, store.ErrConflict) {
			log.Info("pipeline: job moved by another invocation")
			return nil
		}
		if err != nil {
			return resilience.NewStoreError("create leads", err)
		}
	}
	out.LeadsCreated = created
	monitoring.LeadsDiscovered.Add(float64(created))
	log.Info("pipeline: leads discovered",
		zap.Int("candidates", len(candidates)),
		zap.Int("created", created),
		zap.Int("queries_ok", succeeded),
	)

	if moved, err := p.transitionJob(ctx, job, model.JobStatusProcessingLeads, "", out); err != nil || !moved {
		return err
	}
	if len(existing)+created > 0 {
		return nil
	}

	// Nothing to enrich or send: finish the job in this invocation.
	log.Info("pipeline: no leads found, completing job")
	for _, next := range []model.JobStatus{model.JobStatusSendingEmails, model.JobStatusComplete} {
		if moved, err := p.transitionJob(ctx, job, next, "", out); err != nil || !moved {
			return err
		}
	}
	return nil
}
