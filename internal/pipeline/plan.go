package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// plan asks the search port for a plan and stores it together with the
// Pending -> Searching move. Planning errors fail the job.
func (p *Pipeline) plan(ctx context.Context, job *model.Job, out *StageOutcome) error {
	if job.ResultLimit <= 0 {
		return p.failJob(ctx, job, StagePlan, 0,
			resilience.NewValidationError("result_limit", "must be greater than zero"), out)
	}

	plan, attempts, err := resilience.Call(ctx, p.guards.Search, func(ctx context.Context) (*model.SearchPlan, error) {
		return p.ports.Search.Plan(ctx, job.RawQuery, job.ResultLimit)
	})
	portResult("search", err)
	if isCancelled(ctx, err) {
		return eris.Wrap(ctx.Err(), "pipeline: plan cancelled")
	}
	if err != nil {
		return p.failJob(ctx, job, StagePlan, attempts, eris.Wrap(err, "plan query"), out)
	}
	if plan == nil {
		plan = &model.SearchPlan{}
	}

	plan.Queries = normalizeQueries(plan.Queries, p.opts.MaxPlanSize)
	if len(plan.Queries) == 0 {
		return p.failJob(ctx, job, StagePlan, attempts,
			resilience.NewPermanentError(eris.New("search plan is empty"), 0), out)
	}

	err = p.store.SavePlan(ctx, job.ID, *plan)
	if eris.Is(err, store.ErrConflict) {
		zap.L().Info("pipeline: plan already saved by another invocation", zap.String("job_id", job.ID))
		return nil
	}
	if err != nil {
		return resilience.NewStoreError("save plan", err)
	}

	job.Status = model.JobStatusSearching
	out.To = model.JobStatusSearching
	out.Advanced = true
	monitoring.JobTransitions.WithLabelValues(string(model.JobStatusSearching)).Inc()
	zap.L().Info("pipeline: plan saved",
		zap.String("job_id", job.ID),
		zap.String("role", plan.Role),
		zap.String("location", plan.Location),
		zap.Strings("queries", plan.Queries),
	)
	return nil
}

// normalizeQueries trims, drops blanks and repeats, and keeps at most limit.
func normalizeQueries(queries []string, limit int) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
