package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/render"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// ReconcileReport summarizes how abandoned claims were resolved.
type ReconcileReport struct {
	// Released are Enriching leads returned to Pending.
	Released int `json:"released"`
	// MarkedSent are Sending leads that already had a sent email or that the
	// provider confirmed.
	MarkedSent int `json:"marked_sent"`
	// Requeued are Sending leads the provider reports as never sent.
	Requeued int `json:"requeued"`
	// Unresolved lists Sending leads whose delivery state is unknown. They
	// stay in Sending and are never resent automatically.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Total is the number of leads whose status reconciliation changed.
func (r *ReconcileReport) Total() int {
	return r.Released + r.MarkedSent + r.Requeued
}

// Reconcile resolves claims older than the claim TTL. An empty jobID covers
// every job. Enrichment has no side effects, so stale Enriching leads go back
// to Pending. Stale Sending leads are only moved when the outcome of the
// send is known.
func (p *Pipeline) Reconcile(ctx context.Context, jobID string) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	cutoff := p.now().Add(-p.opts.ClaimTTL)

	enriching, err := p.staleLeads(ctx, jobID, model.LeadStatusEnriching, cutoff)
	if err != nil {
		return nil, err
	}
	for _, lead := range enriching {
		err := p.store.TransitionLead(ctx, lead.ID, model.LeadStatusEnriching, model.LeadStatusPending, "")
		if eris.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, resilience.NewStoreError("release stale lead", err)
		}
		report.Released++
		monitoring.Reconciled.WithLabelValues("released").Inc()
		zap.L().Info("pipeline: released stale enrich claim",
			zap.String("job_id", lead.JobID),
			zap.String("lead_id", lead.ID),
		)
	}

	sending, err := p.staleLeads(ctx, jobID, model.LeadStatusSending, cutoff)
	if err != nil {
		return nil, err
	}
	for _, lead := range sending {
		if err := p.reconcileSending(ctx, lead, report); err != nil {
			return nil, err
		}
	}

	if report.Total() > 0 || len(report.Unresolved) > 0 {
		zap.L().Info("pipeline: reconciliation finished",
			zap.String("job_id", jobID),
			zap.Int("released", report.Released),
			zap.Int("marked_sent", report.MarkedSent),
			zap.Int("requeued", report.Requeued),
			zap.Int("unresolved", len(report.Unresolved)),
		)
	}
	return report, nil
}

func (p *Pipeline) staleLeads(ctx context.Context, jobID string, status model.LeadStatus, cutoff time.Time) ([]model.Lead, error) {
	leads, err := p.store.ListStaleLeads(ctx, status, cutoff)
	if err != nil {
		return nil, resilience.NewStoreError("list stale leads", err)
	}
	if jobID == "" {
		return leads, nil
	}
	out := leads[:0]
	for _, l := range leads {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

// reconcileSending settles one abandoned send without ever sending again.
func (p *Pipeline) reconcileSending(ctx context.Context, lead model.Lead, report *ReconcileReport) error {
	log := zap.L().With(zap.String("job_id", lead.JobID), zap.String("lead_id", lead.ID))

	sent, err := p.store.GetSentEmail(ctx, lead.ID)
	if err != nil {
		return resilience.NewStoreError("get sent email", err)
	}
	if sent != nil {
		err := p.store.TransitionLead(ctx, lead.ID, model.LeadStatusSending, model.LeadStatusEmailSent, "")
		if eris.Is(err, store.ErrConflict) {
			return nil
		}
		if err != nil {
			return resilience.NewStoreError("mark lead sent", err)
		}
		report.MarkedSent++
		monitoring.Reconciled.WithLabelValues("marked_sent").Inc()
		log.Info("pipeline: stale send already recorded, lead marked sent")
		return nil
	}

	verifier, ok := p.ports.Email.(SendVerifier)
	if !ok {
		report.Unresolved = append(report.Unresolved, lead.ID)
		monitoring.Reconciled.WithLabelValues("unresolved").Inc()
		log.Warn("pipeline: stale send cannot be verified, leaving lead in sending")
		return nil
	}

	key := IdempotencyKey(lead.ID)
	v, _, err := resilience.Call(ctx, p.guards.Email, func(ctx context.Context) (verification, error) {
		id, sent, err := verifier.VerifySent(ctx, key)
		return verification{messageID: id, sent: sent}, err
	})
	if err != nil {
		report.Unresolved = append(report.Unresolved, lead.ID)
		monitoring.Reconciled.WithLabelValues("unresolved").Inc()
		log.Warn("pipeline: send verification failed, leaving lead in sending", zap.Error(err))
		return nil
	}

	if !v.sent {
		err := p.store.TransitionLead(ctx, lead.ID, model.LeadStatusSending, model.LeadStatusReadyToSend, "")
		if eris.Is(err, store.ErrConflict) {
			return nil
		}
		if err != nil {
			return resilience.NewStoreError("requeue unsent lead", err)
		}
		report.Requeued++
		monitoring.Reconciled.WithLabelValues("requeued").Inc()
		log.Info("pipeline: stale send was never delivered, lead back to ready")
		return nil
	}

	email := &model.Email{
		ToEmail:           lead.ContactEmail,
		ProviderMessageID: v.messageID,
		Status:            model.EmailStatusSent,
		SentAt:            p.now(),
	}
	p.describeReconciledEmail(ctx, lead, email)

	err = p.store.RecordSend(ctx, lead.ID, email, model.LeadStatusEmailSent)
	if eris.Is(err, store.ErrConflict) || eris.Is(err, store.ErrDuplicateSend) {
		return nil
	}
	if err != nil {
		return resilience.NewStoreError("record verified send", err)
	}
	report.MarkedSent++
	monitoring.Reconciled.WithLabelValues("marked_sent").Inc()
	monitoring.EmailsSent.WithLabelValues(string(model.EmailStatusSent)).Inc()
	log.Info("pipeline: provider confirmed stale send, lead marked sent",
		zap.String("message_id", v.messageID))
	return nil
}

type verification struct {
	messageID string
	sent      bool
}

// describeReconciledEmail fills the subject and template of a confirmed send
// by rendering the job's template again. Failures leave them blank; the
// provider message id is what matters for the audit trail.
func (p *Pipeline) describeReconciledEmail(ctx context.Context, lead model.Lead, email *model.Email) {
	job, err := p.store.GetJob(ctx, lead.JobID)
	if err != nil {
		return
	}
	tmpl, err := p.template(ctx, job)
	if err != nil {
		return
	}
	email.TemplateUsed = tmpl.Name
	if r, err := render.Render(tmpl, render.LeadVariables(job, &lead, p.opts.TemplateFallbacks)); err == nil {
		email.Subject = r.Subject
	}
}
