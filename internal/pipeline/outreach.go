package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/render"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// outreach renders and sends the job's template to every ReadyToSend lead,
// then completes the job once nothing is left to send.
func (p *Pipeline) outreach(ctx context.Context, job *model.Job, out *StageOutcome) error {
	leads, err := p.store.ListLeads(ctx, store.LeadFilter{
		JobID:    job.ID,
		Statuses: []model.LeadStatus{model.LeadStatusReadyToSend},
	})
	if err != nil {
		return resilience.NewStoreError("list ready leads", err)
	}

	if len(leads) > 0 {
		tmpl, err := p.template(ctx, job)
		if err != nil {
			return err
		}
		if err := p.forEachLead(ctx, leads, out, func(ctx context.Context, lead model.Lead) (leadResult, error) {
			return p.sendLead(ctx, job, tmpl, lead)
		}); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "pipeline: outreach cancelled")
		}
	}

	return p.advanceWhenDrained(ctx, job, out,
		[]model.LeadStatus{model.LeadStatusReadyToSend}, model.LeadStatusSending, model.JobStatusComplete)
}

// template loads the job's template. A missing template is a validation
// error and leaves the job where it is so it can be added and retried.
func (p *Pipeline) template(ctx context.Context, job *model.Job) (*model.Template, error) {
	name := job.TemplateName
	if name == "" {
		name = p.opts.DefaultTemplate
	}
	tmpl, err := p.store.GetTemplate(ctx, name)
	if eris.Is(err, store.ErrNotFound) {
		return nil, resilience.NewValidationError("template_name", "template "+name+" does not exist")
	}
	if err != nil {
		return nil, resilience.NewStoreError("get template", err)
	}
	return tmpl, nil
}

// sendLead owns one lead from ReadyToSend to EmailSent or EmailFailed. Each
// delivery attempt is recorded together with the lead status in one store
// transaction.
func (p *Pipeline) sendLead(ctx context.Context, job *model.Job, tmpl *model.Template, lead model.Lead) (leadResult, error) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("lead_id", lead.ID),
		zap.String("stage", string(StageOutreach)),
	)

	rendered, renderErr := render.Render(tmpl, render.LeadVariables(job, &lead, p.opts.TemplateFallbacks))
	if renderErr != nil {
		msg := p.failureMessage(StageOutreach, lead.Attempts, resilience.NewPermanentError(renderErr, 0))
		err := p.store.TransitionLead(ctx, lead.ID, model.LeadStatusReadyToSend, model.LeadStatusEmailFailed, msg)
		if eris.Is(err, store.ErrConflict) {
			return leadSkipped, nil
		}
		if err != nil {
			return leadSkipped, resilience.NewStoreError("fail lead", err)
		}
		monitoring.LeadOutcomes.WithLabelValues(string(StageOutreach), string(model.LeadStatusEmailFailed)).Inc()
		log.Warn("pipeline: template could not be rendered", zap.Error(renderErr))
		return leadFailed, nil
	}

	claimed, err := p.store.ClaimLead(ctx, lead.ID, model.LeadStatusReadyToSend, model.LeadStatusSending)
	if eris.Is(err, store.ErrConflict) {
		log.Debug("pipeline: lead claimed elsewhere")
		return leadSkipped, nil
	}
	if err != nil {
		return leadSkipped, resilience.NewStoreError("claim lead", err)
	}

	msg := model.OutboundEmail{
		To:             claimed.ContactEmail,
		Subject:        rendered.Subject,
		Body:           rendered.Body,
		IdempotencyKey: IdempotencyKey(lead.ID),
	}
	if p.opts.Schedule != nil {
		msg.SendAt = p.opts.Schedule(p.now())
	}

	messageID, tries, err := resilience.Call(ctx, p.guards.Email, func(ctx context.Context) (string, error) {
		return p.ports.Email.Send(ctx, msg)
	})
	portResult("email", err)
	if isCancelled(ctx, err) {
		// The provider may or may not have accepted the message; leave the
		// claim for reconciliation rather than risk a second send.
		log.Warn("pipeline: send interrupted, lead left in sending", zap.Error(err))
		monitoring.LeadOutcomes.WithLabelValues(string(StageOutreach), "interrupted").Inc()
		return leadSkipped, nil
	}

	email := &model.Email{
		ToEmail:           msg.To,
		Subject:           msg.Subject,
		TemplateUsed:      tmpl.Name,
		ProviderMessageID: messageID,
		Status:            model.EmailStatusSent,
		ScheduledAt:       msg.SendAt,
		SentAt:            p.now(),
	}
	to := model.LeadStatusEmailSent
	if err != nil {
		email.Status = model.EmailStatusFailed
		email.ProviderMessageID = ""
		email.ErrorMessage = p.failureMessage(StageOutreach, claimed.Attempts,
			eris.Wrapf(err, "send to %s after %d tries", msg.To, tries))
		to = model.LeadStatusEmailFailed
	}

	// The send already happened; record it even if ctx is cancelled now.
	recordCtx := context.WithoutCancel(ctx)
	if rerr := p.store.RecordSend(recordCtx, lead.ID, email, to); rerr != nil {
		if !eris.Is(rerr, store.ErrDuplicateSend) {
			return leadSkipped, resilience.NewStoreError("record send", rerr)
		}
		// A sent email already exists for this lead: the lead is delivered.
		log.Warn("pipeline: lead already has a sent email")
		if terr := p.store.TransitionLead(recordCtx, lead.ID, model.LeadStatusSending, model.LeadStatusEmailSent, ""); terr != nil && !eris.Is(terr, store.ErrConflict) {
			return leadSkipped, resilience.NewStoreError("mark lead sent", terr)
		}
		to = model.LeadStatusEmailSent
		email.Status = model.EmailStatusSent
	}

	monitoring.EmailsSent.WithLabelValues(string(email.Status)).Inc()
	monitoring.LeadOutcomes.WithLabelValues(string(StageOutreach), string(to)).Inc()
	if to == model.LeadStatusEmailFailed {
		log.Warn("pipeline: send failed", zap.Error(err))
		return leadFailed, nil
	}
	log.Info("pipeline: email sent", zap.String("message_id", messageID))
	return leadSucceeded, nil
}
