package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// leadResult is what a worker did with one lead.
type leadResult int

const (
	leadSkipped leadResult = iota
	leadSucceeded
	leadFailed
	leadReleased
)

// tally accumulates worker results for a stage invocation.
type tally struct {
	mu  sync.Mutex
	out *StageOutcome
}

func (t *tally) add(r leadResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Processed++
	switch r {
	case leadSkipped:
		t.out.Skipped++
	case leadSucceeded:
		t.out.Succeeded++
	case leadFailed:
		t.out.Failed++
	case leadReleased:
		t.out.Released++
	}
}

// forEachLead runs fn for every lead with bounded concurrency. Only store
// errors abort the invocation; one lead's failure never affects another.
func (p *Pipeline) forEachLead(ctx context.Context, leads []model.Lead, out *StageOutcome, fn func(ctx context.Context, lead model.Lead) (leadResult, error)) error {
	t := &tally{out: out}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, lead := range leads {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, lead)
			if err != nil {
				return err
			}
			t.add(r)
			return nil
		})
	}
	return g.Wait()
}

// enrich scrapes, identifies a contact for and looks up the email of every
// Pending lead, then advances the job once no lead is left to enrich.
func (p *Pipeline) enrich(ctx context.Context, job *model.Job, out *StageOutcome) error {
	leads, err := p.store.ListLeads(ctx, store.LeadFilter{
		JobID:    job.ID,
		Statuses: []model.LeadStatus{model.LeadStatusPending},
	})
	if err != nil {
		return resilience.NewStoreError("list pending leads", err)
	}

	if err := p.forEachLead(ctx, leads, out, func(ctx context.Context, lead model.Lead) (leadResult, error) {
		return p.enrichLead(ctx, job, lead)
	}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "pipeline: enrich cancelled")
	}

	return p.advanceWhenDrained(ctx, job, out,
		[]model.LeadStatus{model.LeadStatusPending}, model.LeadStatusEnriching, model.JobStatusSendingEmails)
}

// advanceWhenDrained moves the job to next once no lead is waiting in an
// input status and no live claim is held in claimStatus.
func (p *Pipeline) advanceWhenDrained(ctx context.Context, job *model.Job, out *StageOutcome, input []model.LeadStatus, claimStatus model.LeadStatus, next model.JobStatus) error {
	counts, err := p.store.CountLeads(ctx, job.ID)
	if err != nil {
		return resilience.NewStoreError("count leads", err)
	}
	if counts[claimStatus] > 0 {
		out.Blocked = true
		zap.L().Info("pipeline: leads still claimed, not advancing",
			zap.String("job_id", job.ID),
			zap.String("status", string(claimStatus)),
			zap.Int("count", counts[claimStatus]),
		)
		return nil
	}
	for _, s := range input {
		if counts[s] > 0 {
			zap.L().Info("pipeline: leads remain, not advancing",
				zap.String("job_id", job.ID),
				zap.String("status", string(s)),
				zap.Int("count", counts[s]),
			)
			return nil
		}
	}
	_, err = p.transitionJob(ctx, job, next, "", out)
	return err
}

// enrichLead owns one lead from claim to result. The claim is released on
// cancellation so another invocation can pick the lead up.
func (p *Pipeline) enrichLead(ctx context.Context, job *model.Job, lead model.Lead) (leadResult, error) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("lead_id", lead.ID),
		zap.String("stage", string(StageEnrich)),
		zap.String("url", lead.JobURL),
	)

	claimed, err := p.store.ClaimLead(ctx, lead.ID, model.LeadStatusPending, model.LeadStatusEnriching)
	if eris.Is(err, store.ErrConflict) {
		log.Debug("pipeline: lead claimed elsewhere")
		return leadSkipped, nil
	}
	if err != nil {
		return leadSkipped, resilience.NewStoreError("claim lead", err)
	}

	finish := func(to model.LeadStatus, upd model.LeadUpdate) (leadResult, error) {
		err := p.store.FinishLead(ctx, lead.ID, store.LeadFinish{
			From:   model.LeadStatusEnriching,
			To:     to,
			Update: upd,
		})
		if err != nil {
			return leadSkipped, resilience.NewStoreError("finish lead", err)
		}
		monitoring.LeadOutcomes.WithLabelValues(string(StageEnrich), string(to)).Inc()
		if to.IsFailure() {
			log.Warn("pipeline: lead failed", zap.String("status", string(to)), zap.String("error", upd.ErrorMessage))
			return leadFailed, nil
		}
		log.Info("pipeline: lead enriched", zap.String("status", string(to)))
		return leadSucceeded, nil
	}

	posting, tries, err := resilience.Call(ctx, p.guards.Scrape, func(ctx context.Context) (*model.Posting, error) {
		return p.ports.Scrape.Fetch(ctx, lead.JobURL)
	})
	portResult("scrape", err)
	if isCancelled(ctx, err) {
		return p.release(ctx, lead.ID, model.LeadStatusEnriching, model.LeadStatusPending, StageEnrich)
	}
	if err == nil && posting == nil {
		err = resilience.NewPermanentError(eris.New("scraper returned no posting"), 0)
	}
	if err != nil {
		return finish(model.LeadStatusScrapingFailed, model.LeadUpdate{
			ErrorMessage: p.failureMessage(StageEnrich, claimed.Attempts, eris.Wrapf(err, "scrape %s after %d tries", lead.JobURL, tries)),
		})
	}

	upd := model.LeadUpdate{
		RoleTitle:   strings.TrimSpace(posting.RoleTitle),
		CompanyName: strings.TrimSpace(posting.CompanyName),
		CompanyURL:  strings.TrimSpace(posting.CompanyURL),
	}

	contact, ok := pickContact(posting.Contacts)
	if !ok {
		upd.ErrorMessage = p.failureMessage(StageEnrich, claimed.Attempts,
			resilience.NewPermanentError(eris.Errorf("no contact with a name or LinkedIn profile on %s", lead.JobURL), 0))
		return finish(model.LeadStatusContactNotFound, upd)
	}
	upd.ContactName = contact.Name
	upd.ContactTitle = contact.Title
	upd.ContactLinkedInURL = contact.LinkedInURL

	email, tries, err := resilience.Call(ctx, p.guards.Lookup, func(ctx context.Context) (string, error) {
		return p.ports.Lookup.Resolve(ctx, model.ContactQuery{
			Name:        contact.Name,
			Title:       contact.Title,
			LinkedInURL: contact.LinkedInURL,
			CompanyName: upd.CompanyName,
			CompanyURL:  upd.CompanyURL,
		})
	})
	if eris.Is(err, ErrContactNotFound) {
		portResult("lookup", nil)
	} else {
		portResult("lookup", err)
	}
	if isCancelled(ctx, err) {
		return p.release(ctx, lead.ID, model.LeadStatusEnriching, model.LeadStatusPending, StageEnrich)
	}
	email = strings.TrimSpace(email)
	if err == nil && email == "" {
		err = ErrContactNotFound
	}
	if err != nil {
		upd.ErrorMessage = p.failureMessage(StageEnrich, claimed.Attempts,
			eris.Wrapf(err, "lookup email for %s after %d tries", contactLabel(contact), tries))
		return finish(model.LeadStatusEmailNotFound, upd)
	}

	upd.ContactEmail = email
	holder, err := p.store.FinishWithContact(ctx, lead.ID, upd)
	if err != nil {
		return leadSkipped, resilience.NewStoreError("finish lead", err)
	}
	if holder != "" {
		monitoring.LeadOutcomes.WithLabelValues(string(StageEnrich), string(model.LeadStatusDuplicateContact)).Inc()
		log.Info("pipeline: contact already held by another lead", zap.String("holder_lead_id", holder))
		return leadSkipped, nil
	}
	monitoring.LeadOutcomes.WithLabelValues(string(StageEnrich), string(model.LeadStatusReadyToSend)).Inc()
	log.Info("pipeline: lead enriched", zap.String("status", string(model.LeadStatusReadyToSend)))
	return leadSucceeded, nil
}

// release returns a claimed lead to its entry status. It runs detached from
// ctx because ctx is usually the reason for releasing.
func (p *Pipeline) release(ctx context.Context, leadID string, from, to model.LeadStatus, stage Stage) (leadResult, error) {
	err := p.store.TransitionLead(context.WithoutCancel(ctx), leadID, from, to, "")
	if err != nil && !eris.Is(err, store.ErrConflict) {
		return leadSkipped, resilience.NewStoreError("release lead", err)
	}
	monitoring.LeadOutcomes.WithLabelValues(string(stage), "released").Inc()
	zap.L().Info("pipeline: claim released",
		zap.String("lead_id", leadID),
		zap.String("stage", string(stage)),
		zap.String("to", string(to)),
	)
	return leadReleased, nil
}

// pickContact returns the first contact that can be looked up.
func pickContact(contacts []model.Contact) (model.Contact, bool) {
	for _, c := range contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.LinkedInURL = strings.TrimSpace(c.LinkedInURL)
		if c.HasIdentity() {
			return c, true
		}
	}
	return model.Contact{}, false
}

func contactLabel(c model.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.LinkedInURL
}
