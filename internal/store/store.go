// Package store persists jobs, leads, emails and templates and enforces
// their status transitions with compare-and-swap updates.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = eris.New("record not found")
	// ErrConflict is returned when a compare-and-swap finds the record in a
	// different status than expected. Another worker owns or moved it.
	ErrConflict = eris.New("status conflict")
	// ErrDuplicateSend is returned when a lead already has a sent email.
	ErrDuplicateSend = eris.New("lead already has a sent email")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status       model.JobStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads. Empty fields match all.
type LeadFilter struct {
	JobID    string             `json:"job_id,omitempty"`
	Statuses []model.LeadStatus `json:"statuses,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// LeadFinish is the write a stage performs when it releases a claimed lead.
type LeadFinish struct {
	From   model.LeadStatus
	To     model.LeadStatus
	Update model.LeadUpdate
}

// Stats is an aggregate view of pipeline activity used by monitoring.
type Stats struct {
	JobsByStatus  map[model.JobStatus]int `json:"jobs_by_status"`
	LeadsByStatus model.LeadCounts        `json:"leads_by_status"`
	EmailsSent    int                     `json:"emails_sent"`
	EmailsFailed  int                     `json:"emails_failed"`
	StuckSending  int                     `json:"stuck_sending"`
}

// Store defines the persistence interface for the outreach pipeline.
// Every status change is a compare-and-swap: it succeeds only when the
// record is still in the expected status, and otherwise returns ErrConflict.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	SavePlan(ctx context.Context, jobID string, plan model.SearchPlan) error
	TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus, errMsg string) error

	// Leads
	// CreateLeads returns ErrConflict once the job has left Searching.
	CreateLeads(ctx context.Context, jobID string, urls []string, limit int) (int, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, jobID string) (model.LeadCounts, error)
	ClaimLead(ctx context.Context, leadID string, from, to model.LeadStatus) (*model.Lead, error)
	FinishLead(ctx context.Context, leadID string, fin LeadFinish) error
	// FinishWithContact finishes an Enriching lead as ReadyToSend unless
	// another lead already holds upd.ContactEmail, in which case it becomes
	// DuplicateContact. It returns the holding lead's id, or "".
	FinishWithContact(ctx context.Context, leadID string, upd model.LeadUpdate) (string, error)
	TransitionLead(ctx context.Context, leadID string, from, to model.LeadStatus, errMsg string) error
	ListStaleLeads(ctx context.Context, status model.LeadStatus, claimedBefore time.Time) ([]model.Lead, error)
	DeleteLead(ctx context.Context, leadID string) error

	// Emails
	RecordSend(ctx context.Context, leadID string, email *model.Email, to model.LeadStatus) error
	GetSentEmail(ctx context.Context, leadID string) (*model.Email, error)
	ListEmails(ctx context.Context, leadID string) ([]model.Email, error)

	// Templates
	UpsertTemplate(ctx context.Context, tmpl *model.Template) error
	GetTemplate(ctx context.Context, name string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)

	// Monitoring
	Stats(ctx context.Context, since time.Time, stuckBefore time.Time) (*Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// checkLeadMove rejects moves the lead state machine does not allow before
// they reach the database.
func checkLeadMove(from, to model.LeadStatus) error {
	if !from.CanTransition(to) {
		return eris.Errorf("invalid lead transition %s -> %s", from, to)
	}
	return nil
}

// contactFinish picks the write for an enriched lead given the id of the
// lead already holding its contact, if any.
func contactFinish(upd model.LeadUpdate, holder string) LeadFinish {
	if holder == "" {
		return LeadFinish{From: model.LeadStatusEnriching, To: model.LeadStatusReadyToSend, Update: upd}
	}
	upd.ErrorMessage = fmt.Sprintf("contact %s already held by lead %s", upd.ContactEmail, holder)
	return LeadFinish{From: model.LeadStatusEnriching, To: model.LeadStatusDuplicateContact, Update: upd}
}

func checkJobMove(from, to model.JobStatus) error {
	if !from.CanTransition(to) {
		return eris.Errorf("invalid job transition %s -> %s", from, to)
	}
	return nil
}

// dedupeURLs drops blanks and repeats while preserving order.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// selectNewURLs returns up to remaining URLs from candidates that are not
// already in existing.
func selectNewURLs(candidates []string, existing map[string]struct{}, remaining int) []string {
	var out []string
	for _, u := range dedupeURLs(candidates) {
		if remaining <= 0 {
			break
		}
		if _, ok := existing[u]; ok {
			continue
		}
		out = append(out, u)
		remaining--
	}
	return out
}
