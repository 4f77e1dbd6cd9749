package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. All access goes
// through a single connection so transactions serialize writers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	raw_query       TEXT NOT NULL,
	parsed_role     TEXT NOT NULL DEFAULT '',
	parsed_location TEXT NOT NULL DEFAULT '',
	parsed_filters  TEXT NOT NULL DEFAULT '[]',
	search_plan     TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'pending',
	error_message   TEXT NOT NULL DEFAULT '',
	result_limit    INTEGER NOT NULL CHECK (result_limit > 0),
	template_name   TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id                   TEXT PRIMARY KEY,
	job_id               TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	job_url              TEXT NOT NULL,
	company_url          TEXT NOT NULL DEFAULT '',
	role_title           TEXT NOT NULL DEFAULT '',
	company_name         TEXT NOT NULL DEFAULT '',
	contact_name         TEXT NOT NULL DEFAULT '',
	contact_title        TEXT NOT NULL DEFAULT '',
	contact_linkedin_url TEXT NOT NULL DEFAULT '',
	contact_email        TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	attempts             INTEGER NOT NULL DEFAULT 0,
	last_attempted_at    DATETIME,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	UNIQUE (job_id, job_url)
);

CREATE TABLE IF NOT EXISTS emails (
	id                  TEXT PRIMARY KEY,
	lead_id             TEXT REFERENCES leads(id) ON DELETE SET NULL,
	to_email            TEXT NOT NULL,
	subject             TEXT NOT NULL,
	template_used       TEXT NOT NULL,
	provider_message_id TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	error_message       TEXT NOT NULL DEFAULT '',
	scheduled_at        DATETIME,
	sent_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	variables  TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_leads_job_status ON leads(job_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_contact_email ON leads(lower(contact_email));
CREATE INDEX IF NOT EXISTS idx_emails_lead_id ON emails(lead_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_one_sent ON emails(lead_id) WHERE status = 'sent';
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	filters, plan, err := marshalPlan(job.ParsedFilters, job.SearchPlan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RawQuery, job.ParsedRole, job.ParsedLocation, string(filters), string(plan),
		string(job.Status), job.ErrorMessage, job.ResultLimit, job.TemplateName, now, now,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	return checkRowsAffected(res, ErrNotFound, "job", jobID)
}

func (s *SQLiteStore) SavePlan(ctx context.Context, jobID string, plan model.SearchPlan) error {
	filters, queries, err := marshalPlan(plan.Filters, plan.Queries)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET parsed_role = ?, parsed_location = ?, parsed_filters = ?, search_plan = ?, status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		plan.Role, plan.Location, string(filters), string(queries), string(model.JobStatusSearching), time.Now().UTC(),
		jobID, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save plan %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.jobMissOrConflict(ctx, jobID)
	}
	return nil
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus, errMsg string) error {
	if err := checkJobMove(from, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), errMsg, time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.jobMissOrConflict(ctx, jobID)
	}
	return nil
}

func (s *SQLiteStore) jobMissOrConflict(ctx context.Context, jobID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read job status %s", jobID)
	}
	return eris.Wrapf(ErrConflict, "job %s is %s", jobID, status)
}

// --- Leads ---

func (s *SQLiteStore) CreateLeads(ctx context.Context, jobID string, urls []string, limit int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "sqlite: create leads for job %s", jobID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: read job %s", jobID)
	}
	if model.JobStatus(status) != model.JobStatusSearching {
		return 0, eris.Wrapf(ErrConflict, "sqlite: create leads: job %s is %s", jobID, status)
	}

	rows, err := tx.QueryContext(ctx, `SELECT job_url FROM leads WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: list existing leads")
	}
	existing := map[string]struct{}{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: scan lead url")
		}
		existing[u] = struct{}{}
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate lead urls")
	}

	now := time.Now().UTC()
	inserted := 0
	for _, u := range selectNewURLs(urls, existing, limit-len(existing)) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, job_id, job_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (job_id, job_url) DO NOTHING`,
			uuid.New().String(), jobID, u, string(model.LeadStatusPending), now, now,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert lead")
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit leads")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(filter.Statuses)-1) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryLeads(ctx, query, args...)
}

func (s *SQLiteStore) queryLeads(ctx context.Context, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, jobID string) (model.LeadCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count leads %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	counts := model.LeadCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead count")
		}
		counts[model.LeadStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate lead counts")
}

func (s *SQLiteStore) ClaimLead(ctx context.Context, leadID string, from, to model.LeadStatus) (*model.Lead, error) {
	if err := checkLeadMove(from, to); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = ?, attempts = attempts + 1, last_attempted_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now, now, leadID, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim lead %s", leadID)
	}
	if err := checkRowsAffected(res, ErrConflict, "lead", leadID); err != nil {
		return nil, err
	}
	l, err := scanSQLiteLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read claimed lead %s", leadID)
	}
	return l, eris.Wrap(tx.Commit(), "sqlite: commit claim")
}

func (s *SQLiteStore) FinishLead(ctx context.Context, leadID string, fin LeadFinish) error {
	return finishSQLiteLead(ctx, s.db, leadID, fin)
}

// FinishWithContact runs the holder check and the write in one transaction.
// The single connection serializes it against every other writer.
func (s *SQLiteStore) FinishWithContact(ctx context.Context, leadID string, upd model.LeadUpdate) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	query := `SELECT id FROM leads WHERE lower(contact_email) = lower(?) AND id <> ? AND status IN (?` +
		strings.Repeat(", ?", len(model.ContactHoldingStatuses)-1) + `) ORDER BY created_at LIMIT 1`
	args := []any{upd.ContactEmail, leadID}
	for _, st := range model.ContactHoldingStatuses {
		args = append(args, string(st))
	}
	var holder string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&holder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(err, "sqlite: find contact holder for lead %s", leadID)
	}

	fin := contactFinish(upd, holder)
	if err := finishSQLiteLead(ctx, tx, leadID, fin); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit finish lead")
	}
	return holder, nil
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func finishSQLiteLead(ctx context.Context, ex sqlExecer, leadID string, fin LeadFinish) error {
	if err := checkLeadMove(fin.From, fin.To); err != nil {
		return err
	}
	u := fin.Update
	res, err := ex.ExecContext(ctx,
		`UPDATE leads SET status = ?,
			company_url = COALESCE(NULLIF(?, ''), company_url),
			role_title = COALESCE(NULLIF(?, ''), role_title),
			company_name = COALESCE(NULLIF(?, ''), company_name),
			contact_name = COALESCE(NULLIF(?, ''), contact_name),
			contact_title = COALESCE(NULLIF(?, ''), contact_title),
			contact_linkedin_url = COALESCE(NULLIF(?, ''), contact_linkedin_url),
			contact_email = COALESCE(NULLIF(?, ''), contact_email),
			error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(fin.To), u.CompanyURL, u.RoleTitle, u.CompanyName, u.ContactName, u.ContactTitle,
		u.ContactLinkedInURL, u.ContactEmail, u.ErrorMessage, time.Now().UTC(), leadID, string(fin.From),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish lead %s", leadID)
	}
	return checkRowsAffected(res, ErrConflict, "lead", leadID)
}

func (s *SQLiteStore) TransitionLead(ctx context.Context, leadID string, from, to model.LeadStatus, errMsg string) error {
	return s.FinishLead(ctx, leadID, LeadFinish{From: from, To: to, Update: model.LeadUpdate{ErrorMessage: errMsg}})
}

// ListStaleLeads compares claim times in Go; SQLite stores timestamps as text.
func (s *SQLiteStore) ListStaleLeads(ctx context.Context, status model.LeadStatus, claimedBefore time.Time) ([]model.Lead, error) {
	leads, err := s.ListLeads(ctx, LeadFilter{Statuses: []model.LeadStatus{status}})
	if err != nil {
		return nil, err
	}
	var stale []model.Lead
	for _, l := range leads {
		if l.LastAttemptedAt == nil || l.LastAttemptedAt.Before(claimedBefore) {
			stale = append(stale, l)
		}
	}
	return stale, nil
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, leadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", leadID)
	}
	return checkRowsAffected(res, ErrNotFound, "lead", leadID)
}

// --- Emails ---

func (s *SQLiteStore) RecordSend(ctx context.Context, leadID string, email *model.Email, to model.LeadStatus) error {
	if err := checkLeadMove(model.LeadStatusSending, to); err != nil {
		return err
	}
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	if email.SentAt.IsZero() {
		email.SentAt = time.Now().UTC()
	}
	email.LeadID = leadID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO emails (`+emailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, leadID, email.ToEmail, email.Subject, email.TemplateUsed, email.ProviderMessageID,
		string(email.Status), email.ErrorMessage, nullTime(email.ScheduledAt), email.SentAt.UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return eris.Wrapf(ErrDuplicateSend, "lead %s", leadID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: insert email")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), email.ErrorMessage, time.Now().UTC(), leadID, string(model.LeadStatusSending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s after send", leadID)
	}
	if err := checkRowsAffected(res, ErrConflict, "lead", leadID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit send")
}

func (s *SQLiteStore) GetSentEmail(ctx context.Context, leadID string) (*model.Email, error) {
	e, err := scanSQLiteEmail(s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE lead_id = ? AND status = ?`,
		leadID, string(model.EmailStatusSent),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sent email %s", leadID)
	}
	return e, nil
}

func (s *SQLiteStore) ListEmails(ctx context.Context, leadID string) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE lead_id = ? ORDER BY sent_at`, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list emails %s", leadID)
	}
	defer rows.Close() //nolint:errcheck

	var emails []model.Email
	for rows.Next() {
		e, err := scanSQLiteEmail(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		emails = append(emails, *e)
	}
	return emails, eris.Wrap(rows.Err(), "sqlite: iterate emails")
}

// --- Templates ---

func (s *SQLiteStore) UpsertTemplate(ctx context.Context, tmpl *model.Template) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}
	vars, err := json.Marshal(tmpl.Variables)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal template variables")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, subject, body, variables, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET subject = excluded.subject, body = excluded.body, variables = excluded.variables`,
		tmpl.ID, tmpl.Name, tmpl.Subject, tmpl.Body, string(vars), tmpl.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert template %s", tmpl.Name)
	}
	stored, err := s.GetTemplate(ctx, tmpl.Name)
	if err != nil {
		return err
	}
	tmpl.ID, tmpl.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, name string) (*model.Template, error) {
	t, err := scanSQLiteTemplate(s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, body, variables, created_at FROM templates WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: template %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get template %q", name)
	}
	return t, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, subject, body, variables, created_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Template
	for rows.Next() {
		t, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate templates")
}

// --- Monitoring ---

func (s *SQLiteStore) Stats(ctx context.Context, since, stuckBefore time.Time) (*Stats, error) {
	st := &Stats{JobsByStatus: map[model.JobStatus]int{}, LeadsByStatus: model.LeadCounts{}}

	jobs, err := s.ListJobs(ctx, JobFilter{CreatedAfter: since, Limit: 100000})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		st.JobsByStatus[j.Status]++
	}

	leads, err := s.ListLeads(ctx, LeadFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range leads {
		if l.CreatedAt.Before(since) {
			continue
		}
		st.LeadsByStatus[l.Status]++
		if l.Status == model.LeadStatusSending && l.LastAttemptedAt != nil && l.LastAttemptedAt.Before(stuckBefore) {
			st.StuckSending++
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, sent_at FROM emails`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats emails")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var status string
		var sentAt time.Time
		if err := rows.Scan(&status, &sentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email stats")
		}
		if sentAt.Before(since) {
			continue
		}
		switch model.EmailStatus(status) {
		case model.EmailStatusSent:
			st.EmailsSent++
		case model.EmailStatusFailed:
			st.EmailsFailed++
		}
	}
	return st, eris.Wrap(rows.Err(), "sqlite: iterate email stats")
}

// helpers

func checkRowsAffected(res sql.Result, sentinel error, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(sentinel, "%s %s", entity, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var filters, plan string
	err := row.Scan(&j.ID, &j.RawQuery, &j.ParsedRole, &j.ParsedLocation, &filters, &plan,
		&j.Status, &j.ErrorMessage, &j.ResultLimit, &j.TemplateName, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalList([]byte(filters), &j.ParsedFilters); err != nil {
		return nil, eris.Wrap(err, "unmarshal filters")
	}
	if err := unmarshalList([]byte(plan), &j.SearchPlan); err != nil {
		return nil, eris.Wrap(err, "unmarshal search plan")
	}
	return &j, nil
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var last sql.NullTime
	err := row.Scan(&l.ID, &l.JobID, &l.JobURL, &l.CompanyURL, &l.RoleTitle, &l.CompanyName,
		&l.ContactName, &l.ContactTitle, &l.ContactLinkedInURL, &l.ContactEmail, &l.Status,
		&l.Attempts, &last, &l.ErrorMessage, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		l.LastAttemptedAt = &t
	}
	return &l, nil
}

func scanSQLiteEmail(row scannable) (*model.Email, error) {
	var e model.Email
	var leadID sql.NullString
	var scheduled sql.NullTime
	err := row.Scan(&e.ID, &leadID, &e.ToEmail, &e.Subject, &e.TemplateUsed, &e.ProviderMessageID,
		&e.Status, &e.ErrorMessage, &scheduled, &e.SentAt)
	if err != nil {
		return nil, err
	}
	e.LeadID = leadID.String
	if scheduled.Valid {
		t := scheduled.Time
		e.ScheduledAt = &t
	}
	return &e, nil
}

func scanSQLiteTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	var vars string
	if err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &vars, &t.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalList([]byte(vars), &t.Variables); err != nil {
		return nil, eris.Wrap(err, "unmarshal template variables")
	}
	return &t, nil
}
