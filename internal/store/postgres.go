package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	raw_query       TEXT NOT NULL,
	parsed_role     TEXT NOT NULL DEFAULT '',
	parsed_location TEXT NOT NULL DEFAULT '',
	parsed_filters  JSONB NOT NULL DEFAULT '[]',
	search_plan     JSONB NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'pending',
	error_message   TEXT NOT NULL DEFAULT '',
	result_limit    INTEGER NOT NULL CHECK (result_limit > 0),
	template_name   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
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
	last_attempted_at    TIMESTAMPTZ,
	error_message        TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	scheduled_at        TIMESTAMPTZ,
	sent_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	variables  JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_leads_job_status ON leads(job_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_contact_email ON leads(lower(contact_email));
CREATE INDEX IF NOT EXISTS idx_emails_lead_id ON emails(lead_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_one_sent ON emails(lead_id) WHERE status = 'sent';
`

const (
	jobColumns  = `id, raw_query, parsed_role, parsed_location, parsed_filters, search_plan, status, error_message, result_limit, template_name, created_at, updated_at`
	leadColumns = `id, job_id, job_url, company_url, role_title, company_name, contact_name, contact_title, contact_linkedin_url, contact_email, status, attempts, last_attempted_at, error_message, created_at, updated_at`
	emailColumns = `id, lead_id, to_email, subject, template_used, provider_message_id, status, error_message, scheduled_at, sent_at`
)

var leadInsert = db.InsertConfig{
	Table:        "leads",
	Columns:      []string{"id", "job_id", "job_url", "status", "created_at", "updated_at"},
	ConflictKeys: []string{"job_id", "job_url"},
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.RawQuery, job.ParsedRole, job.ParsedLocation, filters, plan,
		string(job.Status), job.ErrorMessage, job.ResultLimit, job.TemplateName, now, now,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, jobID string, plan model.SearchPlan) error {
	filters, queries, err := marshalPlan(plan.Filters, plan.Queries)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET parsed_role = $1, parsed_location = $2, parsed_filters = $3, search_plan = $4, status = $5, updated_at = $6 WHERE id = $7 AND status = $8`,
		plan.Role, plan.Location, filters, queries, string(model.JobStatusSearching), time.Now().UTC(),
		jobID, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save plan %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.jobMissOrConflict(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus, errMsg string) error {
	if err := checkJobMove(from, to); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(to), errMsg, time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.jobMissOrConflict(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) jobMissOrConflict(ctx context.Context, jobID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read job status %s", jobID)
	}
	return eris.Wrapf(ErrConflict, "job %s is %s", jobID, status)
}

// --- Leads ---

// CreateLeads inserts up to limit leads for the job in total. The job row is
// locked for the duration so concurrent discovery passes cannot overshoot.
func (s *PostgresStore) CreateLeads(ctx context.Context, jobID string, urls []string, limit int) (int, error) {
	var inserted int
	err := db.WithTx(ctx, s.pool, "create leads", func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: create leads for job %s", jobID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock job %s", jobID)
		}
		if model.JobStatus(status) != model.JobStatusSearching {
			return eris.Wrapf(ErrConflict, "postgres: create leads: job %s is %s", jobID, status)
		}

		rows, err := tx.Query(ctx, `SELECT job_url FROM leads WHERE job_id = $1`, jobID)
		if err != nil {
			return eris.Wrap(err, "postgres: list existing leads")
		}
		existing := map[string]struct{}{}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan lead url")
			}
			existing[u] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: iterate lead urls")
		}

		fresh := selectNewURLs(urls, existing, limit-len(existing))
		if len(fresh) == 0 {
			return nil
		}

		sql, err := db.InsertIgnoreSQL(leadInsert, len(fresh))
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		args := make([]any, 0, len(fresh)*len(leadInsert.Columns))
		for _, u := range fresh {
			args = append(args, uuid.New().String(), jobID, u, string(model.LeadStatusPending), now, now)
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return eris.Wrap(err, "postgres: insert leads")
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	return inserted, err
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, leadStatusStrings(filter.Statuses))
		argIdx++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	return s.queryLeads(ctx, query, args...)
}

func (s *PostgresStore) queryLeads(ctx context.Context, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) CountLeads(ctx context.Context, jobID string) (model.LeadCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM leads WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count leads %s", jobID)
	}
	defer rows.Close()

	counts := model.LeadCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead count")
		}
		counts[model.LeadStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate lead counts")
}

func (s *PostgresStore) ClaimLead(ctx context.Context, leadID string, from, to model.LeadStatus) (*model.Lead, error) {
	if err := checkLeadMove(from, to); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	l, err := scanLead(s.pool.QueryRow(ctx,
		`UPDATE leads SET status = $1, attempts = attempts + 1, last_attempted_at = $2, updated_at = $2 WHERE id = $3 AND status = $4 RETURNING `+leadColumns,
		string(to), now, leadID, string(from),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrConflict, "claim lead %s from %s", leadID, from)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim lead %s", leadID)
	}
	return l, nil
}

func (s *PostgresStore) FinishLead(ctx context.Context, leadID string, fin LeadFinish) error {
	return finishPostgresLead(ctx, s.pool, leadID, fin)
}

// FinishWithContact holds a transaction-scoped advisory lock on the address
// so two leads resolving to it cannot both become ReadyToSend.
func (s *PostgresStore) FinishWithContact(ctx context.Context, leadID string, upd model.LeadUpdate) (string, error) {
	var holder string
	err := db.WithTx(ctx, s.pool, "finish with contact", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext(lower($1)))`, upd.ContactEmail); err != nil {
			return eris.Wrapf(err, "postgres: lock contact for lead %s", leadID)
		}
		err := tx.QueryRow(ctx,
			`SELECT id FROM leads WHERE lower(contact_email) = lower($1) AND id <> $2 AND status = ANY($3) ORDER BY created_at LIMIT 1`,
			upd.ContactEmail, leadID, leadStatusStrings(model.ContactHoldingStatuses),
		).Scan(&holder)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(err, "postgres: find contact holder for lead %s", leadID)
		}
		return finishPostgresLead(ctx, tx, leadID, contactFinish(upd, holder))
	})
	if err != nil {
		return "", err
	}
	return holder, nil
}

func leadStatusStrings(statuses []model.LeadStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// pgExecer is satisfied by the pool and by pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func finishPostgresLead(ctx context.Context, ex pgExecer, leadID string, fin LeadFinish) error {
	if err := checkLeadMove(fin.From, fin.To); err != nil {
		return err
	}
	u := fin.Update
	tag, err := ex.Exec(ctx,
		`UPDATE leads SET status = $1,
			company_url = COALESCE(NULLIF($2, ''), company_url),
			role_title = COALESCE(NULLIF($3, ''), role_title),
			company_name = COALESCE(NULLIF($4, ''), company_name),
			contact_name = COALESCE(NULLIF($5, ''), contact_name),
			contact_title = COALESCE(NULLIF($6, ''), contact_title),
			contact_linkedin_url = COALESCE(NULLIF($7, ''), contact_linkedin_url),
			contact_email = COALESCE(NULLIF($8, ''), contact_email),
			error_message = $9, updated_at = $10
		WHERE id = $11 AND status = $12`,
		string(fin.To), u.CompanyURL, u.RoleTitle, u.CompanyName, u.ContactName, u.ContactTitle,
		u.ContactLinkedInURL, u.ContactEmail, u.ErrorMessage, time.Now().UTC(), leadID, string(fin.From),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "finish lead %s from %s", leadID, fin.From)
	}
	return nil
}

func (s *PostgresStore) TransitionLead(ctx context.Context, leadID string, from, to model.LeadStatus, errMsg string) error {
	return s.FinishLead(ctx, leadID, LeadFinish{From: from, To: to, Update: model.LeadUpdate{ErrorMessage: errMsg}})
}

func (s *PostgresStore) ListStaleLeads(ctx context.Context, status model.LeadStatus, claimedBefore time.Time) ([]model.Lead, error) {
	return s.queryLeads(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE status = $1 AND (last_attempted_at IS NULL OR last_attempted_at < $2) ORDER BY last_attempted_at`,
		string(status), claimedBefore,
	)
}

func (s *PostgresStore) DeleteLead(ctx context.Context, leadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete lead %s", leadID)
	}
	return nil
}

// --- Emails ---

// RecordSend stores the email and moves the lead out of Sending in one
// transaction. A second sent email for the same lead is rejected by the
// partial unique index and surfaces as ErrDuplicateSend.
func (s *PostgresStore) RecordSend(ctx context.Context, leadID string, email *model.Email, to model.LeadStatus) error {
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

	return db.WithTx(ctx, s.pool, "record send", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO emails (`+emailColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			email.ID, leadID, email.ToEmail, email.Subject, email.TemplateUsed, email.ProviderMessageID,
			string(email.Status), email.ErrorMessage, email.ScheduledAt, email.SentAt,
		)
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateSend, "lead %s", leadID)
		}
		if err != nil {
			return eris.Wrap(err, "postgres: insert email")
		}

		tag, err := tx.Exec(ctx,
			`UPDATE leads SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
			string(to), email.ErrorMessage, time.Now().UTC(), leadID, string(model.LeadStatusSending),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update lead %s after send", leadID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrConflict, "lead %s not sending", leadID)
		}
		return nil
	})
}

func (s *PostgresStore) GetSentEmail(ctx context.Context, leadID string) (*model.Email, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE lead_id = $1 AND status = $2`,
		leadID, string(model.EmailStatusSent),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sent email %s", leadID)
	}
	return e, nil
}

func (s *PostgresStore) ListEmails(ctx context.Context, leadID string) ([]model.Email, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+emailColumns+` FROM emails WHERE lead_id = $1 ORDER BY sent_at`, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list emails %s", leadID)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		emails = append(emails, *e)
	}
	return emails, eris.Wrap(rows.Err(), "postgres: iterate emails")
}

// --- Templates ---

func (s *PostgresStore) UpsertTemplate(ctx context.Context, tmpl *model.Template) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}
	vars, err := json.Marshal(tmpl.Variables)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal template variables")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, name, subject, body, variables, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET subject = EXCLUDED.subject, body = EXCLUDED.body, variables = EXCLUDED.variables
		RETURNING id, created_at`,
		tmpl.ID, tmpl.Name, tmpl.Subject, tmpl.Body, vars, tmpl.CreatedAt,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert template %s", tmpl.Name)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, name string) (*model.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx,
		`SELECT id, name, subject, body, variables, created_at FROM templates WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: template %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %q", name)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, subject, body, variables, created_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate templates")
}

// --- Monitoring ---

func (s *PostgresStore) Stats(ctx context.Context, since, stuckBefore time.Time) (*Stats, error) {
	st := &Stats{JobsByStatus: map[model.JobStatus]int{}, LeadsByStatus: model.LeadCounts{}}

	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM jobs WHERE created_at >= $1 GROUP BY status`, since,
		func(status string, n int) { st.JobsByStatus[model.JobStatus(status)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM leads WHERE created_at >= $1 GROUP BY status`, since,
		func(status string, n int) { st.LeadsByStatus[model.LeadStatus(status)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM emails WHERE sent_at >= $1 GROUP BY status`, since,
		func(status string, n int) {
			switch model.EmailStatus(status) {
			case model.EmailStatusSent:
				st.EmailsSent = n
			case model.EmailStatusFailed:
				st.EmailsFailed = n
			}
		}); err != nil {
		return nil, err
	}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE status = $1 AND last_attempted_at < $2`,
		string(model.LeadStatusSending), stuckBefore,
	).Scan(&st.StuckSending)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count stuck sends")
	}
	return st, nil
}

func (s *PostgresStore) groupCount(ctx context.Context, query string, since time.Time, fn func(string, int)) error {
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return eris.Wrap(err, "postgres: scan stats")
		}
		fn(status, n)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate stats")
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalPlan(filters, queries []string) ([]byte, []byte, error) {
	if filters == nil {
		filters = []string{}
	}
	if queries == nil {
		queries = []string{}
	}
	f, err := json.Marshal(filters)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal filters")
	}
	q, err := json.Marshal(queries)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal search plan")
	}
	return f, q, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var filters, plan []byte
	err := row.Scan(&j.ID, &j.RawQuery, &j.ParsedRole, &j.ParsedLocation, &filters, &plan,
		&j.Status, &j.ErrorMessage, &j.ResultLimit, &j.TemplateName, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalList(filters, &j.ParsedFilters); err != nil {
		return nil, eris.Wrap(err, "unmarshal filters")
	}
	if err := unmarshalList(plan, &j.SearchPlan); err != nil {
		return nil, eris.Wrap(err, "unmarshal search plan")
	}
	return &j, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.JobID, &l.JobURL, &l.CompanyURL, &l.RoleTitle, &l.CompanyName,
		&l.ContactName, &l.ContactTitle, &l.ContactLinkedInURL, &l.ContactEmail, &l.Status,
		&l.Attempts, &l.LastAttemptedAt, &l.ErrorMessage, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanEmail(row scannable) (*model.Email, error) {
	var e model.Email
	var leadID *string
	err := row.Scan(&e.ID, &leadID, &e.ToEmail, &e.Subject, &e.TemplateUsed, &e.ProviderMessageID,
		&e.Status, &e.ErrorMessage, &e.ScheduledAt, &e.SentAt)
	if err != nil {
		return nil, err
	}
	if leadID != nil {
		e.LeadID = *leadID
	}
	return &e, nil
}

func scanTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	var vars []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &vars, &t.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalList(vars, &t.Variables); err != nil {
		return nil, eris.Wrap(err, "unmarshal template variables")
	}
	return &t, nil
}

func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
