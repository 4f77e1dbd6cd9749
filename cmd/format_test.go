//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.Job{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			RawQuery:    "backend engineers in SF",
			Status:      model.JobStatusComplete,
			ResultLimit: 25,
			CreatedAt:   now,
		},
		{
			ID:          "def12345-6789-0000-0000-000000000000",
			RawQuery:    "find senior staff platform engineers with kubernetes and go experience in New York",
			Status:      model.JobStatusSearching,
			ResultLimit: 10,
			CreatedAt:   now,
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	output := buf.String()
	assert.Contains(t, output, "QUERY")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "backend engineers in SF")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "searching")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "New York")
}

func TestFormatLeadsList(t *testing.T) {
	leads := []model.Lead{
		{
			ID:           "lead1234-0000",
			JobURL:       "https://www.workatastartup.com/jobs/1",
			CompanyName:  "Acme",
			ContactName:  "Ada Lovelace",
			ContactEmail: "ada@acme.dev",
			Status:       model.LeadStatusEmailSent,
			Attempts:     1,
		},
		{
			ID:     "lead5678-0000",
			JobURL: "https://www.workatastartup.com/jobs/2",
			Status: model.LeadStatusScrapingFailed,
		},
	}

	var buf bytes.Buffer
	formatLeadsList(&buf, leads)

	output := buf.String()
	assert.Contains(t, output, "CONTACT")
	assert.Contains(t, output, "lead1234")
	assert.Contains(t, output, "Acme")
	assert.Contains(t, output, "ada@acme.dev")
	assert.Contains(t, output, "email_sent")
	assert.Contains(t, output, "scraping_failed")
	// Leads without a company fall back to the clipped posting URL.
	assert.Contains(t, output, "https://www.workatastartup....")
}

func TestFormatJobStatus(t *testing.T) {
	report := &pipeline.JobStatusReport{
		Job: &model.Job{
			ID:             "job-1",
			RawQuery:       "backend engineers in SF",
			ParsedRole:     "backend engineer",
			ParsedLocation: "San Francisco",
			Status:         model.JobStatusFailed,
			ErrorMessage:   "[plan] parse failed\nstack",
			TemplateName:   "default",
		},
		Leads: model.LeadCounts{
			model.LeadStatusEmailSent:   2,
			model.LeadStatusEmailFailed: 1,
		},
		Total: 3,
	}

	var buf bytes.Buffer
	formatJobStatus(&buf, report)

	output := buf.String()
	assert.Contains(t, output, "job-1")
	assert.Contains(t, output, "backend engineer")
	assert.Contains(t, output, "San Francisco")
	assert.Contains(t, output, "[plan] parse failed")
	assert.NotContains(t, output, "stack")
	assert.Contains(t, output, "email_sent:")
	assert.Contains(t, output, "email_failed:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("email_failed")), bytes.Index(buf.Bytes(), []byte("email_sent")))
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []pipeline.StageOutcome{
		{Stage: pipeline.StagePlan, From: model.JobStatusPending, To: model.JobStatusSearching},
		{Stage: pipeline.StageDiscover, From: model.JobStatusSearching, To: model.JobStatusProcessingLeads, LeadsCreated: 4},
		{Stage: pipeline.StageEnrich, From: model.JobStatusProcessingLeads, To: model.JobStatusProcessingLeads, Processed: 4, Succeeded: 3, Failed: 1, Blocked: true},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)

	output := buf.String()
	assert.Contains(t, output, "plan      pending -> searching")
	assert.Contains(t, output, "leads=4")
	assert.Contains(t, output, "processed=4 ok=3 failed=1")
	assert.Contains(t, output, "blocked")
}

func TestFormatReconcile(t *testing.T) {
	var buf bytes.Buffer
	formatReconcile(&buf, &pipeline.ReconcileReport{Released: 2, MarkedSent: 1, Unresolved: []string{"lead-9"}})

	output := buf.String()
	assert.Contains(t, output, "Released:")
	assert.Contains(t, output, "2")
	assert.Contains(t, output, "Unresolved:")
	assert.Contains(t, output, "lead-9")
}

func TestFormatTemplatesList(t *testing.T) {
	var buf bytes.Buffer
	formatTemplatesList(&buf, []model.Template{{
		Name:      "default",
		Subject:   "Your {{role}} opening",
		Variables: []string{"founder_name", "role"},
	}})

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "default")
	assert.Contains(t, output, "founder_name,role")
}

func TestParseLeadStatuses(t *testing.T) {
	got, err := parseLeadStatuses([]string{"pending", " email_sent "})
	require.NoError(t, err)
	assert.Equal(t, []model.LeadStatus{model.LeadStatusPending, model.LeadStatusEmailSent}, got)

	_, err = parseLeadStatuses([]string{"bogus"})
	assert.Error(t, err)

	got, err = parseLeadStatuses(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}
