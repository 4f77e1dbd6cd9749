// Package model defines the records that move through the outreach pipeline.
package model

import "time"

// JobStatus represents the stage a job has reached.
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusSearching       JobStatus = "searching"
	JobStatusProcessingLeads JobStatus = "processing_leads"
	JobStatusSendingEmails   JobStatus = "sending_emails"
	JobStatusComplete        JobStatus = "complete"
	JobStatusFailed          JobStatus = "failed"
)

// jobTransitions lists the forward moves allowed from each non-terminal status.
// Failed is reachable from every non-terminal status and is added by CanTransition.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:         {JobStatusSearching},
	JobStatusSearching:       {JobStatusProcessingLeads},
	JobStatusProcessingLeads: {JobStatusSendingEmails},
	JobStatusSendingEmails:   {JobStatusComplete},
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusSearching, JobStatusProcessingLeads,
		JobStatusSendingEmails, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !s.Valid() || s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is one outreach request: a natural-language query and everything
// derived from it.
type Job struct {
	ID             string    `json:"id"`
	RawQuery       string    `json:"raw_query"`
	ParsedRole     string    `json:"parsed_role,omitempty"`
	ParsedLocation string    `json:"parsed_location,omitempty"`
	ParsedFilters  []string  `json:"parsed_filters,omitempty"`
	SearchPlan     []string  `json:"search_plan,omitempty"`
	Status         JobStatus `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResultLimit    int       `json:"result_limit"`
	TemplateName   string    `json:"template_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SearchPlan is the output of query planning.
type SearchPlan struct {
	Role     string   `json:"role"`
	Location string   `json:"location"`
	Filters  []string `json:"filters,omitempty"`
	Queries  []string `json:"queries"`
}
