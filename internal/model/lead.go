package model

import "time"

// LeadStatus tracks a single lead's progress through enrichment and outreach.
type LeadStatus string

const (
	LeadStatusPending         LeadStatus = "pending"
	LeadStatusEnriching       LeadStatus = "enriching"
	LeadStatusScrapingFailed  LeadStatus = "scraping_failed"
	LeadStatusContactNotFound LeadStatus = "contact_not_found"
	LeadStatusEmailNotFound   LeadStatus = "email_not_found"
	LeadStatusReadyToSend     LeadStatus = "ready_to_send"
	LeadStatusSending         LeadStatus = "sending"
	LeadStatusEmailSent       LeadStatus = "email_sent"
	LeadStatusEmailFailed     LeadStatus = "email_failed"

	// LeadStatusDuplicateContact marks a lead whose contact another lead
	// already holds. It is never sent.
	LeadStatusDuplicateContact LeadStatus = "duplicate_contact"
)

var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusPending: {LeadStatusEnriching},
	LeadStatusEnriching: {
		LeadStatusPending, // claim released
		LeadStatusScrapingFailed,
		LeadStatusContactNotFound,
		LeadStatusEmailNotFound,
		LeadStatusReadyToSend,
		LeadStatusDuplicateContact,
	},
	LeadStatusReadyToSend: {LeadStatusSending, LeadStatusEmailFailed},
	LeadStatusSending: {
		LeadStatusReadyToSend, // claim released or reconciled as unsent
		LeadStatusEmailSent,
		LeadStatusEmailFailed,
	},
	// Explicit requeue only.
	LeadStatusScrapingFailed:  {LeadStatusPending},
	LeadStatusContactNotFound: {LeadStatusPending},
	LeadStatusEmailNotFound:   {LeadStatusPending},
	LeadStatusEmailFailed:     {LeadStatusReadyToSend},
}

// AllLeadStatuses lists every lead status in pipeline order.
var AllLeadStatuses = []LeadStatus{
	LeadStatusPending,
	LeadStatusEnriching,
	LeadStatusScrapingFailed,
	LeadStatusContactNotFound,
	LeadStatusEmailNotFound,
	LeadStatusReadyToSend,
	LeadStatusSending,
	LeadStatusEmailSent,
	LeadStatusEmailFailed,
	LeadStatusDuplicateContact,
}

// ContactHoldingStatuses are the statuses in which a lead owns its contact
// email. A second lead resolving to the same address is a duplicate.
var ContactHoldingStatuses = []LeadStatus{
	LeadStatusReadyToSend,
	LeadStatusSending,
	LeadStatusEmailSent,
	LeadStatusEmailFailed,
}

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	_, ok := leadTransitions[s]
	return ok || s == LeadStatusEmailSent || s == LeadStatusDuplicateContact
}

// CanTransition reports whether a lead may move from s to next.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	for _, allowed := range leadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsClaim reports whether s marks a lead as owned by a running worker.
func (s LeadStatus) IsClaim() bool {
	return s == LeadStatusEnriching || s == LeadStatusSending
}

// IsFailure reports whether s is a failure outcome that only an explicit
// requeue can leave.
func (s LeadStatus) IsFailure() bool {
	switch s {
	case LeadStatusScrapingFailed, LeadStatusContactNotFound,
		LeadStatusEmailNotFound, LeadStatusEmailFailed:
		return true
	}
	return false
}

// RequeueTarget returns the status a failed lead returns to on requeue.
func (s LeadStatus) RequeueTarget() (LeadStatus, bool) {
	switch s {
	case LeadStatusScrapingFailed, LeadStatusContactNotFound, LeadStatusEmailNotFound:
		return LeadStatusPending, true
	case LeadStatusEmailFailed:
		return LeadStatusReadyToSend, true
	}
	return "", false
}

// Lead is one discovered job posting and the contact resolved for it.
type Lead struct {
	ID                 string     `json:"id"`
	JobID              string     `json:"job_id"`
	JobURL             string     `json:"job_url"`
	CompanyURL         string     `json:"company_url,omitempty"`
	RoleTitle          string     `json:"role_title,omitempty"`
	CompanyName        string     `json:"company_name,omitempty"`
	ContactName        string     `json:"contact_name,omitempty"`
	ContactTitle       string     `json:"contact_title,omitempty"`
	ContactLinkedInURL string     `json:"contact_linkedin_url,omitempty"`
	ContactEmail       string     `json:"contact_email,omitempty"`
	Status             LeadStatus `json:"status"`
	Attempts           int        `json:"attempts"`
	LastAttemptedAt    *time.Time `json:"last_attempted_at,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// LeadUpdate carries the fields a stage writes when it finishes a claimed
// lead. Empty strings leave the stored value untouched.
type LeadUpdate struct {
	CompanyURL         string
	RoleTitle          string
	CompanyName        string
	ContactName        string
	ContactTitle       string
	ContactLinkedInURL string
	ContactEmail       string
	ErrorMessage       string
}

// Posting is what the scrape port extracts from a job posting URL.
type Posting struct {
	URL         string    `json:"url"`
	RoleTitle   string    `json:"role_title"`
	CompanyName string    `json:"company_name"`
	CompanyURL  string    `json:"company_url,omitempty"`
	Contacts    []Contact `json:"contacts,omitempty"`
}

// Contact is a person associated with a posting, typically a founder.
type Contact struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// HasIdentity reports whether the contact carries enough to look up an email.
func (c Contact) HasIdentity() bool {
	return c.Name != "" || c.LinkedInURL != ""
}

// ContactQuery is the input to a contact email lookup.
type ContactQuery struct {
	Name        string
	Title       string
	LinkedInURL string
	CompanyName string
	CompanyURL  string
}

// LeadCounts maps each status to the number of leads in it.
type LeadCounts map[LeadStatus]int

// Total returns the number of leads across all statuses.
func (c LeadCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
