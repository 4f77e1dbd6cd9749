package model

import "time"

// EmailStatus is the recorded outcome of one delivery attempt.
type EmailStatus string

const (
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
	EmailStatusBounced EmailStatus = "bounced"
)

// Email is an immutable record of one delivery attempt. LeadID is empty once
// the lead it belonged to has been deleted.
type Email struct {
	ID                string      `json:"id"`
	LeadID            string      `json:"lead_id,omitempty"`
	ToEmail           string      `json:"to_email"`
	Subject           string      `json:"subject"`
	TemplateUsed      string      `json:"template_used"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	Status            EmailStatus `json:"status"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty"`
	SentAt            time.Time   `json:"sent_at"`
}

// OutboundEmail is a rendered message handed to the email port.
type OutboundEmail struct {
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
	SendAt         *time.Time
}

// Template is a named subject/body pair with {{ variable }} placeholders.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" yaml:"name"`
	Subject   string    `json:"subject" yaml:"subject"`
	Body      string    `json:"body" yaml:"body"`
	Variables []string  `json:"variables" yaml:"-"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}
