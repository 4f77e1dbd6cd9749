// Package resend provides a client for the Resend email API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.resend.com"

// KeyTag is the tag name carrying the caller's idempotency key, so a send can
// be found again after a crash.
const KeyTag = "idempotency_key"

// Client sends and lists emails.
type Client interface {
	// Send posts an email. A non-empty idempotencyKey is sent as the
	// Idempotency-Key header and as a KeyTag tag.
	Send(ctx context.Context, req SendRequest, idempotencyKey string) (*SendResponse, error)
	// ListEmails returns one page of sent emails, newest first.
	ListEmails(ctx context.Context, limit int, after string) (*ListResponse, error)
}

// SendRequest is the body for POST /emails.
type SendRequest struct {
	From    string     `json:"from"`
	To      []string   `json:"to"`
	Subject string     `json:"subject"`
	HTML    string     `json:"html"`
	ReplyTo string     `json:"reply_to,omitempty"`
	SendAt  *time.Time `json:"scheduled_at,omitempty"`
	Tags    []Tag      `json:"tags,omitempty"`
}

// Tag is a name/value pair attached to an email.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SendResponse is the response from POST /emails.
type SendResponse struct {
	ID string `json:"id"`
}

// ListResponse is one page of GET /emails.
type ListResponse struct {
	HasMore bool           `json:"has_more"`
	Data    []EmailSummary `json:"data"`
}

// EmailSummary describes a previously sent email.
type EmailSummary struct {
	ID        string   `json:"id"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	CreatedAt string   `json:"created_at"`
	LastEvent string   `json:"last_event"`
	Tags      []Tag    `json:"tags"`
}

// Tag returns the value of the named tag.
func (e EmailSummary) Tag(name string) string {
	for _, t := range e.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// APIError is Resend's error envelope.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return "resend: " + e.Name + ": " + e.Message
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Resend client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Send(ctx context.Context, req SendRequest, idempotencyKey string) (*SendResponse, error) {
	if len(req.To) == 0 || req.To[0] == "" {
		return nil, resilience.NewValidationError("to", "recipient is required")
	}
	if idempotencyKey != "" {
		req.Tags = append(req.Tags, Tag{Name: KeyTag, Value: idempotencyKey})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "resend: marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "resend: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var out SendResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, eris.Wrapf(err, "resend: send to %s", req.To[0])
	}
	if out.ID == "" {
		return nil, resilience.NewPermanentError(eris.New("resend: response has no id"), http.StatusOK)
	}
	return &out, nil
}

func (c *httpClient) ListEmails(ctx context.Context, limit int, after string) (*ListResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		q.Set("after", after)
	}
	u := c.baseURL + "/emails"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "resend: create request")
	}

	var out ListResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, eris.Wrap(err, "resend: list emails")
	}
	return &out, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return eris.Wrap(req.Context().Err(), "execute request")
		}
		return resilience.NewTransientError(eris.Wrap(err, "execute request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "read response body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		apiErr.StatusCode = resp.StatusCode
		// 409 concurrent_idempotent_requests clears once the first request finishes.
		if resilience.IsTransientHTTPStatus(resp.StatusCode) || apiErr.Name == "concurrent_idempotent_requests" {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return resilience.NewPermanentError(apiErr, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "decode response"), resp.StatusCode)
	}
	return nil
}
