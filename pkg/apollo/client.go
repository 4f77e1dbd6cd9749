// Package apollo provides a client for Apollo.io's people enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.apollo.io/api/v1"

// ErrNoMatch is returned when Apollo has no person, or no usable email, for
// the request.
var ErrNoMatch = eris.New("apollo: no matching person")

// Client matches people to contact details.
type Client interface {
	MatchPerson(ctx context.Context, req MatchRequest) (*Person, error)
}

// MatchRequest identifies a person. LinkedInURL is the strongest key; name
// plus domain or organization is the fallback.
type MatchRequest struct {
	LinkedInURL      string `json:"linkedin_url,omitempty"`
	Name             string `json:"name,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	Domain           string `json:"domain,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Valid reports whether the request carries enough to match on.
func (r MatchRequest) Valid() bool {
	if strings.TrimSpace(r.LinkedInURL) != "" {
		return true
	}
	hasName := strings.TrimSpace(r.Name) != "" || strings.TrimSpace(r.FirstName+r.LastName) != ""
	hasOrg := strings.TrimSpace(r.Domain) != "" || strings.TrimSpace(r.OrganizationName) != ""
	return hasName && hasOrg
}

// Person is the subset of Apollo's person record the lookup uses.
type Person struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Email       string       `json:"email"`
	EmailStatus string       `json:"email_status"`
	LinkedInURL string       `json:"linkedin_url"`
	ContactInfo *ContactInfo `json:"contact_info,omitempty"`
}

// ContactInfo is where Apollo sometimes places the email instead of the
// top-level field.
type ContactInfo struct {
	Email string `json:"email"`
}

// BestEmail returns the top-level email, else the contact-info email.
// Apollo's placeholder for locked emails is ignored.
func (p *Person) BestEmail() string {
	for _, e := range []string{p.Email, contactEmail(p.ContactInfo)} {
		e = strings.TrimSpace(e)
		if e != "" && !strings.HasPrefix(e, "email_not_unlocked") {
			return e
		}
	}
	return ""
}

func contactEmail(c *ContactInfo) string {
	if c == nil {
		return ""
	}
	return c.Email
}

type matchResponse struct {
	Person *Person `json:"person"`
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

// NewClient creates an Apollo client.
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

func (c *httpClient) MatchPerson(ctx context.Context, req MatchRequest) (*Person, error) {
	if !req.Valid() {
		return nil, resilience.NewValidationError("match", "linkedin_url or name with domain is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/people/match", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "apollo: send request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "apollo: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "apollo: read response"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoMatch
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError(resp.StatusCode, "apollo: match: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result matchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "apollo: unmarshal response"), resp.StatusCode)
	}
	if result.Person == nil || result.Person.BestEmail() == "" {
		return nil, ErrNoMatch
	}
	return result.Person, nil
}
