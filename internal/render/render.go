// Package render fills {{ variable }} placeholders in email templates.
package render

import (
	"html"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	// braceRe matches any {{...}} span, well-formed or not.
	braceRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)
)

// Rendered is a template with every placeholder substituted.
type Rendered struct {
	Subject string
	Body    string
}

// MissingVariablesError lists referenced variables that had no value and
// {{...}} spans that are not valid placeholders.
type MissingVariablesError struct {
	Template  string
	Missing   []string
	Malformed []string
}

func (e *MissingVariablesError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Malformed) > 0 {
		parts = append(parts, "malformed placeholders: "+strings.Join(e.Malformed, ", "))
	}
	return "render: template " + e.Template + " " + strings.Join(parts, "; ")
}

// Malformed returns the {{...}} spans in texts that are not valid
// placeholders, in order of appearance.
func Malformed(texts ...string) []string {
	var out []string
	for _, t := range texts {
		out = append(out, braceRe.FindAllString(placeholderRe.ReplaceAllString(t, ""), -1)...)
	}
	return out
}

// Variables returns the distinct placeholder names referenced in texts, sorted.
func Variables(texts ...string) []string {
	seen := map[string]struct{}{}
	for _, t := range texts {
		for _, m := range placeholderRe.FindAllStringSubmatch(t, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Prepare validates a template and fills in its Variables list.
func Prepare(t *model.Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return resilience.NewValidationError("name", "template name is required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		return resilience.NewValidationError("subject", "template subject is required")
	}
	if strings.TrimSpace(t.Body) == "" {
		return resilience.NewValidationError("body", "template body is required")
	}
	if bad := Malformed(t.Subject, t.Body); len(bad) > 0 {
		return resilience.NewValidationError("body", "malformed placeholders: "+strings.Join(bad, ", "))
	}
	t.Variables = Variables(t.Subject, t.Body)
	return nil
}

// Render substitutes vars into t. Every referenced variable must have a
// non-blank value and every {{...}} span must be a valid placeholder;
// otherwise a *MissingVariablesError is returned and nothing is rendered. Body values are HTML-escaped because the body is sent
// as HTML.
func Render(t *model.Template, vars map[string]string) (*Rendered, error) {
	if t == nil {
		return nil, eris.New("render: nil template")
	}

	var missing []string
	for _, name := range Variables(t.Subject, t.Body) {
		if strings.TrimSpace(vars[name]) == "" {
			missing = append(missing, name)
		}
	}
	malformed := Malformed(t.Subject, t.Body)
	if len(missing) > 0 || len(malformed) > 0 {
		return nil, &MissingVariablesError{Template: t.Name, Missing: missing, Malformed: malformed}
	}

	subject := placeholderRe.ReplaceAllStringFunc(t.Subject, func(m string) string {
		return vars[placeholderRe.FindStringSubmatch(m)[1]]
	})
	body := placeholderRe.ReplaceAllStringFunc(t.Body, func(m string) string {
		return html.EscapeString(vars[placeholderRe.FindStringSubmatch(m)[1]])
	})
	return &Rendered{Subject: subject, Body: body}, nil
}

// LeadVariables builds the variable set available to outreach templates.
// Fallbacks fill names the lead leaves blank.
func LeadVariables(job *model.Job, lead *model.Lead, fallbacks map[string]string) map[string]string {
	role := firstNonBlank(lead.RoleTitle, job.ParsedRole)
	vars := map[string]string{
		"role":                 role,
		"role_title":           role,
		"company_name":         lead.CompanyName,
		"company_url":          lead.CompanyURL,
		"founder_name":         lead.ContactName,
		"contact_name":         lead.ContactName,
		"contact_first_name":   firstName(lead.ContactName),
		"contact_title":        lead.ContactTitle,
		"contact_email":        lead.ContactEmail,
		"contact_linkedin_url": lead.ContactLinkedInURL,
		"job_url":              lead.JobURL,
		"location":             job.ParsedLocation,
		"query":                job.RawQuery,
	}
	for k, v := range fallbacks {
		if strings.TrimSpace(vars[k]) == "" {
			vars[k] = v
		}
	}
	return vars
}

// Names lists every variable LeadVariables can supply.
func Names() []string {
	names := make([]string, 0, 13)
	for k := range LeadVariables(&model.Job{}, &model.Lead{}, nil) {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Default returns the template seeded into an empty store.
func Default() *model.Template {
	return &model.Template{
		Name:    "default",
		Subject: "Regarding the {{role}} role at {{company_name}}",
		Body: `<p>Hi {{founder_name}},</p>
<p>I came across the {{role}} opening at {{company_name}} and it looks like a great fit. I have shipped products end to end at early-stage startups and would love to bring that pace to your team.</p>
<p>Would you be open to a quick chat this week?</p>
<p>Best,</p>`,
	}
}
