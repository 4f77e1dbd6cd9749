package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// PostingScraper implements pipeline.ScrapePort: it fetches a job posting,
// follows its company link, and extracts the founders listed there.
type PostingScraper struct {
	chain *Chain
}

// NewPostingScraper scrapes through chain.
func NewPostingScraper(chain *Chain) *PostingScraper {
	return &PostingScraper{chain: chain}
}

// Fetch returns the posting at jobURL. A permanent failure on the company
// page still yields the posting, without contacts.
func (p *PostingScraper) Fetch(ctx context.Context, jobURL string) (*model.Posting, error) {
	res, err := p.chain.Scrape(ctx, jobURL)
	if err != nil {
		return nil, err
	}

	posting, err := ParsePosting(res.Page.HTML, jobURL)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("url", jobURL), zap.String("source", res.Source))

	companyPage := posting.CompanyURL
	posting.CompanyURL = ""
	if companyPage == "" {
		log.Debug("scrape: posting has no company link")
		return posting, nil
	}

	company, err := p.chain.Scrape(ctx, companyPage)
	if err != nil {
		if ctx.Err() != nil || resilience.IsTransient(err) {
			return nil, eris.Wrapf(err, "scrape: company page %s", companyPage)
		}
		log.Warn("scrape: company page unavailable", zap.String("company_page", companyPage), zap.Error(err))
		return posting, nil
	}

	details := ParseCompany(company.Page.HTML, companyPage)
	posting.Contacts = details.Founders
	posting.CompanyURL = details.Website
	if posting.CompanyName == "" {
		posting.CompanyName = details.Name
	}
	log.Debug("scrape: posting parsed",
		zap.String("role", posting.RoleTitle),
		zap.String("company", posting.CompanyName),
		zap.Int("founders", len(posting.Contacts)),
	)
	return posting, nil
}

// ParsePosting extracts the role, company and company page link from a job
// page. The company page link is returned in CompanyURL.
func ParsePosting(html, pageURL string) (*model.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrapf(err, "scrape: parse %s", pageURL), 0)
	}

	posting := &model.Posting{URL: pageURL}

	// "Backend Engineer at Acme (S24)"
	if full := text(doc.Find(".company-name").First()); full != "" {
		role, company := splitRoleAt(full)
		posting.RoleTitle = role
		posting.CompanyName = company
	}
	if posting.RoleTitle == "" {
		posting.RoleTitle = text(doc.Find("h1").First())
	}

	if href, ok := doc.Find(`a[href*="/companies/"]`).First().Attr("href"); ok {
		posting.CompanyURL = resolve(pageURL, href)
	}

	if posting.RoleTitle == "" && posting.CompanyName == "" {
		return nil, resilience.NewPermanentError(eris.Errorf("scrape: %s: no posting details found", pageURL), 0)
	}
	return posting, nil
}

// CompanyDetails is what a company page yields.
type CompanyDetails struct {
	Name     string
	Website  string
	Founders []model.Contact
}

// ParseCompany extracts the company name, website and founders from a
// company page. Founders are LinkedIn profile links under a "Founders"
// heading, or anywhere on the page when there is no such heading.
func ParseCompany(html, pageURL string) CompanyDetails {
	var out CompanyDetails
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}

	out.Name = text(doc.Find("h1").First())
	out.Website = companyWebsite(doc, pageURL)

	scope := doc.Selection
	doc.Find("h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(text(h)), "founder") {
			if next := h.Next(); next.Length() > 0 {
				scope = next
			} else {
				scope = h.Parent()
			}
			return false
		}
		return true
	})

	seen := map[string]bool{}
	scope.Find(`a[href*="linkedin.com/in"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		name, title := profileFields(profileContainer(a))
		out.Founders = append(out.Founders, model.Contact{
			Name:        name,
			Title:       title,
			LinkedInURL: href,
		})
	})
	return out
}

// profileContainer climbs from a LinkedIn link to the element that holds the
// whole profile card.
func profileContainer(a *goquery.Selection) *goquery.Selection {
	el := a
	for range 3 {
		parent := el.Parent()
		if parent.Length() == 0 {
			break
		}
		el = parent
		if el.Children().Length() >= 3 {
			break
		}
	}
	return el
}

// profileFields picks the name and title out of a profile card. The name is
// the first short line not mentioning a role.
func profileFields(card *goquery.Selection) (name, title string) {
	card.Find("h3, h4, strong, b, p, span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		t := text(s)
		if t == "" || len(t) > 60 || strings.EqualFold(t, "linkedin") {
			return true
		}
		lower := strings.ToLower(t)
		isRole := strings.Contains(lower, "founder") || strings.Contains(lower, "ceo") ||
			strings.Contains(lower, "cto") || strings.Contains(lower, "chief")
		switch {
		case isRole && title == "":
			title = t
		case !isRole && name == "":
			name = t
		}
		return name == "" || title == ""
	})
	return name, title
}

// companyWebsite returns the first outbound link that is not a social or
// job-board link.
func companyWebsite(doc *goquery.Document, pageURL string) string {
	base, _ := url.Parse(pageURL)
	var site string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return true
		}
		host := strings.ToLower(u.Hostname())
		if base != nil && strings.EqualFold(host, base.Hostname()) {
			return true
		}
		for _, skip := range []string{"linkedin.com", "twitter.com", "x.com", "facebook.com", "github.com", "ycombinator.com", "workatastartup.com", "crunchbase.com"} {
			if host == skip || strings.HasSuffix(host, "."+skip) {
				return true
			}
		}
		site = u.String()
		return false
	})
	return site
}

func splitRoleAt(full string) (role, company string) {
	before, after, ok := strings.Cut(full, " at ")
	if !ok {
		return strings.TrimSpace(full), ""
	}
	company = strings.TrimSpace(after)
	if i := strings.Index(company, " ("); i >= 0 {
		company = strings.TrimSpace(company[:i])
	}
	return strings.TrimSpace(before), company
}

func resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
