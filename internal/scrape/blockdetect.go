package scrape

import (
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockLoginWall  BlockType = "login_wall"
)

// BlockedError reports that a fetcher got an anti-bot or login page instead
// of the document. It is permanent for that fetcher; the chain moves on.
func BlockedError(fetcher string, bt BlockType) error {
	return resilience.NewPermanentError(eris.Errorf("%s: blocked (%s)", fetcher, bt), http.StatusForbidden)
}

// DetectBlock checks an HTTP response for signs of anti-bot protection.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	// Cloudflare: 403/503 with cf-* headers.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" {
			return true, BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	return DetectBlockBody(body)
}

// DetectBlockBody looks for challenge markers in a document body. Fetchers
// that return content without headers use it directly.
func DetectBlockBody(body []byte) (bool, BlockType) {
	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "captcha-container") {
		return true, BlockCaptcha
	}

	// Small pages that only ask the visitor to sign in.
	if len(body) < 4000 {
		for _, marker := range []string{"sign in to continue", "log in to view", "please log in"} {
			if strings.Contains(lower, marker) {
				return true, BlockLoginWall
			}
		}
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
