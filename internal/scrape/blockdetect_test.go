package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare ray header", 403, http.Header{"Cf-Ray": {"abc"}}, "", BlockCloudflare},
		{"cloudflare server header", 503, http.Header{"Server": {"Cloudflare"}}, "", BlockCloudflare},
		{"cloudflare header on 200 ignored", 200, http.Header{"Cf-Ray": {"abc"}}, "<html>" + strings.Repeat("job ", 600) + "</html>", BlockNone},
		{"browser check", 200, nil, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha", 200, nil, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"login wall", 200, nil, "<h1>Please log in</h1>", BlockLoginWall},
		{"js shell", 200, nil, "<noscript>You need to enable JavaScript</noscript>", BlockJSShell},
		{"meta refresh", 200, nil, `<meta http-equiv="refresh" content="0;url=/x">`, BlockJSShell},
		{"posting", 200, nil, `<span class="company-name">Backend Engineer at Acme (S24)</span>`, BlockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			if resp.Header == nil {
				resp.Header = http.Header{}
			}
			blocked, bt := DetectBlock(resp, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, bt)
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, _ := DetectBlock(nil, []byte("captcha"))
	assert.False(t, blocked)
}

func TestBlockedError_IsPermanent(t *testing.T) {
	err := BlockedError("local_http", BlockCaptcha)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "blocked (captcha)")
}
