package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const templatesYAML = `
templates:
  - name: default
    subject: "Your {{role}} opening"
    body: "<p>Hi {{founder_name}}</p>"
  - name: followup
    subject: "Following up"
    body: "<p>Hi again {{founder_name}}, still keen on {{company_name}}.</p>"
`

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(templatesYAML), 0o644))

	got, err := LoadTemplates(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "default", got[0].Name)
	assert.Equal(t, []string{"founder_name", "role"}, got[0].Variables)
	assert.Equal(t, []string{"company_name", "founder_name"}, got[1].Variables)
}

func TestLoadTemplates_MissingFile(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseTemplates_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid yaml", "templates: [::"},
		{"empty", "templates: []"},
		{"duplicate", "templates:\n  - {name: a, subject: s, body: b}\n  - {name: a, subject: s, body: b}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplates([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseTemplates_MissingSubject(t *testing.T) {
	_, err := ParseTemplates([]byte("templates:\n  - {name: a, body: b}"))
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}
