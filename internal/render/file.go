package render

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
)

// LoadTemplates reads templates from a YAML file with a top-level
// "templates" list. Each template is validated with Prepare.
func LoadTemplates(path string) ([]model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "render: read templates %s", path)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a templates document.
func ParseTemplates(data []byte) ([]model.Template, error) {
	var wrapper struct {
		Templates []model.Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "render: parse templates")
	}
	if len(wrapper.Templates) == 0 {
		return nil, eris.New("render: no templates found")
	}

	seen := make(map[string]bool, len(wrapper.Templates))
	for i := range wrapper.Templates {
		t := &wrapper.Templates[i]
		if err := Prepare(t); err != nil {
			return nil, eris.Wrapf(err, "render: template %d", i)
		}
		if seen[t.Name] {
			return nil, eris.Errorf("render: duplicate template %q", t.Name)
		}
		seen[t.Name] = true
	}
	return wrapper.Templates, nil
}
