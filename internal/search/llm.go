package search

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/perplexity"
)

const parsePrompt = `You turn recruiting requests into structured job searches.
Reply with a single JSON object and nothing else:
{"role": "<singular job title>", "location": "<city or \"remote\">", "filters": ["<extra keyword>", ...]}
Use "remote" when no location is given. Filters are short keywords such as
technologies or company stages; use an empty list when there are none.`

// querySchema is the JSON schema of a parsed Query.
var querySchema = json.RawMessage(`{"type":"object","properties":{"role":{"type":"string"},"location":{"type":"string"},"filters":{"type":"array","items":{"type":"string"}}},"required":["role","location","filters"]}`)

// Completer sends a system prompt and one user message to a language model
// and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnthropicCompleter is a Completer backed by the Messages API.
type AnthropicCompleter struct {
	Client anthropic.Client
	Model  string
}

// Complete implements Completer.
func (a AnthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	model := a.Model
	if model == "" {
		model = anthropic.DefaultModel
	}
	temp := 0.0
	resp, err := a.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   256,
		System:      anthropic.BuildCachedSystemBlocks(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(model, "plan")
	return resp.Text(), nil
}

// PerplexityCompleter is a Completer backed by Perplexity chat completions.
type PerplexityCompleter struct {
	Client perplexity.Client
}

// Complete implements Completer.
func (p PerplexityCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	temp := 0.0
	resp, err := p.Client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    &temp,
		ResponseFormat: perplexity.JSONSchemaFormat(querySchema),
		DisableSearch:  true,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// LLMParser parses queries with a language model. When the model fails or
// answers with something unusable, the Fallback parser is used instead.
type LLMParser struct {
	Completer Completer
	Fallback  Parser
}

// NewLLMParser returns an LLMParser falling back to RuleParser.
func NewLLMParser(c Completer) *LLMParser {
	return &LLMParser{Completer: c, Fallback: RuleParser{}}
}

// Parse implements Parser.
func (p *LLMParser) Parse(ctx context.Context, raw string) (*Query, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, resilience.NewValidationError("query", "must not be blank")
	}

	q, err := p.parseModel(ctx, raw)
	if err == nil {
		return q, nil
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "search: parse query")
	}
	if p.Fallback == nil {
		return nil, err
	}
	zap.L().Warn("search: model parse failed, using rules",
		zap.String("query", raw),
		zap.Error(err),
	)
	return p.Fallback.Parse(ctx, raw)
}

func (p *LLMParser) parseModel(ctx context.Context, raw string) (*Query, error) {
	text, err := p.Completer.Complete(ctx, parsePrompt, raw)
	if err != nil {
		return nil, eris.Wrap(err, "search: model completion")
	}
	return decodeQuery(text)
}

// decodeQuery extracts the first JSON object from a model reply.
func decodeQuery(text string) (*Query, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, resilience.NewPermanentError(eris.Errorf("search: no JSON object in reply %q", text), 0)
	}

	var q Query
	if err := json.Unmarshal([]byte(text[start:end+1]), &q); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "search: decode model reply"), 0)
	}
	q.Role = strings.TrimSpace(q.Role)
	q.Location = strings.TrimSpace(q.Location)
	if q.Role == "" {
		return nil, resilience.NewPermanentError(eris.New("search: model reply has no role"), 0)
	}
	if q.Location == "" {
		q.Location = DefaultLocation
	}
	filters := q.Filters[:0]
	for _, f := range q.Filters {
		if f = strings.TrimSpace(f); f != "" {
			filters = append(filters, f)
		}
	}
	q.Filters = filters
	return &q, nil
}
