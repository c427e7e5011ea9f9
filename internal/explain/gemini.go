package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"google.golang.org/genai"
)

const systemInstruction = `You are a financial reconciliation expert helping to explain discrepancies between bank statements and internal ledgers.

Your task is to provide clear, professional explanations and actionable suggestions for accounting teams.

Guidelines:
- Be concise but thorough
- Use professional accounting terminology
- Provide specific, actionable recommendations
- Focus on common causes and solutions`

const responseFormat = `
Respond with JSON only:
{"explanation": "...", "suggested_action": "..."}`

var prompts = template.Must(template.New("prompts").Parse(`
{{define "records"}}{{range .Records}}- {{.Source}} {{.ID}}: {{.Amount}} on {{.Date}}, "{{.Description}}"
{{end}}{{end}}

{{define "missing_in_ledger"}}A transaction appears in the bank statement but not in the ledger.

Transaction:
{{template "records" .}}Severity: {{.Severity}}
Machine-detected reason: {{.Reason}}

Explain why this discrepancy might have occurred and give specific steps to investigate and resolve it.{{end}}

{{define "missing_in_bank"}}A transaction appears in the ledger but not in the bank statement.

Transaction:
{{template "records" .}}Severity: {{.Severity}}
Machine-detected reason: {{.Reason}}

Explain why this discrepancy might have occurred and give specific steps to investigate and resolve it.{{end}}

{{define "amount_mismatch"}}A transaction was matched between bank statement and ledger, but the amounts differ by {{.Magnitude}}.

Matched records:
{{template "records" .}}Severity: {{.Severity}}
Machine-detected reason: {{.Reason}}

Explain common causes for this amount mismatch and give specific steps to resolve it.{{end}}

{{define "date_mismatch"}}A transaction was matched between bank statement and ledger, but the posting dates differ by {{.Magnitude}}.

Matched records:
{{template "records" .}}Severity: {{.Severity}}
Machine-detected reason: {{.Reason}}

Explain why the dates differ and give steps to verify and correct the posting dates.{{end}}

{{define "duplicate_candidate"}}Records that may duplicate each other, or compete for the same counterpart, were detected.

Records:
{{template "records" .}}Severity: {{.Severity}}
Machine-detected reason: {{.Reason}}

Explain why duplicates like this occur and give steps to identify and remove the extra entry.{{end}}
`))

// GeminiExplainerConfig configures the Gemini explanation backend.
type GeminiExplainerConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	MaxOutputTokens int32  `mapstructure:"max_output_tokens"`
}

// DefaultGeminiExplainerConfig returns the default backend settings
func DefaultGeminiExplainerConfig() GeminiExplainerConfig {
	return GeminiExplainerConfig{
		Model:           "gemini-2.5-flash",
		MaxOutputTokens: 500,
	}
}

// GeminiExplainer explains discrepancies with the Gemini generate API.
type GeminiExplainer struct {
	client *genai.Client
	config GeminiExplainerConfig
}

// NewGeminiExplainer creates an explainer. An empty API key falls back to the
// environment variables read by the SDK.
func NewGeminiExplainer(ctx context.Context, cfg GeminiExplainerConfig) (*GeminiExplainer, error) {
	defaults := DefaultGeminiExplainerConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiExplainer{client: client, config: cfg}, nil
}

// Explain implements Explainer
func (g *GeminiExplainer) Explain(ctx context.Context, req Request) (*Response, error) {
	prompt, err := Prompt(req)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   g.config.MaxOutputTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate request failed: %w", err)
	}

	return ParseResponse(resp.Text())
}

// Prompt renders the prompt for a request.
func Prompt(req Request) (string, error) {
	name := string(req.Type)
	if prompts.Lookup(name) == nil {
		return "", fmt.Errorf("no prompt template for discrepancy type %q", req.Type)
	}

	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, req); err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", req.Type, err)
	}
	b.WriteString(responseFormat)
	return b.String(), nil
}

// ParseResponse decodes the service's JSON answer, tolerating markdown code
// fences around it.
func ParseResponse(raw string) (*Response, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var resp Response
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.Explanation = strings.TrimSpace(resp.Explanation)
	resp.SuggestedAction = strings.TrimSpace(resp.SuggestedAction)
	if resp.Explanation == "" {
		return nil, fmt.Errorf("%w: missing explanation", ErrMalformedResponse)
	}
	return &resp, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// ```json ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return ""
		}
		s = s[idx+1:]
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
