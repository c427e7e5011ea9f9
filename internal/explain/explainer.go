// Package explain enriches discrepancies with natural-language explanations
// from an external language model. The service is optional: failures leave
// the explanation empty and never fail a reconciliation run.
package explain

import (
	"context"
	"errors"
	"unicode/utf8"

	"ledger-reconciliation-service/internal/models"
)

// ErrMalformedResponse is wrapped by explainers whose service answered with
// something that is not a usable explanation.
var ErrMalformedResponse = errors.New("malformed explanation response")

// DefaultMaxSnippetLen is the number of description runes sent per record.
const DefaultMaxSnippetLen = 120

// Explainer produces an explanation for one discrepancy.
type Explainer interface {
	Explain(ctx context.Context, req Request) (*Response, error)
}

// ExplainerFunc adapts a function to the Explainer interface.
type ExplainerFunc func(ctx context.Context, req Request) (*Response, error)

// Explain implements Explainer
func (f ExplainerFunc) Explain(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// RecordSnippet is the bounded view of a record sent to the service.
type RecordSnippet struct {
	Source      models.Source `json:"source"`
	ID          string        `json:"id"`
	Amount      string        `json:"amount"`
	Date        string        `json:"date"`
	Description string        `json:"description"`
}

// Request carries only what the service needs to explain a discrepancy.
type Request struct {
	Type      models.DiscrepancyType `json:"type"`
	Severity  models.Severity        `json:"severity"`
	Magnitude string                 `json:"magnitude"`
	Reason    string                 `json:"machine_reason"`
	Records   []RecordSnippet        `json:"records"`
}

// Response is the service's answer.
type Response struct {
	Explanation     string `json:"explanation"`
	SuggestedAction string `json:"suggested_action"`
}

// NewRequest builds a request for d, truncating each description to
// maxSnippetLen runes.
func NewRequest(d *models.Discrepancy, maxSnippetLen int) Request {
	if maxSnippetLen <= 0 {
		maxSnippetLen = DefaultMaxSnippetLen
	}

	req := Request{
		Type:      d.Type,
		Severity:  d.Severity,
		Magnitude: d.Magnitude,
		Reason:    d.Reason,
		Records:   make([]RecordSnippet, len(d.Records)),
	}
	for i, r := range d.Records {
		req.Records[i] = RecordSnippet{
			Source:      r.Source,
			ID:          r.ID,
			Amount:      r.Amount.StringFixed(2),
			Date:        r.Date.Format(models.DateLayout),
			Description: truncate(r.Description, maxSnippetLen),
		}
	}
	return req
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
