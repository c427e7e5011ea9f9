package explain

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/sourcegraph/conc/pool"
)

// Config controls explanation enrichment.
type Config struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency" json:"max_concurrency"`
	MaxSnippetLen  int           `mapstructure:"max_snippet_len" json:"max_snippet_len"`
}

// DefaultConfig returns the default enrichment settings. Enrichment is off
// unless a caller turns it on.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Timeout:        15 * time.Second,
		MaxConcurrency: 4,
		MaxSnippetLen:  DefaultMaxSnippetLen,
	}
}

// Validate validates the enrichment settings
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("explain.timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("explain.max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.MaxSnippetLen <= 0 {
		return fmt.Errorf("explain.max_snippet_len must be positive, got %d", c.MaxSnippetLen)
	}
	return nil
}

// Stats counts the outcome of one enrichment pass.
type Stats struct {
	Requested int  `json:"requested"`
	Explained int  `json:"explained"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// Degraded reports whether any explanation could not be produced.
func (s Stats) Degraded() bool {
	return s.Failed > 0
}

// Adapter fans explanation requests out to an Explainer.
type Adapter struct {
	config    Config
	explainer Explainer
	logger    logger.Logger
}

// NewAdapter creates an adapter. A nil explainer makes Enrich a no-op.
func NewAdapter(config Config, explainer Explainer) *Adapter {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.MaxSnippetLen <= 0 {
		config.MaxSnippetLen = defaults.MaxSnippetLen
	}

	return &Adapter{
		config:    config,
		explainer: explainer,
		logger:    logger.GetGlobalLogger().WithComponent("explain"),
	}
}

// Enabled reports whether Enrich will call the service.
func (a *Adapter) Enabled() bool {
	return a.config.Enabled && a.explainer != nil
}

// Enrich asks the service to explain every discrepancy, filling in
// LLMExplanation and replacing SuggestedAction when the service suggests one.
// Failed calls leave the discrepancy untouched and are counted. Only
// cancellation of ctx is returned as an error.
func (a *Adapter) Enrich(ctx context.Context, discrepancies []*models.Discrepancy) (Stats, error) {
	if !a.Enabled() {
		return Stats{Skipped: true}, nil
	}
	if len(discrepancies) == 0 {
		return Stats{}, nil
	}

	var explained, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(a.config.MaxConcurrency)

	for _, d := range discrepancies {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}

			resp, err := a.explainOne(ctx, d)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failed.Add(1)
				a.logger.WithError(err).WithFields(logger.Fields{
					"type":    d.Type,
					"records": strings.Join(d.RecordIDs(), ","),
				}).Warn("Explanation unavailable, continuing without it")
				return
			}

			explanation := resp.Explanation
			d.LLMExplanation = &explanation
			if action := strings.TrimSpace(resp.SuggestedAction); action != "" {
				d.SuggestedAction = &action
			}
			explained.Add(1)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Requested: len(discrepancies),
		Explained: int(explained.Load()),
		Failed:    int(failed.Load()),
	}

	a.logger.WithFields(logger.Fields{
		"requested": stats.Requested,
		"explained": stats.Explained,
		"failed":    stats.Failed,
	}).Info("Explanation enrichment completed")

	return stats, nil
}

type result struct {
	resp *Response
	err  error
}

// explainOne bounds a single call by the configured timeout, even when the
// explainer itself ignores its context.
func (a *Adapter) explainOne(ctx context.Context, d *models.Discrepancy) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req := NewRequest(d, a.config.MaxSnippetLen)
	done := make(chan result, 1)
	go func() {
		resp, err := a.explainer.Explain(callCtx, req)
		done <- result{resp, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = result{err: callCtx.Err()}
	}

	switch {
	case r.err == nil && (r.resp == nil || strings.TrimSpace(r.resp.Explanation) == ""):
		return nil, errors.ExplanationServiceError(errors.CodeMalformedResponse, string(d.Type),
			fmt.Errorf("%w: empty explanation", ErrMalformedResponse))
	case r.err == nil:
		return r.resp, nil
	case stderrors.Is(r.err, context.DeadlineExceeded):
		return nil, errors.ExplanationServiceError(errors.CodeTimeout, string(d.Type), r.err).
			WithContext("timeout", a.config.Timeout.String())
	case stderrors.Is(r.err, ErrMalformedResponse):
		return nil, errors.ExplanationServiceError(errors.CodeMalformedResponse, string(d.Type), r.err)
	default:
		return nil, errors.ExplanationServiceError(errors.CodeServiceUnavailable, string(d.Type), r.err)
	}
}
