package reconciler

import (
	"time"

	"ledger-reconciliation-service/internal/assignment"
	"ledger-reconciliation-service/internal/explain"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
)

// Result is the published outcome of one reconciliation run.
type Result struct {
	RunID           string                `json:"run_id"`
	Matches         []*models.Match       `json:"matches"`
	UnmatchedBank   []*models.Record      `json:"unmatched_bank"`
	UnmatchedLedger []*models.Record      `json:"unmatched_ledger"`
	Discrepancies   []*models.Discrepancy `json:"discrepancies"`
	Summary         Summary               `json:"summary"`
}

// Summary provides a high-level overview of a run.
type Summary struct {
	Matched               int                            `json:"matched"`
	UnmatchedBank         int                            `json:"unmatched_bank"`
	UnmatchedLedger       int                            `json:"unmatched_ledger"`
	Discrepancies         int                            `json:"discrepancies"`
	ProcessingTime        Duration                       `json:"processing_time"`
	Degraded              bool                           `json:"degraded"`
	ExplanationsRequested int                            `json:"explanations_requested"`
	ExplanationsFailed    int                            `json:"explanations_failed"`
	ByType                map[models.DiscrepancyType]int `json:"by_type"`
	BySeverity            map[models.Severity]int        `json:"by_severity"`

	Strategy assignment.Strategy `json:"strategy"`
	Scoring  matcher.Stats       `json:"scoring"`
}

// Duration is a time.Duration that serialises as "1.5s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func summarize(r *Result, stats matcher.Stats, strategy assignment.Strategy, explained explain.Stats, elapsed time.Duration) Summary {
	s := Summary{
		Matched:               len(r.Matches),
		UnmatchedBank:         len(r.UnmatchedBank),
		UnmatchedLedger:       len(r.UnmatchedLedger),
		Discrepancies:         len(r.Discrepancies),
		ProcessingTime:        Duration(elapsed),
		Degraded:              explained.Degraded(),
		ExplanationsRequested: explained.Requested,
		ExplanationsFailed:    explained.Failed,
		ByType:                make(map[models.DiscrepancyType]int, len(models.DiscrepancyTypes)),
		BySeverity:            make(map[models.Severity]int, 4),
		Strategy:              strategy,
		Scoring:               stats,
	}

	for _, t := range models.DiscrepancyTypes {
		s.ByType[t] = 0
	}
	for sev := models.SeverityLow; sev <= models.SeverityCritical; sev++ {
		s.BySeverity[sev] = 0
	}
	for _, d := range r.Discrepancies {
		s.ByType[d.Type]++
		s.BySeverity[d.Severity]++
	}
	return s
}
