// Package discrepancy classifies everything a reconciliation run could not
// pair cleanly: unmatched records, matched pairs that disagree on amount or
// date, and ambiguous or duplicated records.
package discrepancy

import (
	"fmt"

	"ledger-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// Breakpoints maps a non-negative magnitude onto a severity. A value below
// Medium is low, below High is medium, below Critical is high, and anything
// else is critical.
type Breakpoints struct {
	Medium   float64 `mapstructure:"medium" json:"medium"`
	High     float64 `mapstructure:"high" json:"high"`
	Critical float64 `mapstructure:"critical" json:"critical"`
}

// Level returns the severity for v.
func (b Breakpoints) Level(v float64) models.Severity {
	switch {
	case v >= b.Critical:
		return models.SeverityCritical
	case v >= b.High:
		return models.SeverityHigh
	case v >= b.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Validate checks the breakpoints are non-negative and ordered
func (b Breakpoints) Validate() error {
	if b.Medium < 0 {
		return fmt.Errorf("breakpoints must be non-negative, got medium=%v", b.Medium)
	}
	if b.High < b.Medium || b.Critical < b.High {
		return fmt.Errorf("breakpoints must be non-decreasing, got %v/%v/%v", b.Medium, b.High, b.Critical)
	}
	return nil
}

// SeverityConfig holds every threshold the classifier uses.
type SeverityConfig struct {
	// Missing grades unmatched records by absolute amount. A zero Medium
	// breakpoint gives missing records a medium floor.
	Missing Breakpoints `mapstructure:"missing" json:"missing"`

	// AmountRatio grades |Δamount| / |bank amount|.
	AmountRatio Breakpoints `mapstructure:"amount_ratio" json:"amount_ratio"`

	// AmountAbsoluteCritical escalates any amount mismatch at or above it.
	AmountAbsoluteCritical float64 `mapstructure:"amount_absolute_critical" json:"amount_absolute_critical"`

	// Days grades date mismatches by calendar days.
	Days Breakpoints `mapstructure:"days" json:"days"`

	// AmountTightTolerance is the largest difference a match may carry
	// without an amount_mismatch.
	AmountTightTolerance decimal.Decimal `mapstructure:"amount_tight_tolerance" json:"amount_tight_tolerance"`

	// DateTightToleranceDays is the largest day gap a match may carry
	// without a date_mismatch.
	DateTightToleranceDays int `mapstructure:"date_tight_tolerance_days" json:"date_tight_tolerance_days"`

	// DuplicateMargin is how far below an accepted match's confidence a
	// rival candidate may score and still be flagged as ambiguous.
	DuplicateMargin float64 `mapstructure:"duplicate_margin" json:"duplicate_margin"`

	// DuplicateSimilarity is the Levenshtein ratio at which two same-source
	// records with equal amount and date are treated as duplicates.
	DuplicateSimilarity float64 `mapstructure:"duplicate_similarity" json:"duplicate_similarity"`
}

// DefaultSeverityConfig returns the standard thresholds
func DefaultSeverityConfig() *SeverityConfig {
	return &SeverityConfig{
		Missing:                Breakpoints{Medium: 0, High: 1000, Critical: 10000},
		AmountRatio:            Breakpoints{Medium: 0.01, High: 0.05, Critical: 0.10},
		AmountAbsoluteCritical: 10000,
		Days:                   Breakpoints{Medium: 3, High: 7, Critical: 30},
		AmountTightTolerance:   decimal.RequireFromString("0.01"),
		DateTightToleranceDays: 0,
		DuplicateMargin:        0,
		DuplicateSimilarity:    0.9,
	}
}

// Validate validates the severity configuration
func (c *SeverityConfig) Validate() error {
	for name, b := range map[string]Breakpoints{
		"missing":      c.Missing,
		"amount_ratio": c.AmountRatio,
		"days":         c.Days,
	} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("severity.%s: %w", name, err)
		}
	}

	if c.AmountAbsoluteCritical < 0 {
		return fmt.Errorf("severity.amount_absolute_critical cannot be negative, got %v", c.AmountAbsoluteCritical)
	}
	if c.AmountTightTolerance.IsNegative() {
		return fmt.Errorf("severity.amount_tight_tolerance cannot be negative, got %s", c.AmountTightTolerance)
	}
	if c.DateTightToleranceDays < 0 {
		return fmt.Errorf("severity.date_tight_tolerance_days cannot be negative, got %d", c.DateTightToleranceDays)
	}
	if c.DuplicateMargin < 0 || c.DuplicateMargin > 1 {
		return fmt.Errorf("severity.duplicate_margin must be between 0 and 1, got %v", c.DuplicateMargin)
	}
	if c.DuplicateSimilarity <= 0 || c.DuplicateSimilarity > 1 {
		return fmt.Errorf("severity.duplicate_similarity must be in (0, 1], got %v", c.DuplicateSimilarity)
	}
	return nil
}

// DefaultSuggestedAction returns the stock remediation for a discrepancy type.
func DefaultSuggestedAction(t models.DiscrepancyType) string {
	switch t {
	case models.DiscrepancyMissingInLedger:
		return "Verify transaction was recorded in ledger"
	case models.DiscrepancyMissingInBank:
		return "Verify transaction appears in bank statement"
	case models.DiscrepancyAmountMismatch:
		return "Investigate amount difference - may be fees or errors"
	case models.DiscrepancyDateMismatch:
		return "Verify posting dates - may be timing difference"
	case models.DiscrepancyDuplicateCandidate:
		return "Review duplicate entries and remove the extra record"
	default:
		return ""
	}
}
