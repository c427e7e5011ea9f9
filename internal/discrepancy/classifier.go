package discrepancy

import (
	"fmt"
	"sort"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Input is everything the classifier needs from one run. Bank and Ledger
// keep their input order; Matches are the accepted pairs; Candidates is the
// scored graph the solver chose from.
type Input struct {
	Bank          []*models.Record
	Ledger        []*models.Record
	Matches       []*models.Match
	Candidates    []models.CandidatePair
	MinConfidence float64
}

// Classifier turns a run's outcome into an ordered list of discrepancies.
type Classifier struct {
	config *SeverityConfig
	logger logger.Logger
}

// NewClassifier creates a classifier. A nil config selects the defaults.
func NewClassifier(config *SeverityConfig) (*Classifier, error) {
	if config == nil {
		config = DefaultSeverityConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("discrepancy"),
	}, nil
}

// Classify returns missing_in_ledger entries in bank order, missing_in_bank
// entries in ledger order, amount then date mismatches per match sorted by
// bank id, and finally duplicate candidates.
func (c *Classifier) Classify(in Input) []*models.Discrepancy {
	matchedBank := make(map[string]bool, len(in.Matches))
	matchedLedger := make(map[string]bool, len(in.Matches))
	for _, m := range in.Matches {
		matchedBank[m.Bank.ID] = true
		matchedLedger[m.Ledger.ID] = true
	}

	var out []*models.Discrepancy

	for _, r := range in.Bank {
		if !matchedBank[r.ID] {
			out = append(out, c.missing(models.DiscrepancyMissingInLedger, r))
		}
	}
	for _, r := range in.Ledger {
		if !matchedLedger[r.ID] {
			out = append(out, c.missing(models.DiscrepancyMissingInBank, r))
		}
	}

	matches := make([]*models.Match, len(in.Matches))
	copy(matches, in.Matches)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Bank.ID < matches[j].Bank.ID
	})

	for _, m := range matches {
		if d := c.amountMismatch(m); d != nil {
			out = append(out, d)
		}
		if d := c.dateMismatch(m); d != nil {
			out = append(out, d)
		}
	}

	out = append(out, c.ambiguous(in, matches)...)
	out = append(out, c.duplicates(in.Bank, "bank statement")...)
	out = append(out, c.duplicates(in.Ledger, "ledger")...)

	c.logger.WithFields(logger.Fields{
		"discrepancies": len(out),
		"matches":       len(in.Matches),
	}).Debug("Classified run outcome")

	return out
}

// MissingSeverity grades an unmatched record by its absolute amount.
func (c *Classifier) MissingSeverity(amount decimal.Decimal) models.Severity {
	return c.config.Missing.Level(amount.Abs().InexactFloat64())
}

// AmountSeverity grades a mismatch by the larger of its ratio and absolute
// levels. A zero bank amount has no ratio, so the delta is graded like an
// unmatched amount.
func (c *Classifier) AmountSeverity(delta, bankAmount decimal.Decimal) models.Severity {
	delta = delta.Abs()

	var level models.Severity
	if bankAmount.IsZero() {
		level = c.MissingSeverity(delta)
	} else {
		ratio := delta.Div(bankAmount.Abs()).InexactFloat64()
		level = c.config.AmountRatio.Level(ratio)
	}
	if delta.InexactFloat64() >= c.config.AmountAbsoluteCritical {
		level = models.SeverityCritical
	}
	return level
}

// DateSeverity grades a date mismatch by its day gap.
func (c *Classifier) DateSeverity(days int) models.Severity {
	return c.config.Days.Level(float64(days))
}

func (c *Classifier) missing(t models.DiscrepancyType, r *models.Record) *models.Discrepancy {
	counterpart := "ledger"
	if t == models.DiscrepancyMissingInBank {
		counterpart = "bank statement"
	}

	return newDiscrepancy(t, c.MissingSeverity(r.Amount),
		fmt.Sprintf("%s record %s (%s on %s) has no matching %s entry",
			titleSource(r.Source), r.ID, r.Amount.StringFixed(2), r.Date.Format(models.DateLayout), counterpart),
		r.Amount.Abs().StringFixed(2),
		r)
}

func (c *Classifier) amountMismatch(m *models.Match) *models.Discrepancy {
	delta := models.AbsAmountDelta(m.Bank.Amount, m.Ledger.Amount)
	if delta.LessThanOrEqual(c.config.AmountTightTolerance) {
		return nil
	}

	reason := fmt.Sprintf("Amount differs by %s (bank %s, ledger %s)",
		delta.StringFixed(2), m.Bank.Amount.StringFixed(2), m.Ledger.Amount.StringFixed(2))
	if !m.Bank.Amount.IsZero() {
		pct := delta.Div(m.Bank.Amount.Abs()).Mul(decimal.NewFromInt(100))
		reason += fmt.Sprintf(", %s%% of the bank amount", pct.StringFixed(2))
	}

	return newDiscrepancy(models.DiscrepancyAmountMismatch,
		c.AmountSeverity(delta, m.Bank.Amount), reason, delta.StringFixed(2),
		m.Bank, m.Ledger)
}

func (c *Classifier) dateMismatch(m *models.Match) *models.Discrepancy {
	days := models.DaysBetween(m.Bank.Date, m.Ledger.Date)
	if days <= c.config.DateTightToleranceDays {
		return nil
	}

	unit := "days"
	if days == 1 {
		unit = "day"
	}

	return newDiscrepancy(models.DiscrepancyDateMismatch, c.DateSeverity(days),
		fmt.Sprintf("Posting dates differ by %d %s (bank %s, ledger %s)",
			days, unit, m.Bank.Date.Format(models.DateLayout), m.Ledger.Date.Format(models.DateLayout)),
		fmt.Sprintf("%d %s", days, unit),
		m.Bank, m.Ledger)
}

func newDiscrepancy(t models.DiscrepancyType, severity models.Severity, reason, magnitude string, records ...*models.Record) *models.Discrepancy {
	action := DefaultSuggestedAction(t)
	return &models.Discrepancy{
		Type:            t,
		Severity:        severity,
		Records:         records,
		Reason:          reason,
		Magnitude:       magnitude,
		SuggestedAction: &action,
	}
}

func titleSource(s models.Source) string {
	if s == models.SourceBank {
		return "Bank"
	}
	return "Ledger"
}
