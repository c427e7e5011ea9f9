package models

import (
	"fmt"
	"strings"
)

// Severity is the urgency of a discrepancy. Values are ordered so that
// comparisons with < and > follow low < medium < high < critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = []string{"low", "medium", "high", "critical"}

// String returns the lower-case name of the severity
func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity parses one of low, medium, high or critical.
func ParseSeverity(s string) (Severity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityLow, fmt.Errorf("invalid severity %q: expected one of %s", s, strings.Join(severityNames, ", "))
}

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityLow || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DiscrepancyType classifies why a record or pair needs attention.
type DiscrepancyType string

const (
	DiscrepancyMissingInLedger    DiscrepancyType = "missing_in_ledger"
	DiscrepancyMissingInBank      DiscrepancyType = "missing_in_bank"
	DiscrepancyAmountMismatch     DiscrepancyType = "amount_mismatch"
	DiscrepancyDateMismatch       DiscrepancyType = "date_mismatch"
	DiscrepancyDuplicateCandidate DiscrepancyType = "duplicate_candidate"
)

// DiscrepancyTypes lists every type in reporting order.
var DiscrepancyTypes = []DiscrepancyType{
	DiscrepancyMissingInLedger,
	DiscrepancyMissingInBank,
	DiscrepancyAmountMismatch,
	DiscrepancyDateMismatch,
	DiscrepancyDuplicateCandidate,
}

// ScoreBreakdown records every signal that contributed to a pair's confidence.
type ScoreBreakdown struct {
	AmountScore   float64 `json:"amount_score"`
	DateScore     float64 `json:"date_score"`
	AmountDelta   string  `json:"amount_delta"`
	DayDelta      int     `json:"day_delta"`
	RuleScore     float64 `json:"rule_score"`
	SemanticScore float64 `json:"semantic_score"`
	RuleWeight    float64 `json:"rule_weight"`
}

// ExactRule reports whether amount and date agree exactly.
func (b ScoreBreakdown) ExactRule() bool {
	return b.AmountScore == 1 && b.DateScore == 1
}

// CandidatePair is a scored, not yet accepted pairing of one bank record with
// one ledger record. Pairs live only for the duration of a run.
type CandidatePair struct {
	BankID        string         `json:"bank_id"`
	LedgerID      string         `json:"ledger_id"`
	RuleScore     float64        `json:"rule_score"`
	SemanticScore float64        `json:"semantic_score"`
	Confidence    float64        `json:"confidence"`
	Breakdown     ScoreBreakdown `json:"score_breakdown"`
}

// MatchType labels how closely an accepted pair agrees.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchClose MatchType = "close"
	MatchFuzzy MatchType = "fuzzy"
)

// Match is an accepted one-to-one pairing.
type Match struct {
	Bank       *Record        `json:"bank_record"`
	Ledger     *Record        `json:"ledger_record"`
	Confidence float64        `json:"confidence"`
	MatchType  MatchType      `json:"match_type"`
	Breakdown  ScoreBreakdown `json:"score_breakdown"`
	Reasons    []string       `json:"reasons,omitempty"`
}

// Discrepancy is a classified deviation from a clean match. LLMExplanation
// stays nil unless the explanation service answered.
type Discrepancy struct {
	Type            DiscrepancyType `json:"type"`
	Severity        Severity        `json:"severity"`
	Records         []*Record       `json:"involved_records"`
	Reason          string          `json:"machine_reason"`
	Magnitude       string          `json:"magnitude,omitempty"`
	LLMExplanation  *string         `json:"llm_explanation"`
	SuggestedAction *string         `json:"suggested_action"`
}

// RecordIDs returns the ids of the involved records in order.
func (d *Discrepancy) RecordIDs() []string {
	ids := make([]string, len(d.Records))
	for i, r := range d.Records {
		ids[i] = r.ID
	}
	return ids
}

// String returns a one-line description of the discrepancy
func (d *Discrepancy) String() string {
	return fmt.Sprintf("%s[%s] %s: %s", d.Type, d.Severity, strings.Join(d.RecordIDs(), ","), d.Reason)
}
