package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date format used on the wire.
const DateLayout = "2006-01-02"

// Source identifies which side of the reconciliation a record came from.
type Source string

const (
	SourceBank   Source = "bank"
	SourceLedger Source = "ledger"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is one of the known sides
func (s Source) IsValid() bool {
	return s == SourceBank || s == SourceLedger
}

// Record is a normalized transaction as produced by the ingestion layer.
// Records are treated as immutable once handed to the engine.
type Record struct {
	ID          string            `json:"id"`
	Source      Source            `json:"source"`
	Amount      decimal.Decimal   `json:"amount"`
	Date        time.Time         `json:"date"`
	Description string            `json:"description"`
	Raw         map[string]string `json:"raw,omitempty"`
}

// NewRecord creates a new Record. The date is truncated to its calendar day in UTC.
func NewRecord(id string, source Source, amount decimal.Decimal, date time.Time, description string) *Record {
	return &Record{
		ID:          id,
		Source:      source,
		Amount:      amount,
		Date:        CalendarDate(date),
		Description: description,
	}
}

// Validate checks the ingestion contract: a non-empty id, a known source and
// a calendar date without time of day.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record ID cannot be empty")
	}

	if !r.Source.IsValid() {
		return fmt.Errorf("invalid record source: %q", r.Source)
	}

	if r.Date.IsZero() {
		return fmt.Errorf("record date cannot be zero")
	}

	if !r.Date.Equal(CalendarDate(r.Date)) {
		return fmt.Errorf("record date must not carry a time of day: %s", r.Date.Format(time.RFC3339))
	}

	return nil
}

// String returns a string representation of the Record
func (r *Record) String() string {
	return fmt.Sprintf("Record{ID: %s, Source: %s, Amount: %s, Date: %s, Description: %q}",
		r.ID, r.Source, r.Amount.String(), r.Date.Format(DateLayout), r.Description)
}

// MarshalJSON renders the amount as an exact decimal string and the date as YYYY-MM-DD.
func (r *Record) MarshalJSON() ([]byte, error) {
	type Alias Record
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: r.Amount.String(),
		Date:   r.Date.Format(DateLayout),
		Alias:  (*Alias)(r),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Record
func (r *Record) UnmarshalJSON(data []byte) error {
	type Alias Record
	aux := &struct {
		Amount json.RawMessage `json:"amount"`
		Date   string          `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	amount, err := ParseAmount(strings.Trim(string(aux.Amount), `"`))
	if err != nil {
		return err
	}
	r.Amount = amount

	r.Date, err = ParseDate(aux.Date)
	if err != nil {
		return err
	}

	return nil
}

// ParseAmount parses a decimal amount, rejecting empty and non-numeric input.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}
	return d, nil
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %w", err)
	}
	return t, nil
}

// CalendarDate drops the time of day, keeping the wall-clock calendar day.
func CalendarDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	diff := CalendarDate(a).Sub(CalendarDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// AbsAmountDelta returns |a - b| using exact decimal arithmetic.
func AbsAmountDelta(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}
