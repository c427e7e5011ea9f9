package parsers

import (
	"fmt"
	"strings"
)

// FormatConfig maps the columns of one CSV layout onto record fields. A
// layout either has a single signed Amount column, optionally qualified by a
// Type column, or separate Debit and Credit columns.
type FormatConfig struct {
	Name              string   `mapstructure:"name" json:"name"`
	IDColumn          string   `mapstructure:"id_column" json:"id_column,omitempty"`
	DateColumn        string   `mapstructure:"date_column" json:"date_column"`
	DescriptionColumn string   `mapstructure:"description_column" json:"description_column,omitempty"`
	AmountColumn      string   `mapstructure:"amount_column" json:"amount_column,omitempty"`
	DebitColumn       string   `mapstructure:"debit_column" json:"debit_column,omitempty"`
	CreditColumn      string   `mapstructure:"credit_column" json:"credit_column,omitempty"`
	TypeColumn        string   `mapstructure:"type_column" json:"type_column,omitempty"`
	DateFormats       []string `mapstructure:"date_formats" json:"date_formats,omitempty"`
	HasHeader         bool     `mapstructure:"has_header" json:"has_header"`
	Delimiter         rune     `mapstructure:"delimiter" json:"delimiter"`
}

// Validate checks if the format configuration is valid
func (fc *FormatConfig) Validate() error {
	if strings.TrimSpace(fc.Name) == "" {
		return fmt.Errorf("format name cannot be empty")
	}

	if strings.TrimSpace(fc.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}

	if fc.AmountColumn == "" && fc.DebitColumn == "" && fc.CreditColumn == "" {
		return fmt.Errorf("format %s needs an amount column or debit/credit columns", fc.Name)
	}

	if !fc.HasHeader && len(fc.Columns()) == 0 {
		return fmt.Errorf("format %s has no header and no positional columns", fc.Name)
	}

	if fc.Delimiter == '\n' || fc.Delimiter == '\r' || fc.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", fc.Delimiter)
	}

	return nil
}

// Columns lists the mapped column names in a stable order
func (fc *FormatConfig) Columns() []string {
	var columns []string
	for _, c := range []string{fc.IDColumn, fc.DateColumn, fc.DescriptionColumn, fc.AmountColumn, fc.DebitColumn, fc.CreditColumn, fc.TypeColumn} {
		if c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// RequiredColumns lists the columns a file must carry for this format
func (fc *FormatConfig) RequiredColumns() []string {
	required := []string{fc.DateColumn}
	if fc.AmountColumn != "" {
		required = append(required, fc.AmountColumn)
	}
	if fc.IDColumn != "" {
		required = append(required, fc.IDColumn)
	}
	return required
}

func (fc *FormatConfig) dateFormats() []string {
	if len(fc.DateFormats) > 0 {
		return fc.DateFormats
	}
	return DefaultDateFormats
}

// DefaultDateFormats are tried in order when a format names none
var DefaultDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"02-Jan-2006",
	"20060102",
}

// Predefined formats
var (
	// NormalizedFormat is the engine's own record layout
	NormalizedFormat = &FormatConfig{
		Name:              "normalized",
		IDColumn:          "id",
		DateColumn:        "date",
		DescriptionColumn: "description",
		AmountColumn:      "amount",
		DateFormats:       []string{"2006-01-02"},
		HasHeader:         true,
		Delimiter:         ',',
	}

	// BankStatementFormat is a statement export with split debit and credit columns
	BankStatementFormat = &FormatConfig{
		Name:              "bank_statement",
		IDColumn:          "Reference",
		DateColumn:        "Date",
		DescriptionColumn: "Description",
		DebitColumn:       "Debit",
		CreditColumn:      "Credit",
		HasHeader:         true,
		Delimiter:         ',',
	}

	// LedgerExportFormat is an accounting ledger export with an unsigned amount
	// whose sign comes from the Type column
	LedgerExportFormat = &FormatConfig{
		Name:              "ledger_export",
		IDColumn:          "Reference",
		DateColumn:        "Transaction Date",
		DescriptionColumn: "Description",
		AmountColumn:      "Amount",
		TypeColumn:        "Type",
		HasHeader:         true,
		Delimiter:         ',',
	}
)

// GetFormat returns a predefined format by name
func GetFormat(name string) *FormatConfig {
	for _, f := range ListFormats() {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f
		}
	}
	return nil
}

// ListFormats returns all predefined formats
func ListFormats() []*FormatConfig {
	return []*FormatConfig{NormalizedFormat, BankStatementFormat, LedgerExportFormat}
}

// AutoDetectFormat picks the predefined format whose columns all appear in
// headers. Failing that it derives a mapping from common column names, and
// returns nil when no date or amount column can be found.
func AutoDetectFormat(headers []string) *FormatConfig {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	for _, f := range ListFormats() {
		matched := true
		for _, c := range f.Columns() {
			if !present[strings.ToLower(c)] {
				matched = false
				break
			}
		}
		if matched {
			return f
		}
	}

	detected := &FormatConfig{Name: "detected", HasHeader: true, Delimiter: ','}
	for _, h := range headers {
		col := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(col, "date"):
			// Transaction dates win over posting dates.
			if detected.DateColumn == "" || strings.Contains(strings.ToLower(detected.DateColumn), "posting") {
				detected.DateColumn = h
			}
		case detected.DescriptionColumn == "" && containsAny(col, "description", "memo", "details", "narration", "payee"):
			detected.DescriptionColumn = h
		case strings.Contains(col, "debit"):
			detected.DebitColumn = h
		case strings.Contains(col, "credit"):
			detected.CreditColumn = h
		case strings.Contains(col, "amount"):
			detected.AmountColumn = h
		case containsAny(col, "type", "category"):
			detected.TypeColumn = h
		case detected.IDColumn == "" && (col == "id" || containsAny(col, "reference", "ref", "transaction id", "check")):
			detected.IDColumn = h
		}
	}

	if detected.Validate() != nil {
		return nil
	}
	return detected
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// StreamingConfig holds configuration for batch streaming
type StreamingConfig struct {
	BatchSize        int  `json:"batch_size"`
	MaxConcurrency   int  `json:"max_concurrency"`
	ContinueOnError  bool `json:"continue_on_error"`
	MaxErrors        int  `json:"max_errors"`
	ReportProgress   bool `json:"report_progress"`
	ProgressInterval int  `json:"progress_interval"`
}

// DefaultStreamingConfig returns a configuration with sensible defaults for streaming.
// Invalid rows abort the parse unless ContinueOnError is set.
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		BatchSize:        1000,
		MaxConcurrency:   2,
		ContinueOnError:  false,
		MaxErrors:        100,
		ReportProgress:   false,
		ProgressInterval: 10000,
	}
}

// Validate checks if the streaming configuration is valid
func (sc *StreamingConfig) Validate() error {
	if sc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", sc.BatchSize)
	}

	if sc.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", sc.MaxConcurrency)
	}

	if sc.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", sc.MaxErrors)
	}

	if sc.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %d", sc.ProgressInterval)
	}

	return nil
}
