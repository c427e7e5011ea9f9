// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: human-readable report with severity colouring
//   - JSON: the result with stable field names, plus ticket candidates
//   - YAML: the same document as JSON
//   - CSV: one row per record with its match and discrepancy status
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/reconciler"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Console detail level
	IncludeMatches       bool `json:"include_matches"`
	IncludeUnmatched     bool `json:"include_unmatched"`
	IncludeDiscrepancies bool `json:"include_discrepancies"`
	IncludeTickets       bool `json:"include_tickets"`
	MaxListItems         int  `json:"max_list_items"`
	UseColors            bool `json:"use_colors"`

	// Tickets are listed for discrepancies at or above this severity
	MinTicketSeverity models.Severity `json:"min_ticket_severity"`

	CSVDelimiter rune `json:"csv_delimiter"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeMatches:       false,
		IncludeUnmatched:     true,
		IncludeDiscrepancies: true,
		IncludeTickets:       true,
		MaxListItems:         20,
		UseColors:            true,
		MinTicketSeverity:    models.SeverityHigh,
		CSVDelimiter:         ',',
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	if c.MinTicketSeverity < models.SeverityLow || c.MinTicketSeverity > models.SeverityCritical {
		return fmt.Errorf("invalid ticket severity: %d", c.MinTicketSeverity)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// Report is the document written by the JSON and YAML formats
type Report struct {
	*reconciler.Result
	Tickets []*Ticket `json:"tickets"`
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GenerateReport writes a report for result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatYAML:
		return rg.generateYAMLReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) document(result *reconciler.Result) *Report {
	return &Report{
		Result:  result,
		Tickets: TicketCandidates(result, rg.config.MinTicketSeverity),
	}
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.document(result))
}

// generateYAMLReport converts the JSON document so YAML keys and values
// match the JSON report exactly.
func (rg *ReportGenerator) generateYAMLReport(result *reconciler.Result, writer io.Writer) error {
	data, err := json.Marshal(rg.document(result))
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	var doc map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("failed to convert report: %w", err)
	}
	normalizeNumbers(doc)

	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to write yaml report: %w", err)
	}
	return encoder.Close()
}

// normalizeNumbers turns json.Number values into ints or floats in place
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
	case []interface{}:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	headers := []string{
		"Record ID", "Source", "Date", "Amount", "Description",
		"Match Status", "Matched With", "Match Confidence",
		"Discrepancy Type", "Severity", "Machine Reason", "LLM Explanation", "Suggested Action",
	}
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	type key struct {
		source models.Source
		id     string
	}
	byRecord := make(map[key][]*models.Discrepancy)
	for _, d := range result.Discrepancies {
		for _, r := range d.Records {
			k := key{r.Source, r.ID}
			byRecord[k] = append(byRecord[k], d)
		}
	}

	row := func(r *models.Record, status, matchedWith, confidence string) []string {
		var types, severities, reasons, explanations, actions []string
		for _, d := range byRecord[key{r.Source, r.ID}] {
			types = append(types, string(d.Type))
			severities = append(severities, d.Severity.String())
			reasons = append(reasons, d.Reason)
			if d.LLMExplanation != nil {
				explanations = append(explanations, *d.LLMExplanation)
			}
			if d.SuggestedAction != nil {
				actions = append(actions, *d.SuggestedAction)
			}
		}
		return []string{
			r.ID, string(r.Source), r.Date.Format(models.DateLayout), r.Amount.String(), r.Description,
			status, matchedWith, confidence,
			strings.Join(types, "; "), strings.Join(severities, "; "), strings.Join(reasons, "; "),
			strings.Join(explanations, "; "), strings.Join(actions, "; "),
		}
	}

	var rows [][]string
	for _, m := range result.Matches {
		confidence := fmt.Sprintf("%.3f", m.Confidence)
		rows = append(rows, row(m.Bank, "Matched", m.Ledger.ID, confidence))
		rows = append(rows, row(m.Ledger, "Matched", m.Bank.ID, confidence))
	}
	for _, r := range result.UnmatchedBank {
		rows = append(rows, row(r, "Unmatched", "", ""))
	}
	for _, r := range result.UnmatchedLedger {
		rows = append(rows, row(r, "Unmatched", "", ""))
	}

	if err := csvWriter.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// palette holds the console colours; all are disabled when UseColors is off
type palette struct {
	header   *color.Color
	ok       *color.Color
	warn     *color.Color
	severity map[models.Severity]*color.Color
}

func (rg *ReportGenerator) palette() *palette {
	p := &palette{
		header: color.New(color.Bold, color.FgCyan),
		ok:     color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		severity: map[models.Severity]*color.Color{
			models.SeverityCritical: color.New(color.BgRed, color.FgWhite, color.Bold),
			models.SeverityHigh:     color.New(color.FgRed, color.Bold),
			models.SeverityMedium:   color.New(color.FgYellow),
			models.SeverityLow:      color.New(color.FgCyan),
		},
	}

	all := append([]*color.Color{p.header, p.ok, p.warn}, p.severity[models.SeverityCritical],
		p.severity[models.SeverityHigh], p.severity[models.SeverityMedium], p.severity[models.SeverityLow])
	for _, c := range all {
		if rg.config.UseColors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, w io.Writer) error {
	p := rg.palette()
	s := result.Summary

	p.header.Fprintf(w, "RECONCILIATION REPORT\n")
	fmt.Fprintf(w, "Run ID:          %s\n", result.RunID)
	fmt.Fprintf(w, "Strategy:        %s\n", s.Strategy)
	fmt.Fprintf(w, "Processing Time: %s\n\n", timeString(s.ProcessingTime))

	p.header.Fprintf(w, "=== SUMMARY ===\n")
	bankTotal := s.Matched + s.UnmatchedBank
	ledgerTotal := s.Matched + s.UnmatchedLedger
	fmt.Fprintf(w, "Matched:          %d\n", s.Matched)
	fmt.Fprintf(w, "Unmatched Bank:   %d of %d (%.1f%%)\n", s.UnmatchedBank, bankTotal, percentage(s.UnmatchedBank, bankTotal))
	fmt.Fprintf(w, "Unmatched Ledger: %d of %d (%.1f%%)\n", s.UnmatchedLedger, ledgerTotal, percentage(s.UnmatchedLedger, ledgerTotal))
	fmt.Fprintf(w, "Discrepancies:    %d\n", s.Discrepancies)
	fmt.Fprintf(w, "Candidate Pairs:  %d scored of %d in window\n", s.Scoring.ScoredPairs, s.Scoring.WindowPairs)
	if s.Degraded {
		p.warn.Fprintf(w, "Explanations:     %d of %d failed (degraded)\n", s.ExplanationsFailed, s.ExplanationsRequested)
	} else if s.ExplanationsRequested > 0 {
		p.ok.Fprintf(w, "Explanations:     %d generated\n", s.ExplanationsRequested)
	}
	fmt.Fprintln(w)

	if s.Discrepancies > 0 {
		p.header.Fprintf(w, "=== DISCREPANCIES BY TYPE ===\n")
		for _, t := range models.DiscrepancyTypes {
			if n := s.ByType[t]; n > 0 {
				fmt.Fprintf(w, "  %-20s %d\n", t, n)
			}
		}
		fmt.Fprintln(w)
	}

	if rg.config.IncludeMatches && len(result.Matches) > 0 {
		p.header.Fprintf(w, "=== MATCHES ===\n")
		rg.printMatches(result.Matches, w)
		fmt.Fprintln(w)
	}

	if rg.config.IncludeUnmatched {
		if len(result.UnmatchedBank) > 0 {
			p.header.Fprintf(w, "=== UNMATCHED BANK RECORDS ===\n")
			rg.printRecords(result.UnmatchedBank, w)
			fmt.Fprintln(w)
		}
		if len(result.UnmatchedLedger) > 0 {
			p.header.Fprintf(w, "=== UNMATCHED LEDGER RECORDS ===\n")
			rg.printRecords(result.UnmatchedLedger, w)
			fmt.Fprintln(w)
		}
	}

	if rg.config.IncludeDiscrepancies && len(result.Discrepancies) > 0 {
		p.header.Fprintf(w, "=== DISCREPANCIES ===\n")
		rg.printDiscrepancies(result.Discrepancies, p, w)
	}

	if rg.config.IncludeTickets {
		tickets := TicketCandidates(result, rg.config.MinTicketSeverity)
		if len(tickets) > 0 {
			p.header.Fprintf(w, "=== TICKET CANDIDATES (%s and above) ===\n", rg.config.MinTicketSeverity)
			for i, t := range tickets {
				if rg.truncated(i, len(tickets), w) {
					break
				}
				p.severity[t.Priority].Fprintf(w, "  [%s]", strings.ToUpper(t.Priority.String()))
				fmt.Fprintf(w, " %s (due %s)\n", t.Title, t.DueDate)
			}
			fmt.Fprintln(w)
		}
	}

	return nil
}

func (rg *ReportGenerator) printMatches(matches []*models.Match, w io.Writer) {
	for i, m := range matches {
		if rg.truncated(i, len(matches), w) {
			return
		}
		fmt.Fprintf(w, "  %d. %s <-> %s  %.3f %s", i+1, m.Bank.ID, m.Ledger.ID, m.Confidence, m.MatchType)
		if len(m.Reasons) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(m.Reasons, ", "))
		}
		fmt.Fprintln(w)
	}
}

func (rg *ReportGenerator) printRecords(records []*models.Record, w io.Writer) {
	for i, r := range records {
		if rg.truncated(i, len(records), w) {
			return
		}
		fmt.Fprintf(w, "  %d. ID: %s, Amount: %s, Date: %s, Description: %s\n",
			i+1, r.ID, r.Amount.StringFixed(2), r.Date.Format(models.DateLayout), r.Description)
	}
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*models.Discrepancy, p *palette, w io.Writer) {
	groups := make(map[models.Severity][]*models.Discrepancy)
	for _, d := range discrepancies {
		groups[d.Severity] = append(groups[d.Severity], d)
	}

	severities := make([]models.Severity, 0, len(groups))
	for sev := range groups {
		severities = append(severities, sev)
	}
	sort.Slice(severities, func(i, j int) bool { return severities[i] > severities[j] })

	for _, sev := range severities {
		ds := groups[sev]
		p.severity[sev].Fprintf(w, "%s Severity (%d):\n", strings.ToUpper(sev.String()), len(ds))
		for i, d := range ds {
			if rg.truncated(i, len(ds), w) {
				break
			}
			fmt.Fprintf(w, "  - %s [%s]: %s\n", d.Type, strings.Join(d.RecordIDs(), ", "), d.Reason)
			if d.LLMExplanation != nil {
				fmt.Fprintf(w, "      Explanation: %s\n", *d.LLMExplanation)
			}
			if d.SuggestedAction != nil {
				fmt.Fprintf(w, "      Action: %s\n", *d.SuggestedAction)
			}
		}
		fmt.Fprintln(w)
	}
}

// truncated prints a trailer and reports true once i reaches the list limit
func (rg *ReportGenerator) truncated(i, total int, w io.Writer) bool {
	if rg.config.MaxListItems == 0 || i < rg.config.MaxListItems {
		return false
	}
	fmt.Fprintf(w, "  ... and %d more\n", total-i)
	return true
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func timeString(d reconciler.Duration) string {
	text, _ := d.MarshalText()
	return string(text)
}
