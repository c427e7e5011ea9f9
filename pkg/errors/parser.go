package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// StageIngestion names the pipeline stage for errors raised while reading input files
const StageIngestion = "ingestion"

// rowHint describes what a well-formed value looks like for a row error code
type rowHint struct {
	expected string
	examples []string
}

var rowHints = map[ErrorCode]rowHint{
	CodeInvalidAmount: {expected: "decimal number", examples: []string{"12.34", "1250.50", "-500.00"}},
	CodeInvalidDate:   {expected: "calendar date", examples: []string{"2024-01-15", "01/15/2024", "15.01.2024"}},
	CodeMissingField:  {expected: "non-empty value"},
}

// RowLocation formats a row reference as "<basename>:<line>"
func RowLocation(file string, line int) string {
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// RowError creates a validation error for one malformed input row. The
// record id is the row location so reports can point back into the file.
func RowError(code ErrorCode, file string, line int, column, value string, cause error) *ReconcilerError {
	err := ValidationError(code, column, value, cause).
		WithRecord(RowLocation(file, line), StageIngestion).
		WithContext("line", line)

	if hint, ok := rowHints[code]; ok {
		err.WithContext("expected", hint.expected)
		if len(hint.examples) > 0 {
			err.WithContext("examples", strings.Join(hint.examples, ", "))
		}
	}
	return err
}

// MissingColumnsError reports header columns that a layout requires but the file lacks
func MissingColumnsError(file string, required, headers []string) *ReconcilerError {
	missing := MissingColumns(required, headers)
	return ParseError(CodeMissingColumn, file, 1, strings.Join(missing, ", "), "", nil).
		WithContext("headers", strings.Join(headers, ", ")).
		WithSuggestion(fmt.Sprintf("Add these columns to the header row: %s", strings.Join(missing, ", ")))
}

// MissingColumns returns the entries of required absent from headers,
// compared case-insensitively
func MissingColumns(required, headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	var missing []string
	for _, col := range required {
		if !present[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}
