package errors

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeInvalidAmount,
			message:    "invalid amount",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("missing field"),
			expectCode: 4,
		},
		{
			name:       "matching error",
			category:   CategoryMatching,
			code:       CodeInvariantViolation,
			message:    "bank record assigned twice",
			expectCode: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.StackTrace == nil {
				t.Error("expected stack trace to be captured")
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Error("expected cause to be reachable through Unwrap")
			}
		})
	}
}

func TestValidationErrorNamesRecordAndStage(t *testing.T) {
	err := ValidationError(CodeInvalidDate, "date", "2024-01-05T10:00:00Z", nil).
		WithRecord("B-17", "input_validation")

	msg := err.Error()
	if !strings.Contains(msg, "B-17") {
		t.Errorf("expected message to name the record, got %q", msg)
	}
	if !strings.Contains(msg, "input_validation") {
		t.Errorf("expected message to name the stage, got %q", msg)
	}
	if err.Context["field"] != "date" {
		t.Errorf("expected field context 'date', got %v", err.Context["field"])
	}
	if err.Suggestion == "" {
		t.Error("expected a suggestion")
	}
}

func TestExplanationServiceError(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := ExplanationServiceError(CodeTimeout, "amount_mismatch", cause)

	if err.Category != CategoryExplanation {
		t.Errorf("expected explanation category, got %s", err.Category)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause")
	}
}

func TestFlatten(t *testing.T) {
	first := ValidationError(CodeMissingField, "id", "", nil)
	second := ValidationError(CodeInvalidDate, "date", "", nil)
	combined := multierr.Combine(first, second, errors.New("plain"))

	flat := Flatten(combined)
	if len(flat) != 3 {
		t.Fatalf("Expected 3 errors, got %d", len(flat))
	}
	if flat[0] != first || flat[1] != second {
		t.Error("Expected reconciler errors to be returned unchanged")
	}
	if flat[2].Category != CategoryInternal {
		t.Errorf("Expected foreign error to be wrapped as internal, got %s", flat[2].Category)
	}

	if Flatten(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestErrorSummary(t *testing.T) {
	summary := NewErrorSummary([]*ReconcilerError{
		ValidationError(CodeMissingField, "id", "", nil),
		ValidationError(CodeDuplicateID, "id", "L1", nil),
		ConfigurationError(CodeInvalidConfig, "min_confidence", 2.0, nil),
	})

	if summary.Total != 3 {
		t.Errorf("Expected 3 errors, got %d", summary.Total)
	}
	if !summary.HasCode(CodeDuplicateID) {
		t.Error("Expected summary to contain duplicate_id")
	}
	if summary.GetExitCode() != 4 {
		t.Errorf("Expected highest exit code 4, got %d", summary.GetExitCode())
	}
	if !strings.HasPrefix(summary.Error(), "3 errors occurred") {
		t.Errorf("Unexpected summary message: %s", summary.Error())
	}

	empty := NewErrorSummary(nil)
	if empty.GetExitCode() != 0 || empty.Error() != "no errors" {
		t.Error("Expected empty summary to report no errors")
	}
}

func TestRowError(t *testing.T) {
	err := RowError(CodeInvalidAmount, "/tmp/in/bank.csv", 4, "amount", "12,3x", nil)

	if err.Category != CategoryValidation {
		t.Errorf("Expected validation category, got %s", err.Category)
	}
	if err.Context["record_id"] != "bank.csv:4" {
		t.Errorf("Expected record id bank.csv:4, got %v", err.Context["record_id"])
	}
	if err.Context["expected"] != "decimal number" {
		t.Errorf("Expected amount hint, got %v", err.Context["expected"])
	}
	if !strings.Contains(err.Error(), StageIngestion) {
		t.Errorf("Expected message to name the ingestion stage, got %q", err.Error())
	}
}

func TestMissingColumnsError(t *testing.T) {
	missing := MissingColumns([]string{"Date", "Amount", "Description"}, []string{" date ", "AMOUNT", "memo"})
	if len(missing) != 1 || missing[0] != "Description" {
		t.Fatalf("Expected only Description missing, got %v", missing)
	}

	err := MissingColumnsError("ledger.csv", []string{"date", "amount"}, []string{"date"})
	if err.Code != CodeMissingColumn || err.GetExitCode() != 3 {
		t.Errorf("Expected missing column parse error with exit code 3, got %s/%d", err.Code, err.GetExitCode())
	}
	if !strings.Contains(err.Suggestion, "amount") {
		t.Errorf("Expected suggestion to name the missing column, got %q", err.Suggestion)
	}
}
