package reconciler

import (
	"fmt"
	"strings"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"

	"go.uber.org/multierr"
)

const stageValidation = "validation"

// ValidateRecords checks both inputs against the ingestion contract and
// reports every problem at once. Each error names the record and stage.
func ValidateRecords(bank, ledger []*models.Record) error {
	return multierr.Combine(
		validateSide(bank, models.SourceBank),
		validateSide(ledger, models.SourceLedger),
	)
}

func validateSide(records []*models.Record, source models.Source) error {
	var errs error
	seen := make(map[string]int, len(records))

	for i, r := range records {
		if r == nil {
			errs = multierr.Append(errs, errors.ValidationError(errors.CodeMissingField, "record", i, nil).
				WithRecord(fmt.Sprintf("%s[%d]", source, i), stageValidation).
				WithContext("source", source))
			continue
		}

		if err := validateRecord(r, source); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if first, dup := seen[r.ID]; dup {
			errs = multierr.Append(errs, errors.ValidationError(errors.CodeDuplicateID, "id", r.ID, nil).
				WithRecord(r.ID, stageValidation).
				WithContext("source", source).
				WithContext("first_index", first).
				WithContext("index", i))
			continue
		}
		seen[r.ID] = i
	}
	return errs
}

func validateRecord(r *models.Record, source models.Source) error {
	id := r.ID
	if strings.TrimSpace(id) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", r.ID, nil).
			WithRecord("", stageValidation).
			WithContext("source", source)
	}

	var err *errors.ReconcilerError
	switch {
	case r.Source != source:
		err = errors.ValidationError(errors.CodeInvalidSource, "source", r.Source, fmt.Errorf("expected %s", source))
	case r.Date.IsZero():
		err = errors.ValidationError(errors.CodeMissingField, "date", nil, nil)
	default:
		if verr := r.Validate(); verr != nil {
			err = errors.ValidationError(errors.CodeInvalidDate, "date", r.Date, verr)
		}
	}
	if err != nil {
		return err.WithRecord(id, stageValidation).WithContext("source", source)
	}
	return nil
}
