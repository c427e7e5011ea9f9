package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with output handling and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report_config", config, err).
			WithSuggestion("Check the report format and options")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// WriteReport renders result to outputPath, or to stdout when the path is
// empty. Files are written to a temporary sibling first and renamed into
// place. If the target directory cannot be written, the report is saved in
// the system temp directory and a warning names the backup.
func (srg *SafeReportGenerator) WriteReport(result *reconciler.Result, outputPath string) (string, error) {
	if result == nil {
		return "", errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid reconciliation result")
	}

	log := srg.logger.WithField("format", srg.config.Format)
	if outputPath == "" {
		return "", srg.generate(result, os.Stdout)
	}

	err := srg.writeFile(result, outputPath)
	if err == nil {
		log.WithField("output", outputPath).Info("Report written")
		return outputPath, nil
	}
	if !isFileError(err) {
		return "", srg.wrapGenerationError(err)
	}

	backupPath := generateBackupPath(outputPath)
	log.WithError(err).WithFields(logger.Fields{
		"original_file": outputPath,
		"backup_file":   backupPath,
	}).Warn("Cannot write report, attempting backup location")

	if backupErr := srg.writeFile(result, backupPath); backupErr != nil {
		return "", errors.FileError(errors.CodeFilePermission, outputPath,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, backupErr))
	}

	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", outputPath, backupPath)
	return backupPath, nil
}

func (srg *SafeReportGenerator) writeFile(result *reconciler.Result, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := srg.generate(result, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (srg *SafeReportGenerator) generate(result *reconciler.Result, w io.Writer) error {
	if err := srg.GenerateReport(result, w); err != nil {
		return srg.wrapGenerationError(err)
	}
	return nil
}

func isFileError(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err)
}

// generateBackupPath places the report in the temp directory under the same name
func generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_backup%s", name, ext))
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}
