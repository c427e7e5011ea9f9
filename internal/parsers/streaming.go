package parsers

import (
	"context"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"

	"github.com/sourcegraph/conc/pool"
)

// ProgressReport contains information about parsing progress for large files
type ProgressReport struct {
	File             string
	ProcessedRecords int
	ValidRecords     int
	ErrorCount       int
	ElapsedTime      time.Duration
	Done             bool
}

// ProgressCallback is called periodically to report parsing progress
type ProgressCallback func(*ProgressReport)

// ParseStream reads a CSV file in batches of StreamingConfig.BatchSize,
// calling callback for each batch. When ReportProgress is set, progress is
// called every ProgressInterval rows and once more at the end.
func (rp *RecordParser) ParseStream(ctx context.Context, filePath string, callback RecordBatchCallback, progress ProgressCallback) (*ParseStats, error) {
	file, reader, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	start := time.Now()
	report := func(stats *ParseStats, done bool) {
		progress(&ProgressReport{
			File:             filePath,
			ProcessedRecords: stats.RecordsParsed,
			ValidRecords:     stats.RecordsValid,
			ErrorCount:       stats.ErrorCount,
			ElapsedTime:      time.Since(start),
			Done:             done,
		})
	}

	var onProgress func(*ParseStats)
	if rp.stream.ReportProgress && progress != nil {
		onProgress = func(stats *ParseStats) { report(stats, false) }
	}

	stats, err := rp.parse(ctx, reader, filePath, callback, onProgress)
	if err == nil && onProgress != nil {
		report(stats, true)
	}
	return stats, err
}

// SourceFiles names the inputs of one reconciliation
type SourceFiles struct {
	BankFile     string
	LedgerFile   string
	BankFormat   *FormatConfig
	LedgerFormat *FormatConfig
}

// ParsedSources holds both parsed inputs
type ParsedSources struct {
	Bank        []*models.Record
	Ledger      []*models.Record
	BankStats   *ParseStats
	LedgerStats *ParseStats
}

// ParseSources parses the bank and ledger files concurrently. Failures from
// both sides are reported together.
func ParseSources(ctx context.Context, files SourceFiles, stream *StreamingConfig) (*ParsedSources, error) {
	if stream == nil {
		stream = DefaultStreamingConfig()
	}

	bankParser, err := NewRecordParser(models.SourceBank, files.BankFormat, stream)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "bank_format", files.BankFormat, err)
	}
	ledgerParser, err := NewRecordParser(models.SourceLedger, files.LedgerFormat, stream)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_format", files.LedgerFormat, err)
	}

	result := &ParsedSources{}
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(stream.MaxConcurrency)
	p.Go(func(ctx context.Context) error {
		var err error
		result.Bank, result.BankStats, err = bankParser.ParseFile(ctx, files.BankFile)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		result.Ledger, result.LedgerStats, err = ledgerParser.ParseFile(ctx, files.LedgerFile)
		return err
	})

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
