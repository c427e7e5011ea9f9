package parsers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Raw keys kept alongside parsed records
const (
	RawDirection = "direction"
	RawLine      = "line"
	RawFile      = "file"
)

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// RecordParser reads one source's CSV export into normalized records
type RecordParser struct {
	*BaseParser
	source models.Source
	format *FormatConfig
	stream *StreamingConfig
}

// NewRecordParser creates a parser for the given source. A nil format is
// auto-detected from each file's header row.
func NewRecordParser(source models.Source, format *FormatConfig, stream *StreamingConfig) (*RecordParser, error) {
	if !source.IsValid() {
		return nil, fmt.Errorf("invalid source: %q", source)
	}
	if format != nil {
		if err := format.Validate(); err != nil {
			return nil, fmt.Errorf("invalid format configuration: %w", err)
		}
	}
	if stream == nil {
		stream = DefaultStreamingConfig()
	}
	if err := stream.Validate(); err != nil {
		return nil, fmt.Errorf("invalid streaming configuration: %w", err)
	}

	parseConfig := DefaultParseConfig()
	if format != nil {
		parseConfig.HasHeader = format.HasHeader
		if format.Delimiter != 0 {
			parseConfig.Delimiter = format.Delimiter
		}
	}

	return &RecordParser{
		BaseParser: NewBaseParser(parseConfig),
		source:     source,
		format:     format,
		stream:     stream,
	}, nil
}

// Source returns the source the parser assigns to records
func (rp *RecordParser) Source() models.Source {
	return rp.source
}

// ParseFile reads a whole file. Files ending in .json are decoded as
// normalized records; anything else is read as CSV.
func (rp *RecordParser) ParseFile(ctx context.Context, filePath string) ([]*models.Record, *ParseStats, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".json") {
		return rp.ParseJSONFile(filePath)
	}

	var records []*models.Record
	stats, err := rp.ParseStream(ctx, filePath, func(batch []*models.Record) error {
		records = append(records, batch...)
		return nil
	}, nil)
	if err != nil {
		return nil, stats, err
	}
	return records, stats, nil
}

// ParseJSONFile decodes a JSON array of normalized records
func (rp *RecordParser) ParseJSONFile(filePath string) ([]*models.Record, *ParseStats, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	return rp.decodeJSON(data, filePath)
}

func (rp *RecordParser) decodeJSON(data []byte, filePath string) ([]*models.Record, *ParseStats, error) {
	stats := NewParseStats()

	var records []*models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, stats, errors.ParseError(errors.CodeInvalidFormat, filePath, 0, "records", "", err).
			WithSuggestion("Provide a JSON array of {id, amount, date, description} objects")
	}

	for _, r := range records {
		stats.RecordsParsed++
		if r != nil && r.Source == "" {
			r.Source = rp.source
		}
	}
	stats.RecordsValid = len(records)
	stats.TotalLines = len(records)
	return records, stats, nil
}

// RecordBatchCallback receives parsed records in batches
type RecordBatchCallback func([]*models.Record) error

// ParseReader reads CSV rows from r, calling callback per batch of valid
// records. Rows that fail are collected in the stats; unless
// ContinueOnError is set they also fail the parse with aggregated errors.
func (rp *RecordParser) ParseReader(ctx context.Context, r io.Reader, name string, callback RecordBatchCallback) (*ParseStats, error) {
	return rp.parse(ctx, rp.NewReader(r), name, callback, nil)
}

func (rp *RecordParser) parse(ctx context.Context, reader *csv.Reader, name string, callback RecordBatchCallback, progress func(*ParseStats)) (*ParseStats, error) {
	parseCtx := NewParseContext(ctx, name)
	stats := NewParseStats()
	log := rp.logger.WithFields(logger.Fields{"file": name, "source": rp.source})

	var defaults []string
	if rp.format != nil {
		defaults = rp.format.Columns()
	}
	if err := rp.ReadHeaders(reader, parseCtx, defaults, nil); err != nil {
		return stats, err
	}

	format := rp.format
	if format == nil {
		format = AutoDetectFormat(parseCtx.Headers)
		if format == nil {
			return stats, errors.ParseError(errors.CodeMissingColumn, name, parseCtx.LineNumber, "headers",
				strings.Join(parseCtx.Headers, ", "), fmt.Errorf("cannot detect date and amount columns")).
				WithSuggestion("Name the columns explicitly with a format configuration")
		}
		log.WithField("format", format.Name).Debug("Auto-detected input format")
	}
	if rp.HasHeaderRow() {
		if err := rp.RequireColumns(parseCtx, format.RequiredColumns()); err != nil {
			return stats, err
		}
	}

	batch := make([]*models.Record, 0, rp.stream.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := callback(batch); err != nil {
			return err
		}
		batch = make([]*models.Record, 0, rp.stream.BatchSize)
		return nil
	}

	var rowErrs error
	for {
		row, err := rp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}

		var record *models.Record
		var perr *ParseError
		if err != nil {
			perr = asParseError(err, parseCtx.LineNumber)
		} else {
			stats.RecordsParsed++
			record, perr = rp.recordFromRow(row, parseCtx, format)
		}

		if perr != nil {
			stats.AddError(perr)
			rowErrs = multierr.Append(rowErrs, rp.rowError(name, perr))
			if rp.stream.MaxErrors > 0 && stats.ErrorCount >= rp.stream.MaxErrors {
				log.WithField("max_errors", rp.stream.MaxErrors).Warn("Too many invalid rows, stopping")
				break
			}
			continue
		}

		stats.RecordsValid++
		batch = append(batch, record)
		if len(batch) >= rp.stream.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		if progress != nil && stats.RecordsParsed%rp.stream.ProgressInterval == 0 {
			progress(stats)
		}
	}

	stats.TotalLines = parseCtx.LineNumber
	if rowErrs != nil && !rp.stream.ContinueOnError {
		log.WithField("errors", stats.ErrorCount).Error("Input contains invalid rows")
		return stats, rowErrs
	}
	if rowErrs != nil {
		log.WithFields(logger.Fields{
			"errors": stats.ErrorCount,
			"sample": stats.GetSampleErrors(3),
		}).Warn("Skipped invalid rows")
	}
	if err := flush(); err != nil {
		return stats, err
	}

	log.WithFields(logger.Fields{
		"records": stats.RecordsValid,
		"lines":   stats.TotalLines,
	}).Debug("Parsed input")
	return stats, nil
}

// HasHeaderRow reports whether files are expected to start with a header
func (rp *RecordParser) HasHeaderRow() bool {
	return rp.config.HasHeader
}

func asParseError(err error, line int) *ParseError {
	if perr, ok := err.(*ParseError); ok {
		return perr
	}
	return &ParseError{Line: line, Message: "failed to read row", Err: err}
}

// rowError converts a row failure into the reconciler's ValidationError
func (rp *RecordParser) rowError(file string, perr *ParseError) error {
	code := errors.CodeInvalidFormat
	switch {
	case strings.HasPrefix(perr.Message, "invalid amount"):
		code = errors.CodeInvalidAmount
	case strings.HasPrefix(perr.Message, "invalid date"):
		code = errors.CodeInvalidDate
	case strings.HasPrefix(perr.Message, "missing"):
		code = errors.CodeMissingField
	}

	return errors.RowError(code, file, perr.Line, perr.Column, perr.Value, perr).
		WithContext("source", rp.source)
}

func (rp *RecordParser) recordFromRow(row []string, parseCtx *ParseContext, format *FormatConfig) (*models.Record, *ParseError) {
	line := parseCtx.LineNumber
	get := func(column string) string {
		return rp.GetFieldValue(row, parseCtx, column)
	}

	dateStr := get(format.DateColumn)
	if dateStr == "" {
		return nil, &ParseError{Line: line, Column: format.DateColumn, Message: "missing date"}
	}
	date, err := ParseDate(dateStr, format.dateFormats())
	if err != nil {
		return nil, &ParseError{Line: line, Column: format.DateColumn, Value: dateStr, Message: "invalid date", Err: err}
	}

	amount, direction, perr := rp.amountFromRow(get, format, line)
	if perr != nil {
		return nil, perr
	}

	id := get(format.IDColumn)
	if id == "" {
		if format.IDColumn != "" && format == NormalizedFormat {
			return nil, &ParseError{Line: line, Column: format.IDColumn, Message: "missing id"}
		}
		id = fmt.Sprintf("%s-%d", rp.source, line)
	}

	record := models.NewRecord(id, rp.source, amount, date, NormalizeDescription(get(format.DescriptionColumn)))
	record.Raw = map[string]string{
		RawLine: fmt.Sprint(line),
		RawFile: filepath.Base(parseCtx.File),
	}
	if direction != "" {
		record.Raw[RawDirection] = direction
	}
	return record, nil
}

// amountFromRow reads either a single amount column or split debit/credit
// columns. The returned amount is signed: debits are negative and credits
// positive, whatever the layout prints.
func (rp *RecordParser) amountFromRow(get func(string) string, format *FormatConfig, line int) (decimal.Decimal, string, *ParseError) {
	if format.AmountColumn != "" {
		raw := get(format.AmountColumn)
		if raw == "" {
			return decimal.Zero, "", &ParseError{Line: line, Column: format.AmountColumn, Message: "missing amount"}
		}
		amount, err := ParseAmount(raw)
		if err != nil {
			return decimal.Zero, "", &ParseError{Line: line, Column: format.AmountColumn, Value: raw, Message: "invalid amount", Err: err}
		}
		if format.TypeColumn == "" {
			return amount, "", nil
		}
		direction := NormalizeDirection(get(format.TypeColumn), amount)
		return signed(amount, direction), direction, nil
	}

	debit, credit := get(format.DebitColumn), get(format.CreditColumn)
	for _, c := range []struct{ column, raw, direction string }{
		{format.DebitColumn, debit, DirectionDebit},
		{format.CreditColumn, credit, DirectionCredit},
	} {
		if c.raw == "" {
			continue
		}
		amount, err := ParseAmount(c.raw)
		if err != nil {
			return decimal.Zero, "", &ParseError{Line: line, Column: c.column, Value: c.raw, Message: "invalid amount", Err: err}
		}
		if !amount.IsZero() {
			return signed(amount, c.direction), c.direction, nil
		}
	}
	return decimal.Zero, "", &ParseError{
		Line:    line,
		Column:  format.DebitColumn + "/" + format.CreditColumn,
		Message: "missing amount",
	}
}

// signed applies direction to the magnitude of amount
func signed(amount decimal.Decimal, direction string) decimal.Decimal {
	if direction == DirectionDebit {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}

var amountNoise = regexp.MustCompile(`[\s$€£¥,]`)

// ParseAmount parses amounts as statements print them: currency symbols,
// thousands separators and accounting parentheses for negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = amountNoise.ReplaceAllString(s, "")
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}

	amount, err := models.ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// ParseDate tries each layout in order and returns the calendar date
func ParseDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return models.CalendarDate(t), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return models.CalendarDate(t), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// NormalizeDirection maps a type cell onto debit or credit. Unknown values
// fall back to the sign of the amount.
func NormalizeDirection(value string, amount decimal.Decimal) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debit", "dr", "withdrawal", "payment", "expense":
		return DirectionDebit
	case "credit", "cr", "deposit", "income", "receipt":
		return DirectionCredit
	}
	if amount.IsNegative() {
		return DirectionDebit
	}
	return DirectionCredit
}

// NormalizeDescription collapses runs of whitespace
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
