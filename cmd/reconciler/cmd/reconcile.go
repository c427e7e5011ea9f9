package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"ledger-reconciliation-service/cmd/reconciler/config"
	"ledger-reconciliation-service/internal/parsers"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/reporter"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// reconcileOptions holds the flags that are not engine configuration keys
type reconcileOptions struct {
	bankFile        string
	ledgerFile      string
	bankFormat      string
	ledgerFormat    string
	outputFormat    string
	outputFile      string
	showProgress    bool
	continueOnError bool
	includeMatches  bool
}

// configFlags maps command-line flags onto engine configuration keys
var configFlags = map[string]string{
	"amount-tolerance":         "amount_tolerance",
	"date-window-days":         "date_window_days",
	"min-confidence":           "min_confidence",
	"enable-llm":               "enable_llm",
	"min-severity-for-tickets": "min_severity_for_tickets",
	"strategy":                 "strategy",
	"top-k":                    "top_k",
	"workers":                  "workers",
	"embedder":                 "embedder.backend",
	"embedding-cache":          "embedder.cache_path",
	"explain-timeout":          "explain.timeout",
}

func newReconcileCmd(c *cli) *cobra.Command {
	opts := &reconcileOptions{}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile bank statement records with ledger records",
		Long: `Reconcile pairs each bank record with at most one ledger record, then
reports matches, unmatched records on either side and every discrepancy
with a severity.

Input files are CSV or JSON. CSV layouts are detected from the header row
unless --bank-format or --ledger-format names one of: normalized,
bank_statement, ledger_export.

Every engine setting can also come from the --config file or a RECONCILER_*
environment variable (e.g. RECONCILER_MIN_CONFIDENCE=0.7). Flags win over
the environment, which wins over the config file.

Examples:
  # Basic reconciliation
  reconciler reconcile --bank-file bank.csv --ledger-file ledger.csv

  # JSON report with looser matching
  reconciler reconcile -b bank.csv -l ledger.csv --format json -o report.json \
    --amount-tolerance 10 --date-window-days 10 --min-confidence 0.5

  # LLM explanations with a cached Gemini embedder
  RECONCILER_EMBEDDER_API_KEY=... RECONCILER_EXPLAIN_API_KEY=... \
    reconciler reconcile -b bank.csv -l ledger.csv --enable-llm \
    --embedder gemini --embedding-cache embeddings.db --progress`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateReconcileFlags(opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, c, opts)
		},
	}

	flags := reconcileCmd.Flags()
	flags.StringVarP(&opts.bankFile, "bank-file", "b", "", "path to the bank statement file, CSV or JSON (required)")
	flags.StringVarP(&opts.ledgerFile, "ledger-file", "l", "", "path to the ledger file, CSV or JSON (required)")
	flags.StringVar(&opts.bankFormat, "bank-format", config.FormatAuto, "bank CSV layout")
	flags.StringVar(&opts.ledgerFormat, "ledger-format", config.FormatAuto, "ledger CSV layout")
	flags.StringVarP(&opts.outputFormat, "format", "f", string(reporter.FormatConsole), "output format: console, json, yaml, csv")
	flags.StringVarP(&opts.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	flags.BoolVar(&opts.showProgress, "progress", false, "show stage progress on stderr")
	flags.BoolVar(&opts.continueOnError, "continue-on-error", false, "skip malformed rows instead of aborting")
	flags.BoolVar(&opts.includeMatches, "include-matches", false, "list matched pairs in the console report")

	addConfigFlags(flags, reconciler.DefaultConfig())

	reconcileCmd.MarkFlagRequired("bank-file")
	reconcileCmd.MarkFlagRequired("ledger-file")

	for name, key := range configFlags {
		c.v.BindPFlag(key, flags.Lookup(name))
	}

	return reconcileCmd
}

// addConfigFlags declares the engine configuration flags, defaulting to cfg
func addConfigFlags(flags *pflag.FlagSet, cfg *reconciler.Config) {
	flags.String("amount-tolerance", cfg.AmountTolerance.String(), "largest amount difference a pair may have (exclusive)")
	flags.Int("date-window-days", cfg.DateWindowDays, "largest day difference a pair may have")
	flags.Float64("min-confidence", cfg.MinConfidence, "minimum confidence for a match (0-1)")
	flags.Bool("enable-llm", cfg.EnableLLM, "explain discrepancies with the LLM service")
	flags.String("min-severity-for-tickets", cfg.MinSeverityForTickets.String(), "lowest severity listed as a ticket candidate: "+config.SeverityNames())
	flags.String("strategy", string(cfg.Strategy), "assignment strategy: global or greedy")
	flags.Int("top-k", cfg.TopK, "semantic neighbours kept per bank record (0 keeps all)")
	flags.Int("workers", cfg.Workers, "goroutines used for rule scoring")
	flags.String("embedder", cfg.Embedder.Backend, "description embedder: hashing or gemini")
	flags.String("embedding-cache", cfg.Embedder.CachePath, "SQLite file caching description embeddings")
	flags.Duration("explain-timeout", cfg.Explain.Timeout, "per-discrepancy timeout for explanation requests")
}

func validateReconcileFlags(opts *reconcileOptions) error {
	if err := validateFileExists(opts.bankFile, "bank file"); err != nil {
		return err
	}
	if err := validateFileExists(opts.ledgerFile, "ledger file"); err != nil {
		return err
	}

	if !reporter.OutputFormat(opts.outputFormat).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", opts.outputFormat,
			fmt.Errorf("invalid output format '%s'", opts.outputFormat)).
			WithSuggestion("Valid formats: console, json, yaml, csv")
	}

	for _, name := range []string{opts.bankFormat, opts.ledgerFormat} {
		if _, err := config.ResolveFormat(name); err != nil {
			return err
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, description, nil,
			fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("input", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).
			WithContext("input", description)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}
	return nil
}

func runReconcile(cmd *cobra.Command, c *cli, opts *reconcileOptions) error {
	ctx := cmd.Context()
	log := c.log.WithComponent("cli")

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(opts.outputFormat, cfg)
	if err != nil {
		return err
	}
	reportConfig.IncludeMatches = opts.includeMatches
	reportConfig.UseColors = reportConfig.UseColors && opts.outputFile == "" && !color.NoColor

	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	bankFormat, _ := config.ResolveFormat(opts.bankFormat)
	ledgerFormat, _ := config.ResolveFormat(opts.ledgerFormat)

	op := logger.NewOperationLogger("reconcile", log).
		WithField("bank_file", opts.bankFile).
		WithField("ledger_file", opts.ledgerFile)
	op.Step("parsing", nil)

	parsed, err := parsers.ParseSources(ctx, parsers.SourceFiles{
		BankFile:     opts.bankFile,
		LedgerFile:   opts.ledgerFile,
		BankFormat:   bankFormat,
		LedgerFormat: ledgerFormat,
	}, config.CreateStreamingConfig(opts.continueOnError))
	if err != nil {
		op.Error(err, "parsing failed")
		return err
	}
	logParseStats(log, "bank", parsed.BankStats)
	logParseStats(log, "ledger", parsed.LedgerStats)

	embedder, closer, err := reconciler.NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "embedder", cfg.Embedder.Backend, err).
			WithSuggestion("Set embedder.api_key (RECONCILER_EMBEDDER_API_KEY) or use --embedder hashing")
	}
	defer closer.Close()

	explainer, err := reconciler.NewExplainer(ctx, cfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "explain", cfg.Explain.Model, err).
			WithSuggestion("Set explain.api_key (RECONCILER_EXPLAIN_API_KEY) or run without --enable-llm")
	}

	var engineOpts []reconciler.Option
	if opts.showProgress {
		engineOpts = append(engineOpts, reconciler.WithProgressCallback(progressPrinter(cmd.ErrOrStderr())))
	}

	engine, err := reconciler.NewEngine(cfg, embedder, explainer, engineOpts...)
	if err != nil {
		return err
	}

	op.Step("reconciling", logger.Fields{"bank_records": len(parsed.Bank), "ledger_records": len(parsed.Ledger)})
	result, err := engine.Reconcile(ctx, parsed.Bank, parsed.Ledger)
	if opts.showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		op.Error(err, "reconciliation failed")
		return err
	}

	written, err := generator.WriteReport(result, opts.outputFile)
	if err != nil {
		return err
	}
	op.Success("reconciliation completed")

	if c.v.GetBool("verbose") {
		printSummary(cmd.ErrOrStderr(), result, written)
	}
	return nil
}

func logParseStats(log logger.Logger, source string, stats *parsers.ParseStats) {
	if stats == nil {
		return
	}
	entry := log.WithFields(logger.Fields{
		"source":  source,
		"lines":   stats.TotalLines,
		"records": stats.RecordsValid,
		"skipped": stats.ErrorCount,
	})
	if stats.HasErrors() {
		entry.Warnf("Skipped malformed rows: %s", stats.String())
		return
	}
	entry.Debug("Parsed input")
}

func progressPrinter(w io.Writer) reconciler.ProgressCallback {
	return func(p reconciler.Progress) {
		fmt.Fprintf(w, "\r[%d/%d] %-12s (%.1f%% complete, %s elapsed)",
			p.CompletedSteps, p.TotalSteps, p.Stage, p.PercentComplete, p.ElapsedTime.Round(time.Millisecond))
	}
}

func printSummary(w io.Writer, result *reconciler.Result, written string) {
	s := result.Summary
	fmt.Fprintf(w, "\nReconciliation %s completed in %s.\n", result.RunID, time.Duration(s.ProcessingTime).Round(time.Millisecond))
	fmt.Fprintf(w, "Found %d matches, %d unmatched bank records, %d unmatched ledger records.\n",
		s.Matched, s.UnmatchedBank, s.UnmatchedLedger)
	if s.Discrepancies > 0 {
		fmt.Fprintf(w, "Detected %d discrepancies.\n", s.Discrepancies)
	}
	if s.Degraded {
		fmt.Fprintf(w, "Explanations degraded: %d of %d requests failed.\n", s.ExplanationsFailed, s.ExplanationsRequested)
	}
	if written != "" {
		fmt.Fprintf(w, "Report written to %s\n", written)
	}
}
