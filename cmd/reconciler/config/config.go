// Package config loads the engine configuration from defaults, a config
// file, RECONCILER_* environment variables and bound command-line flags,
// and builds the parser and report settings used by the CLI.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/parsers"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/reporter"
	"ledger-reconciliation-service/pkg/errors"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RECONCILER_MIN_CONFIDENCE
// or RECONCILER_EMBEDDER_BACKEND.
const EnvPrefix = "RECONCILER"

// FormatAuto asks the parser to detect the column layout from the header row.
const FormatAuto = "auto"

// Load resolves the engine configuration from v. Keys missing from every
// source keep the values of reconciler.DefaultConfig.
func Load(v *viper.Viper) (*reconciler.Config, error) {
	cfg := reconciler.DefaultConfig()
	SetDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err).
			WithSuggestion("Check value types in the config file and RECONCILER_* variables")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	return cfg, nil
}

// SetDefaults registers every engine key with v. Registration is also what
// lets AutomaticEnv find nested keys during Unmarshal.
func SetDefaults(v *viper.Viper, cfg *reconciler.Config) {
	defaults := map[string]interface{}{
		"amount_tolerance":         cfg.AmountTolerance.String(),
		"date_window_days":         cfg.DateWindowDays,
		"rule_weights.amount":      cfg.RuleWeights.Amount,
		"rule_weights.date":        cfg.RuleWeights.Date,
		"rule_weight":              cfg.RuleWeight,
		"semantic_weight":          cfg.SemanticWeight,
		"exact_rule_weight":        cfg.ExactRuleWeight,
		"min_confidence":           cfg.MinConfidence,
		"top_k":                    cfg.TopK,
		"workers":                  cfg.Workers,
		"enable_llm":               cfg.EnableLLM,
		"min_severity_for_tickets": cfg.MinSeverityForTickets.String(),
		"strategy":                 string(cfg.Strategy),
		"max_component_size":       cfg.MaxComponentSize,

		"severity.amount_absolute_critical":  cfg.Severity.AmountAbsoluteCritical,
		"severity.amount_tight_tolerance":    cfg.Severity.AmountTightTolerance.String(),
		"severity.date_tight_tolerance_days": cfg.Severity.DateTightToleranceDays,
		"severity.duplicate_margin":          cfg.Severity.DuplicateMargin,
		"severity.duplicate_similarity":      cfg.Severity.DuplicateSimilarity,

		"embedder.backend":    cfg.Embedder.Backend,
		"embedder.dimensions": cfg.Embedder.Dimensions,
		"embedder.model":      cfg.Embedder.Model,
		"embedder.api_key":    cfg.Embedder.APIKey,
		"embedder.batch_size": cfg.Embedder.BatchSize,
		"embedder.cache_path": cfg.Embedder.CachePath,

		"explain.timeout":           cfg.Explain.Timeout,
		"explain.max_concurrency":   cfg.Explain.MaxConcurrency,
		"explain.max_snippet_len":   cfg.Explain.MaxSnippetLen,
		"explain.model":             cfg.Explain.Model,
		"explain.api_key":           cfg.Explain.APIKey,
		"explain.max_output_tokens": cfg.Explain.MaxOutputTokens,
	}

	breakpoints := map[string]struct{ medium, high, critical float64 }{
		"severity.missing":      {cfg.Severity.Missing.Medium, cfg.Severity.Missing.High, cfg.Severity.Missing.Critical},
		"severity.amount_ratio": {cfg.Severity.AmountRatio.Medium, cfg.Severity.AmountRatio.High, cfg.Severity.AmountRatio.Critical},
		"severity.days":         {cfg.Severity.Days.Medium, cfg.Severity.Days.High, cfg.Severity.Days.Critical},
	}
	for prefix, b := range breakpoints {
		defaults[prefix+".medium"] = b.medium
		defaults[prefix+".high"] = b.high
		defaults[prefix+".critical"] = b.critical
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// DecodeHook converts config strings and numbers into durations, decimals
// and severities.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		numberToDecimalHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// numberToDecimalHook accepts bare YAML/JSON numbers for decimal fields
func numberToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch n := data.(type) {
		case float64:
			return decimal.NewFromFloat(n), nil
		case float32:
			return decimal.NewFromFloat32(n), nil
		case int:
			return decimal.NewFromInt(int64(n)), nil
		case int64:
			return decimal.NewFromInt(n), nil
		}
		return data, nil
	}
}

// ResolveFormat maps a --bank-format/--ledger-format value onto a parser
// format. "auto" and the empty string select header detection.
func ResolveFormat(name string) (*parsers.FormatConfig, error) {
	if name == "" || strings.EqualFold(name, FormatAuto) {
		return nil, nil
	}
	if format := parsers.GetFormat(name); format != nil {
		return format, nil
	}

	names := []string{FormatAuto}
	for _, f := range parsers.ListFormats() {
		names = append(names, f.Name)
	}
	return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", name,
		fmt.Errorf("unknown input format %q", name)).
		WithSuggestion("Use one of: " + strings.Join(names, ", "))
}

// CreateStreamingConfig returns the parser settings for CLI runs
func CreateStreamingConfig(continueOnError bool) *parsers.StreamingConfig {
	stream := parsers.DefaultStreamingConfig()
	stream.ContinueOnError = continueOnError
	return stream
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, cfg *reconciler.Config) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.MinTicketSeverity = cfg.MinSeverityForTickets

	switch config.Format {
	case reporter.FormatConsole:
		config.UseColors = true
	case reporter.FormatJSON, reporter.FormatYAML, reporter.FormatCSV:
		config.UseColors = false
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", format,
			fmt.Errorf("invalid output format %q", format)).
			WithSuggestion("Valid formats: console, json, yaml, csv")
	}

	return config, nil
}

// SeverityNames lists the accepted severity values for flag help
func SeverityNames() string {
	names := make([]string, 0, 4)
	for s := models.SeverityLow; s <= models.SeverityCritical; s++ {
		names = append(names, s.String())
	}
	return strings.Join(names, "|")
}
