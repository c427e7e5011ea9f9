package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli holds the state shared by every command of one invocation
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	log     logger.Logger
}

// NewRootCmd builds the command tree around a fresh viper instance
func NewRootCmd() *cobra.Command {
	rootCmd, _ := newRootCmd()
	return rootCmd
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{v: viper.New(), log: logger.Discard()}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Bank statement and ledger reconciliation tool",
		Long: `Reconciler pairs bank statement records with internal ledger records,
classifies everything that does not pair cleanly, and optionally asks an
LLM to explain each discrepancy.

Examples:
  reconciler reconcile --bank-file bank.csv --ledger-file ledger.csv
  reconciler reconcile -b bank.csv -l ledger.json --format json -o report.json
  reconciler --config reconciler.yaml reconcile -b bank.csv -l ledger.csv --enable-llm
  reconciler cache purge --cache-path embeddings.db
  reconciler version`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-format", string(logger.TextFormat), "log format: text or json")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")

	c.v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	c.v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	c.v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(newReconcileCmd(c), newCacheCmd(c), newVersionCmd())
	return rootCmd, c
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, c := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	return NewCLIErrorHandler(os.Stderr, c.v.GetBool("verbose")).HandleError(err)
}

// initConfig reads the config file if one was given and sets up logging
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", c.cfgFile, err).
				WithSuggestion("Check that the config file exists and is valid YAML, JSON or TOML")
		}
	}

	log, err := c.newLogger()
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err)
	}
	c.log = log
	logger.SetGlobalLogger(log)

	if c.v.ConfigFileUsed() != "" {
		c.log.WithField("file", c.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// newLogger builds the process logger. Without --verbose only warnings and
// errors are logged so that stderr stays readable next to the report.
func (c *cli) newLogger() (logger.Logger, error) {
	config := logger.DefaultConfig()
	config.Level = logger.WarnLevel
	if c.v.GetBool("verbose") {
		config = logger.DebugConfig()
	}

	if level := c.v.GetString("log.level"); level != "" {
		config.Level = logger.Level(level)
	}
	config.Format = logger.Format(c.v.GetString("log.format"))
	config.File = c.v.GetString("log.file")
	if config.File != "" {
		config.Output = logger.FileOutput
	}
	return logger.NewLogger(config)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) error {
	_, err := fmt.Fprintf(w, "reconciler %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
	return err
}
