// Package cmd implements the costpilot command-line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/store"
)

var (
	flagConfig  string
	flagVerbose bool

	cfg    config.Config
	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:           "costpilot",
	Short:         "AI cost event ingestion and live analytics",
	Long:          "Ingest AI usage events from session logs, CSV exports, or the provider usage API,\nand derive spend analytics, advisories, and forecasts from the event log.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		if flagConfig != "" {
			cfg, err = config.LoadFrom(flagConfig)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.General.LogLevel, flagVerbose)
		return err
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default XDG config dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// newLogger builds the process logger. Verbose wins over the
// configured level.
func newLogger(level string, verbose bool) (*zap.SugaredLogger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.DisableStacktrace = true

	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// openStore is the shared store constructor used by all commands.
func openStore() *store.Store {
	return store.New(cfg, logger)
}

// openCursors opens the ingestion-cursor database.
func openCursors() (*store.Cursors, error) {
	return store.OpenCursors(cfg.General.CursorDB)
}
