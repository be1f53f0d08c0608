package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/tickvault/internal/config"
)

const (
	appName = "tickvault"
	version = "v0.4.0"
)

type globalOptions struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "configs/tickvault.yaml", "Path to the YAML configuration")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level override (trace|debug|info|warn|error)")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "Always log JSON, even on a terminal")
}

// load reads the configuration and applies the log level from the file or the flag.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	if err := setLogLevel(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(jsonLogs bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !jsonLogs && term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("app", appName).Logger()
}

func setLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Drain market data streams into durable storage and serve a live order book",
		Version: version,
		Long: `tickvault drains trade and order book streams from an append-only log (Redis Streams
or an embedded Pebble log) into date-partitioned storage in throttled batches, keeping a
short live tail in the log, and maintains a depth-bounded order book with VWAP, spread
and dispersion metrics.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.jsonLogs)
		},
	}
	opts.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newRunCmd(opts),
		newDrainCmd(opts),
		newBookCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
