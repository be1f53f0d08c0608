package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tickvault/internal/app"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stream drain, the live book and the HTTP monitor",
		Long:  "Run the scheduler and the monitor until SIGINT or SIGTERM is received",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Close")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Int("streams", len(a.Processors)).
				Bool("book", a.Book != nil).
				Str("log", cfg.Log.Backend).
				Str("sink", cfg.Sink.Type).
				Msg("tickvault starting")
			return a.Run(ctx)
		},
	}
}

