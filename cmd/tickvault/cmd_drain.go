package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tickvault/internal/app"
)

type drainOutput struct {
	Stream    string `json:"stream"`
	Skipped   bool   `json:"skipped"`
	Length    int64  `json:"length"`
	BatchSize int    `json:"batch_size"`
	Drained   int    `json:"drained"`
	Written   int    `json:"written"`
	Purged    int64  `json:"purged"`
	Missing   int    `json:"missing_fields"`
	Duration  string `json:"duration"`
	Error     string `json:"error,omitempty"`
}

func newDrainCmd(opts *globalOptions) *cobra.Command {
	var (
		stream string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one batch cycle for a stream",
		Long: `Run one batch cycle for a stream and print the result as JSON. The throttle window
starts when the command starts, so without --force only a stream under pressure is drained.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			p, ok := a.Processor(stream)
			if !ok {
				return fmt.Errorf("stream %q is not configured", stream)
			}
			run := p.Tick
			if force {
				run = p.Flush
			}
			res := run(cmd.Context())

			out := drainOutput{
				Stream:    res.Stream,
				Skipped:   res.Skipped,
				Length:    res.Length,
				BatchSize: res.BatchSize,
				Drained:   res.Drained,
				Written:   res.Written,
				Purged:    res.Purged,
				Missing:   res.Missing,
				Duration:  res.Duration.String(),
			}
			if res.Err != nil {
				out.Error = res.Err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return res.Err
		},
	}
	cmd.Flags().StringVarP(&stream, "stream", "s", "", "Stream to drain")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the throttle window")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}
