package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tickvault/internal/app"
)

func newBookCmd(opts *globalOptions) *cobra.Command {
	var depth float64
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Rebuild the live book from the newest snapshot and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cfg.Book.Enabled = true
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.Book.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if !changed {
				return errors.New("book stream " + cfg.Book.Stream + " is empty")
			}
			if cmd.Flags().Changed("depth") {
				if err := a.Book.SetDepth(depth); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.Book.View())
		},
	}
	cmd.Flags().Float64Var(&depth, "depth", 0, "Depth band in percent of mid (default from config)")
	return cmd
}
