package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var show bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if show {
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d streams, book enabled: %t)\n",
				opts.configPath, len(cfg.Streams), cfg.Book.Enabled)
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&show, "show", false, "Print the effective configuration")
	configCmd.AddCommand(validateCmd)
	return configCmd
}
