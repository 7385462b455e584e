package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stevemurr/list-sync-server/config"
)

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
