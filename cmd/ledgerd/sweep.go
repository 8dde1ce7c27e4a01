package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the late-fee sweep once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.sweeper.RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d assessed=%d failed=%d\n", res.Scanned, res.Assessed, res.Failed)
		return err
	},
}
