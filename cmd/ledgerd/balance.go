package main

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/resident-ledger/ledger"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().Bool("json", false, "Print the full state as JSON")
}

var balanceCmd = &cobra.Command{
	Use:   "balance RESIDENT_ID",
	Short: "Print a resident's rebuilt balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.ledger.RebuildState(cmd.Context(), ledger.AccountID(args[0]))
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Resident: %s\n", args[0])
	fmt.Fprintf(out, "Version:  %d\n", state.Version)
	fmt.Fprintf(out, "Balance:  %s %s\n", decimal.New(state.Balance, -2).StringFixed(2), cfg.Currency)
	for _, item := range state.OutstandingItems {
		fmt.Fprintf(out, "  v%-6d %-10s %12s  %s\n",
			item.Version, item.ChargeType, decimal.New(item.Amount, -2).StringFixed(2), item.PostedAt.Format("2006-01-02"))
	}
	return nil
}
