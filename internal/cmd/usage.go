package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyupark/freegpt/internal/ledger/sqlite"
)

var usageLimit int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token totals and recent requests from the usage ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalCfg.LedgerPath == "" {
			return errors.New("usage ledger is disabled; set ledger_path to enable it")
		}
		store, err := sqlite.New(globalCfg.LedgerPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		sum, err := store.Summary(ctx)
		if err != nil {
			return fmt.Errorf("reading summary: %w", err)
		}
		recent, err := store.ListRecent(ctx, usageLimit)
		if err != nil {
			return fmt.Errorf("listing entries: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "requests: %d  prompt: %d  completion: %d  total: %d\n\n",
			sum.Requests, sum.PromptTokens, sum.CompletionTokens, sum.TotalTokens)
		if len(recent) == 0 {
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tREQUEST\tMODE\tPROMPT\tCOMPLETION\tFINISH")
		for _, e := range recent {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
				e.CreatedAt.Local().Format(time.DateTime), e.RequestID, e.Mode,
				e.PromptTokens, e.CompletionTokens, e.FinishReason)
		}
		return tw.Flush()
	},
}

func init() {
	usageCmd.Flags().IntVarP(&usageLimit, "limit", "n", 20, "Number of recent requests to list")
	rootCmd.AddCommand(usageCmd)
}
