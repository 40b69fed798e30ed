package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newReprocessCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "reprocess [account-id]",
		Short: "Delete transactions and recompute them from raw rows, for one account or every account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newReport("reprocess")
			err := withEngine(cmd.Context(), func(e *engine) error {
				return reprocessAccounts(cmd.Context(), e, providerName, args)
			})
			return r.finish(err)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "restrict reprocessing to one provider's raw rows")
	return cmd
}

// reprocessAccounts implements spec.md scenario S6: deletes an account's
// transactions (raw rows stay intact), rewinds their processed flag back to
// pending, and runs the processor again — expected to reproduce
// bit-identical UniversalTransactions.
func reprocessAccounts(ctx context.Context, e *engine, providerName string, args []string) error {
	accounts, err := accountsFor(ctx, e, args)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if err := e.txs.DeleteByAccount(ctx, acc.ID); err != nil {
			return err
		}
		if err := e.rawData.ResetProcessedForAccount(ctx, acc.ID); err != nil {
			return err
		}
	}
	return processAccounts(ctx, e, providerName, args)
}
