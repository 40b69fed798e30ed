package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbelanger/exitbook/internal/model"
)

func newTransactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Inspect persisted transactions",
	}
	cmd.AddCommand(newTransactionsViewCmd())
	return cmd
}

func newTransactionsViewCmd() *cobra.Command {
	var accountID, operation, since, until string
	var excluded bool
	cmd := &cobra.Command{
		Use:   "view",
		Short: "List transactions for an account, with optional filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newReport("transactions view")
			err := withEngine(cmd.Context(), func(e *engine) error {
				n, err := viewTransactions(cmd.Context(), e, viewFilters{
					AccountID: accountID,
					Operation: operation,
					Since:     since,
					Until:     until,
					Excluded:  excluded,
				})
				r.Counts["shown"] = n
				return err
			})
			return r.finish(err)
		},
	}
	cmd.Flags().StringVar(&accountID, "account-id", "", "account to list (required)")
	cmd.Flags().StringVar(&operation, "operation", "", "filter by operation type, e.g. withdrawal")
	cmd.Flags().StringVar(&since, "since", "", "only transactions at or after this RFC3339 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "only transactions before this RFC3339 timestamp")
	cmd.Flags().BoolVar(&excluded, "excluded", false, "list dust/scam-excluded rows for the account instead of transactions")
	_ = cmd.MarkFlagRequired("account-id")
	return cmd
}

type viewFilters struct {
	AccountID string
	Operation string
	Since     string
	Until     string
	Excluded  bool
}

// viewTransactions implements the `transactions view` surface of spec.md
// section 6: list the persisted UniversalTransactions for an account, or
// (with --excluded) the rows internal/filter held back per section 2's C10.
func viewTransactions(ctx context.Context, e *engine, f viewFilters) (int, error) {
	if f.Excluded {
		rows, err := e.excluded.ListByAccount(ctx, f.AccountID)
		if err != nil {
			return 0, err
		}
		for externalID, reason := range rows {
			fmt.Printf("%s\texcluded\t%s\n", externalID, reason)
		}
		return len(rows), nil
	}

	var sinceT, untilT time.Time
	if f.Since != "" {
		t, err := time.Parse(time.RFC3339, f.Since)
		if err != nil {
			return 0, fmt.Errorf("transactions view: invalid --since: %w", err)
		}
		sinceT = t
	}
	if f.Until != "" {
		t, err := time.Parse(time.RFC3339, f.Until)
		if err != nil {
			return 0, fmt.Errorf("transactions view: invalid --until: %w", err)
		}
		untilT = t
	}

	txs, err := e.txs.ListByAccount(ctx, f.AccountID)
	if err != nil {
		return 0, err
	}

	shown := 0
	for _, tx := range txs {
		if f.Operation != "" && tx.Operation.Type != f.Operation {
			continue
		}
		if !sinceT.IsZero() && tx.Datetime.Before(sinceT) {
			continue
		}
		if !untilT.IsZero() && !tx.Datetime.Before(untilT) {
			continue
		}
		printTransaction(tx)
		shown++
	}
	return shown, nil
}

func printTransaction(tx model.UniversalTransaction) {
	fmt.Printf("%s\t%s\t%s/%s\t%s\n", tx.Datetime.Format(time.RFC3339), tx.ExternalID, tx.Operation.Category, tx.Operation.Type, tx.Status)
	for _, m := range tx.Movements.Inflows {
		fmt.Printf("  in  %s %s\n", m.NetAmount.String(), m.Asset.Symbol)
	}
	for _, m := range tx.Movements.Outflows {
		fmt.Printf("  out %s %s\n", m.NetAmount.String(), m.Asset.Symbol)
	}
}
