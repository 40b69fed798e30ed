package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jbelanger/exitbook/internal/model"
)

func newProcessCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "process [account-id]",
		Short: "Turn pending raw rows into transactions for one account, or every account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newReport("process")
			err := withEngine(cmd.Context(), func(e *engine) error {
				return processAccounts(cmd.Context(), e, providerName, args)
			})
			return r.finish(err)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "processing profile used to decode each account's pending raw rows (defaults to the account's provider name, or its source name when none is recorded)")
	return cmd
}

// processAccounts runs processor.Process for every account named in args,
// or every account on file when args is empty — the "process [account-id?]"
// surface of spec.md section 6.
func processAccounts(ctx context.Context, e *engine, providerName string, args []string) error {
	accounts, err := accountsFor(ctx, e, args)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		profileName := providerName
		if profileName == "" {
			profileName = acc.ProviderName
			if profileName == "" {
				profileName = acc.SourceName
			}
		}
		if _, err := e.processor.Process(ctx, acc.ID, profileName, acc.Identifier); err != nil {
			return err
		}
	}
	return nil
}

func accountsFor(ctx context.Context, e *engine, args []string) ([]model.Account, error) {
	if len(args) == 1 {
		acc, err := e.accounts.Get(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []model.Account{acc}, nil
	}
	return e.accounts.List(ctx)
}
