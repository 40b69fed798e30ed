package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "exitbook",
		Short: "Personal crypto accounting ingestion and processing engine",
	}

	root.AddCommand(
		newImportCmd(),
		newProcessCmd(),
		newReprocessCmd(),
		newVerifyBalanceCmd(),
		newTransactionsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidArgs)
	}
}

// withEngine builds the engine, runs fn, and always tears it down — the
// shared bracket every subcommand's RunE uses.
func withEngine(ctx context.Context, fn func(*engine) error) error {
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	return fn(e)
}
