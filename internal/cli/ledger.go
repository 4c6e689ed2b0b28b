package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/pmchat/internal/ledger"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/spf13/cobra"
)

var ledgerOutput string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the action ledger",
	Long: `The action ledger records which assistant actions were executed, so a project
or task is never created twice.

Examples:
  pmchat ledger list
  pmchat ledger list 42 -o yaml
  pmchat ledger release 42:create_task:9f2c1a0b7d3e4f51`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list [conversation-id]",
	Short: "List ledger entries, optionally for one conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerList,
}

var ledgerReleaseCmd = &cobra.Command{
	Use:   "release <key>",
	Short: "Release a failed entry so its action is retried",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerRelease,
}

func init() {
	ledgerListCmd.Flags().StringVarP(&ledgerOutput, "output", "o", formatText, "output format (text, yaml)")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerReleaseCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(ledgerOutput); err != nil {
		return err
	}
	ctx := cmd.Context()

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}

	var conversationID string
	if len(args) == 1 {
		conversationID = args[0]
	}
	entries, err := l.Entries(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}

	if ledgerOutput == formatYAML {
		return writeYAML(os.Stdout, entries)
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries found.")
		return nil
	}

	fmt.Printf("Ledger entries (%d):\n\n", len(entries))
	for _, e := range entries {
		fmt.Printf("- %s [%s]", e.Key, e.Status)
		if ref, ok := e.Result(); ok {
			fmt.Printf(" -> %s %s", ref.Kind, ref.ID)
		}
		fmt.Println()
		if e.Error != "" {
			fmt.Printf("  Error: %s\n", e.Error)
		}
		if verbose {
			fmt.Printf("  Created: %s, updated: %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func runLedgerRelease(cmd *cobra.Command, args []string) error {
	key, err := models.ParseLedgerKey(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}

	if err := l.Release(ctx, key); err != nil {
		if errors.Is(err, ledger.ErrNotRemovable) {
			return fmt.Errorf("only failed entries can be released: %w", err)
		}
		return err
	}
	fmt.Printf("Released %s\n", key)
	return nil
}
