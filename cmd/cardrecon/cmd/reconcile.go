package cmd

import (
	"fmt"

	"card-reconciliation-engine/internal/engine"

	"github.com/spf13/cobra"
)

var (
	reconcileCard    string
	reconcileFrom    string
	reconcileTo      string
	reconcileStrict  bool
	reconcileRelaxed bool
	autoLinkOverride float64
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match a card's transactions against expense claims",
	Long: `Reconcile scores the card's unmatched transactions against the
tenant's unmatched expense claims for the period. Matches at or above the
auto-link threshold are linked immediately; weaker candidates are queued
for manual review.

Each transaction and each expense claim is linked at most once. When a
concurrent run claims a pair first, the losing candidate is dropped and
reconciliation continues.

Examples:
  cardrecon reconcile --card card-1 --from 2024-03-01 --to 2024-03-31
  cardrecon reconcile --card card-1 --strict
  cardrecon reconcile --card card-1 --auto-link-threshold 0.98`,
	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileCard, "card", "c", "", "card id (required)")
	reconcileCmd.Flags().StringVar(&reconcileFrom, "from", "", "period start (YYYY-MM-DD, default 30 days ago)")
	reconcileCmd.Flags().StringVar(&reconcileTo, "to", "", "period end (YYYY-MM-DD, default today)")
	reconcileCmd.Flags().BoolVar(&reconcileStrict, "strict", false, "only auto-link perfect matches")
	reconcileCmd.Flags().BoolVar(&reconcileRelaxed, "relaxed", false, "keep weaker candidates for review")
	reconcileCmd.Flags().Float64Var(&autoLinkOverride, "auto-link-threshold", 0, "override the auto-link threshold (0-1)")

	reconcileCmd.MarkFlagRequired("card")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if reconcileCard == "" {
		return fmt.Errorf("card is required")
	}
	if reconcileStrict && reconcileRelaxed {
		return fmt.Errorf("strict and relaxed are mutually exclusive")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	from, to, err := parsePeriod(reconcileFrom, reconcileTo)
	if err != nil {
		return err
	}

	config, err := matchingConfig(reconcileStrict, reconcileRelaxed, autoLinkOverride)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := engine.NewService(store, nil, config).Reconcile(cmd.Context(), reconcileCard, from, to)
	if err != nil {
		return err
	}

	fmt.Printf("Reconciled card %s: %d transactions x %d claims, %d candidates\n",
		result.CardID, result.Transactions, result.Expenses, result.Candidates)
	fmt.Printf("  auto-linked: %d\n", len(result.Linked))
	fmt.Printf("  queued for review: %d\n", len(result.Review))
	if result.Conflicts > 0 {
		fmt.Printf("  dropped after link conflicts: %d\n", result.Conflicts)
	}

	for _, match := range result.Linked {
		fmt.Printf("  linked %s -> %s (score %.2f)\n",
			match.Transaction.ProviderTxID, match.Expense.ID, match.MatchScore)
	}
	for _, match := range result.Review {
		fmt.Printf("  review %s -> %s (score %.2f, %s)\n",
			match.Transaction.ProviderTxID, match.Expense.ID, match.MatchScore, match.Confidence)
	}
	return nil
}
