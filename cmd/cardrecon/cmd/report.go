package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"card-reconciliation-engine/internal/engine"
	"card-reconciliation-engine/internal/models"

	"github.com/spf13/cobra"
)

var (
	reportCard   string
	reportFrom   string
	reportTo     string
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the period reconciliation report for a card",
	Long: `Report derives the reconciliation state of a card over the period:
match rate, business/personal/disputed spend, detected issues, and the
overall reconciliation score (0-100).

The report is rebuilt from the period's transactions on every run, so it
always reflects the current link state.

Examples:
  cardrecon report --card card-1 --from 2024-03-01 --to 2024-03-31
  cardrecon report --card card-1 --output-format json`,
	PreRunE: validateReportFlags,
	RunE:    runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportCard, "card", "c", "", "card id (required)")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "period start (YYYY-MM-DD, default 30 days ago)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "period end (YYYY-MM-DD, default today)")
	reportCmd.Flags().StringVarP(&reportFormat, "output-format", "f", "console", "output format: console, json")

	reportCmd.MarkFlagRequired("card")
}

func validateReportFlags(cmd *cobra.Command, args []string) error {
	if reportCard == "" {
		return fmt.Errorf("card is required")
	}
	if reportFormat != "console" && reportFormat != "json" {
		return fmt.Errorf("unknown output format: %s", reportFormat)
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	from, to, err := parsePeriod(reportFrom, reportTo)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := engine.NewService(store, nil, nil).Report(cmd.Context(), reportCard, from, to)
	if err != nil {
		return err
	}

	if reportFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)
	}

	printConsoleReport(rec)
	return nil
}

func printConsoleReport(rec *models.CardReconciliation) {
	fmt.Printf("Reconciliation report for card %s\n", rec.CardID)
	fmt.Printf("Period: %s to %s\n", rec.PeriodStart.Format("2006-01-02"), rec.PeriodEnd.Format("2006-01-02"))
	fmt.Printf("Score:  %d/100\n\n", rec.ReconciliationScore)

	fmt.Printf("Transactions: %d total, %d matched, %d unmatched (%.0f%% match rate)\n",
		rec.TotalTransactions, rec.MatchedTransactions, rec.UnmatchedTransactions, rec.MatchRate()*100)
	fmt.Printf("Spend: business %s, personal %s, disputed %s\n",
		rec.BusinessExpenseTotal.String(), rec.PersonalExpenseTotal.String(), rec.DisputedAmountTotal.String())

	if len(rec.Issues) == 0 {
		fmt.Println("\nNo issues detected")
		return
	}

	fmt.Printf("\nIssues (%d):\n", len(rec.Issues))
	for _, issue := range rec.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Kind, issue.Description)
		if issue.SuggestedAction != "" {
			fmt.Printf("      suggested: %s\n", issue.SuggestedAction)
		}
	}
}
