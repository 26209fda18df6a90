package cmd

import (
	"context"
	"fmt"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	cardID       string
	cardTenant   string
	cardHolder   string
	cardLastFour string
	cardCurrency string
	cardCountry  string
	cardLimit    string
	cardInactive bool
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage corporate cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a corporate card",
	Long: `Register a corporate card so its transactions can be imported and
reconciled. Adding an existing card id replaces the stored card.`,
	RunE: runCardAdd,
}

func init() {
	rootCmd.AddCommand(cardCmd)
	cardCmd.AddCommand(cardAddCmd)

	cardAddCmd.Flags().StringVar(&cardID, "id", "", "card id (required)")
	cardAddCmd.Flags().StringVar(&cardTenant, "tenant", "", "owning tenant id (required)")
	cardAddCmd.Flags().StringVar(&cardHolder, "holder", "", "cardholder name")
	cardAddCmd.Flags().StringVar(&cardLastFour, "last-four", "", "last four digits (required)")
	cardAddCmd.Flags().StringVar(&cardCurrency, "currency", "", "card currency (required)")
	cardAddCmd.Flags().StringVar(&cardCountry, "country", "", "card home country")
	cardAddCmd.Flags().StringVar(&cardLimit, "limit", "0", "credit limit")
	cardAddCmd.Flags().BoolVar(&cardInactive, "inactive", false, "register the card as inactive")

	cardAddCmd.MarkFlagRequired("id")
	cardAddCmd.MarkFlagRequired("tenant")
	cardAddCmd.MarkFlagRequired("last-four")
	cardAddCmd.MarkFlagRequired("currency")
}

func runCardAdd(cmd *cobra.Command, args []string) error {
	limit, err := models.ParseDecimalFromString(cardLimit)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidAmount, "limit", cardLimit)
	}

	card := &models.CorporateCard{
		ID:              cardID,
		TenantID:        cardTenant,
		MaskedNumber:    "****-****-****-" + cardLastFour,
		LastFour:        cardLastFour,
		HolderName:      cardHolder,
		CreditLimit:     limit,
		AvailableCredit: limit,
		Currency:        cardCurrency,
		Country:         cardCountry,
		Active:          !cardInactive,
		Business:        true,
	}
	if err := card.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidRecord, "invalid card")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveCard(context.Background(), card); err != nil {
		return err
	}

	fmt.Printf("Registered card %s (%s) for tenant %s\n", card.ID, card.MaskedNumber, card.TenantID)
	return nil
}
