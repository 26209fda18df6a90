// Package fraud implements heuristic fraud risk scoring and per-check fraud
// alert generation for card transactions.
//
// The risk scorer is an additive point model, not a statistical one: each
// independent factor contributes a fixed point value and the sum is capped
// at 100. False positives are expected and acceptable because the output
// feeds a review queue, never an automatic block.
package fraud

import (
	"fmt"
	"time"

	"card-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Risk score bounds.
const (
	MinRiskScore = 0
	MaxRiskScore = 100
)

// Amount thresholds for the additive risk factors, in card currency units.
var (
	HighAmountThreshold     = decimal.NewFromInt(5000)
	ElevatedAmountThreshold = decimal.NewFromInt(1000)
)

// RiskFactor is one independent boolean check contributing fixed points to
// the overall risk score.
type RiskFactor struct {
	Name      string
	Points    int
	Triggered func(tx *models.CardTransaction, card *models.CorporateCard) bool
}

// RiskFactors is the additive point table evaluated by Score. Kept as an
// exported data table so thresholds can be tuned and tested independently
// of the scoring shape.
var RiskFactors = []RiskFactor{
	{
		Name:   "high_amount",
		Points: 20,
		Triggered: func(tx *models.CardTransaction, _ *models.CorporateCard) bool {
			return tx.Amount.Abs().GreaterThan(HighAmountThreshold)
		},
	},
	{
		Name:   "elevated_amount",
		Points: 10,
		Triggered: func(tx *models.CardTransaction, _ *models.CorporateCard) bool {
			amount := tx.Amount.Abs()
			return amount.GreaterThan(ElevatedAmountThreshold) &&
				amount.LessThanOrEqual(HighAmountThreshold)
		},
	},
	{
		Name:   "weekend",
		Points: 15,
		Triggered: func(tx *models.CardTransaction, _ *models.CorporateCard) bool {
			day := tx.TransactionTime.Weekday()
			return day == time.Saturday || day == time.Sunday
		},
	},
	{
		Name:   "unusual_hour",
		Points: 10,
		Triggered: func(tx *models.CardTransaction, _ *models.CorporateCard) bool {
			hour := tx.TransactionTime.Hour()
			return hour < 6 || hour > 23
		},
	},
	{
		Name:   "international",
		Points: 25,
		Triggered: func(tx *models.CardTransaction, card *models.CorporateCard) bool {
			country := tx.TransactionCountry()
			return country != "" && country != card.Country
		},
	},
	{
		Name:   "velocity",
		Points: 30,
		Triggered: func(tx *models.CardTransaction, _ *models.CorporateCard) bool {
			return tx.HasMetadataFlag(models.MetadataVelocityFlag)
		},
	},
}

// Score computes the fraud risk score for a transaction on its owning card.
// The result is always within [0, 100].
func Score(tx *models.CardTransaction, card *models.CorporateCard) int {
	score := 0
	for _, factor := range RiskFactors {
		if factor.Triggered(tx, card) {
			score += factor.Points
		}
	}

	if score > MaxRiskScore {
		return MaxRiskScore
	}
	if score < MinRiskScore {
		return MinRiskScore
	}
	return score
}

// ScoreWithFactors computes the risk score and returns the names of the
// factors that fired, for audit logging.
func ScoreWithFactors(tx *models.CardTransaction, card *models.CorporateCard) (int, []string) {
	score := 0
	var triggered []string

	for _, factor := range RiskFactors {
		if factor.Triggered(tx, card) {
			score += factor.Points
			triggered = append(triggered, factor.Name)
		}
	}

	if score > MaxRiskScore {
		score = MaxRiskScore
	}
	return score, triggered
}

// ValidateFactorTable sanity-checks the point table. Intended for startup
// validation when point values are overridden through configuration.
func ValidateFactorTable(factors []RiskFactor) error {
	seen := make(map[string]bool, len(factors))
	for _, f := range factors {
		if f.Name == "" {
			return fmt.Errorf("risk factor with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate risk factor: %s", f.Name)
		}
		seen[f.Name] = true
		if f.Points <= 0 || f.Points > MaxRiskScore {
			return fmt.Errorf("risk factor %s has invalid points: %d", f.Name, f.Points)
		}
		if f.Triggered == nil {
			return fmt.Errorf("risk factor %s has no trigger condition", f.Name)
		}
	}
	return nil
}
