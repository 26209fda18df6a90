package fraud

import (
	"fmt"
	"strings"
	"time"

	"card-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertThreshold is the minimum individual check risk that produces an alert.
const AlertThreshold = 50

// DuplicateWindow is how far apart two transactions with the same amount and
// merchant may be and still be flagged as a suspected duplicate charge.
const DuplicateWindow = 24 * time.Hour

// DefaultActionPolicy maps each alert type to the recommended downstream
// action. The mapping is a configuration concern; this is the shipped default.
var DefaultActionPolicy = map[models.AlertType]models.RecommendedAction{
	models.AlertUnusualAmount:      models.ActionReview,
	models.AlertUnusualLocation:    models.ActionReview,
	models.AlertVelocity:           models.ActionBlock,
	models.AlertMerchantCategory:   models.ActionNotifyUser,
	models.AlertDuplicate:          models.ActionReview,
	models.AlertOfflineTransaction: models.ActionReview,
}

// HighRiskMerchantCategories flag categories where corporate-card fraud is
// disproportionately common.
var HighRiskMerchantCategories = map[string]bool{
	"GAMBLING":    true,
	"CRYPTO":      true,
	"JEWELRY":     true,
	"WIRE_MONEY":  true,
	"PAWN":        true,
	"CASH_ADVANCE": true,
}

// checkResult is the outcome of one independent fraud check
type checkResult struct {
	alertType   models.AlertType
	riskScore   int
	description string
}

// Detector runs the independent fraud check suite over transactions.
type Detector struct {
	policy    map[models.AlertType]models.RecommendedAction
	threshold int
	now       func() time.Time
}

// NewDetector creates a detector with the default action policy
func NewDetector() *Detector {
	return &Detector{
		policy:    DefaultActionPolicy,
		threshold: AlertThreshold,
		now:       time.Now,
	}
}

// WithActionPolicy overrides the recommended-action mapping. Alert types
// missing from the override fall back to the default policy.
func (d *Detector) WithActionPolicy(policy map[models.AlertType]models.RecommendedAction) *Detector {
	merged := make(map[models.AlertType]models.RecommendedAction, len(DefaultActionPolicy))
	for k, v := range DefaultActionPolicy {
		merged[k] = v
	}
	for k, v := range policy {
		merged[k] = v
	}
	d.policy = merged
	return d
}

// EvaluateTransaction runs every fraud check against the transaction and
// returns one alert per check whose risk exceeds the alert threshold. The
// recent slice holds other transactions on the same card used for the
// duplicate-charge check; it may be nil.
func (d *Detector) EvaluateTransaction(tx *models.CardTransaction, card *models.CorporateCard, recent []*models.CardTransaction) []*models.FraudAlert {
	results := []checkResult{
		d.checkUnusualAmount(tx, card),
		d.checkUnusualLocation(tx, card),
		d.checkVelocity(tx),
		d.checkMerchantCategory(tx),
		d.checkDuplicate(tx, recent),
		d.checkOffline(tx),
	}

	var alerts []*models.FraudAlert
	for _, result := range results {
		if result.riskScore <= d.threshold {
			continue
		}

		action, ok := d.policy[result.alertType]
		if !ok {
			action = models.ActionReview
		}

		alerts = append(alerts, &models.FraudAlert{
			ID:                uuid.NewString(),
			TransactionID:     tx.ID,
			CardID:            card.ID,
			AlertType:         result.alertType,
			RiskScore:         result.riskScore,
			Description:       result.description,
			RecommendedAction: action,
			CreatedAt:         d.now().UTC(),
		})
	}

	return alerts
}

func (d *Detector) checkUnusualAmount(tx *models.CardTransaction, card *models.CorporateCard) checkResult {
	result := checkResult{alertType: models.AlertUnusualAmount}
	amount := tx.Amount.Abs()

	switch {
	case amount.GreaterThan(HighAmountThreshold.Mul(decimal.NewFromInt(2))):
		result.riskScore = 80
	case amount.GreaterThan(HighAmountThreshold):
		result.riskScore = 60
	case !card.CreditLimit.IsZero() && amount.GreaterThan(card.CreditLimit.Div(decimal.NewFromInt(2))):
		result.riskScore = 55
	}

	if result.riskScore > 0 {
		result.description = fmt.Sprintf("transaction amount %s %s is unusually high for this card",
			amount.String(), tx.Currency)
	}
	return result
}

func (d *Detector) checkUnusualLocation(tx *models.CardTransaction, card *models.CorporateCard) checkResult {
	result := checkResult{alertType: models.AlertUnusualLocation}

	country := tx.TransactionCountry()
	if country != "" && country != card.Country {
		result.riskScore = 60
		result.description = fmt.Sprintf("transaction in %s, card home country is %s", country, card.Country)
	}
	return result
}

func (d *Detector) checkVelocity(tx *models.CardTransaction) checkResult {
	result := checkResult{alertType: models.AlertVelocity}

	if tx.HasMetadataFlag(models.MetadataVelocityFlag) {
		result.riskScore = 85
		result.description = "provider flagged rapid successive transactions on this card"
	}
	return result
}

func (d *Detector) checkMerchantCategory(tx *models.CardTransaction) checkResult {
	result := checkResult{alertType: models.AlertMerchantCategory}

	category := strings.ToUpper(strings.TrimSpace(tx.MerchantCategory))
	if HighRiskMerchantCategories[category] {
		result.riskScore = 55
		result.description = fmt.Sprintf("merchant category %s is high risk", category)
	}
	return result
}

func (d *Detector) checkDuplicate(tx *models.CardTransaction, recent []*models.CardTransaction) checkResult {
	result := checkResult{alertType: models.AlertDuplicate}

	for _, other := range recent {
		if other.ProviderTxID == tx.ProviderTxID {
			continue
		}
		if !other.Amount.Equal(tx.Amount) {
			continue
		}
		if !strings.EqualFold(other.MerchantName, tx.MerchantName) {
			continue
		}

		gap := tx.TransactionTime.Sub(other.TransactionTime)
		if gap < 0 {
			gap = -gap
		}
		if gap <= DuplicateWindow {
			result.riskScore = 70
			result.description = fmt.Sprintf("same amount and merchant as transaction %s within %s",
				other.ProviderTxID, DuplicateWindow)
			break
		}
	}
	return result
}

func (d *Detector) checkOffline(tx *models.CardTransaction) checkResult {
	result := checkResult{alertType: models.AlertOfflineTransaction}

	if tx.HasMetadataFlag(models.MetadataOfflineFlag) {
		result.riskScore = 55
		result.description = "transaction was authorized offline"
	}
	return result
}
