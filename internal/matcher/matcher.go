package matcher

import (
	"fmt"
	"strings"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/internal/similarity"

	"github.com/shopspring/decimal"
)

// Maximum points per sub-score. The five maxima sum to 100.
const (
	maxDatePoints       = 30
	maxAmountPoints     = 40
	maxMerchantPoints   = 20
	currencyMatchPoints = 5
	categoryMatchPoints = 5
)

// dateTier awards points by calendar-day distance between transaction and
// expense dates.
type dateTier struct {
	MaxDays int
	Points  int
	Reason  string
}

// amountTier awards points by relative amount difference,
// |diff| / max(txAmount, expenseAmount).
type amountTier struct {
	MaxRatio float64
	Points   int
	Reason   string
}

// merchantTier awards points by normalized merchant/vendor similarity.
type merchantTier struct {
	MinSimilarity float64
	Points        int
	Reason        string
}

// The tier tables are exported-shape data, not branch logic, so thresholds
// can be inspected and tested independently of the scoring algorithm.
var (
	dateTiers = []dateTier{
		{MaxDays: 0, Points: maxDatePoints, Reason: "same transaction date"},
		{MaxDays: 1, Points: 25, Reason: "dates within 1 day"},
		{MaxDays: 3, Points: 15, Reason: "dates within 3 days"},
		{MaxDays: 7, Points: 5, Reason: "dates within 7 days"},
	}

	amountTiers = []amountTier{
		{MaxRatio: 0.02, Points: 35, Reason: "amounts within 2%"},
		{MaxRatio: 0.05, Points: 25, Reason: "amounts within 5%"},
		{MaxRatio: 0.10, Points: 10, Reason: "amounts within 10%"},
	}

	merchantTiers = []merchantTier{
		{MinSimilarity: 0.8, Points: maxMerchantPoints, Reason: "merchant names highly similar"},
		{MinSimilarity: 0.6, Points: 15, Reason: "merchant names similar"},
		{MinSimilarity: 0.4, Points: 8, Reason: "merchant names loosely similar"},
	}
)

// Matcher scores a single transaction against a single expense claim.
// Pure and stateless: safe to call concurrently.
type Matcher struct {
	config *Config
}

// NewMatcher creates a matcher with the given configuration
func NewMatcher(config *Config) *Matcher {
	if config == nil {
		config = DefaultConfig()
	}
	return &Matcher{config: config}
}

// Score computes the normalized match score and contributing reasons for
// one transaction / expense pair. Deterministic: identical inputs always
// produce an identical score and identical reason ordering.
func (m *Matcher) Score(tx *models.CardTransaction, expense *models.ExpenseItem) *models.ExpenseMatch {
	points := 0
	var reasons []string

	// Date proximity (max 30)
	if p, reason := m.scoreDate(tx, expense); p > 0 {
		points += p
		reasons = append(reasons, reason)
	}

	// Amount closeness (max 40)
	if p, reason := m.scoreAmount(tx, expense); p > 0 {
		points += p
		reasons = append(reasons, reason)
	}

	// Merchant similarity (max 20)
	if p, reason := m.scoreMerchant(tx, expense); p > 0 {
		points += p
		reasons = append(reasons, reason)
	}

	// Currency match (max 5). A currency mismatch reduces the score but
	// never zeroes the pair.
	if tx.Currency == expense.Currency {
		points += currencyMatchPoints
		reasons = append(reasons, "currency matches")
	}

	// Category match (max 5)
	if m.categoryMatches(tx, expense) {
		points += categoryMatchPoints
		reasons = append(reasons, fmt.Sprintf("expense category %q maps to merchant category %q",
			expense.Category, tx.MerchantCategory))
	}

	score := float64(points) / 100.0
	if score > 1.0 {
		score = 1.0
	}

	return &models.ExpenseMatch{
		Transaction:    tx,
		Expense:        expense,
		MatchScore:     score,
		MatchReasons:   reasons,
		Confidence:     m.confidence(score),
		RequiresReview: score < m.config.HighConfidenceScore,
	}
}

func (m *Matcher) scoreDate(tx *models.CardTransaction, expense *models.ExpenseItem) (int, string) {
	days := models.DaysBetween(tx.TransactionTime, expense.Date)
	for _, tier := range dateTiers {
		if days <= tier.MaxDays {
			return tier.Points, tier.Reason
		}
	}
	return 0, ""
}

func (m *Matcher) scoreAmount(tx *models.CardTransaction, expense *models.ExpenseItem) (int, string) {
	txAmount := tx.Amount.Abs()
	expAmount := expense.Amount.Abs()

	if txAmount.Equal(expAmount) {
		return maxAmountPoints, "exact amount match"
	}

	larger := decimal.Max(txAmount, expAmount)
	if larger.IsZero() {
		return 0, ""
	}

	ratio := txAmount.Sub(expAmount).Abs().Div(larger).InexactFloat64()
	for _, tier := range amountTiers {
		if ratio <= tier.MaxRatio {
			return tier.Points, tier.Reason
		}
	}
	return 0, ""
}

func (m *Matcher) scoreMerchant(tx *models.CardTransaction, expense *models.ExpenseItem) (int, string) {
	sim := similarity.ScoreFold(tx.MerchantName, expense.Vendor)
	for _, tier := range merchantTiers {
		if sim >= tier.MinSimilarity {
			return tier.Points, tier.Reason
		}
	}
	return 0, ""
}

func (m *Matcher) categoryMatches(tx *models.CardTransaction, expense *models.ExpenseItem) bool {
	category := strings.ToLower(strings.TrimSpace(expense.Category))
	merchantCategory := strings.ToUpper(strings.TrimSpace(tx.MerchantCategory))
	if category == "" || merchantCategory == "" {
		return false
	}

	for _, mapped := range m.config.CategoryMappings[category] {
		if mapped == merchantCategory {
			return true
		}
	}
	return false
}

func (m *Matcher) confidence(score float64) models.MatchConfidence {
	switch {
	case score >= m.config.HighConfidenceScore:
		return models.ConfidenceHigh
	case score >= m.config.MediumConfidenceScore:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
