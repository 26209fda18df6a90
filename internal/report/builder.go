// Package report derives the period reconciliation report for one card.
//
// The report is always rebuilt from scratch over the period's transactions
// and expense claims, never incrementally updated, so a re-run after more
// links or imports always reflects the current state.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	// StaleUnmatchedAfter is how long a transaction may stay unmatched
	// before it becomes a reconciliation issue.
	StaleUnmatchedAfter = 7 * 24 * time.Hour

	// BusinessClassificationThreshold splits linked spend into business
	// versus personal buckets.
	BusinessClassificationThreshold = 0.7

	// DateMismatchDays is the maximum calendar-day gap between a linked
	// transaction and its expense claim before it is flagged.
	DateMismatchDays = 3

	// issuePenaltyWeight scales the actionable-issue rate in the score.
	issuePenaltyWeight = 20
)

// criticalAmountMismatchRatio is the relative amount difference at which a
// linked-pair mismatch escalates from high to critical.
var criticalAmountMismatchRatio = decimal.RequireFromString("0.10")

// Builder assembles CardReconciliation reports
type Builder struct {
	logger logger.Logger
	now    func() time.Time
}

// NewBuilder creates a report builder
func NewBuilder() *Builder {
	return &Builder{
		logger: logger.GetGlobalLogger().WithComponent("report_builder"),
		now:    time.Now,
	}
}

// WithNow overrides the clock, used to make staleness checks deterministic
func (b *Builder) WithNow(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build derives the reconciliation report for the card over [from, to].
// The transactions slice holds every period transaction regardless of link
// state; expenses holds the period's expense claims plus any claim linked
// from a period transaction.
func (b *Builder) Build(card *models.CorporateCard, from, to time.Time, transactions []*models.CardTransaction, expenses []*models.ExpenseItem) *models.CardReconciliation {
	rec := &models.CardReconciliation{
		CardID:               card.ID,
		TenantID:             card.TenantID,
		PeriodStart:          from,
		PeriodEnd:            to,
		BusinessExpenseTotal: decimal.Zero,
		PersonalExpenseTotal: decimal.Zero,
		DisputedAmountTotal:  decimal.Zero,
		Issues:               []models.ReconciliationIssue{},
	}

	expensesByID := make(map[string]*models.ExpenseItem, len(expenses))
	for _, item := range expenses {
		expensesByID[item.ID] = item
	}

	for _, tx := range transactions {
		rec.TotalTransactions++
		amount := tx.Amount.Abs()

		switch {
		case tx.IsDisputed():
			rec.DisputedAmountTotal = rec.DisputedAmountTotal.Add(amount)
		case tx.ClassificationScore > BusinessClassificationThreshold:
			rec.BusinessExpenseTotal = rec.BusinessExpenseTotal.Add(amount)
		default:
			rec.PersonalExpenseTotal = rec.PersonalExpenseTotal.Add(amount)
		}

		if tx.Linked {
			rec.MatchedTransactions++
			rec.Issues = append(rec.Issues, b.linkedPairIssues(tx, expensesByID[tx.LinkedExpenseID])...)
		} else {
			rec.UnmatchedTransactions++
			if issue, ok := b.staleUnmatchedIssue(tx); ok {
				rec.Issues = append(rec.Issues, issue)
			}
		}
	}

	rec.Issues = append(rec.Issues, b.duplicateExpenseIssues(expenses)...)
	rec.ReconciliationScore = b.score(rec)

	b.logger.WithFields(logger.Fields{
		"card_id": card.ID,
		"total":   rec.TotalTransactions,
		"matched": rec.MatchedTransactions,
		"issues":  len(rec.Issues),
		"score":   rec.ReconciliationScore,
	}).Info("Built reconciliation report")
	return rec
}

// score combines the match rate with a penalty for actionable issues,
// clamped to [0, 100]. An empty period is fully reconciled by definition.
func (b *Builder) score(rec *models.CardReconciliation) int {
	if rec.TotalTransactions == 0 {
		return 100
	}

	actionable := 0
	for _, issue := range rec.Issues {
		if issue.Severity.IsActionable() {
			actionable++
		}
	}

	issueRate := float64(actionable) / float64(rec.TotalTransactions)
	raw := math.Round(rec.MatchRate()*100 - issueRate*issuePenaltyWeight)

	switch {
	case raw < 0:
		return 0
	case raw > 100:
		return 100
	}
	return int(raw)
}

func (b *Builder) staleUnmatchedIssue(tx *models.CardTransaction) (models.ReconciliationIssue, bool) {
	age := b.now().Sub(tx.TransactionTime)
	if age <= StaleUnmatchedAfter {
		return models.ReconciliationIssue{}, false
	}

	return models.ReconciliationIssue{
		Kind:          models.IssueUnmatchedTransaction,
		TransactionID: tx.ID,
		Description: fmt.Sprintf("transaction %s at %s has been unmatched for %d days",
			tx.ProviderTxID, tx.MerchantName, int(age.Hours()/24)),
		SuggestedAction: "ask the cardholder to submit the expense claim",
		Severity:        models.SeverityHigh,
	}, true
}

func (b *Builder) linkedPairIssues(tx *models.CardTransaction, expense *models.ExpenseItem) []models.ReconciliationIssue {
	if expense == nil {
		return nil
	}

	var issues []models.ReconciliationIssue

	txAmount := tx.Amount.Abs()
	expAmount := expense.Amount.Abs()
	if !txAmount.Equal(expAmount) {
		severity := models.SeverityHigh
		base := decimal.Max(txAmount, expAmount)
		if !base.IsZero() && txAmount.Sub(expAmount).Abs().Div(base).GreaterThan(criticalAmountMismatchRatio) {
			severity = models.SeverityCritical
		}
		issues = append(issues, models.ReconciliationIssue{
			Kind:          models.IssueAmountMismatch,
			TransactionID: tx.ID,
			ExpenseID:     expense.ID,
			Description: fmt.Sprintf("transaction amount %s differs from claimed amount %s",
				txAmount.String(), expAmount.String()),
			SuggestedAction: "verify the claim against the card statement",
			Severity:        severity,
		})
	}

	if models.DaysBetween(tx.TransactionTime, expense.Date) > DateMismatchDays {
		issues = append(issues, models.ReconciliationIssue{
			Kind:          models.IssueDateMismatch,
			TransactionID: tx.ID,
			ExpenseID:     expense.ID,
			Description: fmt.Sprintf("transaction date %s is far from claimed date %s",
				tx.TransactionTime.Format("2006-01-02"), expense.Date.Format("2006-01-02")),
			SuggestedAction: "confirm the claim refers to this charge",
			Severity:        models.SeverityMedium,
		})
	}

	if !expense.HasReceipt {
		issues = append(issues, models.ReconciliationIssue{
			Kind:            models.IssueMissingReceipt,
			TransactionID:   tx.ID,
			ExpenseID:       expense.ID,
			Description:     fmt.Sprintf("expense claim %s has no receipt attached", expense.ID),
			SuggestedAction: "request the receipt from the submitter",
			Severity:        models.SeverityLow,
		})
	}

	return issues
}

// duplicateExpenseIssues flags groups of claims with the same vendor,
// amount and calendar date. Every claim beyond the first in a group gets
// an issue.
func (b *Builder) duplicateExpenseIssues(expenses []*models.ExpenseItem) []models.ReconciliationIssue {
	seen := make(map[string]*models.ExpenseItem, len(expenses))
	var issues []models.ReconciliationIssue

	for _, item := range expenses {
		key := strings.ToLower(strings.TrimSpace(item.Vendor)) + "\x00" +
			item.Amount.Abs().String() + "\x00" +
			item.Date.Format("2006-01-02")

		if first, ok := seen[key]; ok {
			issues = append(issues, models.ReconciliationIssue{
				Kind:      models.IssueDuplicateExpense,
				ExpenseID: item.ID,
				Description: fmt.Sprintf("claim %s duplicates claim %s (same vendor, amount and date)",
					item.ID, first.ID),
				SuggestedAction: "reject one of the duplicate claims",
				Severity:        models.SeverityMedium,
			})
			continue
		}
		seen[key] = item
	}

	return issues
}
