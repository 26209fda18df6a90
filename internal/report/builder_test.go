package report

import (
	"fmt"
	"testing"
	"time"

	"card-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

var (
	periodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	reportNow   = time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)
)

func reportBuilder() *Builder {
	return NewBuilder().WithNow(func() time.Time { return reportNow })
}

func reportCard() *models.CorporateCard {
	return &models.CorporateCard{
		ID:       "card-1",
		TenantID: "tenant-1",
		LastFour: "4242",
		Currency: "BRL",
		Country:  "BR",
		Active:   true,
	}
}

func linkedTx(id, expenseID, amount string, at time.Time) *models.CardTransaction {
	return &models.CardTransaction{
		ID:                  id,
		ProviderTxID:        "prov-" + id,
		CardID:              "card-1",
		TenantID:            "tenant-1",
		Amount:              decimal.RequireFromString(amount),
		Currency:            "BRL",
		MerchantName:        "Hotel XYZ",
		Status:              models.StatusPosted,
		Kind:                models.KindPurchase,
		TransactionTime:     at,
		Linked:              true,
		LinkedExpenseID:     expenseID,
		ClassificationScore: 0.8,
	}
}

func claimFor(id, amount string, at time.Time) *models.ExpenseItem {
	return &models.ExpenseItem{
		ID:         id,
		TenantID:   "tenant-1",
		Date:       at,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "BRL",
		Vendor:     "Hotel XYZ " + id,
		Category:   "lodging",
		HasReceipt: true,
	}
}

// Ten transactions, seven linked, and exactly two critical issues from
// linked-pair amount mismatches: score = 70 - (2/10)*20 = 66.
func TestBuildScoreWithCriticalIssues(t *testing.T) {
	at := periodStart.AddDate(0, 0, 10)

	var txs []*models.CardTransaction
	var expenses []*models.ExpenseItem

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("tx-clean-%d", i)
		expID := fmt.Sprintf("exp-clean-%d", i)
		txs = append(txs, linkedTx(id, expID, "100.00", at))
		expenses = append(expenses, claimFor(expID, "100.00", at))
	}
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("tx-mismatch-%d", i)
		expID := fmt.Sprintf("exp-mismatch-%d", i)
		txs = append(txs, linkedTx(id, expID, "100.00", at))
		// 15% off, above the critical ratio.
		expenses = append(expenses, claimFor(expID, "85.00", at))
	}
	for i := 0; i < 3; i++ {
		tx := linkedTx(fmt.Sprintf("tx-unmatched-%d", i), "", "50.00", reportNow.AddDate(0, 0, -2))
		tx.Linked = false
		tx.LinkedExpenseID = ""
		txs = append(txs, tx)
	}

	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd, txs, expenses)

	if rec.TotalTransactions != 10 || rec.MatchedTransactions != 7 || rec.UnmatchedTransactions != 3 {
		t.Fatalf("counts = %d/%d/%d", rec.TotalTransactions, rec.MatchedTransactions, rec.UnmatchedTransactions)
	}

	critical := 0
	for _, issue := range rec.Issues {
		if issue.Severity == models.SeverityCritical {
			critical++
		}
	}
	if critical != 2 {
		t.Fatalf("expected 2 critical issues, got %d (issues: %+v)", critical, rec.Issues)
	}

	if rec.ReconciliationScore != 66 {
		t.Errorf("score = %d, expected 66", rec.ReconciliationScore)
	}
}

func TestBuildEmptyPeriodIsFullyReconciled(t *testing.T) {
	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd, nil, nil)

	if rec.ReconciliationScore != 100 {
		t.Errorf("empty period score = %d, expected 100", rec.ReconciliationScore)
	}
	if len(rec.Issues) != 0 {
		t.Errorf("empty period should carry no issues: %+v", rec.Issues)
	}
}

func TestBuildScoreClampedAtZero(t *testing.T) {
	// All unmatched and stale: match rate 0 with an actionable issue per
	// transaction pushes the raw score below zero.
	var txs []*models.CardTransaction
	for i := 0; i < 4; i++ {
		tx := linkedTx(fmt.Sprintf("tx-%d", i), "", "50.00", periodStart)
		tx.Linked = false
		tx.LinkedExpenseID = ""
		txs = append(txs, tx)
	}

	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd, txs, nil)

	if rec.ReconciliationScore != 0 {
		t.Errorf("score = %d, expected clamp to 0", rec.ReconciliationScore)
	}
	if len(rec.Issues) != 4 {
		t.Errorf("expected one stale-unmatched issue per transaction, got %d", len(rec.Issues))
	}
}

func TestBuildSpendBuckets(t *testing.T) {
	business := linkedTx("tx-b", "exp-b", "200.00", periodStart.AddDate(0, 0, 5))
	personal := linkedTx("tx-p", "exp-p", "80.00", periodStart.AddDate(0, 0, 6))
	personal.ClassificationScore = 0.3
	disputed := linkedTx("tx-d", "exp-d", "150.00", periodStart.AddDate(0, 0, 7))
	disputed.Status = models.StatusDisputed

	expenses := []*models.ExpenseItem{
		claimFor("exp-b", "200.00", business.TransactionTime),
		claimFor("exp-p", "80.00", personal.TransactionTime),
		claimFor("exp-d", "150.00", disputed.TransactionTime),
	}

	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd,
		[]*models.CardTransaction{business, personal, disputed}, expenses)

	if !rec.BusinessExpenseTotal.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("business total = %s", rec.BusinessExpenseTotal)
	}
	if !rec.PersonalExpenseTotal.Equal(decimal.RequireFromString("80.00")) {
		t.Errorf("personal total = %s", rec.PersonalExpenseTotal)
	}
	if !rec.DisputedAmountTotal.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("disputed total = %s", rec.DisputedAmountTotal)
	}
}

func TestBuildLinkedPairIssues(t *testing.T) {
	at := periodStart.AddDate(0, 0, 10)

	tx := linkedTx("tx-1", "exp-1", "100.00", at)
	claim := claimFor("exp-1", "100.00", at.AddDate(0, 0, 5))
	claim.HasReceipt = false

	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd,
		[]*models.CardTransaction{tx}, []*models.ExpenseItem{claim})

	kinds := make(map[models.IssueKind]models.IssueSeverity)
	for _, issue := range rec.Issues {
		kinds[issue.Kind] = issue.Severity
	}
	if kinds[models.IssueDateMismatch] != models.SeverityMedium {
		t.Errorf("expected a medium date mismatch, got %+v", rec.Issues)
	}
	if kinds[models.IssueMissingReceipt] != models.SeverityLow {
		t.Errorf("expected a low missing receipt issue, got %+v", rec.Issues)
	}
	if _, ok := kinds[models.IssueAmountMismatch]; ok {
		t.Errorf("equal amounts must not produce a mismatch issue")
	}
}

func TestBuildDuplicateExpenses(t *testing.T) {
	at := periodStart.AddDate(0, 0, 10)

	first := claimFor("exp-1", "100.00", at)
	second := claimFor("exp-2", "100.00", at)
	second.Vendor = first.Vendor
	other := claimFor("exp-3", "100.00", at.AddDate(0, 0, 1))
	other.Vendor = first.Vendor

	rec := reportBuilder().Build(reportCard(), periodStart, periodEnd, nil,
		[]*models.ExpenseItem{first, second, other})

	if len(rec.Issues) != 1 {
		t.Fatalf("expected exactly one duplicate issue, got %+v", rec.Issues)
	}
	issue := rec.Issues[0]
	if issue.Kind != models.IssueDuplicateExpense || issue.ExpenseID != "exp-2" {
		t.Errorf("unexpected issue: %+v", issue)
	}
}

func TestBuildAmountMismatchSeverity(t *testing.T) {
	at := periodStart.AddDate(0, 0, 10)

	tests := []struct {
		name     string
		claimAmt string
		severity models.IssueSeverity
	}{
		{"small difference stays high", "95.00", models.SeverityHigh},
		{"large difference escalates", "80.00", models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := linkedTx("tx-1", "exp-1", "100.00", at)
			claim := claimFor("exp-1", tt.claimAmt, at)

			rec := reportBuilder().Build(reportCard(), periodStart, periodEnd,
				[]*models.CardTransaction{tx}, []*models.ExpenseItem{claim})

			if len(rec.Issues) != 1 || rec.Issues[0].Severity != tt.severity {
				t.Errorf("issues = %+v, expected one %s amount mismatch", rec.Issues, tt.severity)
			}
		})
	}
}
