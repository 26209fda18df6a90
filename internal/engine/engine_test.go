package engine

import (
	"context"
	"testing"
	"time"

	"card-reconciliation-engine/internal/feed"
	"card-reconciliation-engine/internal/matcher"
	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/internal/storage"
	"card-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodTo   = time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	txTime     = time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
)

// stubSource returns a freshly built fetch result per call so import runs
// never share transaction structs.
type stubSource struct {
	build func() *feed.FetchResult
	err   error
}

func (s *stubSource) FetchTransactions(_ context.Context, _ *models.CorporateCard, _, _ time.Time) (*feed.FetchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.build(), nil
}

func engineCard() *models.CorporateCard {
	return &models.CorporateCard{
		ID:          "card-1",
		TenantID:    "tenant-1",
		LastFour:    "4242",
		HolderName:  "Ana Souza",
		CreditLimit: decimal.NewFromInt(10000),
		Currency:    "BRL",
		Country:     "BR",
		Active:      true,
	}
}

func feedTransaction(providerTxID string) *models.CardTransaction {
	return &models.CardTransaction{
		ProviderTxID:     providerTxID,
		CardID:           "card-1",
		TenantID:         "tenant-1",
		Amount:           decimal.RequireFromString("150.00"),
		Currency:         "BRL",
		MerchantName:     "Hotel XYZ",
		MerchantCategory: "HOTEL",
		Status:           models.StatusPosted,
		Kind:             models.KindPurchase,
		TransactionTime:  txTime,
	}
}

func matchingExpense(id string) *models.ExpenseItem {
	return &models.ExpenseItem{
		ID:          id,
		TenantID:    "tenant-1",
		Date:        txTime,
		Amount:      decimal.RequireFromString("150.00"),
		Currency:    "BRL",
		Vendor:      "Hotel XYZ",
		Category:    "lodging",
		SubmittedBy: "ana@example.com",
		HasReceipt:  true,
	}
}

func TestImportInactiveCardFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	card := engineCard()
	card.Active = false
	require.NoError(t, store.SaveCard(ctx, card))

	importer := NewImporter(store, &stubSource{build: func() *feed.FetchResult {
		return &feed.FetchResult{}
	}})

	_, err := importer.ImportPeriod(ctx, "card-1", periodFrom, periodTo)
	assert.True(t, errors.IsCardInactive(err), "expected card_inactive, got %v", err)
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	source := &stubSource{build: func() *feed.FetchResult {
		return &feed.FetchResult{Transactions: []*models.CardTransaction{
			feedTransaction("prov-1"),
			feedTransaction("prov-2"),
		}}
	}}
	importer := NewImporter(store, source)

	first, err := importer.ImportPeriod(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)

	second, err := importer.ImportPeriod(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)

	txs, err := store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 2, "re-import must not duplicate transactions")
}

func TestImportAnnotatesAndSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	source := &stubSource{build: func() *feed.FetchResult {
		good := feedTransaction("prov-1")
		bad := feedTransaction("prov-2")
		bad.Amount = decimal.Zero

		flagged := feedTransaction("prov-3")
		flagged.Metadata = map[string]string{models.MetadataVelocityFlag: "true"}

		return &feed.FetchResult{Transactions: []*models.CardTransaction{good, bad, flagged}}
	}}
	importer := NewImporter(store, source)

	result, err := importer.ImportPeriod(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Len(t, result.Skipped, 1)
	assert.GreaterOrEqual(t, result.Alerts, 1, "velocity flag should raise an alert")

	txs, err := store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Greater(t, tx.ClassificationScore, 0.0, "classification must be annotated")
	}
	assert.NotEmpty(t, store.Alerts())
}

func TestDecideDoubleClaimPrevented(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	tx1 := feedTransaction("prov-1")
	tx2 := feedTransaction("prov-2")
	for _, tx := range []*models.CardTransaction{tx1, tx2} {
		_, err := store.UpsertTransaction(ctx, tx)
		require.NoError(t, err)
	}
	expense := matchingExpense("exp-1")
	require.NoError(t, store.SaveExpenseItem(ctx, expense))

	// Ranked candidates: both transactions want the same expense.
	candidates := []*models.ExpenseMatch{
		{Transaction: tx1, Expense: expense, MatchScore: 0.97, Confidence: models.ConfidenceHigh},
		{Transaction: tx2, Expense: expense, MatchScore: 0.80, Confidence: models.ConfidenceMedium},
	}

	result, err := NewDecisionEngine(store, nil).Decide(ctx, candidates)
	require.NoError(t, err)

	require.Len(t, result.Linked, 1)
	assert.Equal(t, tx1.ID, result.Linked[0].Transaction.ID)
	assert.Empty(t, result.Review, "the losing candidate's expense is claimed, no review entry")

	txs, err := store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx2.ID, txs[0].ID)
}

func TestDecideConflictDropsAndContinues(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	tx1 := feedTransaction("prov-1")
	tx2 := feedTransaction("prov-2")
	for _, tx := range []*models.CardTransaction{tx1, tx2} {
		_, err := store.UpsertTransaction(ctx, tx)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveExpenseItem(ctx, matchingExpense("exp-1")))
	require.NoError(t, store.SaveExpenseItem(ctx, matchingExpense("exp-2")))

	// A concurrent run already claimed tx1/exp-1.
	require.NoError(t, store.LinkTransactionToExpense(ctx, tx1.ID, "exp-1", storage.LinkMethodManual))

	expense1, err := store.GetExpenseItem(ctx, "exp-1")
	require.NoError(t, err)
	expense2, err := store.GetExpenseItem(ctx, "exp-2")
	require.NoError(t, err)

	candidates := []*models.ExpenseMatch{
		{Transaction: tx1, Expense: expense1, MatchScore: 0.97, Confidence: models.ConfidenceHigh},
		{Transaction: tx2, Expense: expense2, MatchScore: 0.96, Confidence: models.ConfidenceHigh},
	}

	result, err := NewDecisionEngine(store, nil).Decide(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	require.Len(t, result.Linked, 1, "the conflict must not stop later candidates")
	assert.Equal(t, tx2.ID, result.Linked[0].Transaction.ID)
}

func TestDecideQueuesMediumScoresForReview(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	tx := feedTransaction("prov-1")
	_, err := store.UpsertTransaction(ctx, tx)
	require.NoError(t, err)
	expense := matchingExpense("exp-1")
	require.NoError(t, store.SaveExpenseItem(ctx, expense))

	candidates := []*models.ExpenseMatch{
		{Transaction: tx, Expense: expense, MatchScore: 0.80, Confidence: models.ConfidenceMedium, RequiresReview: true},
	}

	result, err := NewDecisionEngine(store, nil).Decide(ctx, candidates)
	require.NoError(t, err)
	assert.Empty(t, result.Linked)
	require.Len(t, result.Review, 1)
	assert.Len(t, store.PendingReviews(), 1)

	// The suggestion does not claim the link in the store.
	txs, err := store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDecideRequiresReviewBlocksAutoLink(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	tx := feedTransaction("prov-1")
	_, err := store.UpsertTransaction(ctx, tx)
	require.NoError(t, err)
	expense := matchingExpense("exp-1")
	require.NoError(t, store.SaveExpenseItem(ctx, expense))

	// A lowered threshold lets medium-confidence scores through on score
	// alone; the review flag still keeps them out of auto-linking.
	config := matcher.DefaultConfig()
	config.AutoLinkThreshold = 0.7
	require.NoError(t, config.Validate())

	candidates := []*models.ExpenseMatch{
		{Transaction: tx, Expense: expense, MatchScore: 0.80, Confidence: models.ConfidenceMedium, RequiresReview: true},
	}

	result, err := NewDecisionEngine(store, config).Decide(ctx, candidates)
	require.NoError(t, err)
	assert.Empty(t, result.Linked, "flagged matches must not auto-link")
	require.Len(t, result.Review, 1)

	txs, err := store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// failingExpenseStore fails every expense lookup with a fixed error.
type failingExpenseStore struct {
	*storage.MemoryStore
	err error
}

func (s *failingExpenseStore) GetExpenseItem(_ context.Context, _ string) (*models.ExpenseItem, error) {
	return nil, s.err
}

func TestReportExpenseLookupFailurePropagates(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.SaveCard(ctx, engineCard()))

	tx := feedTransaction("prov-1")
	_, err := mem.UpsertTransaction(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, mem.SaveExpenseItem(ctx, matchingExpense("exp-1")))
	require.NoError(t, mem.LinkTransactionToExpense(ctx, tx.ID, "exp-1", storage.LinkMethodAuto))

	down := errors.StorageError(errors.CodeStorageUnavailable, "get expense", nil)
	_, err = NewService(&failingExpenseStore{MemoryStore: mem, err: down}, nil, nil).
		Report(ctx, "card-1", periodFrom, periodTo)
	assert.True(t, errors.HasCode(err, errors.CodeStorageUnavailable), "storage failures must propagate: %v", err)

	// A dangling link is skipped, not fatal.
	missing := errors.StorageError(errors.CodeNotFound, "get expense", nil)
	rec, err := NewService(&failingExpenseStore{MemoryStore: mem, err: missing}, nil, nil).
		Report(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MatchedTransactions)
}

func TestServiceReconcileAndReport(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCard(ctx, engineCard()))

	source := &stubSource{build: func() *feed.FetchResult {
		return &feed.FetchResult{Transactions: []*models.CardTransaction{feedTransaction("prov-1")}}
	}}
	service := NewService(store, source, matcher.DefaultConfig())

	_, err := service.Import(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	require.NoError(t, store.SaveExpenseItem(ctx, matchingExpense("exp-1")))

	result, err := service.Reconcile(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	require.Len(t, result.Linked, 1, "an exact match must auto-link")
	assert.Empty(t, result.Review)

	rec, err := service.Report(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalTransactions)
	assert.Equal(t, 1, rec.MatchedTransactions)
	assert.Equal(t, 100, rec.ReconciliationScore)

	// Reconciling again finds nothing left to do.
	again, err := service.Reconcile(ctx, "card-1", periodFrom, periodTo)
	require.NoError(t, err)
	assert.Zero(t, again.Candidates)
}
