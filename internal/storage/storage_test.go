package storage

import (
	"context"
	"testing"
	"time"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func testCard() *models.CorporateCard {
	return &models.CorporateCard{
		ID:              "card-1",
		TenantID:        "tenant-1",
		MaskedNumber:    "****-****-****-4242",
		LastFour:        "4242",
		HolderName:      "Ana Souza",
		Network:         "visa",
		CreditLimit:     decimal.NewFromInt(10000),
		AvailableCredit: decimal.NewFromInt(8000),
		Currency:        "BRL",
		Country:         "BR",
		Active:          true,
		Business:        true,
	}
}

func testTransaction(providerTxID string, at time.Time) *models.CardTransaction {
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
		TransactionTime:  at,
	}
}

func testExpense(id string) *models.ExpenseItem {
	return &models.ExpenseItem{
		ID:          id,
		TenantID:    "tenant-1",
		Date:        baseTime,
		Amount:      decimal.RequireFromString("150.00"),
		Currency:    "BRL",
		Vendor:      "Hotel XYZ",
		Category:    "lodging",
		SubmittedBy: "ana@example.com",
		HasReceipt:  true,
	}
}

func TestCardRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			card, err := store.GetCard(ctx, "card-1")
			require.NoError(t, err)
			assert.Equal(t, "Ana Souza", card.HolderName)
			assert.True(t, card.CreditLimit.Equal(decimal.NewFromInt(10000)))

			_, err = store.GetCard(ctx, "missing")
			assert.True(t, errors.HasCode(err, errors.CodeCardNotFound))
		})
	}
}

func TestUpsertTransactionIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			first := testTransaction("prov-1", baseTime)
			created, err := store.UpsertTransaction(ctx, first)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEmpty(t, first.ID)

			// A second import of the same provider record refreshes the
			// feed fields without creating a duplicate.
			second := testTransaction("prov-1", baseTime)
			second.Status = models.StatusDisputed
			created, err = store.UpsertTransaction(ctx, second)
			require.NoError(t, err)
			assert.False(t, created)

			txs, err := store.FindUnmatchedTransactions(ctx, TransactionQuery{TenantID: "tenant-1"})
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.Equal(t, first.ID, txs[0].ID)
			assert.Equal(t, models.StatusDisputed, txs[0].Status)
		})
	}
}

func TestUpsertWritesBackInternalID(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			first := testTransaction("prov-1", baseTime)
			_, err := store.UpsertTransaction(ctx, first)
			require.NoError(t, err)
			require.NotEmpty(t, first.ID)

			// Re-importing through a fresh struct resolves the same internal
			// id, so the caller can link it right away.
			second := testTransaction("prov-1", baseTime)
			created, err := store.UpsertTransaction(ctx, second)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)

			require.NoError(t, store.SaveExpenseItem(ctx, testExpense("exp-1")))
			require.NoError(t, store.LinkTransactionToExpense(ctx, second.ID, "exp-1", LinkMethodAuto))
		})
	}
}

func TestLinkClaimsBothSidesAtMostOnce(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			txA := testTransaction("prov-a", baseTime)
			txB := testTransaction("prov-b", baseTime.Add(time.Hour))
			for _, tx := range []*models.CardTransaction{txA, txB} {
				_, err := store.UpsertTransaction(ctx, tx)
				require.NoError(t, err)
			}
			require.NoError(t, store.SaveExpenseItem(ctx, testExpense("exp-1")))
			require.NoError(t, store.SaveExpenseItem(ctx, testExpense("exp-2")))

			require.NoError(t, store.LinkTransactionToExpense(ctx, txA.ID, "exp-1", LinkMethodAuto))

			// The transaction side is claimed.
			err := store.LinkTransactionToExpense(ctx, txA.ID, "exp-2", LinkMethodAuto)
			assert.True(t, errors.IsLinkConflict(err), "relinking a linked transaction: %v", err)

			// The expense side is claimed too.
			err = store.LinkTransactionToExpense(ctx, txB.ID, "exp-1", LinkMethodAuto)
			assert.True(t, errors.IsLinkConflict(err), "claiming a linked expense: %v", err)

			txs, err := store.FindUnmatchedTransactions(ctx, TransactionQuery{TenantID: "tenant-1"})
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.Equal(t, txB.ID, txs[0].ID)

			items, err := store.FindUnmatchedExpenseItems(ctx, "tenant-1", time.Time{}, time.Time{})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "exp-2", items[0].ID)
		})
	}
}

func TestLinkSurvivesReimport(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			tx := testTransaction("prov-1", baseTime)
			_, err := store.UpsertTransaction(ctx, tx)
			require.NoError(t, err)
			require.NoError(t, store.SaveExpenseItem(ctx, testExpense("exp-1")))
			require.NoError(t, store.LinkTransactionToExpense(ctx, tx.ID, "exp-1", LinkMethodAuto))

			_, err = store.UpsertTransaction(ctx, testTransaction("prov-1", baseTime))
			require.NoError(t, err)

			txs, err := store.FindUnmatchedTransactions(ctx, TransactionQuery{TenantID: "tenant-1"})
			require.NoError(t, err)
			assert.Empty(t, txs, "link state must survive re-import")
		})
	}
}

func TestTransactionQueryScoping(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			times := []time.Time{
				baseTime.AddDate(0, 0, -10),
				baseTime,
				baseTime.AddDate(0, 0, 5),
			}
			for i, at := range times {
				tx := testTransaction("prov-"+string(rune('a'+i)), at)
				_, err := store.UpsertTransaction(ctx, tx)
				require.NoError(t, err)
			}

			txs, err := store.FindUnmatchedTransactions(ctx, TransactionQuery{
				TenantID: "tenant-1",
				From:     baseTime.AddDate(0, 0, -1),
				To:       baseTime.AddDate(0, 0, 1),
			})
			require.NoError(t, err)
			require.Len(t, txs, 1)
			assert.Equal(t, "prov-b", txs[0].ProviderTxID)

			period, err := store.TransactionsInPeriod(ctx, "card-1",
				baseTime.AddDate(0, 0, -15), baseTime.AddDate(0, 0, 15))
			require.NoError(t, err)
			require.Len(t, period, 3)
			assert.Equal(t, "prov-a", period[0].ProviderTxID, "ordered by transaction time")

			recent, err := store.RecentByCard(ctx, "card-1", baseTime.Add(-time.Hour))
			require.NoError(t, err)
			assert.Len(t, recent, 2)
		})
	}
}

func TestTransactionLocationAndMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			tx := testTransaction("prov-1", baseTime)
			tx.Location = &models.Geolocation{Country: "FR", City: "Paris"}
			tx.Metadata = map[string]string{models.MetadataVelocityFlag: "true"}
			_, err := store.UpsertTransaction(ctx, tx)
			require.NoError(t, err)

			txs, err := store.FindUnmatchedTransactions(ctx, TransactionQuery{TenantID: "tenant-1"})
			require.NoError(t, err)
			require.Len(t, txs, 1)
			require.NotNil(t, txs[0].Location)
			assert.Equal(t, "FR", txs[0].Location.Country)
			assert.True(t, txs[0].HasMetadataFlag(models.MetadataVelocityFlag))
		})
	}
}

func TestPendingReviewAndAlertSinks(t *testing.T) {
	ctx := context.Background()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveCard(ctx, testCard()))

			tx := testTransaction("prov-1", baseTime)
			_, err := store.UpsertTransaction(ctx, tx)
			require.NoError(t, err)

			match := &models.ExpenseMatch{
				Transaction:  tx,
				Expense:      testExpense("exp-1"),
				MatchScore:   0.75,
				MatchReasons: []string{"merchant name similarity 0.85"},
				Confidence:   models.ConfidenceMedium,
			}
			require.NoError(t, store.SavePendingReview(ctx, match))

			alert := &models.FraudAlert{
				ID:                "alert-1",
				TransactionID:     tx.ID,
				CardID:            "card-1",
				AlertType:         models.AlertVelocity,
				RiskScore:         85,
				RecommendedAction: models.ActionBlock,
				CreatedAt:         baseTime,
			}
			require.NoError(t, store.SaveAlerts(ctx, []*models.FraudAlert{alert}))
		})
	}
}

func TestMemoryStoreAccessors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := testTransaction("prov-1", baseTime)
	_, err := store.UpsertTransaction(ctx, tx)
	require.NoError(t, err)

	require.NoError(t, store.SavePendingReview(ctx, &models.ExpenseMatch{
		Transaction: tx,
		Expense:     testExpense("exp-1"),
		MatchScore:  0.8,
		Confidence:  models.ConfidenceMedium,
	}))
	require.NoError(t, store.SaveAlerts(ctx, []*models.FraudAlert{{ID: "alert-1"}}))

	assert.Len(t, store.PendingReviews(), 1)
	assert.Len(t, store.Alerts(), 1)
}
