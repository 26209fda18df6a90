// Package storage defines the persistence boundary of the reconciliation
// engine and provides two implementations: an embedded SQLite store and an
// in-memory store for tests and library embedding.
//
// The engine's only shared-state hazard is linking. Both implementations
// make the link claim atomic per entity so the at-most-one-link invariant
// holds under concurrent reconciliation runs; a lost race surfaces as a
// link_conflict error the caller treats as recoverable.
package storage

import (
	"context"
	"time"

	"card-reconciliation-engine/internal/models"
)

// Link methods recorded when a transaction is linked to an expense.
const (
	LinkMethodAuto   = "auto"
	LinkMethodManual = "manual"
)

// TransactionQuery scopes FindUnmatchedTransactions. CardID and the date
// bounds are optional; the zero value means "all unmatched for the tenant".
type TransactionQuery struct {
	TenantID string
	CardID   string
	From     time.Time
	To       time.Time
}

// CardRepository persists corporate cards
type CardRepository interface {
	SaveCard(ctx context.Context, card *models.CorporateCard) error
	GetCard(ctx context.Context, cardID string) (*models.CorporateCard, error)
}

// TransactionRepository persists card transactions and owns the atomic
// link claim.
type TransactionRepository interface {
	// UpsertTransaction inserts or updates by provider transaction id.
	// Returns true when a new record was created.
	UpsertTransaction(ctx context.Context, tx *models.CardTransaction) (bool, error)

	// FindUnmatchedTransactions returns not-yet-linked transactions for
	// the query scope.
	FindUnmatchedTransactions(ctx context.Context, query TransactionQuery) ([]*models.CardTransaction, error)

	// TransactionsInPeriod returns all transactions for a card within
	// [from, to], regardless of link state.
	TransactionsInPeriod(ctx context.Context, cardID string, from, to time.Time) ([]*models.CardTransaction, error)

	// RecentByCard returns transactions on a card since the given time,
	// used by the duplicate-charge fraud check.
	RecentByCard(ctx context.Context, cardID string, since time.Time) ([]*models.CardTransaction, error)

	// LinkTransactionToExpense atomically claims both sides of a link.
	// Returns a link_conflict error when either side is already claimed.
	LinkTransactionToExpense(ctx context.Context, transactionID, expenseItemID, method string) error
}

// ExpenseRepository reads submitted expense claims. The engine never
// mutates claims beyond the matched flag maintained by linking.
type ExpenseRepository interface {
	SaveExpenseItem(ctx context.Context, item *models.ExpenseItem) error
	GetExpenseItem(ctx context.Context, id string) (*models.ExpenseItem, error)
	FindUnmatchedExpenseItems(ctx context.Context, tenantID string, from, to time.Time) ([]*models.ExpenseItem, error)
}

// ReviewQueue persists match suggestions flagged for manual review
type ReviewQueue interface {
	SavePendingReview(ctx context.Context, match *models.ExpenseMatch) error
}

// AlertSink receives fraud alerts for downstream notification workflows
type AlertSink interface {
	SaveAlerts(ctx context.Context, alerts []*models.FraudAlert) error
}

// Store is the full persistence surface used by the engine
type Store interface {
	CardRepository
	TransactionRepository
	ExpenseRepository
	ReviewQueue
	AlertSink
}
