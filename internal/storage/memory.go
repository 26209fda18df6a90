package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. Linking performs a
// mutex-guarded compare-and-swap over the link flags, giving the same
// at-most-one-link guarantee as the SQLite store.
type MemoryStore struct {
	mu           sync.RWMutex
	cards        map[string]*models.CorporateCard
	transactions map[string]*models.CardTransaction // keyed by internal id
	byProvider   map[string]string                  // cardID+providerTxID -> internal id
	expenses     map[string]*models.ExpenseItem
	claimed      map[string]bool // expense id -> claimed by a link
	reviews      []*models.ExpenseMatch
	alerts       []*models.FraudAlert
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:        make(map[string]*models.CorporateCard),
		transactions: make(map[string]*models.CardTransaction),
		byProvider:   make(map[string]string),
		expenses:     make(map[string]*models.ExpenseItem),
		claimed:      make(map[string]bool),
	}
}

func providerKey(cardID, providerTxID string) string {
	return cardID + "\x00" + providerTxID
}

// SaveCard stores a card
func (s *MemoryStore) SaveCard(_ context.Context, card *models.CorporateCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *card
	s.cards[card.ID] = &copied
	return nil
}

// GetCard returns a card by id
func (s *MemoryStore) GetCard(_ context.Context, cardID string) (*models.CorporateCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[cardID]
	if !ok {
		return nil, errors.CardNotFound(cardID)
	}
	copied := *card
	return &copied, nil
}

// UpsertTransaction inserts or updates by provider transaction id
func (s *MemoryStore) UpsertTransaction(_ context.Context, tx *models.CardTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := providerKey(tx.CardID, tx.ProviderTxID)
	if existingID, ok := s.byProvider[key]; ok {
		existing := s.transactions[existingID]

		// Refresh feed fields and derived annotations; the link state
		// belongs to the reconciliation workflow and survives re-import.
		updated := *tx
		updated.ID = existing.ID
		updated.Linked = existing.Linked
		updated.LinkedExpenseID = existing.LinkedExpenseID
		s.transactions[existing.ID] = &updated
		tx.ID = existing.ID
		return false, nil
	}

	copied := *tx
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	s.transactions[copied.ID] = &copied
	s.byProvider[key] = copied.ID
	tx.ID = copied.ID
	return true, nil
}

// FindUnmatchedTransactions returns not-yet-linked transactions in scope
func (s *MemoryStore) FindUnmatchedTransactions(_ context.Context, query TransactionQuery) ([]*models.CardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.CardTransaction
	for _, tx := range s.transactions {
		if tx.Linked {
			continue
		}
		if query.TenantID != "" && tx.TenantID != query.TenantID {
			continue
		}
		if query.CardID != "" && tx.CardID != query.CardID {
			continue
		}
		if !query.From.IsZero() && tx.TransactionTime.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && tx.TransactionTime.After(query.To) {
			continue
		}
		copied := *tx
		result = append(result, &copied)
	}

	sortTransactions(result)
	return result, nil
}

// TransactionsInPeriod returns all transactions for a card in [from, to]
func (s *MemoryStore) TransactionsInPeriod(_ context.Context, cardID string, from, to time.Time) ([]*models.CardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.CardTransaction
	for _, tx := range s.transactions {
		if tx.CardID != cardID {
			continue
		}
		if tx.TransactionTime.Before(from) || tx.TransactionTime.After(to) {
			continue
		}
		copied := *tx
		result = append(result, &copied)
	}

	sortTransactions(result)
	return result, nil
}

// RecentByCard returns transactions on a card since the given time
func (s *MemoryStore) RecentByCard(_ context.Context, cardID string, since time.Time) ([]*models.CardTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.CardTransaction
	for _, tx := range s.transactions {
		if tx.CardID != cardID || tx.TransactionTime.Before(since) {
			continue
		}
		copied := *tx
		result = append(result, &copied)
	}

	sortTransactions(result)
	return result, nil
}

// LinkTransactionToExpense atomically claims both sides of a link
func (s *MemoryStore) LinkTransactionToExpense(_ context.Context, transactionID, expenseItemID, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return errors.StorageError(errors.CodeNotFound, "link transaction", nil).
			WithContext("transaction_id", transactionID)
	}
	if _, ok := s.expenses[expenseItemID]; !ok {
		return errors.StorageError(errors.CodeNotFound, "link expense", nil).
			WithContext("expense_id", expenseItemID)
	}

	if tx.Linked || s.claimed[expenseItemID] {
		return errors.LinkConflict(transactionID, expenseItemID)
	}

	tx.Linked = true
	tx.LinkedExpenseID = expenseItemID
	s.claimed[expenseItemID] = true
	_ = method // recorded by the SQLite store; the memory store keeps link state only
	return nil
}

// SaveExpenseItem stores an expense claim
func (s *MemoryStore) SaveExpenseItem(_ context.Context, item *models.ExpenseItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *item
	s.expenses[item.ID] = &copied
	return nil
}

// GetExpenseItem returns an expense claim by id
func (s *MemoryStore) GetExpenseItem(_ context.Context, id string) (*models.ExpenseItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.expenses[id]
	if !ok {
		return nil, errors.StorageError(errors.CodeNotFound, "get expense", nil).
			WithContext("expense_id", id)
	}
	copied := *item
	return &copied, nil
}

// FindUnmatchedExpenseItems returns unclaimed expense claims in the window
func (s *MemoryStore) FindUnmatchedExpenseItems(_ context.Context, tenantID string, from, to time.Time) ([]*models.ExpenseItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ExpenseItem
	for _, item := range s.expenses {
		if s.claimed[item.ID] {
			continue
		}
		if tenantID != "" && item.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && item.Date.Before(from) {
			continue
		}
		if !to.IsZero() && item.Date.After(to) {
			continue
		}
		copied := *item
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SavePendingReview queues a match suggestion for manual review
func (s *MemoryStore) SavePendingReview(_ context.Context, match *models.ExpenseMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reviews = append(s.reviews, match)
	return nil
}

// PendingReviews returns queued review suggestions, for tests and embedding
func (s *MemoryStore) PendingReviews() []*models.ExpenseMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*models.ExpenseMatch(nil), s.reviews...)
}

// SaveAlerts records fraud alerts
func (s *MemoryStore) SaveAlerts(_ context.Context, alerts []*models.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, alerts...)
	return nil
}

// Alerts returns recorded fraud alerts, for tests and embedding
func (s *MemoryStore) Alerts() []*models.FraudAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*models.FraudAlert(nil), s.alerts...)
}

func sortTransactions(txs []*models.CardTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].TransactionTime.Equal(txs[j].TransactionTime) {
			return txs[i].TransactionTime.Before(txs[j].TransactionTime)
		}
		return txs[i].ProviderTxID < txs[j].ProviderTxID
	})
}
