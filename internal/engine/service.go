package engine

import (
	"context"
	"time"

	"card-reconciliation-engine/internal/feed"
	"card-reconciliation-engine/internal/matcher"
	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/internal/report"
	"card-reconciliation-engine/internal/storage"
	"card-reconciliation-engine/pkg/errors"
	"card-reconciliation-engine/pkg/logger"
)

// Service is the top-level reconciliation pipeline for one store: import
// provider transactions, score and decide matches, and build period reports.
type Service struct {
	store      storage.Store
	importer   *Importer
	aggregator *matcher.Aggregator
	decision   *DecisionEngine
	reports    *report.Builder
	logger     logger.Logger
}

// NewService assembles the pipeline over the given store and feed source
func NewService(store storage.Store, source feed.Source, config *matcher.Config) *Service {
	if config == nil {
		config = matcher.DefaultConfig()
	}
	return &Service{
		store:      store,
		importer:   NewImporter(store, source),
		aggregator: matcher.NewAggregator(config),
		decision:   NewDecisionEngine(store, config),
		reports:    report.NewBuilder(),
		logger:     logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}
}

// Import pulls the card's provider transactions for the period
func (s *Service) Import(ctx context.Context, cardID string, from, to time.Time) (*ImportResult, error) {
	return s.importer.ImportPeriod(ctx, cardID, from, to)
}

// ReconcileResult summarizes one matching run
type ReconcileResult struct {
	CardID       string
	Transactions int
	Expenses     int
	Candidates   int
	Linked       []*models.ExpenseMatch
	Review       []*models.ExpenseMatch
	Conflicts    int
}

// Reconcile scores the card's unmatched transactions against the tenant's
// unmatched expense claims for the period and applies the ranked decisions.
func (s *Service) Reconcile(ctx context.Context, cardID string, from, to time.Time) (*ReconcileResult, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.store.FindUnmatchedTransactions(ctx, storage.TransactionQuery{
		TenantID: card.TenantID,
		CardID:   card.ID,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, err
	}

	expenses, err := s.store.FindUnmatchedExpenseItems(ctx, card.TenantID, from, to)
	if err != nil {
		return nil, err
	}

	candidates, err := s.aggregator.Aggregate(ctx, transactions, expenses)
	if err != nil {
		return nil, err
	}

	decided, err := s.decision.Decide(ctx, candidates)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		CardID:       card.ID,
		Transactions: len(transactions),
		Expenses:     len(expenses),
		Candidates:   len(candidates),
		Linked:       decided.Linked,
		Review:       decided.Review,
		Conflicts:    decided.Conflicts,
	}

	s.logger.WithFields(logger.Fields{
		"card_id":    card.ID,
		"candidates": result.Candidates,
		"linked":     len(result.Linked),
		"review":     len(result.Review),
	}).Info("Completed reconciliation run")
	return result, nil
}

// Report builds the period reconciliation report for the card
func (s *Service) Report(ctx context.Context, cardID string, from, to time.Time) (*models.CardReconciliation, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.store.TransactionsInPeriod(ctx, card.ID, from, to)
	if err != nil {
		return nil, err
	}

	expenses, err := s.store.FindUnmatchedExpenseItems(ctx, card.TenantID, from, to)
	if err != nil {
		return nil, err
	}

	// Linked claims are no longer "unmatched", so resolve them explicitly
	// for the linked-pair issue checks.
	for _, tx := range transactions {
		if !tx.Linked || tx.LinkedExpenseID == "" {
			continue
		}
		item, err := s.store.GetExpenseItem(ctx, tx.LinkedExpenseID)
		if errors.IsNotFound(err) {
			// A deleted claim leaves a dangling link; the pair checks just
			// skip it.
			s.logger.WithFields(logger.Fields{
				"transaction_id": tx.ID,
				"expense_id":     tx.LinkedExpenseID,
			}).Warn("Linked expense claim no longer exists")
			continue
		}
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, item)
	}

	return s.reports.Build(card, from, to, transactions, expenses), nil
}
