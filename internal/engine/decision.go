package engine

import (
	"context"

	"card-reconciliation-engine/internal/matcher"
	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/internal/storage"
	"card-reconciliation-engine/pkg/errors"
	"card-reconciliation-engine/pkg/logger"
)

// DecisionEngine walks ranked match candidates and decides each one: link
// automatically, queue for manual review, or drop.
//
// Candidates are consumed greedily in rank order and each transaction and
// each expense participates in at most one decision. The store is the final
// arbiter: a link claim that loses a race surfaces as a link_conflict,
// which drops that candidate and continues with the next one.
type DecisionEngine struct {
	store  storage.Store
	config *matcher.Config
	logger logger.Logger
}

// NewDecisionEngine creates a decision engine with the given configuration
func NewDecisionEngine(store storage.Store, config *matcher.Config) *DecisionEngine {
	if config == nil {
		config = matcher.DefaultConfig()
	}
	return &DecisionEngine{
		store:  store,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("decision_engine"),
	}
}

// DecisionResult summarizes one decision pass
type DecisionResult struct {
	Linked    []*models.ExpenseMatch
	Review    []*models.ExpenseMatch
	Conflicts int
}

// Decide applies the ranked candidates. The slice must be sorted by match
// score descending, as produced by the aggregator.
func (e *DecisionEngine) Decide(ctx context.Context, candidates []*models.ExpenseMatch) (*DecisionResult, error) {
	result := &DecisionResult{}
	claimedTx := make(map[string]bool)
	claimedExpense := make(map[string]bool)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txID := candidate.Transaction.ID
		expenseID := candidate.Expense.ID
		if claimedTx[txID] || claimedExpense[expenseID] {
			continue
		}

		if candidate.MatchScore >= e.config.AutoLinkThreshold && !candidate.RequiresReview {
			err := e.store.LinkTransactionToExpense(ctx, txID, expenseID, storage.LinkMethodAuto)
			if errors.IsLinkConflict(err) {
				// Another run claimed one side first. Drop the candidate;
				// later candidates for the free side still get their turn.
				e.logger.WithFields(logger.Fields{
					"transaction_id": txID,
					"expense_id":     expenseID,
				}).Warn("Link claim lost, dropping candidate")
				result.Conflicts++
				continue
			}
			if err != nil {
				return nil, err
			}

			claimedTx[txID] = true
			claimedExpense[expenseID] = true
			result.Linked = append(result.Linked, candidate)
			continue
		}

		// Below the auto-link threshold, or flagged for review, the best
		// remaining candidate per pair becomes a review suggestion.
		if err := e.store.SavePendingReview(ctx, candidate); err != nil {
			return nil, err
		}
		claimedTx[txID] = true
		claimedExpense[expenseID] = true
		result.Review = append(result.Review, candidate)
	}

	e.logger.WithFields(logger.Fields{
		"candidates": len(candidates),
		"linked":     len(result.Linked),
		"review":     len(result.Review),
		"conflicts":  result.Conflicts,
	}).Info("Completed decision pass")
	return result, nil
}
