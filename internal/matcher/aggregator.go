package matcher

import (
	"context"
	"sort"

	"card-reconciliation-engine/internal/models"

	"github.com/sourcegraph/conc/pool"
)

// Aggregator runs the matcher over the full cross-product of unmatched
// transactions and unmatched expense items. The cross-product is acceptable
// because both sets are bounded to "unmatched in period", not full history.
//
// Scoring is embarrassingly parallel: every pair is scored independently on
// a bounded worker pool, then filtered by the minimum candidate score and
// sorted by descending match score.
type Aggregator struct {
	matcher *Matcher
	config  *Config
}

// NewAggregator creates an aggregator with the given configuration
func NewAggregator(config *Config) *Aggregator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Aggregator{
		matcher: NewMatcher(config),
		config:  config,
	}
}

// Aggregate scores every transaction x expense pair, keeps candidates at or
// above the minimum score, and returns them sorted by score descending.
// Ties are broken by transaction then expense id so the ranking is
// deterministic across runs.
//
// The context bounds the whole batch: cancellation stops scheduling new
// pairs and returns the context error.
func (a *Aggregator) Aggregate(ctx context.Context, transactions []*models.CardTransaction, expenses []*models.ExpenseItem) ([]*models.ExpenseMatch, error) {
	if len(transactions) == 0 || len(expenses) == 0 {
		return []*models.ExpenseMatch{}, nil
	}

	// Each pair writes to its own slot; no shared mutable state.
	results := make([]*models.ExpenseMatch, len(transactions)*len(expenses))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	if a.config.MaxWorkers > 0 {
		p = p.WithMaxGoroutines(a.config.MaxWorkers)
	}

	for i, tx := range transactions {
		i, tx := i, tx
		p.Go(func(ctx context.Context) error {
			for j, expense := range expenses {
				if err := ctx.Err(); err != nil {
					return err
				}
				results[i*len(expenses)+j] = a.matcher.Score(tx, expense)
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]*models.ExpenseMatch, 0, len(results))
	for _, match := range results {
		if match != nil && match.MatchScore >= a.config.MinCandidateScore {
			candidates = append(candidates, match)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MatchScore != candidates[j].MatchScore {
			return candidates[i].MatchScore > candidates[j].MatchScore
		}
		if candidates[i].Transaction.ID != candidates[j].Transaction.ID {
			return candidates[i].Transaction.ID < candidates[j].Transaction.ID
		}
		return candidates[i].Expense.ID < candidates[j].Expense.ID
	})

	return candidates, nil
}
