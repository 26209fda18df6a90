// Package feed abstracts card-provider transaction feeds. A Source delivers
// the raw transactions for one card over a period; malformed records are
// skipped and reported per record so one bad row never fails a whole import.
package feed

import (
	"context"
	"fmt"
	"time"

	"card-reconciliation-engine/internal/models"
)

// Source delivers provider transactions for a card over a period
type Source interface {
	FetchTransactions(ctx context.Context, card *models.CorporateCard, from, to time.Time) (*FetchResult, error)
}

// FetchResult is the outcome of one feed fetch. Transactions holds every
// successfully decoded record inside the requested window; Skipped carries
// one entry per malformed record.
type FetchResult struct {
	Transactions []*models.CardTransaction
	Skipped      []*RecordError
}

// RecordError describes one malformed feed record
type RecordError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *RecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("record at line %d, field %s=%q: %v", e.Line, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("record at line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
