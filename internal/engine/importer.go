// Package engine orchestrates the reconciliation pipeline: importing
// provider transactions, scoring candidate matches, and deciding which
// candidates to auto-link or queue for review.
package engine

import (
	"context"
	"time"

	"card-reconciliation-engine/internal/classifier"
	"card-reconciliation-engine/internal/feed"
	"card-reconciliation-engine/internal/fraud"
	"card-reconciliation-engine/internal/storage"
	"card-reconciliation-engine/pkg/errors"
	"card-reconciliation-engine/pkg/logger"
)

// Importer pulls provider transactions into the store. Imports are
// idempotent: re-running the same period refreshes existing records by
// provider transaction id instead of duplicating them.
type Importer struct {
	store    storage.Store
	source   feed.Source
	detector *fraud.Detector
	logger   logger.Logger
	now      func() time.Time
}

// NewImporter creates an importer over the given store and feed source
func NewImporter(store storage.Store, source feed.Source) *Importer {
	return &Importer{
		store:    store,
		source:   source,
		detector: fraud.NewDetector(),
		logger:   logger.GetGlobalLogger().WithComponent("importer"),
		now:      time.Now,
	}
}

// ImportResult summarizes one import run
type ImportResult struct {
	CardID  string
	Fetched int
	Created int
	Updated int
	Alerts  int
	Skipped []*feed.RecordError
}

// ImportPeriod imports the card's transactions for [from, to].
//
// An inactive card is a fatal precondition: nothing is fetched and the run
// fails with a card_inactive error. Malformed feed records are skipped and
// reported in the result; every decoded transaction is annotated with its
// business classification and fraud risk before being upserted.
func (i *Importer) ImportPeriod(ctx context.Context, cardID string, from, to time.Time) (*ImportResult, error) {
	card, err := i.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !card.Active {
		return nil, errors.CardInactive(card.ID)
	}

	log := i.logger.WithFields(logger.Fields{
		"card_id": card.ID,
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
	})
	log.Info("Starting transaction import")

	fetched, err := i.source.FetchTransactions(ctx, card, from, to)
	if err != nil {
		return nil, err
	}

	// Older transactions on the same card feed the duplicate-charge check;
	// the window extends before the period so duplicates across the period
	// boundary are still caught.
	recent, err := i.store.RecentByCard(ctx, card.ID, from.Add(-fraud.DuplicateWindow))
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		CardID:  card.ID,
		Fetched: len(fetched.Transactions),
		Skipped: fetched.Skipped,
	}

	for _, tx := range fetched.Transactions {
		if err := tx.Validate(); err != nil {
			log.WithError(err).WithField("provider_tx_id", tx.ProviderTxID).Warn("Skipping invalid transaction")
			result.Skipped = append(result.Skipped, &feed.RecordError{
				Err: errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidRecord, "transaction failed validation"),
			})
			continue
		}

		tx.ClassificationScore = classifier.ClassifyMerchant(tx.MerchantName)
		tx.FraudScore = fraud.Score(tx, card)

		created, err := i.store.UpsertTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}

		alerts := i.detector.EvaluateTransaction(tx, card, recent)
		if len(alerts) > 0 {
			if err := i.store.SaveAlerts(ctx, alerts); err != nil {
				return nil, err
			}
			result.Alerts += len(alerts)
		}

		// Make this transaction visible to the duplicate check for the
		// rest of the batch.
		recent = append(recent, tx)
	}

	card.LastSyncedAt = i.now().UTC()
	if err := i.store.SaveCard(ctx, card); err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": len(result.Skipped),
		"alerts":  result.Alerts,
	}).Info("Completed transaction import")
	return result, nil
}
