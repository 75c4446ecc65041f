// Package storage persists bank products, currency rates and refresh runs.
package storage

import (
	"context"
	"errors"
	"time"

	"bank-products/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// ProductStore is the persistence boundary of the reconciliation engine.
// Every method is one short-lived session; write methods are transactional.
type ProductStore interface {
	// UpsertBatch inserts or overwrites records by unique key in a single transaction.
	// Records must already be normalized. It returns the number of records written.
	UpsertBatch(ctx context.Context, records []models.BankProduct, now time.Time) (int, error)

	// DeactivateMissing flips active rows whose key is not in keep to inactive.
	// A nil partitions slice means every partition.
	DeactivateMissing(ctx context.Context, keep map[string]struct{}, partitions []models.Partition, now time.Time) (int, error)

	// PurgeInactive hard-deletes inactive rows last updated before cutoff.
	PurgeInactive(ctx context.Context, cutoff time.Time) (int, error)

	// LoadActive returns active rows, most recently collected first.
	LoadActive(ctx context.Context) ([]models.BankProduct, error)

	FindByKeys(ctx context.Context, keys []string) ([]models.BankProduct, error)

	// SaveCurrencyRates replaces every rate stored for the calendar day of day.
	SaveCurrencyRates(ctx context.Context, day time.Time, rates []models.CurrencyRate) (int, error)
	LoadCurrencyRates(ctx context.Context, day time.Time) ([]models.CurrencyRate, error)

	SaveRun(ctx context.Context, run *models.RefreshRun) error
	LastRun(ctx context.Context) (*models.RefreshRun, error)
}

// RateDay maps t to UTC midnight of its calendar date.
func RateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func partitionSet(partitions []models.Partition) map[string]struct{} {
	if partitions == nil {
		return nil
	}
	set := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		set[p.String()] = struct{}{}
	}
	return set
}

// shouldDeactivate is shared by both stores so their semantics cannot drift.
func shouldDeactivate(p *models.BankProduct, keep, partitions map[string]struct{}) bool {
	if !p.IsActive {
		return false
	}
	if _, kept := keep[p.UniqueKey]; kept {
		return false
	}
	if partitions != nil {
		if _, scoped := partitions[p.Partition().String()]; !scoped {
			return false
		}
	}
	return true
}

func newID() string { return uuid.NewString() }
