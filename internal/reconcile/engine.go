// Package reconcile merges freshly scraped product batches into persisted state.
//
// Identity across refresh cycles is the business key, never the row id. A batch
// is upserted by key, active rows the batch did not mention are deactivated, and
// rows that stayed inactive past the retention window are purged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bank-products/internal/models"
	"bank-products/internal/storage"

	"github.com/sirupsen/logrus"
)

// DefaultRetentionDays is used when PurgeInactive gets a non-positive window.
const DefaultRetentionDays = 7

// ErrInvalidRecord rejects a batch containing a record without bank or product name.
var ErrInvalidRecord = errors.New("invalid product record")

type Engine struct {
	store         storage.ProductStore
	log           *logrus.Logger
	now           func() time.Time
	retentionDays int

	mu       sync.RWMutex
	lastGood []models.BankProduct
	hasGood  bool
}

type Option func(*Engine)

// WithClock replaces the wall clock used for updated_at and purge cutoffs.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRetentionDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.retentionDays = days
		}
	}
}

func NewEngine(store storage.ProductStore, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		retentionDays: DefaultRetentionDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() storage.ProductStore { return e.store }

func (e *Engine) RetentionDays() int { return e.retentionDays }

// UpsertBatch writes every record by business key in one transaction and returns
// how many records were processed. Duplicate keys in the batch collapse to the
// last occurrence. The caller's slice is not modified.
func (e *Engine) UpsertBatch(ctx context.Context, records []models.BankProduct) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch, err := prepare(records)
	if err != nil {
		return 0, err
	}
	n, err := e.store.UpsertBatch(ctx, batch, e.now())
	if err != nil {
		return 0, err
	}
	e.log.WithFields(logrus.Fields{"records": len(records), "keys": n}).Debug("Upserted product batch")
	return len(records), nil
}

// DeactivateMissing marks every active row whose key is not in keep as inactive.
// An empty keep set deactivates all active rows.
func (e *Engine) DeactivateMissing(ctx context.Context, keep map[string]struct{}) (int, error) {
	return e.store.DeactivateMissing(ctx, keep, nil, e.now())
}

// DeactivateMissingIn is DeactivateMissing limited to rows of the given
// (bank, category) partitions. Rows of other partitions are never touched.
func (e *Engine) DeactivateMissingIn(ctx context.Context, partitions []models.Partition, keep map[string]struct{}) (int, error) {
	if partitions == nil {
		partitions = []models.Partition{}
	}
	return e.store.DeactivateMissing(ctx, keep, partitions, e.now())
}

// RefreshFromScrape upserts a complete batch and deactivates everything it did not
// contain. Callers must pass only successfully produced records.
func (e *Engine) RefreshFromScrape(ctx context.Context, records []models.BankProduct) (upserted, deactivated int, err error) {
	upserted, err = e.UpsertBatch(ctx, records)
	if err != nil {
		return 0, 0, err
	}
	deactivated, err = e.DeactivateMissing(ctx, Keys(records))
	if err != nil {
		return upserted, 0, err
	}
	e.log.WithFields(logrus.Fields{"upserted": upserted, "deactivated": deactivated}).Info("Refreshed products from scrape")
	return upserted, deactivated, nil
}

// PurgeInactive hard-deletes inactive rows not updated for olderThanDays days.
func (e *Engine) PurgeInactive(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = e.retentionDays
	}
	cutoff := e.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := e.store.PurgeInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.WithFields(logrus.Fields{"purged": n, "older_than_days": olderThanDays}).Info("Purged inactive products")
	}
	return n, nil
}

// LoadActive returns active products, most recently collected first, and
// remembers the result as the last known good view.
func (e *Engine) LoadActive(ctx context.Context) ([]models.BankProduct, error) {
	products, err := e.store.LoadActive(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastGood = products
	e.hasGood = true
	e.mu.Unlock()
	return clone(products), nil
}

// LoadActiveOrLast falls back to the last successful LoadActive result when the
// store fails. The error is returned alongside the stale view so callers can log it.
func (e *Engine) LoadActiveOrLast(ctx context.Context) (products []models.BankProduct, stale bool, err error) {
	products, err = e.LoadActive(ctx)
	if err == nil {
		return products, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasGood {
		return nil, false, err
	}
	e.log.WithError(err).Warn("Serving last known good product view")
	return clone(e.lastGood), true, err
}

// FindByKeys returns the persisted rows for the given business keys.
func (e *Engine) FindByKeys(ctx context.Context, keys []string) ([]models.BankProduct, error) {
	return e.store.FindByKeys(ctx, keys)
}

// Keys returns the business keys of records.
func Keys(records []models.BankProduct) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for i := range records {
		keys[records[i].Key()] = struct{}{}
	}
	return keys
}

func prepare(records []models.BankProduct) ([]models.BankProduct, error) {
	index := make(map[string]int, len(records))
	batch := make([]models.BankProduct, 0, len(records))
	for i, rec := range records {
		if strings.TrimSpace(rec.Bank) == "" || strings.TrimSpace(rec.ProductName) == "" {
			return nil, fmt.Errorf("%w: record %d has empty bank or product name", ErrInvalidRecord, i)
		}
		if !rec.Category.Valid() {
			return nil, fmt.Errorf("%w: record %d has unknown category %q", ErrInvalidRecord, i, rec.Category)
		}
		rec.Normalize()
		if pos, seen := index[rec.UniqueKey]; seen {
			batch[pos] = rec
			continue
		}
		index[rec.UniqueKey] = len(batch)
		batch = append(batch, rec)
	}
	return batch, nil
}

func clone(products []models.BankProduct) []models.BankProduct {
	if products == nil {
		return nil
	}
	return append([]models.BankProduct(nil), products...)
}
