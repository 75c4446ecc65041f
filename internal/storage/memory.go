package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"bank-products/internal/models"
)

// MemoryStore keeps everything in process memory. It backs the session when
// the database cannot be opened at startup, and mirrors GormStore semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]models.BankProduct // by unique key
	rates    map[string][]models.CurrencyRate
	runs     []models.RefreshRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]models.BankProduct),
		rates:    make(map[string][]models.CurrencyRate),
	}
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, records []models.BankProduct, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		stampForUpsert(&records[i], now)
		rec := records[i]
		if existing, ok := s.products[rec.UniqueKey]; ok {
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
		}
		s.products[rec.UniqueKey] = rec
	}
	return len(records), nil
}

func (s *MemoryStore) DeactivateMissing(ctx context.Context, keep map[string]struct{}, partitions []models.Partition, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	scoped := partitionSet(partitions)
	if scoped != nil && len(scoped) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for key, p := range s.products {
		if !shouldDeactivate(&p, keep, scoped) {
			continue
		}
		p.IsActive = false
		p.UpdatedAt = now
		s.products[key] = p
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, p := range s.products {
		if !p.IsActive && p.UpdatedAt.Before(cutoff) {
			delete(s.products, key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) LoadActive(ctx context.Context) ([]models.BankProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BankProduct, 0, len(s.products))
	for _, p := range s.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.After(out[j].CollectedAt)
		}
		return out[i].UniqueKey < out[j].UniqueKey
	})
	return out, nil
}

func (s *MemoryStore) FindByKeys(ctx context.Context, keys []string) ([]models.BankProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BankProduct, 0, len(keys))
	for _, key := range keys {
		if p, ok := s.products[key]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCurrencyRates(ctx context.Context, day time.Time, rates []models.CurrencyRate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	from := RateDay(day)
	stored := make([]models.CurrencyRate, len(rates))
	for i, r := range rates {
		r.ID = uint(i + 1)
		r.RateDate = from
		stored[i] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[from.Format("2006-01-02")] = stored
	return len(stored), nil
}

func (s *MemoryStore) LoadCurrencyRates(ctx context.Context, day time.Time) ([]models.CurrencyRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.rates[RateDay(day).Format("2006-01-02")]
	out := append([]models.CurrencyRate(nil), stored...)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, run *models.RefreshRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == 0 {
		run.ID = uint(len(s.runs) + 1)
		s.runs = append(s.runs, *run)
		return nil
	}
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryStore) LastRun(ctx context.Context) (*models.RefreshRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, ErrNotFound
	}
	run := s.runs[len(s.runs)-1]
	return &run, nil
}

var (
	_ ProductStore = (*GormStore)(nil)
	_ ProductStore = (*MemoryStore)(nil)
)
