package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bank-products/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// chunkSize bounds IN lists and insert batches below the SQLite variable limit.
const chunkSize = 500

// GormStore is the relational ProductStore for MySQL, PostgreSQL and SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) UpsertBatch(ctx context.Context, records []models.BankProduct, now time.Time) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		stampForUpsert(&records[i], now)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unique_key"}},
			DoUpdates: clause.AssignmentColumns(models.MutableColumns),
		}).CreateInBatches(&records, chunkSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d products: %w", len(records), err)
	}
	return len(records), nil
}

func (s *GormStore) DeactivateMissing(ctx context.Context, keep map[string]struct{}, partitions []models.Partition, now time.Time) (int, error) {
	scoped := partitionSet(partitions)
	if scoped != nil && len(scoped) == 0 {
		return 0, nil
	}

	changed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []models.BankProduct
		if err := tx.Select("id", "bank", "category", "unique_key", "is_active").
			Where("is_active = ?", true).
			Find(&active).Error; err != nil {
			return err
		}

		var ids []string
		for i := range active {
			if shouldDeactivate(&active[i], keep, scoped) {
				ids = append(ids, active[i].ID)
			}
		}

		for start := 0; start < len(ids); start += chunkSize {
			end := start + chunkSize
			if end > len(ids) {
				end = len(ids)
			}
			res := tx.Model(&models.BankProduct{}).
				Where("id IN ? AND is_active = ?", ids[start:end], true).
				UpdateColumns(map[string]interface{}{"is_active": false, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			changed += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate missing products: %w", err)
	}
	return changed, nil
}

func (s *GormStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", false, cutoff).
		Delete(&models.BankProduct{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge inactive products: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) LoadActive(ctx context.Context) ([]models.BankProduct, error) {
	var products []models.BankProduct
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("collected_at DESC").
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("load active products: %w", err)
	}
	return products, nil
}

func (s *GormStore) FindByKeys(ctx context.Context, keys []string) ([]models.BankProduct, error) {
	var out []models.BankProduct
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		var part []models.BankProduct
		if err := s.db.WithContext(ctx).Where("unique_key IN ?", keys[start:end]).Find(&part).Error; err != nil {
			return nil, fmt.Errorf("find products by key: %w", err)
		}
		out = append(out, part...)
	}
	return out, nil
}

func (s *GormStore) SaveCurrencyRates(ctx context.Context, day time.Time, rates []models.CurrencyRate) (int, error) {
	from := RateDay(day)
	to := from.AddDate(0, 0, 1)
	for i := range rates {
		rates[i].ID = 0
		rates[i].RateDate = from
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rate_date >= ? AND rate_date < ?", from, to).
			Delete(&models.CurrencyRate{}).Error; err != nil {
			return err
		}
		if len(rates) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rates, chunkSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("save currency rates for %s: %w", from.Format("2006-01-02"), err)
	}
	return len(rates), nil
}

func (s *GormStore) LoadCurrencyRates(ctx context.Context, day time.Time) ([]models.CurrencyRate, error) {
	from := RateDay(day)
	var rates []models.CurrencyRate
	if err := s.db.WithContext(ctx).
		Where("rate_date >= ? AND rate_date < ?", from, from.AddDate(0, 0, 1)).
		Order("code").
		Find(&rates).Error; err != nil {
		return nil, fmt.Errorf("load currency rates: %w", err)
	}
	return rates, nil
}

func (s *GormStore) SaveRun(ctx context.Context, run *models.RefreshRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("save refresh run: %w", err)
	}
	return nil
}

func (s *GormStore) LastRun(ctx context.Context) (*models.RefreshRun, error) {
	var run models.RefreshRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load last refresh run: %w", err)
	}
	return &run, nil
}

// stampForUpsert sets the fields an upsert always writes. Every record gets a
// fresh id, which only lands on insert; on conflict the stored id and
// created_at are kept. Caller-supplied ids and creation times are ignored.
func stampForUpsert(p *models.BankProduct, now time.Time) {
	p.Normalize()
	p.ID = newID()
	p.IsActive = true
	p.UpdatedAt = now
	p.CreatedAt = now
	if p.CollectedAt.IsZero() {
		p.CollectedAt = now
	}
}
