package cbr

import (
	"context"
	"time"

	"bank-products/internal/models"
	"bank-products/internal/storage"

	"github.com/sirupsen/logrus"
)

// Service fetches a day's rates, fills Previous from the prior day and stores
// the day with replace-all semantics.
type Service struct {
	client *Client
	store  storage.ProductStore
	log    *logrus.Logger
}

func NewService(client *Client, store storage.ProductStore, log *logrus.Logger) *Service {
	return &Service{client: client, store: store, log: log}
}

func (s *Service) Refresh(ctx context.Context, date time.Time) ([]models.CurrencyRate, error) {
	rates, err := s.client.Daily(ctx, date)
	if err != nil {
		return nil, err
	}

	previous := s.previous(ctx, date.AddDate(0, 0, -1))
	for i := range rates {
		if prev, ok := previous[rates[i].Code]; ok {
			rates[i].Previous = prev.Value
		}
	}

	if _, err := s.store.SaveCurrencyRates(ctx, date, rates); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"date": date.Format("2006-01-02"), "rates": len(rates)}).Info("Currency rates saved")
	return rates, nil
}

func (s *Service) Load(ctx context.Context, date time.Time) ([]models.CurrencyRate, error) {
	return s.store.LoadCurrencyRates(ctx, date)
}

// previous prefers stored rates and falls back to fetching the prior day.
func (s *Service) previous(ctx context.Context, day time.Time) map[string]models.CurrencyRate {
	rates, err := s.store.LoadCurrencyRates(ctx, day)
	if err != nil || len(rates) == 0 {
		rates, err = s.client.Daily(ctx, day)
		if err != nil {
			s.log.WithError(err).Debug("Previous day rates unavailable")
			return nil
		}
	}
	out := make(map[string]models.CurrencyRate, len(rates))
	for _, r := range rates {
		out[r.Code] = r
	}
	return out
}
