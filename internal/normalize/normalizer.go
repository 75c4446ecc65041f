package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-products/internal/models"
	"bank-products/internal/scraper"

	"github.com/sirupsen/logrus"
)

// Completer is the chat completion capability the Normalizer needs.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Outcome is the result for one raw item. A non-nil Err marks the item as
// failed: Record is then empty and must not be persisted.
type Outcome struct {
	Item   scraper.RawItem
	Record models.BankProduct
	Err    error
}

func (o Outcome) Failed() bool { return o.Err != nil }

type Normalizer struct {
	gateway Completer
	log     *logrus.Logger
	now     func() time.Time
}

func NewNormalizer(gateway Completer, log *logrus.Logger) *Normalizer {
	return &Normalizer{gateway: gateway, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize converts items one completion at a time. Per-item failures are
// reported in the Outcome; ErrUnavailable aborts the whole batch.
func (n *Normalizer) Normalize(ctx context.Context, bank string, category models.Category, items []scraper.RawItem) ([]Outcome, error) {
	out := make([]Outcome, 0, len(items))
	for _, item := range items {
		content, err := n.gateway.Complete(ctx, buildPrompt(bank, category, item))
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{"bank": bank, "title": item.Title}).Warn("Normalization failed for item")
			out = append(out, Outcome{Item: item, Err: err})
			continue
		}

		rec, err := decodeRecord(content, bank, category, item, n.now())
		if err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{"bank": bank, "title": item.Title}).Warn("Malformed normalization reply")
			out = append(out, Outcome{Item: item, Err: err})
			continue
		}
		out = append(out, Outcome{Item: item, Record: rec})
	}
	return out, nil
}

const systemPrompt = `Ты извлекаешь параметры банковского продукта из текста карточки на сайте банка.
Ответь только JSON-объектом без пояснений по схеме:
{"product_name": string, "rate_min": number|null, "rate_max": number|null,
 "amount_min": number|null, "amount_max": number|null, "term": string,
 "currency": "RUB"|"USD"|"EUR"|"CNY", "grace_period": string, "cashback": string, "commission": string}
Ставки в процентах годовых, суммы в единицах валюты. Если значение не указано, используй null или пустую строку.`

func buildPrompt(bank string, category models.Category, item scraper.RawItem) []Message {
	user := fmt.Sprintf("Банк: %s\nКатегория: %s\n\n%s", bank, category, item.Text())
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

type normalizedFields struct {
	ProductName string   `json:"product_name"`
	RateMin     *float64 `json:"rate_min"`
	RateMax     *float64 `json:"rate_max"`
	AmountMin   *float64 `json:"amount_min"`
	AmountMax   *float64 `json:"amount_max"`
	Term        string   `json:"term"`
	Currency    string   `json:"currency"`
	GracePeriod string   `json:"grace_period"`
	Cashback    string   `json:"cashback"`
	Commission  string   `json:"commission"`
}

// decodeRecord parses a reply that may wrap the JSON object in prose or a
// markdown fence. The scraped title stays the product name so that business
// keys do not drift with the model's wording.
func decodeRecord(content, bank string, category models.Category, item scraper.RawItem, now time.Time) (models.BankProduct, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return models.BankProduct{}, errors.New("reply contains no JSON object")
	}

	var f normalizedFields
	if err := json.Unmarshal([]byte(content[start:end+1]), &f); err != nil {
		return models.BankProduct{}, fmt.Errorf("decode reply: %w", err)
	}

	name := strings.TrimSpace(item.Title)
	if name == "" {
		name = strings.TrimSpace(f.ProductName)
	}
	if name == "" {
		return models.BankProduct{}, errors.New("reply has no product name")
	}

	rec := models.BankProduct{
		Bank:        bank,
		ProductName: name,
		Category:    category,
		RateMin:     f.RateMin,
		RateMax:     f.RateMax,
		AmountMin:   f.AmountMin,
		AmountMax:   f.AmountMax,
		Term:        strings.TrimSpace(f.Term),
		Currency:    parseCurrency(f.Currency),
		Confidence:  models.ConfidenceMedium,
		CollectedAt: now,
		GracePeriod: strings.TrimSpace(f.GracePeriod),
		Cashback:    strings.TrimSpace(f.Cashback),
		Commission:  strings.TrimSpace(f.Commission),
	}
	if rec.Term == "" {
		rec.Term = strings.TrimSpace(item.Term)
	}
	orderBounds(&rec.RateMin, &rec.RateMax)
	orderBounds(&rec.AmountMin, &rec.AmountMax)
	rec.Normalize()
	return rec, nil
}

func parseCurrency(s string) models.Currency {
	switch c := models.Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case models.CurrencyUSD, models.CurrencyEUR, models.CurrencyCNY:
		return c
	default:
		return models.CurrencyRUB
	}
}

// orderBounds fills a missing bound from the other one and swaps reversed bounds.
func orderBounds(lo, hi **float64) {
	switch {
	case *lo == nil && *hi == nil:
		return
	case *lo == nil:
		v := **hi
		*lo = &v
	case *hi == nil:
		v := **lo
		*hi = &v
	case **lo > **hi:
		*lo, *hi = *hi, *lo
	}
}
