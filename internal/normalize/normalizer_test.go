package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bank-products/internal/logging"
	"bank-products/internal/models"
	"bank-products/internal/scraper"
)

// scripted answers each completion by the item title found in the prompt.
type scripted struct {
	replies map[string]string
	errs    map[string]error
	calls   int
}

func (s *scripted) Complete(_ context.Context, messages []Message) (string, error) {
	s.calls++
	prompt := messages[len(messages)-1].Content
	for title, err := range s.errs {
		if strings.Contains(prompt, title) {
			return "", err
		}
	}
	for title, reply := range s.replies {
		if strings.Contains(prompt, title) {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no scripted reply")
}

func TestNormalizeMarksFailedItems(t *testing.T) {
	gw := &scripted{
		replies: map[string]string{
			"Вклад Лучший": "```json\n{\"product_name\": \"Лучший вклад\", \"rate_min\": 18, \"rate_max\": 16.5, \"currency\": \"rub\"}\n```",
			"Вклад Сломанный": "не могу ответить",
		},
		errs: map[string]error{"Вклад Ошибочный": errors.New("status 500")},
	}
	n := NewNormalizer(gw, logging.Discard())
	items := []scraper.RawItem{{Title: "Вклад Лучший"}, {Title: "Вклад Ошибочный"}, {Title: "Вклад Сломанный"}}

	out, err := n.Normalize(context.Background(), "Сбербанк", models.CategoryDeposit, items)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("every item must yield an outcome, got %d", len(out))
	}
	if gw.calls != 3 {
		t.Errorf("expected one completion per item, got %d", gw.calls)
	}

	good := out[0]
	if good.Failed() {
		t.Fatalf("first item failed: %v", good.Err)
	}
	if good.Record.ProductName != "Вклад Лучший" {
		t.Errorf("scraped title must stay the product name, got %q", good.Record.ProductName)
	}
	if *good.Record.RateMin != 16.5 || *good.Record.RateMax != 18 {
		t.Errorf("reversed bounds not ordered: %v..%v", *good.Record.RateMin, *good.Record.RateMax)
	}
	if good.Record.Currency != models.CurrencyRUB || good.Record.UniqueKey != "Сбербанк|Вклад Лучший|deposit" {
		t.Errorf("unexpected record %+v", good.Record)
	}
	if good.Record.AmountMin != nil {
		t.Error("missing amounts must stay unknown")
	}

	for _, o := range out[1:] {
		if !o.Failed() {
			t.Errorf("%q should be marked failed", o.Item.Title)
		}
		if o.Record.UniqueKey != "" {
			t.Errorf("failed outcome must not carry a record")
		}
	}
}

func TestNormalizeStopsWhenUnavailable(t *testing.T) {
	gw := &scripted{errs: map[string]error{"": fmt.Errorf("%w: token request: status 401", ErrUnavailable)}}
	n := NewNormalizer(gw, logging.Discard())

	_, err := n.Normalize(context.Background(), "ВТБ", models.CategoryCredit, []scraper.RawItem{{Title: "A"}, {Title: "B"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if gw.calls != 1 {
		t.Errorf("batch must stop at the first unavailable error, got %d calls", gw.calls)
	}
}

func TestDecodeRecordSingleBound(t *testing.T) {
	rec, err := decodeRecord(`Вот ответ: {"amount_max": 3000000, "term": "до 5 лет", "currency": "usd"}`,
		"ВТБ", models.CategoryCredit, scraper.RawItem{Title: "Кредит"}, now())
	if err != nil {
		t.Fatal(err)
	}
	if rec.AmountMin == nil || *rec.AmountMin != 3_000_000 {
		t.Errorf("single bound must fill both ends, got %v", rec.AmountMin)
	}
	if rec.Currency != models.CurrencyUSD || rec.Term != "до 5 лет" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func now() time.Time { return time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) }
