package filter

import (
	"net/url"
	"testing"
	"time"

	"bank-products/internal/models"
)

func names(records []models.BankProduct) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ProductName
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var catalog = []models.BankProduct{
	{Bank: "Сбербанк", ProductName: "СберВклад", Category: models.CategoryDeposit, Currency: models.CurrencyRUB, RateMax: models.Float(16)},
	{Bank: "ВТБ", ProductName: "Кредит наличными", Category: models.CategoryCredit, Currency: models.CurrencyRUB, RateMax: models.Float(25), AmountMax: models.Float(5_000_000)},
	{Bank: "Альфа-Банк", ProductName: "Альфа-Карта", Category: models.CategoryDebitCard, Currency: models.CurrencyRUB},
	{Bank: "Т-Банк", ProductName: "Валютный вклад", Category: models.CategoryDeposit, Currency: models.CurrencyUSD, RateMax: models.Float(2)},
}

func TestFilterExactMatches(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		want     []string
	}{
		{"empty criteria pass everything", Criteria{}, []string{"СберВклад", "Кредит наличными", "Альфа-Карта", "Валютный вклад"}},
		{"all sentinel", Criteria{Bank: All, Category: All, Currency: All}, []string{"СберВклад", "Кредит наличными", "Альфа-Карта", "Валютный вклад"}},
		{"bank", Criteria{Bank: "ВТБ"}, []string{"Кредит наличными"}},
		{"unknown bank matches nothing", Criteria{Bank: "Sber"}, []string{}},
		{"category", Criteria{Category: string(models.CategoryDeposit)}, []string{"СберВклад", "Валютный вклад"}},
		{"currency", Criteria{Currency: "USD"}, []string{"Валютный вклад"}},
		{"and chain", Criteria{Category: string(models.CategoryDeposit), Currency: "RUB"}, []string{"СберВклад"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names(Filter(catalog, tt.criteria)); !equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterSearch(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"СберВклад", "Кредит наличными", "Альфа-Карта", "Валютный вклад"}},
		{"вклад", []string{"СберВклад", "Валютный вклад"}},
		{"АЛЬФА", []string{"Альфа-Карта"}},
		{"т-банк", []string{"Валютный вклад"}},
		{"   ", []string{}},
		{" наличными", []string{"Кредит наличными"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := names(Filter(catalog, Criteria{SearchQuery: tt.query})); !equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterUnknownRateIsExempt(t *testing.T) {
	unknown := models.BankProduct{ProductName: "unknown"}
	got := Filter([]models.BankProduct{unknown}, Criteria{RateRange: &Range{Lo: 50, Hi: 60}})
	if len(got) != 1 {
		t.Fatal("a record with unknown rate must pass any rate range")
	}
}

func TestFilterZeroRateIsAValue(t *testing.T) {
	zero := models.BankProduct{ProductName: "zero", RateMax: models.Float(0)}
	if got := Filter([]models.BankProduct{zero}, Criteria{RateRange: &Range{Lo: 50, Hi: 60}}); len(got) != 0 {
		t.Fatal("a known 0% rate is a real value and must be range checked")
	}
	if got := Filter([]models.BankProduct{zero}, Criteria{RateRange: &Range{Lo: 0, Hi: 10}}); len(got) != 1 {
		t.Fatal("a known 0% rate must pass a range containing zero")
	}
}

func TestFilterAmountWideningAsymmetry(t *testing.T) {
	bigCredit := models.BankProduct{ProductName: "big", AmountMax: models.Float(5_000_000_000)}
	if got := Filter([]models.BankProduct{bigCredit}, Criteria{AmountRange: &Range{Lo: 0, Hi: 10_000_000}}); len(got) != 1 {
		t.Fatal("amount range upper bound must be widened to 100 billion")
	}

	highRate := models.BankProduct{ProductName: "high", RateMax: models.Float(55)}
	if got := Filter([]models.BankProduct{highRate}, Criteria{RateRange: &Range{Lo: 0, Hi: 10}}); len(got) != 0 {
		t.Fatal("rate range must not be widened")
	}
}

func TestFilterAmountLowerBound(t *testing.T) {
	small := models.BankProduct{ProductName: "small", AmountMax: models.Float(10_000)}
	if got := Filter([]models.BankProduct{small}, Criteria{AmountRange: &Range{Lo: 50_000, Hi: 1_000_000}}); len(got) != 0 {
		t.Fatal("lower bound still applies to amounts")
	}
	huge := models.BankProduct{ProductName: "huge", AmountMax: models.Float(200_000_000_000)}
	if got := Filter([]models.BankProduct{huge}, Criteria{AmountRange: &Range{Lo: 0, Hi: 1_000_000}}); len(got) != 0 {
		t.Fatal("amounts above the widened ceiling are excluded")
	}
}

func TestFilterDateRangeIsPassThrough(t *testing.T) {
	from := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	p := models.BankProduct{ProductName: "old", CollectedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	if got := Filter([]models.BankProduct{p}, Criteria{DateFrom: &from, DateTo: &to}); len(got) != 1 {
		t.Fatal("date range must not exclude records")
	}
}

func TestSort(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []models.BankProduct{
		{Bank: "B", ProductName: "p1", RateMin: models.Float(5), AmountMin: models.Float(100), CollectedAt: base.Add(2 * time.Hour)},
		{Bank: "A", ProductName: "p2", CollectedAt: base},
		{Bank: "C", ProductName: "p3", RateMin: models.Float(1), AmountMin: models.Float(300), CollectedAt: base.Add(time.Hour)},
		{Bank: "A", ProductName: "p4", RateMin: models.Float(5), CollectedAt: base.Add(3 * time.Hour)},
	}
	tests := []struct {
		field     string
		ascending bool
		want      []string
	}{
		{FieldBank, true, []string{"p2", "p4", "p1", "p3"}},
		{FieldBank, false, []string{"p3", "p1", "p2", "p4"}},
		{FieldProductName, false, []string{"p4", "p3", "p2", "p1"}},
		{FieldRateMin, true, []string{"p3", "p1", "p4", "p2"}},
		{FieldRateMin, false, []string{"p1", "p4", "p3", "p2"}},
		{FieldAmountMin, false, []string{"p3", "p1", "p2", "p4"}},
		{FieldRateMax, true, []string{"p1", "p2", "p3", "p4"}},
		{FieldCollectedAt, false, []string{"p4", "p1", "p3", "p2"}},
		{"no_such_field", true, []string{"p1", "p2", "p3", "p4"}},
	}
	for _, tt := range tests {
		name := tt.field
		if !tt.ascending {
			name += "_desc"
		}
		t.Run(name, func(t *testing.T) {
			if got := names(Sort(records, tt.field, tt.ascending)); !equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if records[0].ProductName != "p1" {
		t.Fatal("Sort must not reorder its input")
	}
}

func TestParseCriteria(t *testing.T) {
	v := url.Values{}
	v.Set("bank", "ВТБ")
	v.Set("currency", "rub")
	v.Set("q", "карта")
	v.Set("rate_max", "12,5")
	v.Set("amount_min", "oops")
	v.Set("date_from", "2024-02-01")

	c := ParseCriteria(v)
	if c.Bank != "ВТБ" || c.Currency != "RUB" || c.SearchQuery != "карта" {
		t.Errorf("unexpected scalar criteria %+v", c)
	}
	if c.RateRange == nil || c.RateRange.Lo != 0 || c.RateRange.Hi != 12.5 {
		t.Errorf("unexpected rate range %+v", c.RateRange)
	}
	if c.AmountRange != nil {
		t.Errorf("malformed amount must leave the range unset, got %+v", c.AmountRange)
	}
	if c.DateFrom == nil || c.DateTo != nil {
		t.Errorf("unexpected dates %v %v", c.DateFrom, c.DateTo)
	}

	if q := ParseCriteria(url.Values{"q": {"  вклад \t"}}).SearchQuery; q != "вклад" {
		t.Errorf("query parameter must be trimmed, got %q", q)
	}
	if q := ParseCriteria(url.Values{"q": {"   "}}).SearchQuery; q != "" {
		t.Errorf("blank query parameter must disable the search, got %q", q)
	}

	if ParseCriteria(url.Values{"currency": {"ALL"}}).Currency != All {
		t.Error("currency all sentinel must be case-insensitive")
	}
}
