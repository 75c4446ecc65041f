// Package filter derives the user-visible subset and ordering of active products.
package filter

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"bank-products/internal/models"
)

// All disables an exact-match criterion.
const All = "all"

// AmountCeiling is the minimum upper bound of the amount range. Large credit
// limits are never excluded by a narrower requested range. Rates are not widened.
const AmountCeiling = 100_000_000_000

// Range is an inclusive [Lo, Hi] interval.
type Range struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

type Criteria struct {
	Bank        string
	Category    string
	Currency    string
	SearchQuery string
	RateRange   *Range
	AmountRange *Range
	// DateFrom and DateTo are accepted but never exclude anything.
	DateFrom *time.Time
	DateTo   *time.Time
}

// Filter applies every criterion as an AND chain and returns the passing records
// in input order. It never fails. Only an empty SearchQuery disables the search;
// the query is matched as given, whitespace included.
func Filter(records []models.BankProduct, c Criteria) []models.BankProduct {
	search := strings.ToLower(c.SearchQuery)
	out := make([]models.BankProduct, 0, len(records))
	for _, p := range records {
		if !matchExact(c.Bank, p.Bank) ||
			!matchExact(c.Category, string(p.Category)) ||
			!matchExact(c.Currency, string(p.Currency)) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Bank), search) &&
			!strings.Contains(strings.ToLower(p.ProductName), search) {
			continue
		}
		if r := c.RateRange; r != nil && !inRange(p.RateMax, r.Lo, r.Hi) {
			continue
		}
		if r := c.AmountRange; r != nil && !inRange(p.AmountMax, r.Lo, maxFloat(r.Hi, AmountCeiling)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchExact(want, got string) bool {
	return want == "" || want == All || want == got
}

// inRange exempts unknown values.
func inRange(v *float64, lo, hi float64) bool {
	return v == nil || (lo <= *v && *v <= hi)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Sortable fields.
const (
	FieldBank        = "bank"
	FieldProductName = "product_name"
	FieldRateMin     = "rate_min"
	FieldRateMax     = "rate_max"
	FieldAmountMin   = "amount_min"
	FieldCollectedAt = "collected_at"
)

// Sort returns a stably sorted copy of records. Unknown fields return the input
// order unchanged. Unknown numeric values sort last in either direction.
func Sort(records []models.BankProduct, field string, ascending bool) []models.BankProduct {
	out := append([]models.BankProduct(nil), records...)

	var less func(a, b *models.BankProduct) bool
	switch field {
	case FieldBank:
		less = func(a, b *models.BankProduct) bool { return a.Bank < b.Bank }
	case FieldProductName:
		less = func(a, b *models.BankProduct) bool { return a.ProductName < b.ProductName }
	case FieldCollectedAt:
		less = func(a, b *models.BankProduct) bool { return a.CollectedAt.Before(b.CollectedAt) }
	case FieldRateMin:
		return sortOptional(out, func(p *models.BankProduct) *float64 { return p.RateMin }, ascending)
	case FieldRateMax:
		return sortOptional(out, func(p *models.BankProduct) *float64 { return p.RateMax }, ascending)
	case FieldAmountMin:
		return sortOptional(out, func(p *models.BankProduct) *float64 { return p.AmountMin }, ascending)
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return less(&out[i], &out[j])
		}
		return less(&out[j], &out[i])
	})
	return out
}

func sortOptional(out []models.BankProduct, value func(*models.BankProduct) *float64, ascending bool) []models.BankProduct {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := value(&out[i]), value(&out[j])
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case ascending:
			return *a < *b
		default:
			return *a > *b
		}
	})
	return out
}

// ParseCriteria reads criteria from query parameters: bank, category, currency,
// q, rate_min, rate_max, amount_min, amount_max, date_from, date_to.
// A range is set when either of its bounds is present; malformed numbers are ignored.
func ParseCriteria(v url.Values) Criteria {
	c := Criteria{
		Bank:        v.Get("bank"),
		Category:    v.Get("category"),
		Currency:    strings.ToUpper(v.Get("currency")),
		SearchQuery: strings.TrimSpace(v.Get("q")),
		RateRange:   parseRange(v, "rate_min", "rate_max", 0, 100),
		AmountRange: parseRange(v, "amount_min", "amount_max", 0, AmountCeiling),
		DateFrom:    parseDate(v.Get("date_from")),
		DateTo:      parseDate(v.Get("date_to")),
	}
	if strings.EqualFold(c.Currency, All) {
		c.Currency = All
	}
	return c
}

func parseRange(v url.Values, loKey, hiKey string, loDefault, hiDefault float64) *Range {
	lo, loOK := parseFloat(v.Get(loKey))
	hi, hiOK := parseFloat(v.Get(hiKey))
	if !loOK && !hiOK {
		return nil
	}
	r := &Range{Lo: loDefault, Hi: hiDefault}
	if loOK {
		r.Lo = lo
	}
	if hiOK {
		r.Hi = hi
	}
	return r
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
