// Package extract maps raw scraped items onto product records with regular
// expressions. It is the fallback when the normalization gateway is unavailable.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"bank-products/internal/models"
	"bank-products/internal/scraper"
)

// space also covers the no-break spaces banks use as thousands separators.
const space = `[\s\x{00a0}\x{202f}]`

var (
	rateRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)` + space + `*%`)

	amountRe = regexp.MustCompile(`(?i)(\d{1,3}(?:[ \x{00a0}\x{202f}]\d{3})+|\d+)(?:[.,](\d+))?` +
		`(` + space + `*(?:млрд|млн|тыс))?(` + space + `*%)?`)

	multipliers = map[string]float64{"тыс": 1e3, "млн": 1e6, "млрд": 1e9}
)

// Rates returns the smallest and largest percentage in text, or nil, nil.
func Rates(text string) (min, max *float64) {
	var values []float64
	for _, m := range rateRe.FindAllStringSubmatch(text, -1) {
		if v, err := parseNumber(m[1]); err == nil {
			values = append(values, v)
		}
	}
	return bounds(values)
}

// Amounts returns the smallest and largest money amount in text, applying
// тыс/млн/млрд multipliers. Percentages are ignored.
func Amounts(text string) (min, max *float64) {
	var values []float64
	for _, m := range amountRe.FindAllStringSubmatch(text, -1) {
		if m[4] != "" {
			continue
		}
		number := stripSpaces(m[1])
		if m[2] != "" {
			number += "." + m[2]
		}
		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			continue
		}
		if unit := strings.ToLower(strings.TrimFunc(m[3], isSpace)); unit != "" {
			v *= multipliers[unit]
		}
		values = append(values, v)
	}
	return bounds(values)
}

// ToRecord builds a product record from one raw item without any external service.
func ToRecord(bank string, category models.Category, raw scraper.RawItem, now time.Time) models.BankProduct {
	p := models.BankProduct{
		Bank:        strings.TrimSpace(bank),
		ProductName: strings.TrimSpace(raw.Title),
		Category:    category,
		Term:        strings.TrimSpace(raw.Term),
		Currency:    sniffCurrency(raw),
		Confidence:  models.ConfidenceMedium,
		CollectedAt: now,
	}

	var rateText, amountText []string
	for _, f := range raw.Features {
		label := strings.ToLower(f.Label)
		switch {
		case hasAny(label, "ставк", "процент", "доходност"):
			rateText = append(rateText, f.Value)
		case hasAny(label, "сумм", "лимит", "размер"):
			amountText = append(amountText, f.Value)
		case hasAny(label, "срок") && p.Term == "":
			p.Term = strings.TrimSpace(f.Value)
		}
		if category.IsCard() {
			switch {
			case hasAny(label, "льготн", "без процентов", "беспроцент"):
				p.GracePeriod = strings.TrimSpace(f.Value)
			case hasAny(label, "кешбэк", "кэшбэк", "cashback", "бонус"):
				p.Cashback = strings.TrimSpace(f.Value)
			case hasAny(label, "обслуживан", "комисс"):
				p.Commission = strings.TrimSpace(f.Value)
			}
		}
	}

	p.RateMin, p.RateMax = Rates(strings.Join(rateText, " "))
	if p.RateMax == nil {
		p.RateMin, p.RateMax = Rates(raw.Price)
	}
	p.AmountMin, p.AmountMax = Amounts(strings.Join(append([]string{raw.Price}, amountText...), " "))

	p.Normalize()
	return p
}

func sniffCurrency(raw scraper.RawItem) models.Currency {
	text := strings.ToLower(raw.Title + " " + raw.Price)
	for _, f := range raw.Features {
		text += " " + strings.ToLower(f.Value)
	}
	switch {
	case hasAny(text, "$", "usd", "доллар"):
		return models.CurrencyUSD
	case hasAny(text, "€", "eur", "евро"):
		return models.CurrencyEUR
	case hasAny(text, "¥", "cny", "юан"):
		return models.CurrencyCNY
	default:
		return models.CurrencyRUB
	}
}

func bounds(values []float64) (min, max *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return &lo, &hi
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\u00a0' || r == '\u202f'
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
