// Package report summarizes the active catalog per bank and category.
package report

import (
	"fmt"
	"sort"
	"time"

	"bank-products/internal/filter"
	"bank-products/internal/models"

	"github.com/shopspring/decimal"
)

type PartitionStats struct {
	Bank       string          `json:"bank"`
	Category   models.Category `json:"category"`
	Products   int             `json:"products"`
	Rated      int             `json:"rated"`
	BestRate   *float64        `json:"best_rate"`
	AvgRate    *float64        `json:"avg_rate"`
	MaxAmount  *float64        `json:"max_amount_rub"`
	LowQuality int             `json:"low_confidence"`
}

type TopProduct struct {
	Bank        string   `json:"bank"`
	ProductName string   `json:"product_name"`
	RateMax     *float64 `json:"rate_max"`
}

type Summary struct {
	GeneratedAt time.Time                        `json:"generated_at"`
	Total       int                              `json:"total"`
	Partitions  []PartitionStats                 `json:"partitions"`
	TopRates    map[models.Category][]TopProduct `json:"top_rates"`
	Insights    []string                         `json:"insights"`
}

// Build computes the summary. Foreign-currency amounts are converted to
// roubles with rates; amounts in a currency without a rate are skipped.
func Build(products []models.BankProduct, rates []models.CurrencyRate, top int, now time.Time) Summary {
	perUnit := make(map[models.Currency]decimal.Decimal, len(rates))
	for _, r := range rates {
		perUnit[models.Currency(r.Code)] = r.PerUnit()
	}

	type acc struct {
		stats PartitionStats
		sum   decimal.Decimal
	}
	groups := make(map[models.Partition]*acc)
	for _, p := range products {
		part := p.Partition()
		a, ok := groups[part]
		if !ok {
			a = &acc{stats: PartitionStats{Bank: part.Bank, Category: part.Category}}
			groups[part] = a
		}
		a.stats.Products++
		if p.Confidence == models.ConfidenceLow {
			a.stats.LowQuality++
		}
		if p.RateMax != nil {
			a.stats.Rated++
			a.sum = a.sum.Add(decimal.NewFromFloat(*p.RateMax))
			if a.stats.BestRate == nil || *p.RateMax > *a.stats.BestRate {
				a.stats.BestRate = models.Float(*p.RateMax)
			}
		}
		if amount, ok := inRoubles(p, perUnit); ok {
			if a.stats.MaxAmount == nil || amount > *a.stats.MaxAmount {
				a.stats.MaxAmount = models.Float(amount)
			}
		}
	}

	s := Summary{GeneratedAt: now, Total: len(products), TopRates: make(map[models.Category][]TopProduct)}
	for _, a := range groups {
		if a.stats.Rated > 0 {
			avg, _ := a.sum.Div(decimal.NewFromInt(int64(a.stats.Rated))).Round(2).Float64()
			a.stats.AvgRate = models.Float(avg)
		}
		s.Partitions = append(s.Partitions, a.stats)
	}
	sort.Slice(s.Partitions, func(i, j int) bool {
		if s.Partitions[i].Bank != s.Partitions[j].Bank {
			return s.Partitions[i].Bank < s.Partitions[j].Bank
		}
		return s.Partitions[i].Category < s.Partitions[j].Category
	})

	for _, c := range models.Categories {
		ranked := filter.Sort(filter.Filter(products, filter.Criteria{Category: string(c)}), filter.FieldRateMax, false)
		for _, p := range ranked {
			if p.RateMax == nil || len(s.TopRates[c]) >= top {
				break
			}
			s.TopRates[c] = append(s.TopRates[c], TopProduct{Bank: p.Bank, ProductName: p.ProductName, RateMax: p.RateMax})
		}
	}
	s.Insights = insights(s)
	return s
}

func inRoubles(p models.BankProduct, perUnit map[models.Currency]decimal.Decimal) (float64, bool) {
	if p.AmountMax == nil {
		return 0, false
	}
	if p.Currency == "" || p.Currency == models.CurrencyRUB {
		return *p.AmountMax, true
	}
	rate, ok := perUnit[p.Currency]
	if !ok {
		return 0, false
	}
	v, _ := decimal.NewFromFloat(*p.AmountMax).Mul(rate).Round(2).Float64()
	return v, true
}

func insights(s Summary) []string {
	var out []string
	for _, c := range []models.Category{models.CategoryDeposit, models.CategoryCredit} {
		best := s.TopRates[c]
		if len(best) == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("%s: highest rate %.2f%% at %s (%s)", c, *best[0].RateMax, best[0].Bank, best[0].ProductName))
	}
	for _, p := range s.Partitions {
		if p.Products > 0 && p.Rated == 0 {
			out = append(out, fmt.Sprintf("%s %s: no product has a known rate", p.Bank, p.Category))
		}
		if p.LowQuality*2 > p.Products {
			out = append(out, fmt.Sprintf("%s %s: most products extracted with low confidence", p.Bank, p.Category))
		}
	}
	return out
}
