package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyRate is one official exchange rate for a calendar day.
// Rows are unique by (code, day); a save for a day replaces the whole day.
type CurrencyRate struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	Code      string          `json:"code" gorm:"size:3;not null;uniqueIndex:idx_rate_code_day,priority:1"`
	Name      string          `json:"name" gorm:"size:128"`
	Nominal   int             `json:"nominal" gorm:"not null;default:1"`
	Value     decimal.Decimal `json:"value" gorm:"type:decimal(20,4);not null"`
	Previous  decimal.Decimal `json:"previous" gorm:"type:decimal(20,4)"`
	RateDate  time.Time       `json:"rate_date" gorm:"not null;uniqueIndex:idx_rate_code_day,priority:2"`
	CreatedAt time.Time       `json:"created_at"`
}

func (CurrencyRate) TableName() string { return "currency_rates" }

// PerUnit is the rouble value of a single unit of the currency.
func (r CurrencyRate) PerUnit() decimal.Decimal {
	if r.Nominal <= 1 {
		return r.Value
	}
	return r.Value.Div(decimal.NewFromInt(int64(r.Nominal)))
}
