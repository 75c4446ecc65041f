package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Category is the closed set of product kinds collected from bank sites.
type Category string

const (
	CategoryDeposit    Category = "deposit"
	CategoryCredit     Category = "credit"
	CategoryDebitCard  Category = "debit_card"
	CategoryCreditCard Category = "credit_card"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryDeposit, CategoryCredit, CategoryDebitCard, CategoryCreditCard}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsCard reports whether the category carries grace period / cashback / commission fields.
func (c Category) IsCard() bool {
	return c == CategoryDebitCard || c == CategoryCreditCard
}

// Currency of a product's amounts.
type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyCNY Currency = "CNY"
)

// Confidence describes how reliable the extracted values are.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// KeySeparator joins the business key parts. Bank and product titles never contain it.
const KeySeparator = "|"

// BusinessKey identifies one logical product across refresh cycles.
// Inputs are trimmed so that whitespace drift between scrapes maps to the same row.
func BusinessKey(bank, productName string, category Category) string {
	return strings.TrimSpace(bank) + KeySeparator +
		strings.TrimSpace(productName) + KeySeparator +
		strings.TrimSpace(string(category))
}

// Partition is the (bank, category) unit produced by a single scraper.
type Partition struct {
	Bank     string   `json:"bank"`
	Category Category `json:"category"`
}

func (p Partition) String() string {
	return strings.TrimSpace(p.Bank) + KeySeparator + string(p.Category)
}

// BankProduct is one banking product as persisted in bank_products.
// Rates and amounts are nil when the source did not state them.
type BankProduct struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	Bank        string     `json:"bank" gorm:"size:128;not null;index:idx_bank_category,priority:1"`
	ProductName string     `json:"product_name" gorm:"size:512;not null"`
	Category    Category   `json:"category" gorm:"size:32;not null;index:idx_bank_category,priority:2"`
	RateMin     *float64   `json:"rate_min"`
	RateMax     *float64   `json:"rate_max"`
	AmountMin   *float64   `json:"amount_min"`
	AmountMax   *float64   `json:"amount_max"`
	Term        string     `json:"term" gorm:"size:512"`
	Currency    Currency   `json:"currency" gorm:"size:3;default:'RUB'"`
	Confidence  Confidence `json:"confidence" gorm:"size:16;default:'medium'"`
	CollectedAt time.Time  `json:"collected_at" gorm:"index"`
	GracePeriod string     `json:"grace_period,omitempty" gorm:"size:256"`
	Cashback    string     `json:"cashback,omitempty" gorm:"size:256"`
	Commission  string     `json:"commission,omitempty" gorm:"size:256"`
	UniqueKey   string     `json:"unique_key" gorm:"size:700;not null;uniqueIndex"`
	IsActive    bool       `json:"is_active" gorm:"not null;default:true;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (BankProduct) TableName() string { return "bank_products" }

// Key returns the business key derived from the record's current fields.
func (p *BankProduct) Key() string {
	return BusinessKey(p.Bank, p.ProductName, p.Category)
}

func (p *BankProduct) Partition() Partition {
	return Partition{Bank: strings.TrimSpace(p.Bank), Category: p.Category}
}

// Normalize trims identity fields, fills defaults and refreshes UniqueKey.
func (p *BankProduct) Normalize() {
	p.Bank = strings.TrimSpace(p.Bank)
	p.ProductName = strings.TrimSpace(p.ProductName)
	if p.Currency == "" {
		p.Currency = CurrencyRUB
	}
	if p.Confidence == "" {
		p.Confidence = ConfidenceMedium
	}
	if !p.Category.IsCard() {
		p.GracePeriod, p.Cashback, p.Commission = "", "", ""
	}
	p.UniqueKey = p.Key()
}

// BeforeSave keeps unique_key consistent with the identity columns.
func (p *BankProduct) BeforeSave(tx *gorm.DB) error {
	p.Normalize()
	return nil
}

// MutableColumns are overwritten when an existing business key is scraped again.
// id and created_at are deliberately absent.
var MutableColumns = []string{
	"bank", "product_name", "category",
	"rate_min", "rate_max", "amount_min", "amount_max",
	"term", "currency", "confidence",
	"grace_period", "cashback", "commission",
	"collected_at", "is_active", "updated_at",
}

// Float returns a pointer to v, for literal rates and amounts.
func Float(v float64) *float64 { return &v }
