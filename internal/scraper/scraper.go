// Package scraper defines the boundary between site-specific collection code and
// the refresh pipeline. Everything behind Scraper is per-site configuration.
package scraper

import (
	"context"
	"strings"

	"bank-products/internal/models"
)

// Feature is one labelled fact shown on a product card, e.g. a rate line.
type Feature struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// RawItem is the site-independent shape every scraper yields, before normalization.
type RawItem struct {
	Title    string    `json:"title"`
	Price    string    `json:"price,omitempty"`
	Term     string    `json:"term,omitempty"`
	Features []Feature `json:"features,omitempty"`
	Links    []string  `json:"links,omitempty"`
}

// Key is the business key this item would get under partition p, used for
// items whose normalization failed.
func (it RawItem) Key(p models.Partition) string {
	return models.BusinessKey(p.Bank, it.Title, p.Category)
}

// Text joins every textual part of the item, for prompts and regex fallbacks.
func (it RawItem) Text() string {
	parts := []string{it.Title, it.Price, it.Term}
	for _, f := range it.Features {
		parts = append(parts, strings.TrimSpace(f.Label+" "+f.Value))
	}
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

// Scraper collects the raw items of one (bank, category) partition.
type Scraper interface {
	Name() string
	Partition() models.Partition
	Scrape(ctx context.Context) ([]RawItem, error)
}
