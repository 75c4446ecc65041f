package scraper

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bank-products/internal/models"

	"gopkg.in/yaml.v3"
)

// Selectors are CSS selectors relative to the page (Item) or to one item (the rest).
type Selectors struct {
	Item         string `yaml:"item"`
	Title        string `yaml:"title"`
	Price        string `yaml:"price"`
	Term         string `yaml:"term"`
	Feature      string `yaml:"feature"`
	FeatureValue string `yaml:"feature_value"`
	FeatureLabel string `yaml:"feature_label"`
	Link         string `yaml:"link"`
}

type Source struct {
	ID        string          `yaml:"id"`
	Bank      string          `yaml:"bank"`
	Category  models.Category `yaml:"category"`
	URL       string          `yaml:"url"`
	Enabled   *bool           `yaml:"enabled"`
	Selectors Selectors       `yaml:"selectors"`
}

func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type Registry struct {
	UserAgent string   `yaml:"user_agent"`
	Sources   []Source `yaml:"sources"`
}

// LoadRegistry reads and validates a YAML source registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	seen := make(map[string]bool, len(reg.Sources))
	for i, src := range reg.Sources {
		if strings.TrimSpace(src.ID) == "" {
			return nil, fmt.Errorf("source #%d: missing id", i+1)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("source %s: duplicate id", src.ID)
		}
		seen[src.ID] = true
		if strings.TrimSpace(src.Bank) == "" || src.URL == "" {
			return nil, fmt.Errorf("source %s: bank and url are required", src.ID)
		}
		if !src.Category.Valid() {
			return nil, fmt.Errorf("source %s: unknown category %q", src.ID, src.Category)
		}
		if src.Selectors.Item == "" || src.Selectors.Title == "" {
			return nil, fmt.Errorf("source %s: item and title selectors are required", src.ID)
		}
	}
	return &reg, nil
}

// Scrapers builds one HTMLScraper per enabled source, in file order.
func (r *Registry) Scrapers(timeout time.Duration) []Scraper {
	out := make([]Scraper, 0, len(r.Sources))
	for _, src := range r.Sources {
		if !src.IsEnabled() {
			continue
		}
		out = append(out, NewHTMLScraper(src, r.UserAgent, timeout))
	}
	return out
}
