package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"bank-products/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// HTMLScraper fetches one static page and extracts items with CSS selectors.
type HTMLScraper struct {
	source Source
	client *resty.Client
}

func NewHTMLScraper(source Source, userAgent string, timeout time.Duration) *HTMLScraper {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(time.Second)
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept-Language", "ru-RU,ru;q=0.9")

	return &HTMLScraper{source: source, client: client}
}

func (s *HTMLScraper) Name() string { return s.source.ID }

func (s *HTMLScraper) Partition() models.Partition {
	return models.Partition{Bank: strings.TrimSpace(s.source.Bank), Category: s.source.Category}
}

func (s *HTMLScraper) Scrape(ctx context.Context) ([]RawItem, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.source.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.source.URL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", s.source.URL, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.source.URL, err)
	}
	base, _ := url.Parse(s.source.URL)
	return extractItems(doc, s.source.Selectors, base), nil
}

func extractItems(doc *goquery.Document, sel Selectors, base *url.URL) []RawItem {
	var items []RawItem
	doc.Find(sel.Item).Each(func(_ int, card *goquery.Selection) {
		item := RawItem{
			Title: text(card, sel.Title),
			Price: text(card, sel.Price),
			Term:  text(card, sel.Term),
		}
		if item.Title == "" {
			return
		}
		if sel.Feature != "" {
			card.Find(sel.Feature).Each(func(_ int, f *goquery.Selection) {
				feature := Feature{Value: text(f, sel.FeatureValue), Label: text(f, sel.FeatureLabel)}
				if sel.FeatureValue == "" {
					feature.Value = clean(f.Text())
				}
				if feature.Value != "" {
					item.Features = append(item.Features, feature)
				}
			})
		}
		if sel.Link != "" {
			card.Find(sel.Link).Each(func(_ int, a *goquery.Selection) {
				if href, ok := a.Attr("href"); ok && href != "" {
					item.Links = append(item.Links, resolve(base, href))
				}
			})
		}
		items = append(items, item)
	})
	return items
}

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return clean(s.Find(selector).First().Text())
}

// clean collapses runs of whitespace except non-breaking spaces, which carry
// thousands separators in amounts.
func clean(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r'
	}), " ")
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
