// Package cbr fetches official daily exchange rates from the Central Bank of Russia.
package cbr

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"bank-products/internal/models"
	"bank-products/internal/storage"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

type Client struct {
	baseURL string
	client  *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type valCurs struct {
	XMLName xml.Name `xml:"ValCurs"`
	Date    string   `xml:"Date,attr"`
	Valutes []valute `xml:"Valute"`
}

type valute struct {
	ID       string `xml:"ID,attr"`
	CharCode string `xml:"CharCode"`
	Nominal  string `xml:"Nominal"`
	Name     string `xml:"Name"`
	Value    string `xml:"Value"`
}

// Daily returns the rates published for date. RateDate is set to date's day.
func (c *Client) Daily(ctx context.Context, date time.Time) ([]models.CurrencyRate, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("date_req", date.Format("02/01/2006")).
		Get(c.baseURL + "/XML_daily.asp")
	if err != nil {
		return nil, fmt.Errorf("fetch daily rates: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch daily rates: status %d", resp.StatusCode())
	}
	return parseDaily(resp.Body(), date)
}

func parseDaily(body []byte, date time.Time) ([]models.CurrencyRate, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader

	var doc valCurs
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode daily rates: %w", err)
	}

	day := storage.RateDay(date)
	rates := make([]models.CurrencyRate, 0, len(doc.Valutes))
	for _, v := range doc.Valutes {
		value, err := parseDecimal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", v.CharCode, err)
		}
		nominal, err := parseDecimal(v.Nominal)
		if err != nil || nominal.IntPart() <= 0 {
			nominal = decimal.NewFromInt(1)
		}
		rates = append(rates, models.CurrencyRate{
			Code:     strings.TrimSpace(v.CharCode),
			Name:     strings.TrimSpace(v.Name),
			Nominal:  int(nominal.IntPart()),
			Value:    value,
			RateDate: day,
		})
	}
	return rates, nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	case "utf-8", "":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}

// parseDecimal accepts the comma decimal separator used in the feed.
func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
}
