// Package export writes a product view as a spreadsheet or CSV file.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"bank-products/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Products"

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename is the suggested download name for an export taken at t.
func (f Format) Filename(t time.Time) string {
	return fmt.Sprintf("bank_products_%s.%s", t.Format("20060102_150405"), f)
}

var header = []string{
	"Банк", "Продукт", "Категория", "Ставка от, %", "Ставка до, %",
	"Сумма от", "Сумма до", "Срок", "Валюта", "Льготный период", "Кэшбэк", "Обслуживание", "Обновлено",
}

var categoryTitles = map[models.Category]string{
	models.CategoryDeposit:    "Вклад",
	models.CategoryCredit:     "Кредит",
	models.CategoryDebitCard:  "Дебетовая карта",
	models.CategoryCreditCard: "Кредитная карта",
}

// Write renders products in the given format.
func Write(w io.Writer, format Format, products []models.BankProduct) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, products)
	default:
		return WriteXLSX(w, products)
	}
}

func WriteXLSX(w io.Writer, products []models.BankProduct) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, p := range products {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			p.Bank, p.ProductName, categoryTitle(p.Category),
			cellValue(p.RateMin), cellValue(p.RateMax), cellValue(p.AmountMin), cellValue(p.AmountMax),
			p.Term, string(p.Currency), p.GracePeriod, p.Cashback, p.Commission,
			p.CollectedAt.Format("2006-01-02 15:04"),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetName, "A", "B", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "H", "H", 28); err != nil {
		return err
	}
	return f.Write(w)
}

func WriteCSV(w io.Writer, products []models.BankProduct) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range products {
		if err := cw.Write([]string{
			p.Bank, p.ProductName, categoryTitle(p.Category),
			text(p.RateMin), text(p.RateMax), text(p.AmountMin), text(p.AmountMax),
			p.Term, string(p.Currency), p.GracePeriod, p.Cashback, p.Commission,
			p.CollectedAt.Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func categoryTitle(c models.Category) string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

// cellValue leaves unknown values as empty cells.
func cellValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func text(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
