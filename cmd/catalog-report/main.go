// Command catalog-report writes a JSON summary of the active catalog.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"bank-products/internal/app"
	"bank-products/internal/config"
	"bank-products/internal/logging"
	"bank-products/internal/report"

	"github.com/joho/godotenv"
)

var (
	top        = flag.Int("top", 5, "products per category in the rate ranking")
	outputFile = flag.String("output", "catalog_report.json", "output file, - for stdout")
	verbose    = flag.Bool("verbose", false, "print insights")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	a, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	products, err := a.Engine.LoadActive(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to load products")
	}
	rates, err := a.Rates.Load(ctx, time.Now())
	if err != nil {
		log.WithError(err).Warn("Currency rates unavailable, foreign amounts skipped")
	}

	summary := report.Build(products, rates, *top, time.Now())
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.WithError(err).Fatal("Failed to encode report")
	}

	if *outputFile == "-" {
		os.Stdout.Write(append(data, '\n'))
	} else if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
		log.WithError(err).Fatal("Failed to write report")
	} else {
		log.WithField("file", *outputFile).Info("Report written")
	}

	if *verbose {
		for _, line := range summary.Insights {
			fmt.Println("•", line)
		}
	}
}
