// Command refresh runs a single scrape and reconcile cycle and optionally
// exports the resulting active catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bank-products/internal/app"
	"bank-products/internal/config"
	"bank-products/internal/export"
	"bank-products/internal/filter"
	"bank-products/internal/logging"
	"bank-products/internal/refresh"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	sourcesFile = flag.String("sources", "", "sources file, overrides SOURCES_FILE")
	scope       = flag.String("scope", "", "reconcile scope: batch or partition")
	noPurge     = flag.Bool("no-purge", false, "skip purging old inactive rows")
	output      = flag.String("output", "", "export the active catalog to this file (.xlsx or .csv)")
	verbose     = flag.Bool("verbose", false, "debug logging")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	if *sourcesFile != "" {
		cfg.Refresh.SourcesFile = *sourcesFile
	}
	if *scope != "" {
		cfg.Refresh.Scope = *scope
	}
	if *noPurge {
		cfg.Refresh.PurgeAfterRefresh = false
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Refresh failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	a, err := app.Build(cfg, log)
	if err != nil {
		return err
	}
	if a.Refresher == nil {
		return fmt.Errorf("no enabled sources in %s", cfg.Refresh.SourcesFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := refresh.SinkFunc(func(e refresh.Event) {
		switch e.Type {
		case refresh.EventProgress:
			entry := log.WithFields(logrus.Fields{"source": e.Source, "records": len(e.Records)})
			if e.Error != "" {
				entry.WithField("error", e.Error).Warn("Source failed")
			} else {
				entry.Info("Source done")
			}
		case refresh.EventError:
			log.WithField("error", e.Error).Error("Cycle aborted")
		}
	})

	result, err := a.Refresher.Run(ctx, sink)
	if err != nil {
		return err
	}
	fmt.Printf("sources: %d (failed %d)\nupserted: %d\ndeactivated: %d\npurged: %d\nduration: %s\n",
		result.SourcesTotal, result.SourcesFailed, result.Upserted, result.Deactivated, result.Purged, result.Duration())

	if *output == "" {
		return nil
	}
	return exportTo(ctx, a, *output)
}

func exportTo(ctx context.Context, a *app.App, path string) error {
	format := export.FormatXLSX
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		format = export.FormatCSV
	}
	products, err := a.Engine.LoadActive(ctx)
	if err != nil {
		return err
	}
	products = filter.Sort(products, filter.FieldBank, true)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := export.Write(f, format, products); err != nil {
		return err
	}
	fmt.Printf("exported %d products to %s\n", len(products), path)
	return nil
}
