// Package app wires the configured components together for the server and
// the command line tools.
package app

import (
	"fmt"

	"bank-products/internal/config"
	"bank-products/internal/database"
	"bank-products/internal/events"
	"bank-products/internal/normalize"
	"bank-products/internal/reconcile"
	"bank-products/internal/refresh"
	"bank-products/internal/scraper"
	"bank-products/internal/services/cbr"
	"bank-products/internal/storage"

	"github.com/sirupsen/logrus"
)

type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     storage.ProductStore
	Engine    *reconcile.Engine
	Refresher *refresh.Refresher
	Events    *events.Hub
	Rates     *cbr.Service
}

// Build opens storage and constructs every component. A database that cannot
// be opened falls back to an in-memory store so the API stays up.
func Build(cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := database.Initialize(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		if cfg.IsProduction() {
			return nil, err
		}
		log.WithError(err).Warn("Database unavailable, using in-memory store")
		a.Store = storage.NewMemoryStore()
	} else {
		a.Store = storage.NewGormStore(db)
	}

	a.Engine = reconcile.NewEngine(a.Store, log, reconcile.WithRetentionDays(cfg.Refresh.RetentionDays))
	a.Events = events.NewHub(log)
	a.Rates = cbr.NewService(cbr.NewClient(cfg.CBRBaseURL, cfg.Refresh.ScraperTimeout), a.Store, log)

	registry, err := scraper.LoadRegistry(cfg.Refresh.SourcesFile)
	if err != nil {
		log.WithError(err).Warn("No scraping sources loaded, refresh disabled")
		return a, nil
	}
	scrapers := registry.Scrapers(cfg.Refresh.ScraperTimeout)
	if len(scrapers) == 0 {
		log.Warn("Every scraping source is disabled, refresh disabled")
		return a, nil
	}

	var normalizer refresh.Normalizer
	if cfg.LLM.Enabled() {
		normalizer = normalize.NewNormalizer(normalize.NewGateway(cfg.LLM, log), log)
		log.WithField("model", cfg.LLM.Model).Info("LLM normalization enabled")
	} else {
		log.Info("LLM normalization disabled, using regex extraction")
	}

	scope := cfg.Refresh.Scope
	if scope != refresh.ScopeBatch && scope != refresh.ScopePartition {
		return nil, fmt.Errorf("unknown reconcile scope %q", scope)
	}
	a.Refresher = refresh.New(a.Engine, scrapers, normalizer, log, refresh.Options{
		Delay:         cfg.Refresh.ScraperDelay,
		Scope:         scope,
		Purge:         cfg.Refresh.PurgeAfterRefresh,
		RetentionDays: cfg.Refresh.RetentionDays,
	})
	log.WithFields(logrus.Fields{"sources": len(scrapers), "scope": scope}).Info("Refresh configured")
	return a, nil
}
