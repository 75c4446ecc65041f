// Command daemon refreshes the product catalog on a fixed interval and pulls
// the daily currency rates alongside each cycle.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bank-products/internal/app"
	"bank-products/internal/config"
	"bank-products/internal/logging"
	"bank-products/internal/refresh"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	checkInterval = flag.Duration("interval", 6*time.Hour, "time between refresh cycles")
	runNow        = flag.Bool("now", true, "run the first cycle immediately")
	withRates     = flag.Bool("rates", true, "refresh CBR currency rates every cycle")
	cycleTimeout  = flag.Duration("timeout", 30*time.Minute, "upper bound for one cycle")
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
	if a.Refresher == nil {
		log.Fatal("No enabled scraping sources, nothing to do")
	}

	log.WithFields(logrus.Fields{"interval": checkInterval.String(), "pid": os.Getpid()}).Info("Refresh daemon started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*checkInterval)
	defer ticker.Stop()

	iteration := 0
	if *runNow {
		iteration++
		runCycle(ctx, a, iteration)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutdown signal received, stopping daemon")
			return
		case <-ticker.C:
			iteration++
			runCycle(ctx, a, iteration)
		}
	}
}

func runCycle(parent context.Context, a *app.App, iteration int) {
	ctx, cancel := context.WithTimeout(parent, *cycleTimeout)
	defer cancel()
	log := a.Log.WithField("iteration", iteration)

	if *withRates {
		if rates, err := a.Rates.Refresh(ctx, time.Now()); err != nil {
			log.WithError(err).Warn("Currency rates refresh failed")
		} else {
			log.WithField("rates", len(rates)).Info("Currency rates refreshed")
		}
	}

	run, err := a.Refresher.Run(ctx, logSink(log))
	switch {
	case errors.Is(err, refresh.ErrAlreadyRunning):
		log.Warn("Previous cycle still running, skipped")
	case err != nil:
		log.WithError(err).Error("Refresh cycle failed")
	default:
		log.WithFields(logrus.Fields{
			"upserted":    run.Upserted,
			"deactivated": run.Deactivated,
			"next":        time.Now().Add(*checkInterval).Format(time.RFC3339),
		}).Info("Refresh cycle finished")
	}
}

// logSink reports per-source progress.
func logSink(log *logrus.Entry) refresh.Sink {
	return refresh.SinkFunc(func(e refresh.Event) {
		if e.Type != refresh.EventProgress {
			return
		}
		entry := log.WithFields(logrus.Fields{"source": e.Source, "records": len(e.Records)})
		if e.Error != "" {
			entry.WithField("error", e.Error).Warn("Source failed")
			return
		}
		entry.Info("Source refreshed")
	})
}
