// Package refresh runs one complete refresh cycle: scrape every source in turn,
// normalize, upsert per source, deactivate what disappeared, purge old rows.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bank-products/internal/extract"
	"bank-products/internal/metrics"
	"bank-products/internal/models"
	"bank-products/internal/normalize"
	"bank-products/internal/reconcile"
	"bank-products/internal/scraper"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when a refresh is requested while one is in progress.
var ErrAlreadyRunning = errors.New("refresh already running")

const (
	ScopeBatch     = "batch"
	ScopePartition = "partition"
)

// Normalizer is the subset of normalize.Normalizer the cycle uses.
type Normalizer interface {
	Normalize(ctx context.Context, bank string, category models.Category, items []scraper.RawItem) ([]normalize.Outcome, error)
}

type Options struct {
	Delay         time.Duration // pause between two scrapers
	Scope         string        // ScopeBatch or ScopePartition
	Purge         bool          // purge inactive rows after a successful cycle
	RetentionDays int
}

type Refresher struct {
	engine     *reconcile.Engine
	scrapers   []scraper.Scraper
	normalizer Normalizer
	log        *logrus.Logger
	opts       Options
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error

	mu      sync.Mutex
	running bool
	current *models.RefreshRun
}

// New builds a Refresher. A nil normalizer maps items with regex extraction only.
func New(engine *reconcile.Engine, scrapers []scraper.Scraper, normalizer Normalizer, log *logrus.Logger, opts Options) *Refresher {
	if opts.Scope == "" {
		opts.Scope = ScopeBatch
	}
	return &Refresher{
		engine:     engine,
		scrapers:   scrapers,
		normalizer: normalizer,
		log:        log,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
}

// Running reports whether a cycle is in progress and a snapshot of its run row.
func (r *Refresher) Running() (bool, *models.RefreshRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.current == nil {
		return r.running, nil
	}
	cp := *r.current
	return true, &cp
}

// Run executes one cycle synchronously. It is not reentrant.
func (r *Refresher) Run(ctx context.Context, sink Sink) (*models.RefreshRun, error) {
	if !r.acquire() {
		return nil, ErrAlreadyRunning
	}
	defer r.release()
	return r.run(ctx, sink)
}

// Start executes one cycle in the background. The non-reentrancy check is
// synchronous, so a second Start fails with ErrAlreadyRunning immediately.
func (r *Refresher) Start(ctx context.Context, sink Sink) error {
	if !r.acquire() {
		return ErrAlreadyRunning
	}
	go func() {
		defer r.release()
		if _, err := r.run(ctx, sink); err != nil {
			r.log.WithError(err).Error("Background refresh failed")
		}
	}()
	return nil
}

// Purge deletes inactive rows older than olderThanDays (retention when <= 0)
// under the same guard as a cycle, so it never overlaps a refresh.
func (r *Refresher) Purge(ctx context.Context, olderThanDays int) (int, error) {
	if !r.acquire() {
		return 0, ErrAlreadyRunning
	}
	defer r.release()
	n, err := r.engine.PurgeInactive(ctx, olderThanDays)
	if err != nil {
		return 0, err
	}
	metrics.RecordReconciled("purged", n)
	return n, nil
}

func (r *Refresher) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.current = nil
	return true
}

func (r *Refresher) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// cycle is the mutable state of one run.
type cycle struct {
	run         *models.RefreshRun
	keep        map[string]struct{}
	succeeded   []models.Partition
	gatewayDown bool
}

func (r *Refresher) run(ctx context.Context, sink Sink) (*models.RefreshRun, error) {
	c := &cycle{
		run: &models.RefreshRun{
			Status:       models.RunRunning,
			StartedAt:    r.now(),
			SourcesTotal: len(r.scrapers),
		},
		keep: make(map[string]struct{}),
	}
	r.saveRun(ctx, c.run)
	r.log.WithField("sources", len(r.scrapers)).Info("Refresh started")
	r.emit(sink, Event{Type: EventStarted, Run: r.snapshot(c.run)})

	for i, s := range r.scrapers {
		if i > 0 && r.opts.Delay > 0 {
			if err := r.sleep(ctx, r.opts.Delay); err != nil {
				return r.fail(ctx, sink, c, err)
			}
		}
		if err := r.collect(ctx, sink, c, s); err != nil {
			return r.fail(ctx, sink, c, err)
		}
		r.snapshot(c.run)
	}

	if err := r.deactivate(ctx, c); err != nil {
		return r.fail(ctx, sink, c, err)
	}

	if r.opts.Purge && len(c.succeeded) > 0 {
		purged, err := r.engine.PurgeInactive(ctx, r.opts.RetentionDays)
		if err != nil {
			return r.fail(ctx, sink, c, err)
		}
		c.run.Purged = purged
		metrics.RecordReconciled("purged", purged)
	}

	if active, err := r.engine.LoadActive(ctx); err == nil {
		metrics.SetActiveProducts(len(active))
	}

	finished := r.now()
	c.run.Status = models.RunCompleted
	c.run.FinishedAt = &finished
	r.saveRun(ctx, c.run)
	metrics.RecordRefresh(string(models.RunCompleted), c.run.Duration())
	r.log.WithFields(logrus.Fields{
		"sources_failed": c.run.SourcesFailed,
		"upserted":       c.run.Upserted,
		"deactivated":    c.run.Deactivated,
		"purged":         c.run.Purged,
		"duration":       c.run.Duration().String(),
	}).Info("Refresh completed")
	r.emit(sink, Event{Type: EventDone, Run: r.snapshot(c.run)})
	return c.run, nil
}

// collect scrapes one source and upserts its records in their own transaction.
// A scrape failure only marks the source failed; storage errors abort the cycle.
func (r *Refresher) collect(ctx context.Context, sink Sink, c *cycle, s scraper.Scraper) error {
	part := s.Partition()
	entry := r.log.WithFields(logrus.Fields{"source": s.Name(), "bank": part.Bank, "category": part.Category})

	items, err := s.Scrape(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.run.SourcesFailed++
		metrics.RecordScrape(s.Name(), false)
		entry.WithError(err).Warn("Scrape failed, source skipped")
		r.emit(sink, Event{Type: EventProgress, Source: s.Name(), Partition: &part, Error: err.Error()})
		return nil
	}
	metrics.RecordScrape(s.Name(), true)
	c.run.ItemsScraped += len(items)

	records, failedKeys, err := r.mapItems(ctx, c, part, items)
	if err != nil {
		return err
	}
	c.run.ItemsFailed += len(failedKeys)

	n, err := r.engine.UpsertBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", s.Name(), err)
	}
	c.run.Upserted += n
	metrics.RecordReconciled("upserted", n)

	keys := make([]string, 0, len(records))
	for k := range reconcile.Keys(records) {
		c.keep[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, k := range failedKeys {
		c.keep[k] = struct{}{}
	}
	c.succeeded = append(c.succeeded, part)

	persisted, err := r.engine.FindByKeys(ctx, keys)
	if err != nil {
		entry.WithError(err).Warn("Reload of upserted records failed, reporting input records")
		persisted = records
	}
	entry.WithFields(logrus.Fields{"items": len(items), "upserted": n, "failed": len(failedKeys)}).Info("Source refreshed")
	r.emit(sink, Event{Type: EventProgress, Source: s.Name(), Partition: &part, Records: persisted})
	return nil
}

// mapItems normalizes items through the gateway or, when it is disabled or
// unavailable, through regex extraction. It returns the records to persist and
// the raw business keys of items whose normalization failed.
func (r *Refresher) mapItems(ctx context.Context, c *cycle, part models.Partition, items []scraper.RawItem) ([]models.BankProduct, []string, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}

	if r.normalizer != nil && !c.gatewayDown {
		outcomes, err := r.normalizer.Normalize(ctx, part.Bank, part.Category, items)
		switch {
		case err == nil:
			var records []models.BankProduct
			var failed []string
			for _, o := range outcomes {
				if o.Failed() {
					if strings.TrimSpace(o.Item.Title) != "" {
						failed = append(failed, o.Item.Key(part))
					}
					continue
				}
				records = append(records, o.Record)
			}
			metrics.RecordNormalized("ok", len(records))
			metrics.RecordNormalized("error", len(outcomes)-len(records))
			return records, failed, nil
		case errors.Is(err, normalize.ErrUnavailable):
			c.gatewayDown = true
			r.log.WithError(err).Warn("Normalization gateway unavailable, using regex extraction for the rest of the cycle")
		default:
			return nil, nil, err
		}
	}

	now := r.now()
	records := make([]models.BankProduct, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			continue
		}
		records = append(records, extract.ToRecord(part.Bank, part.Category, it, now))
	}
	label := "extracted"
	if r.normalizer != nil {
		label = "fallback"
	}
	metrics.RecordNormalized(label, len(records))
	return records, nil, nil
}

func (r *Refresher) deactivate(ctx context.Context, c *cycle) error {
	if len(c.succeeded) == 0 {
		r.log.Warn("No source produced data, deactivation skipped")
		return nil
	}

	var (
		n   int
		err error
	)
	if r.opts.Scope == ScopePartition {
		n, err = r.engine.DeactivateMissingIn(ctx, c.succeeded, c.keep)
	} else {
		n, err = r.engine.DeactivateMissing(ctx, c.keep)
	}
	if err != nil {
		return fmt.Errorf("deactivate missing: %w", err)
	}
	c.run.Deactivated = n
	metrics.RecordReconciled("deactivated", n)
	return nil
}

func (r *Refresher) fail(ctx context.Context, sink Sink, c *cycle, err error) (*models.RefreshRun, error) {
	finished := r.now()
	c.run.Status = models.RunFailed
	c.run.FinishedAt = &finished
	c.run.Error = err.Error()
	r.saveRun(context.WithoutCancel(ctx), c.run)
	metrics.RecordRefresh(string(models.RunFailed), c.run.Duration())
	r.log.WithError(err).Error("Refresh failed")
	r.emit(sink, Event{Type: EventError, Run: r.snapshot(c.run), Error: err.Error()})
	return c.run, err
}

func (r *Refresher) saveRun(ctx context.Context, run *models.RefreshRun) {
	if err := r.engine.Store().SaveRun(ctx, run); err != nil {
		r.log.WithError(err).Warn("Failed to persist refresh run")
	}
}

// snapshot publishes a copy of run as the current status and returns it.
func (r *Refresher) snapshot(run *models.RefreshRun) *models.RefreshRun {
	cp := *run
	r.mu.Lock()
	r.current = &cp
	r.mu.Unlock()
	out := cp
	return &out
}

// emit never lets a sink panic abort the cycle.
func (r *Refresher) emit(sink Sink, e Event) {
	if sink == nil {
		return
	}
	e.At = r.now()
	defer func() {
		if p := recover(); p != nil {
			r.log.WithFields(logrus.Fields{"event": e.Type, "panic": p}).Error("Refresh event sink panicked")
		}
	}()
	sink.Publish(e)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
