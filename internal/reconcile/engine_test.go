package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"bank-products/internal/database"
	"bank-products/internal/logging"
	"bank-products/internal/models"
	"bank-products/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func eachEngine(t *testing.T, fn func(t *testing.T, e *Engine, c *clock)) {
	t.Helper()
	stores := map[string]func(t *testing.T) storage.ProductStore{
		"gorm": func(t *testing.T) storage.ProductStore {
			db, err := database.Initialize("sqlite", ":memory:", logging.Discard())
			if err != nil {
				t.Fatalf("init sqlite: %v", err)
			}
			return storage.NewGormStore(db)
		},
		"memory": func(t *testing.T) storage.ProductStore { return storage.NewMemoryStore() },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
			fn(t, NewEngine(open(t), logging.Discard(), WithClock(c.now)), c)
		})
	}
}

func rec(bank, name string) models.BankProduct {
	return models.BankProduct{Bank: bank, ProductName: name, Category: models.CategoryCredit}
}

func activeNames(t *testing.T, e *Engine) map[string]bool {
	t.Helper()
	active, err := e.LoadActive(context.Background())
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	names := make(map[string]bool, len(active))
	for _, p := range active {
		names[p.ProductName] = true
	}
	return names
}

func TestUpsertBatchEmpty(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		n, err := e.UpsertBatch(context.Background(), nil)
		if err != nil || n != 0 {
			t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
		}
	})
}

func TestUpsertBatchIdempotent(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		r := rec("Bank", "Product")
		r.RateMin, r.RateMax = models.Float(10), models.Float(12)
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{r}); err != nil {
			t.Fatal(err)
		}
		r.RateMax = models.Float(14)
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{r}); err != nil {
			t.Fatal(err)
		}

		active, err := e.LoadActive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 1 {
			t.Fatalf("expected one active row, got %d", len(active))
		}
		if *active[0].RateMax != 14 {
			t.Errorf("second call must win, got rate_max %v", *active[0].RateMax)
		}
	})
}

func TestUpsertBatchNewKeyGetsFreshID(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{rec("Bank", "Old")}); err != nil {
			t.Fatal(err)
		}
		loaded, err := e.LoadActive(ctx)
		if err != nil || len(loaded) != 1 {
			t.Fatalf("expected one row, got %d (%v)", len(loaded), err)
		}
		original := loaded[0]

		renamed := original
		renamed.ProductName = "New"
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{renamed}); err != nil {
			t.Fatalf("upsert of a renamed record: %v", err)
		}

		active, err := e.LoadActive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 2 {
			t.Fatalf("expected two rows, got %d", len(active))
		}
		byName := make(map[string]models.BankProduct, 2)
		for _, p := range active {
			byName[p.ProductName] = p
		}
		old, fresh := byName["Old"], byName["New"]
		if old.ID != original.ID || old.UniqueKey != original.UniqueKey {
			t.Errorf("original row changed: %+v", old)
		}
		if fresh.ID == "" || fresh.ID == original.ID {
			t.Errorf("new key must get a fresh id, got %q (original %q)", fresh.ID, original.ID)
		}
	})
}

func TestUpsertBatchTrimmedKeysMerge(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{rec(" Bank ", " Product ")}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{rec("Bank", "Product")}); err != nil {
			t.Fatal(err)
		}
		active, _ := e.LoadActive(ctx)
		if len(active) != 1 || active[0].Bank != "Bank" {
			t.Fatalf("whitespace drift created duplicates: %+v", active)
		}
	})
}

func TestUpsertBatchCollapsesInBatchDuplicates(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		first, last := rec("Bank", "Product"), rec("Bank", "Product")
		first.Term, last.Term = "12 months", "24 months"
		n, err := e.UpsertBatch(ctx, []models.BankProduct{first, last})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("expected both records counted as processed, got %d", n)
		}
		active, _ := e.LoadActive(ctx)
		if len(active) != 1 || active[0].Term != "24 months" {
			t.Fatalf("expected last occurrence to win, got %+v", active)
		}
	})
}

func TestUpsertBatchRejectsInvalidRecordAtomically(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		_, err := e.UpsertBatch(ctx, []models.BankProduct{rec("Bank", "Good"), rec("Bank", "  ")})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
		if len(activeNames(t, e)) != 0 {
			t.Fatal("nothing may be committed from a rejected batch")
		}
	})
}

func TestUpsertBatchDoesNotMutateInput(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		in := []models.BankProduct{rec(" Bank ", "Product")}
		if _, err := e.UpsertBatch(context.Background(), in); err != nil {
			t.Fatal(err)
		}
		if in[0].Bank != " Bank " || in[0].ID != "" {
			t.Fatalf("caller slice modified: %+v", in[0])
		}
	})
}

func TestDeactivateMissingCompleteness(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		batch := []models.BankProduct{rec("Bank", "A"), rec("Bank", "B"), rec("Bank", "C")}
		if _, err := e.UpsertBatch(ctx, batch); err != nil {
			t.Fatal(err)
		}
		keep := Keys(batch[:1])

		n, err := e.DeactivateMissing(ctx, keep)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 deactivated, got %d (%v)", n, err)
		}
		n, err = e.DeactivateMissing(ctx, keep)
		if err != nil || n != 0 {
			t.Fatalf("re-run must change nothing, got %d (%v)", n, err)
		}
		names := activeNames(t, e)
		if len(names) != 1 || !names["A"] {
			t.Fatalf("unexpected active set %v", names)
		}
	})
}

func TestDeactivateMissingIn(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		other := models.BankProduct{Bank: "Other", ProductName: "X", Category: models.CategoryDeposit}
		if _, err := e.UpsertBatch(ctx, []models.BankProduct{rec("Bank", "A"), rec("Bank", "B"), other}); err != nil {
			t.Fatal(err)
		}
		parts := []models.Partition{{Bank: "Bank", Category: models.CategoryCredit}}
		n, err := e.DeactivateMissingIn(ctx, parts, Keys([]models.BankProduct{rec("Bank", "A")}))
		if err != nil || n != 1 {
			t.Fatalf("expected 1 deactivated, got %d (%v)", n, err)
		}
		names := activeNames(t, e)
		if names["B"] || !names["A"] || !names["X"] {
			t.Fatalf("unexpected active set %v", names)
		}
		if n, _ := e.DeactivateMissingIn(ctx, nil, nil); n != 0 {
			t.Fatalf("no partitions must deactivate nothing, got %d", n)
		}
	})
}

func TestRefreshRoundTrip(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, c *clock) {
		ctx := context.Background()
		up, down, err := e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "A"), rec("Bank", "B")})
		if err != nil || up != 2 || down != 0 {
			t.Fatalf("first refresh: (%d, %d, %v)", up, down, err)
		}
		c.advance(time.Hour)
		up, down, err = e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "B"), rec("Bank", "C")})
		if err != nil || up != 2 || down != 1 {
			t.Fatalf("second refresh: (%d, %d, %v)", up, down, err)
		}

		names := activeNames(t, e)
		if len(names) != 2 || !names["B"] || !names["C"] {
			t.Fatalf("expected {B, C} active, got %v", names)
		}
		rows, err := e.FindByKeys(ctx, []string{models.BusinessKey("Bank", "A", models.CategoryCredit)})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || rows[0].IsActive {
			t.Fatalf("A must remain stored and inactive, got %+v", rows)
		}
	})
}

func TestPurgeRespectsRetention(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, c *clock) {
		ctx := context.Background()
		if _, _, err := e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "Old"), rec("Bank", "Recent")}); err != nil {
			t.Fatal(err)
		}
		if _, _, err := e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "Recent")}); err != nil {
			t.Fatal(err)
		}
		c.advance(5 * 24 * time.Hour)
		if _, _, err := e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "Live")}); err != nil {
			t.Fatal(err)
		}
		// Old went inactive 8 days before the purge, Recent 3 days before.
		c.advance(3 * 24 * time.Hour)

		n, err := e.PurgeInactive(ctx, 7)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("expected one purged row, got %d", n)
		}
		rows, _ := e.FindByKeys(ctx, []string{
			models.BusinessKey("Bank", "Old", models.CategoryCredit),
			models.BusinessKey("Bank", "Recent", models.CategoryCredit),
		})
		if len(rows) != 1 || rows[0].ProductName != "Recent" {
			t.Fatalf("expected only Recent to survive, got %+v", rows)
		}
	})
}

func TestPurgeDefaultsToRetention(t *testing.T) {
	eachEngine(t, func(t *testing.T, e *Engine, c *clock) {
		ctx := context.Background()
		if _, _, err := e.RefreshFromScrape(ctx, []models.BankProduct{rec("Bank", "Gone")}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.DeactivateMissing(ctx, nil); err != nil {
			t.Fatal(err)
		}
		c.advance(6 * 24 * time.Hour)
		if n, _ := e.PurgeInactive(ctx, 0); n != 0 {
			t.Fatalf("6 day old row purged with default retention")
		}
		c.advance(2 * 24 * time.Hour)
		if n, _ := e.PurgeInactive(ctx, -1); n != 1 {
			t.Fatalf("8 day old row not purged with default retention")
		}
	})
}

type failingStore struct {
	storage.ProductStore
	fail bool
}

func (s *failingStore) LoadActive(ctx context.Context) ([]models.BankProduct, error) {
	if s.fail {
		return nil, errors.New("database is locked")
	}
	return s.ProductStore.LoadActive(ctx)
}

func TestLoadActiveOrLastFallsBack(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{ProductStore: storage.NewMemoryStore()}
	e := NewEngine(store, logging.Discard())

	if _, _, err := e.LoadActiveOrLast(ctx); err != nil {
		t.Fatalf("unexpected error on healthy store: %v", err)
	}
	if _, err := e.UpsertBatch(ctx, []models.BankProduct{rec("Bank", "A")}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.LoadActive(ctx); err != nil {
		t.Fatal(err)
	}

	store.fail = true
	products, stale, err := e.LoadActiveOrLast(ctx)
	if err == nil || !stale {
		t.Fatalf("expected stale view with error, got stale=%v err=%v", stale, err)
	}
	if len(products) != 1 || products[0].ProductName != "A" {
		t.Fatalf("expected last known good view, got %+v", products)
	}
}

func TestLoadActiveOrLastWithoutHistory(t *testing.T) {
	e := NewEngine(&failingStore{ProductStore: storage.NewMemoryStore(), fail: true}, logging.Discard())
	products, stale, err := e.LoadActiveOrLast(context.Background())
	if err == nil || stale || products != nil {
		t.Fatalf("expected bare error, got %v %v %v", products, stale, err)
	}
}
