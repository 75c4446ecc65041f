package database

import (
	"testing"

	"bank-products/internal/logging"
	"bank-products/internal/models"
)

func TestInitializeSQLiteMemory(t *testing.T) {
	db, err := Initialize("sqlite", ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	m := db.Migrator()
	for _, table := range []interface{}{&models.BankProduct{}, &models.CurrencyRate{}, &models.RefreshRun{}} {
		if !m.HasTable(table) {
			t.Errorf("expected table for %T", table)
		}
	}
	if !m.HasIndex(&models.BankProduct{}, uniqueKeyIndex) {
		t.Errorf("expected unique index %s", uniqueKeyIndex)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "", logging.Discard()); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestMigrateCollapsesLegacyDuplicates(t *testing.T) {
	log := logging.Discard()
	db, err := Open("sqlite", ":memory:", log)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	legacy := `CREATE TABLE bank_products (
		id text PRIMARY KEY,
		bank text NOT NULL,
		product_name text NOT NULL,
		category text NOT NULL,
		unique_key text NOT NULL,
		is_active numeric NOT NULL DEFAULT true,
		updated_at datetime
	)`
	if err := db.Exec(legacy).Error; err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	rows := []struct {
		id, updated string
		active      bool
	}{
		{"old-inactive", "2024-01-01 10:00:00", false},
		{"newest-active", "2024-01-03 10:00:00", true},
		{"older-active", "2024-01-02 10:00:00", true},
	}
	for _, r := range rows {
		if err := db.Exec(
			`INSERT INTO bank_products (id, bank, product_name, category, unique_key, is_active, updated_at) VALUES (?, 'Bank', 'Card', 'debit_card', 'Bank|Card|debit_card', ?, ?)`,
			r.id, r.active, r.updated,
		).Error; err != nil {
			t.Fatalf("insert legacy row: %v", err)
		}
	}

	if err := Migrate(db, log); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	var ids []string
	if err := db.Model(&models.BankProduct{}).Pluck("id", &ids).Error; err != nil {
		t.Fatalf("pluck ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "newest-active" {
		t.Fatalf("expected only newest-active to survive, got %v", ids)
	}
	if !db.Migrator().HasIndex(&models.BankProduct{}, uniqueKeyIndex) {
		t.Fatal("unique index missing after migration")
	}
}
