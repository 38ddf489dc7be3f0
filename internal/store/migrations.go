// Package store implements the Result Store Adapter and EnhancedAssociation
// store (spec.md §4.5, §4.7) over SQLite. This file implements the
// versioned schema migration system, grounded on the same table-presence/
// column-presence probing pattern used by the original document-store
// migrations.
package store

import (
	"database/sql"
	"fmt"

	"linkcore/internal/logging"
)

// Schema versions:
// v1: linkage_results + enhanced_associations base tables
// v2: added review compare-and-set support column (review_cas_token)
// v3: added primary_building_id and primary_name_canonical, cached on
// linkage_results so the Aggregator's SQL joins (spec.md §4.7) never need
// to re-derive them from the PRIMARY source or re-run the Normalizer.
// v4: added name_core/name_slices/name_tokens/address_keywords to
// secondary_units so the sqlite SecondarySource adapter (spec.md §2 "Source
// Adapter") can answer BySlices/ByNameTokens/ByAddressKeywords without a
// second normalization pass per query; primary_units is a new table
// (handled by CREATE TABLE IF NOT EXISTS, not a column migration).
const CurrentSchemaVersion = 4

// Migration defines a single additive schema migration: add Column to Table
// with the given SQL type/default if it is not already present.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations applied to an existing database
// that may predate a column addition.
var pendingMigrations = []Migration{
	{"linkage_results", "review_cas_token", "INTEGER NOT NULL DEFAULT 0"},
	{"linkage_results", "primary_building_id", "TEXT"},
	{"linkage_results", "primary_name_canonical", "TEXT"},
	{"secondary_units", "name_core", "TEXT"},
	{"secondary_units", "name_slices", "TEXT"},
	{"secondary_units", "name_tokens", "TEXT"},
	{"secondary_units", "address_keywords", "TEXT"},
}

// runMigrations applies pending column migrations, skipping quietly where
// the table is absent (fresh database, nothing to migrate) or the column
// is already present.
func runMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "runMigrations")
	defer timer.Stop()

	applied, skipped := 0, 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			skipped++
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			skipped++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("migration applied: %s.%s", m.Table, m.Column)
		applied++
	}
	logging.Store("schema migrations complete: applied=%d skipped=%d", applied, skipped)
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
