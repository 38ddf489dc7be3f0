package store

import (
	"database/sql"
	"fmt"

	"linkcore/internal/logging"
)

// ensureIndexIfColumn creates an index only when both the table and column
// it references are known to exist, so the adapter never attaches a query
// hint for an index that was never declared (spec.md §4.5 "The adapter MUST
// refuse queries that presuppose an index that has not been declared
// present").
func ensureIndexIfColumn(db *sql.DB, table, column, indexName string) {
	if !tableExists(db, table) || !columnExists(db, table, column) {
		return
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, table, column)
	if _, err := db.Exec(query); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to create index %s on %s(%s): %v", indexName, table, column, err)
	}
}

func ensureCompoundIndex(db *sql.DB, table, indexName, columnsExpr string, columns ...string) {
	if !tableExists(db, table) {
		return
	}
	for _, c := range columns {
		if !columnExists(db, table, c) {
			return
		}
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, table, columnsExpr)
	if _, err := db.Exec(query); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to create compound index %s on %s(%s): %v", indexName, table, columnsExpr, err)
	}
}

// ensureLinkageResultIndexes creates the indexes declared required by
// spec.md §4.5: unique on primary_id, plus matched_id, match_type,
// similarity_score desc, created_time desc, and the two compound indexes.
func ensureLinkageResultIndexes(db *sql.DB) {
	if !tableExists(db, "linkage_results") {
		return
	}
	if _, err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_linkage_primary_id ON linkage_results(primary_id)"); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to create unique primary_id index: %v", err)
	}
	ensureIndexIfColumn(db, "linkage_results", "matched_id", "idx_linkage_matched_id")
	ensureIndexIfColumn(db, "linkage_results", "match_type", "idx_linkage_match_type")
	ensureCompoundIndex(db, "linkage_results", "idx_linkage_similarity_desc", "similarity_score DESC", "similarity_score")
	ensureCompoundIndex(db, "linkage_results", "idx_linkage_created_desc", "created_time DESC", "created_time")
	ensureCompoundIndex(db, "linkage_results", "idx_linkage_primary_matchtype", "primary_id, match_type", "primary_id", "match_type")
	ensureCompoundIndex(db, "linkage_results", "idx_linkage_matchedid_similarity", "matched_id, similarity_score DESC", "matched_id", "similarity_score")
}

func ensureEnhancedAssociationIndexes(db *sql.DB) {
	if !tableExists(db, "enhanced_associations") {
		return
	}
	if _, err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_assoc_primary_id ON enhanced_associations(primary_id)"); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to create unique enhanced_associations primary_id index: %v", err)
	}
	ensureIndexIfColumn(db, "enhanced_associations", "association_strategy", "idx_assoc_strategy")
}

// ensureSecondaryUnitIndexes creates the indexes the Aggregator's SQL joins
// rely on (spec.md §4.7 building_based/unit_based strategies).
func ensureSecondaryUnitIndexes(db *sql.DB) {
	if !tableExists(db, "secondary_units") {
		return
	}
	ensureIndexIfColumn(db, "secondary_units", "building_id", "idx_secondary_building_id")
	ensureIndexIfColumn(db, "secondary_units", "credit_code", "idx_secondary_credit_code")
	ensureIndexIfColumn(db, "secondary_units", "name_canonical", "idx_secondary_name_canonical")
}
