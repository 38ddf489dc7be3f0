package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
	"linkcore/internal/normalize"
)

// Store is the Result Store Adapter (spec.md §4.5): idempotent upsert of
// LinkageResults keyed by primary_id, plus the EnhancedAssociation
// collection written by the Aggregator. Both tables live in one SQLite
// database; the adapter owns a bounded connection pool acquired per page,
// never per record (spec.md §5 "Connection discipline").
type Store struct {
	db         *sql.DB
	mu         sync.Mutex
	normalizer *normalize.Normalizer
}

// Open opens (creating if absent) the SQLite-backed store at path and
// brings its schema up to CurrentSchemaVersion.
func Open(path string) (*Store, error) {
	logging.StoreDebug("opening store at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(8)

	s := &Store{db: db, normalizer: normalize.Default()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store opened at %s (schema v%d)", path, CurrentSchemaVersion)
	return s, nil
}

// SetNormalizer overrides the Normalizer used to derive primary_name_canonical
// on upsert and the secondary_units cache (defaults to normalize.Default());
// callers wiring a jurisdiction-specific vocabulary into the Matcher should
// pass the same instance here so the Aggregator's SQL joins agree with it.
func (s *Store) SetNormalizer(n *normalize.Normalizer) {
	s.normalizer = n
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS linkage_results (
		match_id TEXT PRIMARY KEY,
		primary_id TEXT NOT NULL,
		primary_name TEXT,
		primary_credit_code TEXT,
		primary_address TEXT,
		primary_legal_representative TEXT,
		primary_safety_manager TEXT,
		primary_contact_phone TEXT,
		matched_id TEXT,
		matched_name TEXT,
		matched_credit_code TEXT,
		matched_address TEXT,
		matched_legal_representative TEXT,
		matched_safety_manager TEXT,
		matched_contact_phone TEXT,
		match_type TEXT NOT NULL,
		similarity_score REAL NOT NULL,
		match_confidence TEXT NOT NULL,
		match_explanation TEXT NOT NULL,
		review_status TEXT NOT NULL,
		review_notes TEXT,
		reviewer TEXT,
		review_timestamp DATETIME,
		created_time DATETIME NOT NULL,
		updated_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secondary_units (
		id TEXT PRIMARY KEY,
		name TEXT,
		credit_code TEXT,
		address TEXT,
		legal_representative TEXT,
		safety_manager TEXT,
		contact_phone TEXT,
		building_id TEXT,
		name_canonical TEXT,
		name_core TEXT,
		name_slices TEXT,
		name_tokens TEXT,
		address_keywords TEXT,
		inspection_timestamp DATETIME,
		synced_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS primary_units (
		id TEXT PRIMARY KEY,
		name TEXT,
		credit_code TEXT,
		address TEXT,
		legal_representative TEXT,
		safety_manager TEXT,
		contact_phone TEXT,
		building_id TEXT,
		loaded_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enhanced_associations (
		association_id TEXT PRIMARY KEY,
		primary_id TEXT NOT NULL,
		primary_name TEXT,
		primary_snapshot TEXT NOT NULL,
		associated_records TEXT NOT NULL,
		association_strategy TEXT NOT NULL,
		association_confidence REAL NOT NULL,
		data_quality_score REAL NOT NULL,
		generated_time DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_states (
		task_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		current_batch_index INTEGER NOT NULL DEFAULT 0,
		last_processed_primary_id TEXT,
		error_message TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := runMigrations(s.db); err != nil {
		return err
	}
	ensureLinkageResultIndexes(s.db)
	ensureEnhancedAssociationIndexes(s.db)
	ensureSecondaryUnitIndexes(s.db)
	return nil
}

// BulkCounts reports the outcome of a bulk Upsert invocation (spec.md §4.5
// "report {matched, modified, inserted} counts").
type BulkCounts struct {
	Matched  int
	Modified int
	Inserted int
}

// Upsert inserts or replaces one LinkageResult, keyed by primary_id
// (spec.md §3 invariant 1: exactly one record per primary_id). It is
// equivalent to calling UpsertBulk with a single-element slice.
func (s *Store) Upsert(ctx context.Context, result linkresult.LinkageResult) error {
	_, err := s.UpsertBulk(ctx, []linkresult.LinkageResult{result})
	return err
}

// UpsertBulk performs one native batch operation: a single transaction
// issuing one upsert statement per record (spec.md §4.5 "the adapter MUST
// emit a native batch operation"), so observers see either the pre-page or
// post-page state, never a partial page (spec.md §5).
func (s *Store) UpsertBulk(ctx context.Context, results []linkresult.LinkageResult) (BulkCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts BulkCounts
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		existing := tx.QueryRowContext(ctx, "SELECT 1 FROM linkage_results WHERE primary_id = ?", r.PrimaryID)
		var one int
		existed := existing.Scan(&one) == nil

		r.MatchID = linkresult.ComputeMatchID(r.PrimaryID, r.MatchedID)
		if r.CreatedTime.IsZero() {
			r.CreatedTime = time.Now().UTC()
		}
		r.UpdatedTime = time.Now().UTC()

		explanationJSON, err := json.Marshal(r.MatchExplanation)
		if err != nil {
			return counts, fmt.Errorf("failed to marshal match_explanation: %w", err)
		}

		primaryNameCanonical := s.normalizer.NameCanonical(r.PrimaryName)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO linkage_results (
				match_id, primary_id, primary_name, primary_credit_code, primary_address,
				primary_legal_representative, primary_safety_manager, primary_contact_phone,
				primary_building_id, primary_name_canonical,
				matched_id, matched_name, matched_credit_code, matched_address,
				matched_legal_representative, matched_safety_manager, matched_contact_phone,
				match_type, similarity_score, match_confidence, match_explanation,
				review_status, review_notes, reviewer, review_timestamp,
				created_time, updated_time
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(primary_id) DO UPDATE SET
				match_id = excluded.match_id,
				primary_name = excluded.primary_name,
				primary_credit_code = excluded.primary_credit_code,
				primary_address = excluded.primary_address,
				primary_legal_representative = excluded.primary_legal_representative,
				primary_safety_manager = excluded.primary_safety_manager,
				primary_contact_phone = excluded.primary_contact_phone,
				primary_building_id = excluded.primary_building_id,
				primary_name_canonical = excluded.primary_name_canonical,
				matched_id = excluded.matched_id,
				matched_name = excluded.matched_name,
				matched_credit_code = excluded.matched_credit_code,
				matched_address = excluded.matched_address,
				matched_legal_representative = excluded.matched_legal_representative,
				matched_safety_manager = excluded.matched_safety_manager,
				matched_contact_phone = excluded.matched_contact_phone,
				match_type = excluded.match_type,
				similarity_score = excluded.similarity_score,
				match_confidence = excluded.match_confidence,
				match_explanation = excluded.match_explanation,
				updated_time = excluded.updated_time
		`,
			r.MatchID, r.PrimaryID, r.PrimaryName, r.PrimaryCreditCode, r.PrimaryAddress,
			r.PrimaryLegalRepresentative, r.PrimarySafetyManager, r.PrimaryContactPhone,
			r.PrimaryBuildingID, primaryNameCanonical,
			r.MatchedID, r.MatchedName, r.MatchedCreditCode, r.MatchedAddress,
			r.MatchedLegalRepresentative, r.MatchedSafetyManager, r.MatchedContactPhone,
			string(r.MatchType), r.SimilarityScore, string(r.MatchConfidence), string(explanationJSON),
			string(nonEmptyOr(r.ReviewStatus, linkresult.ReviewPending)), r.ReviewNotes, r.Reviewer, timeOrNil(r.ReviewTimestamp),
			r.CreatedTime, r.UpdatedTime,
		); err != nil {
			return counts, fmt.Errorf("failed to upsert primary_id %s: %w", r.PrimaryID, err)
		}

		counts.Matched++
		if existed {
			counts.Modified++
		} else {
			counts.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	logging.StoreDebug("bulk upsert committed: matched=%d modified=%d inserted=%d", counts.Matched, counts.Modified, counts.Inserted)
	return counts, nil
}

func nonEmptyOr(v linkresult.ReviewStatus, fallback linkresult.ReviewStatus) linkresult.ReviewStatus {
	if v == "" {
		return fallback
	}
	return v
}

func timeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// Get reads one LinkageResult by primary_id.
func (s *Store) Get(ctx context.Context, primaryID string) (linkresult.LinkageResult, error) {
	row := s.db.QueryRowContext(ctx, linkageSelectColumns+" WHERE primary_id = ?", primaryID)
	r, err := scanLinkageResult(row)
	if err == sql.ErrNoRows {
		return linkresult.LinkageResult{}, linkerr.ErrNotFound
	}
	if err != nil {
		return linkresult.LinkageResult{}, fmt.Errorf("failed to read linkage result: %w", err)
	}
	return r, nil
}

// GetByMatchID reads one LinkageResult by match_id.
func (s *Store) GetByMatchID(ctx context.Context, matchID string) (linkresult.LinkageResult, error) {
	row := s.db.QueryRowContext(ctx, linkageSelectColumns+" WHERE match_id = ?", matchID)
	r, err := scanLinkageResult(row)
	if err == sql.ErrNoRows {
		return linkresult.LinkageResult{}, linkerr.ErrNotFound
	}
	if err != nil {
		return linkresult.LinkageResult{}, fmt.Errorf("failed to read linkage result: %w", err)
	}
	return r, nil
}

// SetReview validates and applies a review-status transition (spec.md §3
// invariant 5), enforcing the compare-and-set on updated_time required by
// spec.md §5 so concurrent task writes and review writes never race on the
// same primary_id.
func (s *Store) SetReview(ctx context.Context, primaryID string, status linkresult.ReviewStatus, notes, reviewer string, expectedUpdatedTime time.Time) (linkresult.LinkageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, primaryID)
	if err != nil {
		return linkresult.LinkageResult{}, err
	}
	if !linkresult.IsValidTransition(current.ReviewStatus, status) {
		return linkresult.LinkageResult{}, fmt.Errorf("invalid review transition %s -> %s", current.ReviewStatus, status)
	}
	if !expectedUpdatedTime.IsZero() && !current.UpdatedTime.Equal(expectedUpdatedTime) {
		return linkresult.LinkageResult{}, linkerr.ErrStaleReview
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE linkage_results SET review_status = ?, review_notes = ?, reviewer = ?, review_timestamp = ?, updated_time = ?
		WHERE primary_id = ? AND updated_time = ?`,
		string(status), notes, reviewer, now, now, primaryID, current.UpdatedTime,
	)
	if err != nil {
		return linkresult.LinkageResult{}, fmt.Errorf("failed to apply review transition: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return linkresult.LinkageResult{}, linkerr.ErrStaleReview
	}

	return s.Get(ctx, primaryID)
}

// ClearAll deletes every LinkageResult, used only by full-mode tasks
// (spec.md §4.5).
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM linkage_results")
	if err != nil {
		return 0, fmt.Errorf("failed to clear linkage results: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("clear_all deleted %d linkage results", n)
	return int(n), nil
}

// ResultFilter narrows iter_pending / list_results queries (spec.md §4.5,
// §6).
type ResultFilter struct {
	MatchType    string
	ReviewStatus string
	NameQuery    string
}

// IterPending returns one page of LinkageResults matching the optional
// filter, ordered by created_time descending.
func (s *Store) IterPending(ctx context.Context, filter ResultFilter, page, pageSize int) ([]linkresult.LinkageResult, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	where, args := buildFilterClause(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM linkage_results" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count linkage results: %w", err)
	}

	query := linkageSelectColumns + where + " ORDER BY created_time DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list linkage results: %w", err)
	}
	defer rows.Close()

	var out []linkresult.LinkageResult
	for rows.Next() {
		r, err := scanLinkageResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan linkage result: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func buildFilterClause(filter ResultFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if filter.MatchType != "" {
		clauses = append(clauses, "match_type = ?")
		args = append(args, filter.MatchType)
	}
	if filter.ReviewStatus != "" {
		clauses = append(clauses, "review_status = ?")
		args = append(args, filter.ReviewStatus)
	}
	if filter.NameQuery != "" {
		clauses = append(clauses, "(primary_name LIKE ? OR matched_name LIKE ?)")
		like := "%" + filter.NameQuery + "%"
		args = append(args, like, like)
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

// Statistics returns counts by match_type, confidence, and review_status
// (spec.md §6 get_statistics).
type Statistics struct {
	ByMatchType    map[string]int
	ByConfidence   map[string]int
	ByReviewStatus map[string]int
}

// GetStatistics aggregates counts over the linkage_results table.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByMatchType: map[string]int{}, ByConfidence: map[string]int{}, ByReviewStatus: map[string]int{}}

	if err := aggregateCounts(ctx, s.db, "match_type", stats.ByMatchType); err != nil {
		return stats, err
	}
	if err := aggregateCounts(ctx, s.db, "match_confidence", stats.ByConfidence); err != nil {
		return stats, err
	}
	if err := aggregateCounts(ctx, s.db, "review_status", stats.ByReviewStatus); err != nil {
		return stats, err
	}
	return stats, nil
}

func aggregateCounts(ctx context.Context, db *sql.DB, column string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM linkage_results GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to aggregate %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

const linkageSelectColumns = `SELECT
	match_id, primary_id, primary_name, primary_credit_code, primary_address,
	primary_legal_representative, primary_safety_manager, primary_contact_phone,
	primary_building_id,
	matched_id, matched_name, matched_credit_code, matched_address,
	matched_legal_representative, matched_safety_manager, matched_contact_phone,
	match_type, similarity_score, match_confidence, match_explanation,
	review_status, review_notes, reviewer, review_timestamp,
	created_time, updated_time
	FROM linkage_results`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLinkageResult(row rowScanner) (linkresult.LinkageResult, error) {
	var r linkresult.LinkageResult
	var matchType, matchConfidence, reviewStatus, explanationJSON string
	var reviewTimestamp sql.NullTime

	err := row.Scan(
		&r.MatchID, &r.PrimaryID, &r.PrimaryName, &r.PrimaryCreditCode, &r.PrimaryAddress,
		&r.PrimaryLegalRepresentative, &r.PrimarySafetyManager, &r.PrimaryContactPhone,
		&r.PrimaryBuildingID,
		&r.MatchedID, &r.MatchedName, &r.MatchedCreditCode, &r.MatchedAddress,
		&r.MatchedLegalRepresentative, &r.MatchedSafetyManager, &r.MatchedContactPhone,
		&matchType, &r.SimilarityScore, &matchConfidence, &explanationJSON,
		&reviewStatus, &r.ReviewNotes, &r.Reviewer, &reviewTimestamp,
		&r.CreatedTime, &r.UpdatedTime,
	)
	if err != nil {
		return r, err
	}
	r.MatchType = linkresult.MatchType(matchType)
	r.MatchConfidence = linkresult.Confidence(matchConfidence)
	r.ReviewStatus = linkresult.ReviewStatus(reviewStatus)
	if reviewTimestamp.Valid {
		r.ReviewTimestamp = reviewTimestamp.Time
	}
	if err := json.Unmarshal([]byte(explanationJSON), &r.MatchExplanation); err != nil {
		return r, fmt.Errorf("failed to unmarshal match_explanation: %w", err)
	}
	return r, nil
}
