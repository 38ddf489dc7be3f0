package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"linkcore/internal/source"
	"linkcore/internal/unit"
)

// PrimarySourceAdapter implements source.PrimarySource directly over the
// primary_units table this Store also owns (SPEC_FULL.md §2 "Source
// Adapter"), reading in primary_id ascending order as spec.md §4.6 requires.
type PrimarySourceAdapter struct {
	store *Store
}

// Primary returns a source.PrimarySource backed by this Store.
func (s *Store) Primary() *PrimarySourceAdapter {
	return &PrimarySourceAdapter{store: s}
}

// unmatchedClause is the WHERE fragment for onlyUnmatched=true: a PRIMARY
// record counts as unmatched if it has no LinkageResult yet, or its only
// LinkageResult has match_type=none (spec.md §4.6 "onlyUnmatched restricts
// to PRIMARY records without a conclusive match").
const unmatchedClause = ` NOT EXISTS (
	SELECT 1 FROM linkage_results lr
	WHERE lr.primary_id = primary_units.id AND lr.match_type != 'none'
)`

// Count implements source.PrimarySource.Count.
func (a *PrimarySourceAdapter) Count(ctx context.Context, onlyUnmatched bool) (int, error) {
	query := "SELECT COUNT(*) FROM primary_units"
	if onlyUnmatched {
		query += " WHERE" + unmatchedClause
	}
	var n int
	if err := a.store.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count primary_units: %w", err)
	}
	return n, nil
}

// Page implements source.PrimarySource.Page.
func (a *PrimarySourceAdapter) Page(ctx context.Context, afterID string, pageSize int, onlyUnmatched bool) (source.PrimaryPage, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	where := "WHERE id > ?"
	args := []interface{}{afterID}
	if onlyUnmatched {
		where += " AND" + unmatchedClause
	}

	query := fmt.Sprintf(`
		SELECT id, name, credit_code, address, legal_representative, safety_manager, contact_phone, building_id
		FROM primary_units %s ORDER BY id ASC LIMIT ?
	`, where)
	args = append(args, pageSize+1)

	rows, err := a.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return source.PrimaryPage{}, fmt.Errorf("failed to page primary_units: %w", err)
	}
	defer rows.Close()

	var records []unit.Unit
	for rows.Next() {
		var u unit.Unit
		var buildingID sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.CreditCode, &u.Address, &u.LegalRepresentative, &u.SafetyManager, &u.ContactPhone, &buildingID); err != nil {
			return source.PrimaryPage{}, fmt.Errorf("failed to scan primary unit: %w", err)
		}
		u.BuildingID = buildingID.String
		records = append(records, u)
	}
	if err := rows.Err(); err != nil {
		return source.PrimaryPage{}, err
	}

	hasMore := len(records) > pageSize
	if hasMore {
		records = records[:pageSize]
	}
	next := afterID
	if len(records) > 0 {
		next = records[len(records)-1].ID
	}
	return source.PrimaryPage{Records: records, NextCursor: next, HasMore: hasMore}, nil
}

// UpsertPrimaryUnits loads records into the primary_units table, for
// cmd/linkengine's standalone ingestion path.
func (s *Store) UpsertPrimaryUnits(ctx context.Context, units []unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin primary_units load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO primary_units (id, name, credit_code, address, legal_representative, safety_manager, contact_phone, building_id, loaded_time)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, credit_code = excluded.credit_code, address = excluded.address,
			legal_representative = excluded.legal_representative, safety_manager = excluded.safety_manager,
			contact_phone = excluded.contact_phone, building_id = excluded.building_id, loaded_time = excluded.loaded_time
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare primary_units upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, u.ID, u.Name, u.CreditCode, u.Address, u.LegalRepresentative, u.SafetyManager, u.ContactPhone, u.BuildingID, now); err != nil {
			return fmt.Errorf("failed to load primary unit %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}
