package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
)

// UpsertAssociations writes a batch of EnhancedAssociations produced by one
// Aggregator run, keyed by primary_id (spec.md §4.7 "upsert on
// association_id, one row per primary_id").
func (s *Store) UpsertAssociations(ctx context.Context, associations []linkresult.EnhancedAssociation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin association upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range associations {
		a.AssociationID = linkresult.ComputeAssociationID(a.PrimaryID, a.AssociationStrategy)
		if a.GeneratedTime.IsZero() {
			a.GeneratedTime = time.Now().UTC()
		}

		snapshotJSON, err := json.Marshal(a.PrimarySnapshot)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal primary_snapshot: %w", err)
		}
		recordsJSON, err := json.Marshal(a.AssociatedRecords)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal associated_records: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enhanced_associations (
				association_id, primary_id, primary_name, primary_snapshot,
				associated_records, association_strategy, association_confidence,
				data_quality_score, generated_time
			) VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(association_id) DO UPDATE SET
				primary_name = excluded.primary_name,
				primary_snapshot = excluded.primary_snapshot,
				associated_records = excluded.associated_records,
				association_strategy = excluded.association_strategy,
				association_confidence = excluded.association_confidence,
				data_quality_score = excluded.data_quality_score,
				generated_time = excluded.generated_time
		`,
			a.AssociationID, a.PrimaryID, a.PrimaryName, string(snapshotJSON),
			string(recordsJSON), string(a.AssociationStrategy), a.AssociationConfidence,
			a.DataQualityScore, a.GeneratedTime,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert association for primary_id %s: %w", a.PrimaryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit association batch: %w", err)
	}
	logging.StoreDebug("upserted %d enhanced associations", len(associations))
	return len(associations), nil
}

// GetAssociation reads one EnhancedAssociation by primary_id.
func (s *Store) GetAssociation(ctx context.Context, primaryID string) (linkresult.EnhancedAssociation, error) {
	row := s.db.QueryRowContext(ctx, associationSelectColumns+" WHERE primary_id = ?", primaryID)
	a, err := scanAssociation(row)
	if err == sql.ErrNoRows {
		return linkresult.EnhancedAssociation{}, linkerr.ErrNotFound
	}
	if err != nil {
		return linkresult.EnhancedAssociation{}, fmt.Errorf("failed to read enhanced association: %w", err)
	}
	return a, nil
}

// ListAssociations returns every EnhancedAssociation generated by the most
// recent aggregation run, optionally narrowed to a strategy.
func (s *Store) ListAssociations(ctx context.Context, strategy linkresult.AssociationStrategy) ([]linkresult.EnhancedAssociation, error) {
	query := associationSelectColumns
	var args []interface{}
	if strategy != "" {
		query += " WHERE association_strategy = ?"
		args = append(args, string(strategy))
	}
	query += " ORDER BY generated_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enhanced associations: %w", err)
	}
	defer rows.Close()

	var out []linkresult.EnhancedAssociation
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enhanced association: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const associationSelectColumns = `SELECT
	association_id, primary_id, primary_name, primary_snapshot,
	associated_records, association_strategy, association_confidence,
	data_quality_score, generated_time
	FROM enhanced_associations`

func scanAssociation(row rowScanner) (linkresult.EnhancedAssociation, error) {
	var a linkresult.EnhancedAssociation
	var strategy, snapshotJSON, recordsJSON string

	err := row.Scan(
		&a.AssociationID, &a.PrimaryID, &a.PrimaryName, &snapshotJSON,
		&recordsJSON, &strategy, &a.AssociationConfidence,
		&a.DataQualityScore, &a.GeneratedTime,
	)
	if err != nil {
		return a, err
	}
	a.AssociationStrategy = linkresult.AssociationStrategy(strategy)
	if err := json.Unmarshal([]byte(snapshotJSON), &a.PrimarySnapshot); err != nil {
		return a, fmt.Errorf("failed to unmarshal primary_snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(recordsJSON), &a.AssociatedRecords); err != nil {
		return a, fmt.Errorf("failed to unmarshal associated_records: %w", err)
	}
	return a, nil
}
