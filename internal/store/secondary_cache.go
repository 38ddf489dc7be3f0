package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkcore/internal/normalize"
	"linkcore/internal/unit"
)

// SyncSecondary refreshes the secondary_units cache the Aggregator's SQL
// pipeline joins against (spec.md §4.7). The SECONDARY source itself is an
// abstract source.SecondarySource — possibly backed by a different store
// entirely — so the Aggregator cannot join it in a single statement unless
// a queryable snapshot lives next to linkage_results; this cache is that
// snapshot. It is a full replace-in-a-transaction, not an incremental
// upsert: aggregation runs are infrequent compared to match tasks, and a
// stale half-synced cache is a worse failure mode than a full rebuild.
func (s *Store) SyncSecondary(ctx context.Context, units []unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin secondary sync transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM secondary_units"); err != nil {
		return fmt.Errorf("failed to clear secondary_units: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO secondary_units (
			id, name, credit_code, address, legal_representative, safety_manager,
			contact_phone, building_id, name_canonical, name_core, name_slices,
			name_tokens, address_keywords, inspection_timestamp, synced_time
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare secondary_units insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range units {
		normalized := s.normalizer.NormalizeUnit(u)
		slicesJSON, _ := json.Marshal(normalized.NameSlices)
		tokensJSON, _ := json.Marshal(normalize.Tokenize(normalized.NameCanonical))
		keywordsJSON, _ := json.Marshal(normalized.AddressKeywords)
		if _, err := stmt.ExecContext(ctx,
			u.ID, u.Name, u.CreditCode, u.Address, u.LegalRepresentative, u.SafetyManager,
			u.ContactPhone, u.BuildingID, normalized.NameCanonical, normalized.NameCore,
			string(slicesJSON), string(tokensJSON), string(keywordsJSON),
			timeOrNil(u.InspectionTimestamp), now,
		); err != nil {
			return fmt.Errorf("failed to cache secondary unit %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit secondary sync: %w", err)
	}
	return nil
}
