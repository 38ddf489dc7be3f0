package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"linkcore/internal/unit"
)

// SecondarySourceAdapter implements source.SecondarySource directly over
// the secondary_units table this Store also owns (SPEC_FULL.md §2 "Source
// Adapter" — "so the module is runnable standalone without a live external
// document database"). It is a thin read-only view; SyncSecondary (used
// by the Aggregator) and UpsertSecondaryUnits (used to ingest records)
// both write the same table this adapter reads.
type SecondarySourceAdapter struct {
	store *Store
}

// Secondary returns a source.SecondarySource backed by this Store.
func (s *Store) Secondary() *SecondarySourceAdapter {
	return &SecondarySourceAdapter{store: s}
}

func scanUnitRow(scan func(dest ...interface{}) error) (unit.Unit, error) {
	var u unit.Unit
	var buildingID, nameCanonical, nameCore, nameSlices, nameTokens, addressKeywords sql.NullString
	var inspectionTime sql.NullTime
	if err := scan(
		&u.ID, &u.Name, &u.CreditCode, &u.Address, &u.LegalRepresentative, &u.SafetyManager,
		&u.ContactPhone, &buildingID, &nameCanonical, &nameCore, &nameSlices, &nameTokens,
		&addressKeywords, &inspectionTime,
	); err != nil {
		return unit.Unit{}, err
	}
	u.BuildingID = buildingID.String
	if inspectionTime.Valid {
		u.InspectionTimestamp = inspectionTime.Time
	}
	return u, nil
}

const secondaryUnitColumns = `id, name, credit_code, address, legal_representative, safety_manager,
	contact_phone, building_id, name_canonical, name_core, name_slices, name_tokens,
	address_keywords, inspection_timestamp`

func (a *SecondarySourceAdapter) queryUnits(ctx context.Context, where string, args ...interface{}) ([]unit.Unit, error) {
	rows, err := a.store.db.QueryContext(ctx, "SELECT "+secondaryUnitColumns+" FROM secondary_units"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query secondary_units: %w", err)
	}
	defer rows.Close()

	var out []unit.Unit
	for rows.Next() {
		u, err := scanUnitRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secondary unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ByCreditCode implements source.SecondarySource step 1 (spec.md §4.3).
func (a *SecondarySourceAdapter) ByCreditCode(ctx context.Context, creditCode string) ([]unit.Unit, error) {
	if creditCode == "" {
		return nil, nil
	}
	return a.queryUnits(ctx, " WHERE credit_code = ?", creditCode)
}

// ByNameCanonical implements source.SecondarySource step 2.
func (a *SecondarySourceAdapter) ByNameCanonical(ctx context.Context, nameCanonical string) ([]unit.Unit, error) {
	if nameCanonical == "" {
		return nil, nil
	}
	return a.queryUnits(ctx, " WHERE name_canonical = ?", nameCanonical)
}

// BySlices implements source.SecondarySource step 3: the union of units
// whose JSON-array name_slices column intersects any of the given slices.
func (a *SecondarySourceAdapter) BySlices(ctx context.Context, slices []string) ([]unit.Unit, error) {
	if len(slices) == 0 {
		return nil, nil
	}
	rows, err := a.store.db.QueryContext(ctx, `
		SELECT DISTINCT `+secondaryUnitColumns+`
		FROM secondary_units, json_each(secondary_units.name_slices)
		WHERE secondary_units.name_slices IS NOT NULL AND secondary_units.name_slices != ''
			AND json_each.value IN (`+placeholders(len(slices))+`)
	`, toArgs(slices)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query secondary_units by name slices: %w", err)
	}
	defer rows.Close()

	var out []unit.Unit
	for rows.Next() {
		u, err := scanUnitRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secondary unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ByNameTokens implements source.SecondarySource step 4: a full-text search
// over the cached name_tokens JSON array, capped at limit hits.
func (a *SecondarySourceAdapter) ByNameTokens(ctx context.Context, tokens []string, limit int) ([]unit.Unit, error) {
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := a.store.db.QueryContext(ctx, `
		SELECT `+secondaryUnitColumns+`
		FROM secondary_units, json_each(secondary_units.name_tokens)
		WHERE secondary_units.name_tokens IS NOT NULL AND secondary_units.name_tokens != ''
			AND json_each.value IN (`+placeholders(len(tokens))+`)
		GROUP BY secondary_units.id
		ORDER BY COUNT(*) DESC
		LIMIT ?
	`, append(toArgs(tokens), limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search secondary_units by name tokens: %w", err)
	}
	defer rows.Close()

	var out []unit.Unit
	for rows.Next() {
		u, err := scanUnitRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secondary unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ByAddressKeywords implements source.SecondarySource step 5, capped at
// limit hits (spec.md §4.3 default limit 30).
func (a *SecondarySourceAdapter) ByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]unit.Unit, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := a.store.db.QueryContext(ctx, `
		SELECT `+secondaryUnitColumns+`
		FROM secondary_units, json_each(secondary_units.address_keywords)
		WHERE secondary_units.address_keywords IS NOT NULL AND secondary_units.address_keywords != ''
			AND json_each.value IN (`+placeholders(len(keywords))+`)
		GROUP BY secondary_units.id
		ORDER BY COUNT(*) DESC
		LIMIT ?
	`, append(toArgs(keywords), limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search secondary_units by address keywords: %w", err)
	}
	defer rows.Close()

	var out []unit.Unit
	for rows.Next() {
		u, err := scanUnitRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secondary unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ByUnitID looks a single SECONDARY unit up by id, used by the Aggregator's
// unit_based strategy.
func (a *SecondarySourceAdapter) ByUnitID(ctx context.Context, id string) (unit.Unit, bool, error) {
	units, err := a.queryUnits(ctx, " WHERE id = ?", id)
	if err != nil {
		return unit.Unit{}, false, err
	}
	if len(units) == 0 {
		return unit.Unit{}, false, nil
	}
	return units[0], true, nil
}

// ByBuildingID returns every SECONDARY unit sharing a building identifier.
func (a *SecondarySourceAdapter) ByBuildingID(ctx context.Context, buildingID string) ([]unit.Unit, error) {
	if buildingID == "" {
		return nil, nil
	}
	return a.queryUnits(ctx, " WHERE building_id = ?", buildingID)
}

// All returns every SECONDARY unit, used by the Graph Index (spec.md §4.4
// L4) to build the attribute-sharing arena.
func (a *SecondarySourceAdapter) All(ctx context.Context) ([]unit.Unit, error) {
	return a.queryUnits(ctx, "")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// UpsertSecondaryUnits loads records into the secondary_units table, the
// same ingestion path SyncSecondary uses internally — exposed so
// cmd/linkengine can populate a standalone database from a JSON export.
func (s *Store) UpsertSecondaryUnits(ctx context.Context, units []unit.Unit) error {
	return s.SyncSecondary(ctx, units)
}
