package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"linkcore/internal/linkresult"
)

// ClearAssociations removes every EnhancedAssociation, for start_enhanced_
// association's optional clear_existing (spec.md §6), mirroring ClearAll's
// role for linkage_results.
func (s *Store) ClearAssociations(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM enhanced_associations")
	if err != nil {
		return 0, fmt.Errorf("failed to clear enhanced_associations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AssociationMember is the shape each strategy's members CTE projects as one
// JSON object per row of json_group_array (see queryMembersCTE).
type AssociationMember struct {
	SecondaryID         string  `json:"secondary_id"`
	MatchType           string  `json:"match_type"`
	SimilarityScore     float64 `json:"similarity_score"`
	Name                string  `json:"name"`
	CreditCode          string  `json:"credit_code"`
	Address             string  `json:"address"`
	LegalRepresentative string  `json:"legal_representative"`
	SafetyManager       string  `json:"safety_manager"`
	ContactPhone        string  `json:"contact_phone"`
	InspectionTimestamp string  `json:"inspection_timestamp"`
}

// AssociationCandidate is one PRIMARY group produced by the Aggregator's
// SQL pipeline: the PRIMARY snapshot plus its raw, precedence-ordered,
// not-yet-deduplicated member list (spec.md §4.7 "hybrid ... building-based
// members ranked first").
type AssociationCandidate struct {
	PrimaryID                  string
	PrimaryName                string
	PrimaryCreditCode          string
	PrimaryAddress             string
	PrimaryLegalRepresentative string
	PrimarySafetyManager       string
	PrimaryContactPhone        string
	PrimaryBuildingID          string
	Members                    []AssociationMember
}

// membersCTE returns the strategy-specific "members" common table expression
// (spec.md §4.7): one row per (primary_id, secondary_id, evidence) triple,
// with a rank column controlling member precedence within a group.
func membersCTE(strategy linkresult.AssociationStrategy) string {
	building := `
		SELECT lr.primary_id AS primary_id, 0 AS rank, su.id AS secondary_id,
			'building_colocated' AS match_type, 1.0 AS similarity_score,
			su.name, su.credit_code, su.address, su.legal_representative,
			su.safety_manager, su.contact_phone, su.inspection_timestamp
		FROM linkage_results lr
		JOIN secondary_units su ON su.building_id = lr.primary_building_id
		WHERE lr.primary_building_id IS NOT NULL AND lr.primary_building_id != ''
			AND su.building_id IS NOT NULL AND su.building_id != ''
	`
	unitDirect := `
		SELECT lr.primary_id AS primary_id, 1 AS rank, su.id AS secondary_id,
			lr.match_type AS match_type, lr.similarity_score AS similarity_score,
			su.name, su.credit_code, su.address, su.legal_representative,
			su.safety_manager, su.contact_phone, su.inspection_timestamp
		FROM linkage_results lr
		JOIN secondary_units su ON su.id = lr.matched_id
		WHERE lr.matched_id IS NOT NULL AND lr.matched_id != ''
	`
	unitCreditCode := `
		SELECT lr.primary_id AS primary_id, 1 AS rank, su.id AS secondary_id,
			'exact_credit_code' AS match_type, 1.0 AS similarity_score,
			su.name, su.credit_code, su.address, su.legal_representative,
			su.safety_manager, su.contact_phone, su.inspection_timestamp
		FROM linkage_results lr
		JOIN secondary_units su ON su.credit_code = lr.primary_credit_code
		WHERE lr.primary_credit_code IS NOT NULL AND lr.primary_credit_code != ''
			AND su.credit_code IS NOT NULL AND su.credit_code != ''
	`
	unitNameCanonical := `
		SELECT lr.primary_id AS primary_id, 1 AS rank, su.id AS secondary_id,
			'exact_name_canonical' AS match_type, 1.0 AS similarity_score,
			su.name, su.credit_code, su.address, su.legal_representative,
			su.safety_manager, su.contact_phone, su.inspection_timestamp
		FROM linkage_results lr
		JOIN secondary_units su ON su.name_canonical = lr.primary_name_canonical
		WHERE lr.primary_name_canonical IS NOT NULL AND lr.primary_name_canonical != ''
			AND su.name_canonical IS NOT NULL AND su.name_canonical != ''
	`
	unitBased := unitDirect + " UNION " + unitCreditCode + " UNION " + unitNameCanonical

	switch strategy {
	case linkresult.StrategyBuildingBased:
		return building
	case linkresult.StrategyUnitBased:
		return unitBased
	default: // hybrid
		return building + " UNION " + unitBased
	}
}

// QueryAssociationCandidates runs the Aggregator's single server-side SQL
// pipeline for strategy (spec.md §4.7 "MUST execute ... as a single
// server-side pipeline ... rather than shipping raw rows to the application
// and looping"): one statement, grouping and JSON projection done by
// sqlite, returning one row per PRIMARY id that has at least one member.
func (s *Store) QueryAssociationCandidates(ctx context.Context, strategy linkresult.AssociationStrategy) ([]AssociationCandidate, error) {
	query := fmt.Sprintf(`
		WITH members AS (%s)
		SELECT lr.primary_id, lr.primary_name, lr.primary_credit_code, lr.primary_address,
			lr.primary_legal_representative, lr.primary_safety_manager, lr.primary_contact_phone,
			lr.primary_building_id,
			(
				SELECT json_group_array(json_object(
					'secondary_id', m.secondary_id, 'match_type', m.match_type,
					'similarity_score', m.similarity_score, 'name', m.name,
					'credit_code', m.credit_code, 'address', m.address,
					'legal_representative', m.legal_representative,
					'safety_manager', m.safety_manager, 'contact_phone', m.contact_phone,
					'inspection_timestamp', m.inspection_timestamp
				))
				FROM (
					SELECT * FROM members WHERE primary_id = lr.primary_id
					ORDER BY rank ASC, similarity_score DESC, inspection_timestamp DESC
				) m
			) AS members_json
		FROM linkage_results lr
		WHERE EXISTS (SELECT 1 FROM members m2 WHERE m2.primary_id = lr.primary_id)
		ORDER BY lr.primary_id
	`, membersCTE(strategy))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run association pipeline for strategy %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []AssociationCandidate
	for rows.Next() {
		var c AssociationCandidate
		var buildingID sql.NullString
		var membersJSON string
		if err := rows.Scan(
			&c.PrimaryID, &c.PrimaryName, &c.PrimaryCreditCode, &c.PrimaryAddress,
			&c.PrimaryLegalRepresentative, &c.PrimarySafetyManager, &c.PrimaryContactPhone,
			&buildingID, &membersJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan association candidate: %w", err)
		}
		c.PrimaryBuildingID = buildingID.String
		if err := json.Unmarshal([]byte(membersJSON), &c.Members); err != nil {
			return nil, fmt.Errorf("failed to unmarshal members for primary_id %s: %w", c.PrimaryID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
