// Package aggregator implements the Enhanced Association Aggregator
// (spec.md §4.7): the read path that turns already-linked PRIMARY records
// into 1:N groupings of plausibly-associated SECONDARY records, executed
// as a single server-side SQL pipeline per strategy (internal/store's
// QueryAssociationCandidates) rather than a client-side loop over every
// PRIMARY record — the spec.md §9 redesign flag this package exists to
// satisfy.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
	"linkcore/internal/normalize"
	"linkcore/internal/source"
	"linkcore/internal/store"
	"linkcore/internal/unit"
)

// Aggregator runs start_enhanced_association (spec.md §6).
type Aggregator struct {
	store      *store.Store
	secondary  source.SecondarySource
	normalizer *normalize.Normalizer
}

// New constructs an Aggregator. normalizer must be the same instance (or an
// equivalently configured one) passed to store.Store.SetNormalizer, so the
// consistency score's field comparisons agree with the SQL join's own
// name_canonical values.
func New(st *store.Store, secondary source.SecondarySource, normalizer *normalize.Normalizer) *Aggregator {
	return &Aggregator{store: st, secondary: secondary, normalizer: normalizer}
}

func validStrategy(s linkresult.AssociationStrategy) bool {
	switch s {
	case linkresult.StrategyBuildingBased, linkresult.StrategyUnitBased, linkresult.StrategyHybrid:
		return true
	default:
		return false
	}
}

// Run executes one aggregation pass for strategy (empty defaults to hybrid,
// spec.md §4.7 "hybrid (default)"), returning the number of associations
// written.
func (a *Aggregator) Run(ctx context.Context, strategy linkresult.AssociationStrategy, clearExisting bool) (n int, err error) {
	if strategy == "" {
		strategy = linkresult.StrategyHybrid
	}
	if !validStrategy(strategy) {
		return 0, fmt.Errorf("%w: unknown association strategy %q", linkerr.ErrAggregationFailed, strategy)
	}

	start := time.Now()
	timer := logging.StartTimer(logging.CategoryAggregator, "Run")
	defer timer.Stop()
	defer func() { logging.Audit().AggregationRun(string(strategy), n, time.Since(start).Milliseconds(), err) }()

	secondaryUnits, err := a.secondary.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read secondary source: %v", linkerr.ErrAggregationFailed, err)
	}
	if err := a.store.SyncSecondary(ctx, secondaryUnits); err != nil {
		return 0, fmt.Errorf("%w: failed to sync secondary cache: %v", linkerr.ErrAggregationFailed, err)
	}

	if clearExisting {
		if _, err := a.store.ClearAssociations(ctx); err != nil {
			return 0, fmt.Errorf("%w: failed to clear existing associations: %v", linkerr.ErrAggregationFailed, err)
		}
	}

	candidates, err := a.store.QueryAssociationCandidates(ctx, strategy)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", linkerr.ErrAggregationFailed, err)
	}
	logging.Aggregator("aggregation pipeline strategy=%s candidates=%d", strategy, len(candidates))

	associations := make([]linkresult.EnhancedAssociation, 0, len(candidates))
	for _, c := range candidates {
		associations = append(associations, a.buildAssociation(c, strategy))
	}

	if len(associations) == 0 {
		return 0, nil
	}
	n, err = a.store.UpsertAssociations(ctx, associations)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to write associations: %v", linkerr.ErrAggregationFailed, err)
	}
	return n, nil
}

func (a *Aggregator) buildAssociation(c store.AssociationCandidate, strategy linkresult.AssociationStrategy) linkresult.EnhancedAssociation {
	primary := unit.Unit{
		ID:                  c.PrimaryID,
		Name:                c.PrimaryName,
		CreditCode:          c.PrimaryCreditCode,
		Address:             c.PrimaryAddress,
		LegalRepresentative: c.PrimaryLegalRepresentative,
		SafetyManager:       c.PrimarySafetyManager,
		ContactPhone:        c.PrimaryContactPhone,
		BuildingID:          c.PrimaryBuildingID,
	}

	records, memberUnits := dedupeMembers(c.Members)

	assoc := linkresult.EnhancedAssociation{
		AssociationID:         linkresult.ComputeAssociationID(c.PrimaryID, strategy),
		PrimaryID:             c.PrimaryID,
		PrimaryName:           c.PrimaryName,
		PrimarySnapshot:       primary,
		AssociatedRecords:     records,
		AssociationStrategy:   strategy,
		AssociationConfidence: associationConfidence(records),
		DataQualityScore:      a.dataQualityScore(primary, memberUnits),
		GeneratedTime:         time.Now().UTC(),
	}
	return assoc
}

// dedupeMembers preserves the SQL pipeline's precedence ordering (building
// before unit, direct link before auxiliary joins) while dropping repeat
// appearances of the same secondary_id across strategy branches.
func dedupeMembers(raw []store.AssociationMember) ([]linkresult.AssociatedRecord, []unit.Unit) {
	seen := map[string]struct{}{}
	var records []linkresult.AssociatedRecord
	var units []unit.Unit
	for _, m := range raw {
		if _, ok := seen[m.SecondaryID]; ok {
			continue
		}
		seen[m.SecondaryID] = struct{}{}

		records = append(records, linkresult.AssociatedRecord{
			SecondaryID:         m.SecondaryID,
			MatchType:           linkresult.MatchType(m.MatchType),
			SimilarityScore:     m.SimilarityScore,
			InspectionTimestamp: parseSQLiteTime(m.InspectionTimestamp),
			SnapshotFields: map[string]string{
				"name":                 m.Name,
				"credit_code":          m.CreditCode,
				"address":              m.Address,
				"legal_representative": m.LegalRepresentative,
				"safety_manager":       m.SafetyManager,
				"contact_phone":        m.ContactPhone,
			},
		})
		units = append(units, unit.Unit{
			ID:                  m.SecondaryID,
			Name:                m.Name,
			CreditCode:          m.CreditCode,
			Address:             m.Address,
			LegalRepresentative: m.LegalRepresentative,
			SafetyManager:       m.SafetyManager,
			ContactPhone:        m.ContactPhone,
		})
	}
	return records, units
}

// associationConfidence is the mean similarity_score of members scoring at
// least 0.70 (spec.md §4.7); an empty or all-below-threshold group scores 0.
func associationConfidence(records []linkresult.AssociatedRecord) float64 {
	var sum float64
	var n int
	for _, r := range records {
		if r.SimilarityScore >= 0.70 {
			sum += r.SimilarityScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// dataQualityScore blends field completeness on the PRIMARY record with
// cross-member field consistency (spec.md §4.7).
func (a *Aggregator) dataQualityScore(primary unit.Unit, members []unit.Unit) float64 {
	completeness := float64(primary.NonEmptyFieldCount()) / float64(unit.LogicalFieldCount)
	consistency := a.fieldConsistency(primary, members)
	return 0.6*completeness + 0.4*consistency
}

// fieldConsistency reports, over the 7 logical Unit fields, what fraction
// have a single normalized value across the PRIMARY record and every group
// member (ignoring empty values; a field with no non-empty values anywhere
// counts as consistent, vacuously).
func (a *Aggregator) fieldConsistency(primary unit.Unit, members []unit.Unit) float64 {
	fieldsOf := func(u unit.Unit) []string {
		return []string{u.ID, u.Name, u.CreditCode, u.Address, u.LegalRepresentative, u.SafetyManager, u.ContactPhone}
	}
	primaryFields := fieldsOf(primary)

	agree := 0
	for i := range primaryFields {
		values := map[string]struct{}{}
		if v := a.normalizer.NameCanonical(primaryFields[i]); v != "" {
			values[v] = struct{}{}
		}
		for _, m := range members {
			if v := a.normalizer.NameCanonical(fieldsOf(m)[i]); v != "" {
				values[v] = struct{}{}
			}
		}
		if len(values) <= 1 {
			agree++
		}
	}
	return float64(agree) / float64(unit.LogicalFieldCount)
}

// parseSQLiteTime best-effort parses a DATETIME column's textual form as
// projected through json_object; an unparseable or empty value yields the
// zero time, which callers treat as "no tie-break signal" (spec.md §3).
func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
