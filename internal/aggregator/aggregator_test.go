package aggregator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcore/internal/linkresult"
	"linkcore/internal/normalize"
	"linkcore/internal/store"
	"linkcore/internal/unit"
)

type fakeSecondary struct {
	units []unit.Unit
}

func (s *fakeSecondary) All(ctx context.Context) ([]unit.Unit, error) { return s.units, nil }

func newTestStore(t *testing.T, n *normalize.Normalizer) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "linkcore.db"))
	require.NoError(t, err)
	st.SetNormalizer(n)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunUnitBasedGroupsDirectAndCreditCodeMatches(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, linkresult.LinkageResult{
		PrimaryID:         "P1",
		PrimaryName:       "Acme Safety Co",
		PrimaryCreditCode: "CODE1",
		MatchedID:         "S1",
		MatchedName:       "Acme Safety Company",
		MatchType:         linkresult.MatchFuzzyPrefiltered,
		SimilarityScore:   0.82,
		MatchConfidence:   linkresult.ConfidenceMedium,
		MatchExplanation:  linkresult.MatchExplanation{FieldScores: map[string]float64{}},
		ReviewStatus:      linkresult.ReviewPending,
	}))

	sec := &fakeSecondary{units: []unit.Unit{
		{ID: "S1", Name: "Acme Safety Company", CreditCode: "CODE1"},
		{ID: "S2", Name: "Totally Different Co", CreditCode: "CODE1"},
	}}

	agg := New(st, sec, n)
	count, err := agg.Run(ctx, linkresult.StrategyUnitBased, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := st.GetAssociation(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, linkresult.StrategyUnitBased, got.AssociationStrategy)
	assert.Len(t, got.AssociatedRecords, 2)

	ids := []string{got.AssociatedRecords[0].SecondaryID, got.AssociatedRecords[1].SecondaryID}
	assert.ElementsMatch(t, []string{"S1", "S2"}, ids)

	// S2 arrives via the exact_credit_code branch (similarity_score hardcoded
	// to 1.0); S1 is the direct match at 0.82. Descending similarity puts S2
	// first regardless of which branch's UNION happened to emit it first.
	assert.Equal(t, "S2", got.AssociatedRecords[0].SecondaryID)
	assert.Equal(t, 1.0, got.AssociatedRecords[0].SimilarityScore)
	assert.Equal(t, "S1", got.AssociatedRecords[1].SecondaryID)
}

func TestRunBuildingBasedGroupsByBuildingID(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, linkresult.LinkageResult{
		PrimaryID:         "P2",
		PrimaryName:       "Shanghai Chemical Works",
		PrimaryBuildingID: "BLDG-7",
		MatchType:         linkresult.MatchNone,
		MatchConfidence:   linkresult.ConfidenceNone,
		MatchExplanation:  linkresult.MatchExplanation{FieldScores: map[string]float64{}},
		ReviewStatus:      linkresult.ReviewPending,
	}))

	sec := &fakeSecondary{units: []unit.Unit{
		{ID: "S3", Name: "Shanghai Chemical Annex", BuildingID: "BLDG-7"},
	}}

	agg := New(st, sec, n)
	count, err := agg.Run(ctx, linkresult.StrategyBuildingBased, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := st.GetAssociation(ctx, "P2")
	require.NoError(t, err)
	require.Len(t, got.AssociatedRecords, 1)
	assert.Equal(t, "S3", got.AssociatedRecords[0].SecondaryID)
	assert.Equal(t, linkresult.MatchBuildingColocated, got.AssociatedRecords[0].MatchType)
}

func TestRunHybridRanksBuildingMembersFirst(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, linkresult.LinkageResult{
		PrimaryID:         "P3",
		PrimaryName:       "Acme Safety Co",
		PrimaryCreditCode: "CODE9",
		PrimaryBuildingID: "BLDG-1",
		MatchedID:         "S4",
		MatchedName:       "Acme Safety Company",
		MatchType:         linkresult.MatchFuzzyPrefiltered,
		SimilarityScore:   0.75,
		MatchConfidence:   linkresult.ConfidenceMedium,
		MatchExplanation:  linkresult.MatchExplanation{FieldScores: map[string]float64{}},
		ReviewStatus:      linkresult.ReviewPending,
	}))

	sec := &fakeSecondary{units: []unit.Unit{
		{ID: "S4", Name: "Acme Safety Company", CreditCode: "CODE9"},
		{ID: "S5", Name: "Neighboring Tenant Co", BuildingID: "BLDG-1"},
	}}

	agg := New(st, sec, n)
	_, err := agg.Run(ctx, linkresult.StrategyHybrid, false)
	require.NoError(t, err)

	got, err := st.GetAssociation(ctx, "P3")
	require.NoError(t, err)
	require.Len(t, got.AssociatedRecords, 2)
	assert.Equal(t, "S5", got.AssociatedRecords[0].SecondaryID, "building-based member must rank first")
}

func TestRunDefaultsToHybridWhenStrategyEmpty(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, linkresult.LinkageResult{
		PrimaryID:         "P4",
		PrimaryName:       "Acme Safety Co",
		PrimaryCreditCode: "CODE2",
		MatchType:         linkresult.MatchNone,
		MatchConfidence:   linkresult.ConfidenceNone,
		MatchExplanation:  linkresult.MatchExplanation{FieldScores: map[string]float64{}},
		ReviewStatus:      linkresult.ReviewPending,
	}))
	sec := &fakeSecondary{units: []unit.Unit{{ID: "S6", Name: "Other", CreditCode: "CODE2"}}}

	agg := New(st, sec, n)
	_, err := agg.Run(ctx, "", false)
	require.NoError(t, err)

	got, err := st.GetAssociation(ctx, "P4")
	require.NoError(t, err)
	assert.Equal(t, linkresult.StrategyHybrid, got.AssociationStrategy)
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	agg := New(st, &fakeSecondary{}, n)

	_, err := agg.Run(context.Background(), linkresult.AssociationStrategy("bogus"), false)
	require.Error(t, err)
}

func TestRunClearExistingRemovesPriorAssociations(t *testing.T) {
	n := normalize.Default()
	st := newTestStore(t, n)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, linkresult.LinkageResult{
		PrimaryID:         "P5",
		PrimaryName:       "Acme Safety Co",
		PrimaryCreditCode: "CODE3",
		MatchType:         linkresult.MatchNone,
		MatchConfidence:   linkresult.ConfidenceNone,
		MatchExplanation:  linkresult.MatchExplanation{FieldScores: map[string]float64{}},
		ReviewStatus:      linkresult.ReviewPending,
	}))
	sec := &fakeSecondary{units: []unit.Unit{{ID: "S7", Name: "Other", CreditCode: "CODE3"}}}
	agg := New(st, sec, n)

	_, err := agg.Run(ctx, linkresult.StrategyUnitBased, false)
	require.NoError(t, err)

	sec.units = nil
	count, err := agg.Run(ctx, linkresult.StrategyUnitBased, true)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	_, err = st.GetAssociation(ctx, "P5")
	require.Error(t, err)
}
