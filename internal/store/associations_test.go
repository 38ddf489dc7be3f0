package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/unit"
)

func sampleAssociation(primaryID string) linkresult.EnhancedAssociation {
	return linkresult.EnhancedAssociation{
		PrimaryID:   primaryID,
		PrimaryName: "Acme Safety Co",
		PrimarySnapshot: unit.Unit{
			ID:   primaryID,
			Name: "Acme Safety Co",
		},
		AssociatedRecords: []linkresult.AssociatedRecord{
			{SecondaryID: "S1", MatchType: linkresult.MatchFuzzyPrefiltered, SimilarityScore: 0.82, SnapshotFields: map[string]string{"name": "Acme Safety Company"}},
		},
		AssociationStrategy:   linkresult.StrategyUnitBased,
		AssociationConfidence: 0.82,
		DataQualityScore:      0.75,
	}
}

func TestUpsertAssociationsThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleAssociation("P1")
	n, err := s.UpsertAssociations(ctx, []linkresult.EnhancedAssociation{a})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetAssociation(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "P1", got.PrimaryID)
	require.Equal(t, linkresult.StrategyUnitBased, got.AssociationStrategy)
	require.Len(t, got.AssociatedRecords, 1)
	require.Equal(t, "S1", got.AssociatedRecords[0].SecondaryID)
	require.Equal(t, "Acme Safety Co", got.PrimarySnapshot.Name)
}

func TestUpsertAssociationsIsIdempotentOnPrimaryID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleAssociation("P2")
	_, err := s.UpsertAssociations(ctx, []linkresult.EnhancedAssociation{a})
	require.NoError(t, err)

	a.DataQualityScore = 0.95
	_, err = s.UpsertAssociations(ctx, []linkresult.EnhancedAssociation{a})
	require.NoError(t, err)

	all, err := s.ListAssociations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 0.95, all[0].DataQualityScore)
}

func TestGetAssociationUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAssociation(context.Background(), "nope")
	require.ErrorIs(t, err, linkerr.ErrNotFound)
}

func TestListAssociationsFiltersByStrategy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unitBased := sampleAssociation("P3")
	_, err := s.UpsertAssociations(ctx, []linkresult.EnhancedAssociation{unitBased})
	require.NoError(t, err)

	building := sampleAssociation("P4")
	building.AssociationStrategy = linkresult.StrategyBuildingBased
	_, err = s.UpsertAssociations(ctx, []linkresult.EnhancedAssociation{building})
	require.NoError(t, err)

	out, err := s.ListAssociations(ctx, linkresult.StrategyBuildingBased)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "P4", out[0].PrimaryID)
}
