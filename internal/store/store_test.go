package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "linkcore.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(primaryID string) linkresult.LinkageResult {
	return linkresult.LinkageResult{
		PrimaryID:       primaryID,
		PrimaryName:     "Acme Safety Co",
		MatchedID:       "S1",
		MatchedName:     "Acme Safety Company",
		MatchType:       linkresult.MatchFuzzyPrefiltered,
		SimilarityScore: 0.82,
		MatchConfidence: linkresult.ConfidenceMedium,
		MatchExplanation: linkresult.MatchExplanation{
			Positive:    []string{"name_core similarity above threshold"},
			Negative:    []string{},
			FieldScores: map[string]float64{"name": 0.82},
		},
		ReviewStatus: linkresult.ReviewPending,
	}
}

func TestUpsertThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := sampleResult("P1")
	require.NoError(t, s.Upsert(ctx, r))

	got, err := s.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "P1", got.PrimaryID)
	require.Equal(t, linkresult.MatchFuzzyPrefiltered, got.MatchType)
	require.Equal(t, 0.82, got.SimilarityScore)
	require.Equal(t, []string{"name_core similarity above threshold"}, got.MatchExplanation.Positive)
	require.False(t, got.CreatedTime.IsZero())
}

func TestUpsertIsIdempotentPerPrimaryID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := sampleResult("P2")
	counts, err := s.UpsertBulk(ctx, []linkresult.LinkageResult{r1})
	require.NoError(t, err)
	require.Equal(t, 1, counts.Inserted)
	require.Equal(t, 0, counts.Modified)

	r2 := sampleResult("P2")
	r2.SimilarityScore = 0.91
	counts, err = s.UpsertBulk(ctx, []linkresult.LinkageResult{r2})
	require.NoError(t, err)
	require.Equal(t, 0, counts.Inserted)
	require.Equal(t, 1, counts.Modified)

	got, err := s.Get(ctx, "P2")
	require.NoError(t, err)
	require.Equal(t, 0.91, got.SimilarityScore)

	all, total, err := s.IterPending(ctx, ResultFilter{}, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, all, 1)
}

func TestGetUnknownPrimaryIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, linkerr.ErrNotFound)
}

func TestSetReviewValidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleResult("P3")))

	got, err := s.Get(ctx, "P3")
	require.NoError(t, err)

	updated, err := s.SetReview(ctx, "P3", linkresult.ReviewApproved, "looks right", "alice", got.UpdatedTime)
	require.NoError(t, err)
	require.Equal(t, linkresult.ReviewApproved, updated.ReviewStatus)
	require.Equal(t, "alice", updated.Reviewer)
}

func TestSetReviewRejectsInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleResult("P4")))

	got, err := s.Get(ctx, "P4")
	require.NoError(t, err)
	_, err = s.SetReview(ctx, "P4", linkresult.ReviewApproved, "", "bob", got.UpdatedTime)
	require.NoError(t, err)

	_, err = s.SetReview(ctx, "P4", linkresult.ReviewRejected, "", "bob", got.UpdatedTime)
	require.Error(t, err)
}

func TestSetReviewStaleConflictReturnsErrStaleReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleResult("P5")))

	got, err := s.Get(ctx, "P5")
	require.NoError(t, err)

	staleTime := got.UpdatedTime.Add(-time.Hour)
	_, err = s.SetReview(ctx, "P5", linkresult.ReviewApproved, "", "carol", staleTime)
	require.ErrorIs(t, err, linkerr.ErrStaleReview)
}

func TestClearAllRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleResult("P6")))
	require.NoError(t, s.Upsert(ctx, sampleResult("P7")))

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, total, err := s.IterPending(ctx, ResultFilter{}, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 0, total)
}

func TestIterPendingFiltersByMatchType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exact := sampleResult("P8")
	exact.MatchType = linkresult.MatchExactCreditCode
	require.NoError(t, s.Upsert(ctx, exact))

	fuzzy := sampleResult("P9")
	require.NoError(t, s.Upsert(ctx, fuzzy))

	results, total, err := s.IterPending(ctx, ResultFilter{MatchType: string(linkresult.MatchExactCreditCode)}, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	require.Equal(t, "P8", results[0].PrimaryID)
}

func TestGetStatisticsAggregatesByMatchType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleResult("P10")
	a.MatchType = linkresult.MatchExactCreditCode
	require.NoError(t, s.Upsert(ctx, a))

	b := sampleResult("P11")
	require.NoError(t, s.Upsert(ctx, b))

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByMatchType[string(linkresult.MatchExactCreditCode)])
	require.Equal(t, 1, stats.ByMatchType[string(linkresult.MatchFuzzyPrefiltered)])
}
