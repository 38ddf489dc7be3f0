package task

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/matcher"
	"linkcore/internal/normalize"
	"linkcore/internal/prefilter"
	"linkcore/internal/source"
	"linkcore/internal/store"
	"linkcore/internal/unit"
)

type fakePrimary struct {
	units []unit.Unit
	delay time.Duration
}

func (f *fakePrimary) Count(ctx context.Context, onlyUnmatched bool) (int, error) {
	return len(f.units), nil
}

func (f *fakePrimary) Page(ctx context.Context, afterID string, pageSize int, onlyUnmatched bool) (source.PrimaryPage, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	sorted := make([]unit.Unit, len(f.units))
	copy(sorted, f.units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var page []unit.Unit
	for _, u := range sorted {
		if u.ID > afterID {
			page = append(page, u)
			if len(page) >= pageSize {
				break
			}
		}
	}
	hasMore := false
	if len(page) > 0 {
		last := page[len(page)-1].ID
		for _, u := range sorted {
			if u.ID > last {
				hasMore = true
				break
			}
		}
	}
	next := ""
	if len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return source.PrimaryPage{Records: page, NextCursor: next, HasMore: hasMore}, nil
}

type fakeSecondary struct {
	units []unit.Unit
}

func (s *fakeSecondary) ByCreditCode(ctx context.Context, code string) ([]unit.Unit, error) {
	if code == "PANIC" {
		panic("simulated lookup failure")
	}
	var out []unit.Unit
	for _, u := range s.units {
		if u.CreditCode == code {
			out = append(out, u)
		}
	}
	return out, nil
}
func (s *fakeSecondary) ByNameCanonical(ctx context.Context, name string) ([]unit.Unit, error) {
	n := normalize.Default()
	var out []unit.Unit
	for _, u := range s.units {
		if n.NameCanonical(u.Name) == name {
			out = append(out, u)
		}
	}
	return out, nil
}
func (s *fakeSecondary) BySlices(ctx context.Context, slices []string) ([]unit.Unit, error) { return s.units, nil }
func (s *fakeSecondary) ByNameTokens(ctx context.Context, tokens []string, limit int) ([]unit.Unit, error) {
	return s.units, nil
}
func (s *fakeSecondary) ByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]unit.Unit, error) {
	return s.units, nil
}
func (s *fakeSecondary) ByUnitID(ctx context.Context, id string) (unit.Unit, bool, error) {
	for _, u := range s.units {
		if u.ID == id {
			return u, true, nil
		}
	}
	return unit.Unit{}, false, nil
}
func (s *fakeSecondary) ByBuildingID(ctx context.Context, buildingID string) ([]unit.Unit, error) {
	return nil, nil
}
func (s *fakeSecondary) All(ctx context.Context) ([]unit.Unit, error) { return s.units, nil }

func newTestEngine(t *testing.T, primaryUnits, secondaryUnits []unit.Unit, delay time.Duration) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "linkcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := normalize.Default()
	sec := &fakeSecondary{units: secondaryUnits}
	pf := prefilter.New(sec, n, prefilter.DefaultConfig())
	m := matcher.New(n, pf, sec, nil, matcher.DefaultThresholds())

	primary := &fakePrimary{units: primaryUnits, delay: delay}
	registry := NewRegistry()
	eng := New(primary, st, m, registry, DefaultConfig())
	return eng, st
}

func waitForTerminal(t *testing.T, eng *Engine, taskID string, timeout time.Duration) Progress {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p, err := eng.GetProgress(taskID)
		require.NoError(t, err)
		if p.Status != StatusRunning {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", taskID, timeout)
	return Progress{}
}

func TestValidateModeRejectsUnknown(t *testing.T) {
	require.NoError(t, ValidateMode(ModeIncremental))
	require.NoError(t, ValidateMode(ModeUpdate))
	require.NoError(t, ValidateMode(ModeFull))
	require.ErrorIs(t, ValidateMode(Mode("bogus")), linkerr.ErrInvalidMode)
}

func TestStartRunsToCompletionAndUpsertsResults(t *testing.T) {
	primaryUnits := []unit.Unit{
		{ID: "P1", Name: "Acme Safety Co", CreditCode: "CODE1"},
		{ID: "P2", Name: "Nothing Like Anything Else"},
	}
	secondaryUnits := []unit.Unit{
		{ID: "S1", Name: "Acme Safety Company", CreditCode: "CODE1"},
	}
	eng, st := newTestEngine(t, primaryUnits, secondaryUnits, 0)

	taskID, err := eng.Start(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	progress := waitForTerminal(t, eng, taskID, 2*time.Second)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 1, progress.Matched)

	r1, err := st.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, linkresult.MatchExactCreditCode, r1.MatchType)

	r2, err := st.Get(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, linkresult.MatchNone, r2.MatchType)
}

// TestStartRecoversPanickingRecord covers spec.md §4.6 point 3: a record
// that panics mid-match is counted in errored, never crashes the task, and
// (since no prior LinkageResult exists for it) is persisted as match_type
// none with review_notes "transient error". A second, healthy record on the
// same page still reaches a real match, proving one panic doesn't take
// the rest of the page down with it.
func TestStartRecoversPanickingRecord(t *testing.T) {
	primaryUnits := []unit.Unit{
		{ID: "P1", Name: "Acme Safety Co", CreditCode: "PANIC"},
		{ID: "P2", Name: "Acme Safety Co", CreditCode: "CODE1"},
	}
	secondaryUnits := []unit.Unit{
		{ID: "S1", Name: "Acme Safety Company", CreditCode: "CODE1"},
	}
	eng, st := newTestEngine(t, primaryUnits, secondaryUnits, 0)

	taskID, err := eng.Start(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	progress := waitForTerminal(t, eng, taskID, 2*time.Second)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 1, progress.Matched)

	states, err := st.ListTaskStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 1, states[0].Errored)

	r1, err := st.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, linkresult.MatchNone, r1.MatchType)
	assert.Equal(t, "transient error", r1.ReviewNotes)

	r2, err := st.Get(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, linkresult.MatchExactCreditCode, r2.MatchType)
}

func TestStartRefusesEmptyPrimary(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, 0)
	_, err := eng.Start(context.Background(), Options{Mode: ModeFull})
	require.ErrorIs(t, err, linkerr.ErrEmptyPrimary)
}

func TestStartRefusesSecondConcurrentTask(t *testing.T) {
	primaryUnits := []unit.Unit{
		{ID: "P1", Name: "Slow Co"},
		{ID: "P2", Name: "Slow Co Two"},
	}
	eng, _ := newTestEngine(t, primaryUnits, nil, 200*time.Millisecond)

	taskID, err := eng.Start(context.Background(), Options{Mode: ModeFull, BatchSize: 1})
	require.NoError(t, err)

	_, err = eng.Start(context.Background(), Options{Mode: ModeFull})
	require.ErrorIs(t, err, linkerr.ErrTaskAlreadyRunning)

	waitForTerminal(t, eng, taskID, 3*time.Second)
}

func TestStopTransitionsToStopped(t *testing.T) {
	primaryUnits := make([]unit.Unit, 20)
	for i := range primaryUnits {
		primaryUnits[i] = unit.Unit{ID: string(rune('A' + i)), Name: "Unmatched Org"}
	}
	eng, _ := newTestEngine(t, primaryUnits, nil, 50*time.Millisecond)

	taskID, err := eng.Start(context.Background(), Options{Mode: ModeFull, BatchSize: 1})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, eng.Stop(taskID))

	progress := waitForTerminal(t, eng, taskID, 3*time.Second)
	assert.Equal(t, StatusStopped, progress.Status)
	assert.Less(t, progress.Processed, 20)
}

func TestStopUnknownTaskReturnsError(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, 0)
	require.ErrorIs(t, eng.Stop("nope"), linkerr.ErrUnknownTask)
}

func TestGetProgressUnknownTaskReturnsError(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, 0)
	_, err := eng.GetProgress("nope")
	require.ErrorIs(t, err, linkerr.ErrUnknownTask)
}

// delayedPrimary sleeps before every Page call, so a test can reliably stop
// a task mid-run, while still delegating to a real source.PrimarySource for
// onlyUnmatched semantics.
type delayedPrimary struct {
	inner source.PrimarySource
	delay time.Duration
}

func (d *delayedPrimary) Count(ctx context.Context, onlyUnmatched bool) (int, error) {
	return d.inner.Count(ctx, onlyUnmatched)
}

func (d *delayedPrimary) Page(ctx context.Context, afterID string, pageSize int, onlyUnmatched bool) (source.PrimaryPage, error) {
	time.Sleep(d.delay)
	return d.inner.Page(ctx, afterID, pageSize, onlyUnmatched)
}

// TestIncrementalResumeAfterStop covers spec.md §8's S6 scenario: stop an
// incremental task partway through, then confirm a second incremental task
// picks up from the first still-unmatched primary_id with no duplicate
// LinkageResults. Every primary_id here shares its credit_code with a
// secondary unit, so every processed record gets a real (non-none) match_type
// and is therefore excluded from the unmatched set on the next run — a
// primary left unprocessed (or matched to "none") would stay eligible, which
// would not exercise resumption distinctly.
func TestIncrementalResumeAfterStop(t *testing.T) {
	const n = 1000
	primaryUnits := make([]unit.Unit, n)
	secondaryUnits := make([]unit.Unit, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("P%04d", i+1)
		code := fmt.Sprintf("CODE%04d", i+1)
		primaryUnits[i] = unit.Unit{ID: id, Name: fmt.Sprintf("Org %d", i+1), CreditCode: code}
		secondaryUnits[i] = unit.Unit{ID: fmt.Sprintf("S%04d", i+1), Name: fmt.Sprintf("Org %d Ltd", i+1), CreditCode: code}
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "linkcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.UpsertPrimaryUnits(context.Background(), primaryUnits))

	n2 := normalize.Default()
	st.SetNormalizer(n2)
	sec := &fakeSecondary{units: secondaryUnits}
	pf := prefilter.New(sec, n2, prefilter.DefaultConfig())
	m := matcher.New(n2, pf, sec, nil, matcher.DefaultThresholds())

	primary := &delayedPrimary{inner: st.Primary(), delay: 10 * time.Millisecond}
	registry := NewRegistry()
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	eng := New(primary, st, m, registry, cfg)

	taskID, err := eng.Start(context.Background(), Options{Mode: ModeIncremental, BatchSize: 50})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		p, err := eng.GetProgress(taskID)
		require.NoError(t, err)
		if p.Processed >= 300 {
			require.NoError(t, eng.Stop(taskID))
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never reached 300 processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	progress := waitForTerminal(t, eng, taskID, 5*time.Second)
	assert.Equal(t, StatusStopped, progress.Status)
	assert.GreaterOrEqual(t, progress.Processed, 300)
	// Cancellation is only observed between pages (see Engine.run's doc
	// comment): the page already in flight when Stop lands always finishes,
	// so allow one full extra page beyond the 300 observed at poll time, plus
	// a margin of one more poll interval's worth of progress.
	assert.LessOrEqual(t, progress.Processed, 300+2*cfg.BatchSize)

	results, total, err := st.IterPending(context.Background(), store.ResultFilter{}, 1, n)
	require.NoError(t, err)
	assert.Equal(t, progress.Processed, total)
	assertNoDuplicatePrimaryIDs(t, results)

	stoppedAtID := fmt.Sprintf("P%04d", progress.Processed)

	// Before re-issuing, the lowest-ID still-unmatched primary must be the
	// one immediately after stoppedAtID — resumption picks up contiguously.
	firstUnmatchedPage, err := st.Primary().Page(context.Background(), "", 1, true)
	require.NoError(t, err)
	require.Len(t, firstUnmatchedPage.Records, 1)
	assert.Greater(t, firstUnmatchedPage.Records[0].ID, stoppedAtID)

	registry2 := NewRegistry()
	eng2 := New(st.Primary(), st, m, registry2, cfg)
	taskID2, err := eng2.Start(context.Background(), Options{Mode: ModeIncremental, BatchSize: 50})
	require.NoError(t, err)

	progress2 := waitForTerminal(t, eng2, taskID2, 10*time.Second)
	assert.Equal(t, StatusCompleted, progress2.Status)
	assert.Equal(t, n-progress.Processed, progress2.Total)

	finalResults, finalTotal, err := st.IterPending(context.Background(), store.ResultFilter{}, 1, n)
	require.NoError(t, err)
	assert.Equal(t, n, finalTotal)
	assertNoDuplicatePrimaryIDs(t, finalResults)
}

func assertNoDuplicatePrimaryIDs(t *testing.T, results []linkresult.LinkageResult) {
	t.Helper()
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		assert.False(t, seen[r.PrimaryID], "duplicate LinkageResult for primary_id %s", r.PrimaryID)
		seen[r.PrimaryID] = true
	}
}
