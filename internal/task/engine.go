package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
	"linkcore/internal/matcher"
	"linkcore/internal/source"
	"linkcore/internal/store"
	"linkcore/internal/unit"
)

// Config is read once per task (spec.md §6 "Configuration inputs").
type Config struct {
	BatchSize         int
	WorkersPerPage    int
	PerRecordDeadline time.Duration
	TaskDeadline      time.Duration // zero means unbounded
}

// DefaultConfig returns the spec-default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:         100,
		WorkersPerPage:    4,
		PerRecordDeadline: 2000 * time.Millisecond,
	}
}

// Options configures one start_match_task invocation (spec.md §6).
type Options struct {
	Mode            Mode
	BatchSize       int
	MatchStrategies []linkresult.MatchType
	ClearExisting   bool
}

// Engine runs batch matching tasks against a PRIMARY source, writing
// through the Result Store Adapter, modeled the way the teacher's
// Orchestrator drives a campaign to completion page by page (teacher's
// saveCampaign/LoadCampaign is the per-page flush/resume analog).
type Engine struct {
	primary  source.PrimarySource
	store    *store.Store
	matcher  *matcher.Matcher
	registry *Registry
	config   Config
}

// New constructs a task Engine.
func New(primary source.PrimarySource, st *store.Store, m *matcher.Matcher, registry *Registry, config Config) *Engine {
	return &Engine{primary: primary, store: st, matcher: m, registry: registry, config: config}
}

// Start begins a new batch match task and returns its task_id immediately;
// the run proceeds on a background goroutine (spec.md §4.6 execution
// contract).
func (e *Engine) Start(ctx context.Context, opts Options) (string, error) {
	if err := ValidateMode(opts.Mode); err != nil {
		return "", err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.config.BatchSize
	}

	onlyUnmatched := opts.Mode == ModeIncremental
	total, err := e.primary.Count(ctx, onlyUnmatched)
	if err != nil {
		return "", fmt.Errorf("failed to count primary records: %w", err)
	}
	if total == 0 {
		return "", linkerr.ErrEmptyPrimary
	}

	taskID := uuid.NewString()
	state := &TaskState{
		TaskID:    taskID,
		Mode:      opts.Mode,
		StartedAt: time.Now(),
		Status:    StatusRunning,
		Total:     total,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := e.registry.register(state, cancel); err != nil {
		cancel()
		return "", err
	}

	logging.Task("task %s started: mode=%s total=%d batch_size=%d", taskID, opts.Mode, total, batchSize)
	logging.Audit().TaskStarted(taskID, string(opts.Mode), total)
	e.persistState(state)

	go e.run(runCtx, state, opts, batchSize)

	return taskID, nil
}

// run drives one task to a terminal state. Cancellation is checked only
// between pages (spec.md §5 "A cancelled task must transition to stopped
// within one page worth of work") — once a page's workers start, it always
// runs to completion and is flushed before the stop takes effect.
func (e *Engine) run(ctx context.Context, state *TaskState, opts Options, batchSize int) {
	defer func() {
		if r := recover(); r != nil {
			e.registry.withLock(func() {
				state.Status = StatusError
				state.ErrorMessage = fmt.Sprintf("panic: %v", r)
				state.Finished = time.Now()
			})
			logging.Get(logging.CategoryTask).Error("task %s panicked: %v", state.TaskID, r)
			logging.Audit().TaskErrored(state.TaskID, fmt.Errorf("panic: %v", r))
			e.persistState(state)
		}
	}()

	if e.config.TaskDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TaskDeadline)
		defer cancel()
	}

	if opts.ClearExisting || opts.Mode == ModeFull {
		if _, err := e.store.ClearAll(ctx); err != nil {
			e.finishWithError(state, fmt.Errorf("clear_existing failed: %w", err))
			return
		}
	}

	onlyUnmatched := opts.Mode == ModeIncremental
	cursor := ""

	for {
		page, err := e.primary.Page(context.Background(), cursor, batchSize, onlyUnmatched)
		if err != nil {
			e.finishWithError(state, fmt.Errorf("failed to read primary page: %w", err))
			return
		}
		if len(page.Records) == 0 {
			break
		}

		results := e.processPage(state, page.Records, opts)
		if len(results) > 0 {
			counts, err := e.store.UpsertBulk(context.Background(), results)
			if err != nil {
				e.finishWithError(state, fmt.Errorf("failed to flush page: %w", err))
				return
			}
			e.registry.withLock(func() { state.Updated += counts.Modified })
		}

		e.registry.withLock(func() {
			state.CurrentBatchIndex++
			state.LastProcessedPrimaryID = page.Records[len(page.Records)-1].ID
		})
		e.persistState(state)

		if errors.Is(ctx.Err(), context.Canceled) {
			e.registry.withLock(func() {
				state.Status = StatusStopped
				state.Finished = time.Now()
			})
			logging.Task("task %s stopped: processed=%d", state.TaskID, state.Processed)
			logging.Audit().TaskStopped(state.TaskID, state.Processed)
			e.persistState(state)
			return
		}

		if ctx.Err() == context.DeadlineExceeded {
			e.registry.withLock(func() {
				state.Status = StatusError
				state.ErrorMessage = "global task deadline exceeded"
				state.Finished = time.Now()
			})
			logging.Audit().TaskErrored(state.TaskID, errors.New(state.ErrorMessage))
			e.persistState(state)
			return
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	e.registry.withLock(func() {
		state.Status = StatusCompleted
		state.Finished = time.Now()
	})
	logging.Task("task %s completed: processed=%d matched=%d errored=%d", state.TaskID, state.Processed, state.Matched, state.Errored)
	logging.Audit().TaskCompleted(state.TaskID, state.Processed, state.Matched, state.Finished.Sub(state.StartedAt).Milliseconds())
	e.persistState(state)
}

func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// processPage fans a page's records out across WorkersPerPage workers via
// errgroup and collects every per-record LinkageResult in page order
// (spec.md §5 "a small worker pool ... compute per-record matches in
// parallel"; bulk-flush happens once, by the caller, per page).
// matchOutcome pairs one record's LinkageResult with the wall-clock time it
// took to produce, for the moving-average estimator in Progress. The
// duration is never persisted — it is purely an in-memory accounting
// signal, so it does not belong on linkresult.LinkageResult's stored shape.
type matchOutcome struct {
	result   linkresult.LinkageResult
	duration time.Duration
	errored  bool
	// panicked records left the matcher mid-record (spec.md §4.6 point 3):
	// its LinkageResult must stay unchanged if one already exists, so
	// processPage decides per-record whether to include it in the flush.
	panicked bool
}

func (e *Engine) processPage(state *TaskState, records []unit.Unit, opts Options) []linkresult.LinkageResult {
	outcomes := make([]matchOutcome, len(records))
	workers := e.config.WorkersPerPage
	if workers <= 0 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	eg, egCtx := errgroup.WithContext(context.Background())

	for i, rec := range records {
		i, rec := i, rec
		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()
			outcomes[i] = e.safeMatchOne(egCtx, rec, opts)
			return nil
		})
	}
	_ = eg.Wait()

	var results []linkresult.LinkageResult
	for _, o := range outcomes {
		if o.panicked {
			if _, err := e.store.Get(context.Background(), o.result.PrimaryID); err == nil {
				continue // existing LinkageResult stays unchanged
			}
		}
		results = append(results, o.result)
	}

	e.tallyResults(state, outcomes)
	return results
}

// safeMatchOne recovers a panic from e.matchOne so one bad record cannot
// take down the whole task (errgroup's eg.Go runs this on its own
// goroutine, outside run()'s own top-level recover, which does not reach
// into its errgroup's child goroutines). matchOne re-raises a panic from its
// matcher goroutine on its own goroutine, so that panic lands here too.
func (e *Engine) safeMatchOne(ctx context.Context, primary unit.Unit, opts Options) (outcome matchOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryTask).Error("match panicked for primary_id %s: %v", primary.ID, r)
			result := linkresult.LinkageResult{}
			linkresult.SnapshotPrimary(&result, primary)
			result.ReviewStatus = linkresult.ReviewPending
			result.ReviewNotes = "transient error"
			result.MatchType = linkresult.MatchNone
			result.MatchConfidence = linkresult.ConfidenceNone
			result.MatchExplanation = linkresult.MatchExplanation{
				Negative:    []string{fmt.Sprintf("panic during matching: %v", r)},
				FieldScores: map[string]float64{},
			}
			outcome = matchOutcome{result: result, duration: time.Since(start), errored: true, panicked: true}
		}
	}()
	return e.matchOne(ctx, primary, opts)
}

// matchOne runs the matcher for one record under a soft per-record deadline
// (spec.md §5 "Per-record matching has a soft deadline").
func (e *Engine) matchOne(ctx context.Context, primary unit.Unit, opts Options) matchOutcome {
	start := time.Now()
	deadline := e.config.PerRecordDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	recordCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan matcher.Decision, 1)
	panicked := make(chan interface{}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			}
		}()
		done <- e.matcher.Match(recordCtx, primary)
	}()

	var decision matcher.Decision
	deadlineExceeded := false
	select {
	case decision = <-done:
	case r := <-panicked:
		panic(r)
	case <-recordCtx.Done():
		deadlineExceeded = true
	}

	result := linkresult.LinkageResult{}
	linkresult.SnapshotPrimary(&result, primary)
	result.ReviewStatus = linkresult.ReviewPending

	if deadlineExceeded {
		result.MatchType = linkresult.MatchNone
		result.MatchConfidence = linkresult.ConfidenceNone
		result.MatchExplanation = linkresult.MatchExplanation{
			Negative:    []string{"match deadline exceeded"},
			FieldScores: map[string]float64{},
		}
		return matchOutcome{result: result, duration: time.Since(start), errored: true}
	}

	decision = applyStrategyFilter(decision, opts.MatchStrategies)
	if decision.MatchType != linkresult.MatchNone {
		linkresult.SnapshotMatched(&result, decision.Matched)
	}
	result.MatchType = decision.MatchType
	result.SimilarityScore = decision.SimilarityScore
	result.MatchConfidence = linkresult.DeriveConfidence(decision.MatchType, decision.SimilarityScore)
	result.MatchExplanation = decision.Explanation
	return matchOutcome{result: result, duration: time.Since(start)}
}

// applyStrategyFilter downgrades a decision to match_type=none when the
// caller restricted start_match_task to a subset of match_strategies and
// the produced match_type falls outside it.
func applyStrategyFilter(d matcher.Decision, allowed []linkresult.MatchType) matcher.Decision {
	if len(allowed) == 0 || d.MatchType == linkresult.MatchNone {
		return d
	}
	for _, a := range allowed {
		if a == d.MatchType {
			return d
		}
	}
	return matcher.Decision{
		MatchType: linkresult.MatchNone,
		Explanation: linkresult.MatchExplanation{
			Negative:    []string{fmt.Sprintf("match_type %s excluded by match_strategies", d.MatchType)},
			FieldScores: map[string]float64{},
		},
	}
}

func (e *Engine) tallyResults(state *TaskState, outcomes []matchOutcome) {
	e.registry.withLock(func() {
		for _, o := range outcomes {
			r := o.result
			state.Processed++
			switch {
			case o.errored:
				state.Errored++
			case r.MatchType != linkresult.MatchNone:
				state.Matched++
			default:
				state.Skipped++
			}
			state.recordDuration(o.duration)
		}
	})
}

func (e *Engine) finishWithError(state *TaskState, err error) {
	e.registry.withLock(func() {
		state.Status = StatusError
		state.ErrorMessage = err.Error()
		state.Finished = time.Now()
	})
	logging.Get(logging.CategoryTask).Error("task %s failed: %v", state.TaskID, err)
	logging.Audit().TaskErrored(state.TaskID, err)
	e.persistState(state)
}

// persistState writes a TaskStateRecord snapshot of state to task_states.
// Failures are logged, not returned — a task_states write is history
// bookkeeping, never a condition the match task itself should fail on.
func (e *Engine) persistState(state *TaskState) {
	var r store.TaskStateRecord
	e.registry.withLock(func() {
		r = store.TaskStateRecord{
			TaskID:                 state.TaskID,
			Mode:                   string(state.Mode),
			Status:                 string(state.Status),
			StartedAt:              state.StartedAt,
			Total:                  state.Total,
			Processed:              state.Processed,
			Matched:                state.Matched,
			Updated:                state.Updated,
			Skipped:                state.Skipped,
			Errored:                state.Errored,
			CurrentBatchIndex:      state.CurrentBatchIndex,
			LastProcessedPrimaryID: state.LastProcessedPrimaryID,
			ErrorMessage:           state.ErrorMessage,
		}
		if !state.Finished.IsZero() {
			r.FinishedAt = sql.NullTime{Time: state.Finished, Valid: true}
		}
	})
	if err := e.store.SaveTaskState(context.Background(), r); err != nil {
		logging.Get(logging.CategoryTask).Error("task %s: failed to persist task state: %v", state.TaskID, err)
	}
}

// GetProgress reads progress for task_id (spec.md §6 get_task_progress).
func (e *Engine) GetProgress(taskID string) (Progress, error) {
	return e.registry.Get(taskID)
}

// Stop cancels a running task (spec.md §6 stop_task).
func (e *Engine) Stop(taskID string) error {
	return e.registry.Stop(taskID)
}
