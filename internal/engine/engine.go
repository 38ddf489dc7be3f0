// Package engine is the single external-interface boundary spec.md §6
// describes: one Go method per row of its operation table, each delegating
// straight to the Batch Task Engine, Result Store Adapter, or Enhanced
// Association Aggregator that actually does the work. It owns none of
// their state itself — it is wiring, modeled the way the teacher's
// cmd/nerd command handlers call into core.NewRealKernel()-constructed
// collaborators rather than reimplementing them.
package engine

import (
	"context"
	"fmt"
	"time"

	"linkcore/internal/aggregator"
	"linkcore/internal/config"
	"linkcore/internal/linkerr"
	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
	"linkcore/internal/matcher"
	"linkcore/internal/normalize"
	"linkcore/internal/prefilter"
	"linkcore/internal/source"
	"linkcore/internal/store"
	"linkcore/internal/task"
	"linkcore/internal/unit"
)

// Engine is the constructed, ready-to-call façade spec.md §6 specifies.
type Engine struct {
	store *store.Store
	tasks *task.Engine
	agg   *aggregator.Aggregator
}

// Dependencies are the collaborators Open wires together. Both sources are
// "assumed to be a document database exposing indexed queries and bulk
// upserts" in spec.md §1/§2's framing; a caller integrating a live external
// registry supplies its own Primary/Secondary here. Leaving either nil
// falls back to the sqlite store's own PrimarySourceAdapter/
// SecondarySourceAdapter (SPEC_FULL.md §2 "Source Adapter"), which is what
// cmd/linkengine uses after `linkengine load`.
type Dependencies struct {
	Primary   source.PrimarySource
	Secondary source.SecondarySource
}

// Open constructs every layer named in spec.md §4 — Normalizer, Prefilter,
// Matcher (with its L4 graph arena), Result Store, Task Engine, and
// Aggregator — from cfg and deps, the way the teacher's campaign commands
// build a kernel, an LLM client, and a store before ever touching the
// Orchestrator.
func Open(ctx context.Context, cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	n := normalize.Default()

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	st.SetNormalizer(n)

	if deps.Secondary == nil {
		deps.Secondary = st.Secondary()
	}
	if deps.Primary == nil {
		deps.Primary = st.Primary()
	}

	pf := prefilter.New(deps.Secondary, n, prefilter.Config{
		CandidateCapK:    cfg.Matching.CandidateCapK,
		TextSearchLimitT: cfg.Matching.TextSearchLimitT,
	})

	arena, err := matcher.BuildArena(ctx, deps.Secondary, n, cfg.Task.GraphMaxVertices)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build graph index arena: %w", err)
	}

	thresholds := matcher.Thresholds{
		Theta1:           cfg.Matching.Theta1,
		Theta2:           cfg.Matching.Theta2,
		NameCoreHardGate: cfg.Matching.NameCoreHardGate,
	}
	m := matcher.New(n, pf, deps.Secondary, arena, thresholds)

	taskCfg := task.Config{
		BatchSize:         cfg.Task.BatchSize,
		WorkersPerPage:    cfg.Task.WorkersPerPage,
		PerRecordDeadline: time.Duration(cfg.Matching.PerRecordDeadlineMS) * time.Millisecond,
	}
	if cfg.Task.TaskDeadlineSeconds > 0 {
		taskCfg.TaskDeadline = time.Duration(cfg.Task.TaskDeadlineSeconds) * time.Second
	}
	registry := task.NewRegistry()
	taskEngine := task.New(deps.Primary, st, m, registry, taskCfg)

	agg := aggregator.New(st, deps.Secondary, n)

	logging.Boot("engine opened: database=%s graph_max_vertices=%d", cfg.Store.DatabasePath, cfg.Task.GraphMaxVertices)
	return &Engine{store: st, tasks: taskEngine, agg: agg}, nil
}

// Close releases the underlying result store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// StartMatchTask implements spec.md §6 start_match_task.
func (e *Engine) StartMatchTask(ctx context.Context, opts task.Options) (string, error) {
	return e.tasks.Start(ctx, opts)
}

// GetTaskProgress implements spec.md §6 get_task_progress.
func (e *Engine) GetTaskProgress(taskID string) (task.Progress, error) {
	return e.tasks.GetProgress(taskID)
}

// StopTask implements spec.md §6 stop_task.
func (e *Engine) StopTask(taskID string) error {
	return e.tasks.Stop(taskID)
}

// ListResults implements spec.md §6 list_results.
func (e *Engine) ListResults(ctx context.Context, filter store.ResultFilter, page, pageSize int) ([]linkresult.LinkageResult, int, error) {
	return e.store.IterPending(ctx, filter, page, pageSize)
}

// GetResult implements spec.md §6 get_result: id is tried first as a
// match_id, falling back to a primary_id lookup, matching the table's
// "{primary_id or match_id}" request shape.
func (e *Engine) GetResult(ctx context.Context, id string) (linkresult.LinkageResult, error) {
	if r, err := e.store.GetByMatchID(ctx, id); err == nil {
		return r, nil
	}
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return linkresult.LinkageResult{}, linkerr.ErrNotFound
	}
	return r, nil
}

// SetReviewStatus implements spec.md §6 set_review_status. matchID is
// resolved to its owning primary_id before the compare-and-set, since the
// Result Store indexes review transitions by primary_id.
func (e *Engine) SetReviewStatus(ctx context.Context, matchID string, status linkresult.ReviewStatus, notes, reviewer string, expectedUpdatedTime time.Time) (linkresult.LinkageResult, error) {
	current, err := e.store.GetByMatchID(ctx, matchID)
	if err != nil {
		return linkresult.LinkageResult{}, linkerr.ErrNotFound
	}
	updated, err := e.store.SetReview(ctx, current.PrimaryID, status, notes, reviewer, expectedUpdatedTime)
	if err != nil {
		return linkresult.LinkageResult{}, err
	}
	logging.Audit().ReviewChanged(matchID, string(current.ReviewStatus), string(status), reviewer)
	return updated, nil
}

// StartEnhancedAssociation implements spec.md §6 start_enhanced_association.
// It runs synchronously — unlike start_match_task, spec.md §4.7 gives the
// aggregator no progress/cancellation contract, only a single {ok} result.
func (e *Engine) StartEnhancedAssociation(ctx context.Context, strategy linkresult.AssociationStrategy, clearExisting bool) (int, error) {
	return e.agg.Run(ctx, strategy, clearExisting)
}

// GetStatistics implements spec.md §6 get_statistics.
func (e *Engine) GetStatistics(ctx context.Context) (store.Statistics, error) {
	return e.store.GetStatistics(ctx)
}

// ListTasks returns every task_states row (most recent first), for
// observability of tasks whose Registry entry did not survive a process
// restart. Not part of spec.md §6's operation table — GetTaskProgress
// already covers a live task's id; this covers history.
func (e *Engine) ListTasks(ctx context.Context) ([]store.TaskStateRecord, error) {
	return e.store.ListTaskStates(ctx)
}

// LoadPrimary ingests PRIMARY records into the store's own PrimarySource
// table, for standalone operation without a live external registry
// (SPEC_FULL.md §2 "Source Adapter"). Not part of spec.md §6's operation
// table; it is the ingestion step that table assumes has already happened.
func (e *Engine) LoadPrimary(ctx context.Context, units []unit.Unit) error {
	return e.store.UpsertPrimaryUnits(ctx, units)
}

// LoadSecondary ingests SECONDARY records the same way, also refreshing
// the Aggregator's secondary_units cache (internal/store.SyncSecondary).
func (e *Engine) LoadSecondary(ctx context.Context, units []unit.Unit) error {
	return e.store.UpsertSecondaryUnits(ctx, units)
}
