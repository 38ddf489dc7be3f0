// Package task implements the Batch Task Engine (spec.md §4.6): a
// resumable, cancellable, page-parallel run of the Layered Matcher over the
// PRIMARY source, modeled the way the teacher's campaign Orchestrator
// models a long-running multi-phase goal — a single explicitly-owned
// Registry of *TaskState rather than ambient global state (spec.md §9).
package task

import (
	"time"

	"linkcore/internal/linkerr"
	"linkcore/internal/similarity"
)

// Mode selects which PRIMARY records a task processes and whether existing
// LinkageResults are overwritten (spec.md §4.6).
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeUpdate      Mode = "update"
	ModeFull        Mode = "full"
)

// ValidateMode returns linkerr.ErrInvalidMode for anything outside the
// three declared modes.
func ValidateMode(m Mode) error {
	switch m {
	case ModeIncremental, ModeUpdate, ModeFull:
		return nil
	default:
		return linkerr.ErrInvalidMode
	}
}

// Status is the task lifecycle state (spec.md §4.6 "running -> {completed,
// error, stopped}").
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// TaskState is the per-task state spec.md §4.6 requires, including the
// counters and resumption cursor.
type TaskState struct {
	TaskID    string
	Mode      Mode
	StartedAt time.Time
	Finished  time.Time
	Status    Status

	Total     int
	Processed int
	Matched   int
	Updated   int
	Skipped   int
	Errored   int

	CurrentBatchIndex      int
	LastProcessedPrimaryID string

	ErrorMessage string

	// recentDurations is the bounded moving-average window for
	// estimated_remaining_seconds (spec.md §4.6 "moving average ... over
	// the last 1 000 records"). Never exported past this package.
	recentDurations []time.Duration
}

const movingAverageWindow = 1000

func (t *TaskState) recordDuration(d time.Duration) {
	t.recentDurations = append(t.recentDurations, d)
	if len(t.recentDurations) > movingAverageWindow {
		t.recentDurations = t.recentDurations[len(t.recentDurations)-movingAverageWindow:]
	}
}

func (t *TaskState) averageDuration() time.Duration {
	if len(t.recentDurations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.recentDurations {
		sum += d
	}
	return sum / time.Duration(len(t.recentDurations))
}

// Progress is the response shape of get_task_progress (spec.md §4.6).
type Progress struct {
	Status                     Status  `json:"status"`
	ProgressPercent            float64 `json:"progress_percent"`
	Processed                  int     `json:"processed"`
	Matched                    int     `json:"matched"`
	MatchRate                  float64 `json:"match_rate"`
	ElapsedSeconds             float64 `json:"elapsed_seconds"`
	EstimatedRemainingSeconds  float64 `json:"estimated_remaining_seconds"`
}

func (t *TaskState) snapshotProgress(now time.Time) Progress {
	elapsed := now.Sub(t.StartedAt)
	if !t.Finished.IsZero() {
		elapsed = t.Finished.Sub(t.StartedAt)
	}

	var pct float64
	if t.Total > 0 {
		pct = 100 * float64(t.Processed) / float64(t.Total)
		if pct > 100 {
			pct = 100
		}
	}

	var matchRate float64
	if t.Processed > 0 {
		matchRate = float64(t.Matched) / float64(t.Processed)
	}

	remaining := t.Total - t.Processed
	var estRemaining float64
	if remaining > 0 {
		avg := t.averageDuration()
		estRemaining = avg.Seconds() * float64(remaining)
	}

	return Progress{
		Status:                    t.Status,
		ProgressPercent:           similarity.Round4(pct),
		Processed:                 t.Processed,
		Matched:                   t.Matched,
		MatchRate:                 similarity.Round4(matchRate),
		ElapsedSeconds:            similarity.Round4(elapsed.Seconds()),
		EstimatedRemainingSeconds: similarity.Round4(estRemaining),
	}
}
