// Package linkerr defines the domain-error taxonomy surfaced at the
// external-interface boundary (spec.md §6, §7). These are sentinel errors:
// callers compare with errors.Is, never by string matching.
package linkerr

import "errors"

var (
	// ErrTaskAlreadyRunning is returned by start_match_task when a task is
	// already running for the PRIMARY source (spec.md §4.6 "Concurrency budget").
	ErrTaskAlreadyRunning = errors.New("TASK_ALREADY_RUNNING")

	// ErrInvalidMode is returned when start_match_task is called with a mode
	// outside {incremental, update, full}.
	ErrInvalidMode = errors.New("INVALID_MODE")

	// ErrEmptyPrimary is returned by start_match_task when the PRIMARY
	// source has no records to process.
	ErrEmptyPrimary = errors.New("EMPTY_PRIMARY")

	// ErrUnknownTask is returned by get_task_progress/stop_task for an
	// unrecognized task_id.
	ErrUnknownTask = errors.New("UNKNOWN_TASK")

	// ErrTaskNotRunning is returned by stop_task when the task is already
	// in a terminal state.
	ErrTaskNotRunning = errors.New("TASK_NOT_RUNNING")

	// ErrNotFound is returned by get_result/set_review_status when no
	// record matches the requested id.
	ErrNotFound = errors.New("NOT_FOUND")

	// ErrStaleReview is returned by set_review_status when the compare-
	// and-set on updated_time fails because another writer raced it
	// (spec.md §5 "Shared-resource policy").
	ErrStaleReview = errors.New("STALE_REVIEW")

	// ErrAggregationFailed is returned by start_enhanced_association when
	// the server-side aggregation pipeline cannot complete.
	ErrAggregationFailed = errors.New("AGGREGATION_FAILED")
)
