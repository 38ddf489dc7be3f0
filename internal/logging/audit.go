package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of audited event.
type AuditEventType string

const (
	AuditTaskStart     AuditEventType = "task_start"
	AuditTaskProgress  AuditEventType = "task_progress"
	AuditTaskStopped   AuditEventType = "task_stopped"
	AuditTaskCompleted AuditEventType = "task_completed"
	AuditTaskError     AuditEventType = "task_error"
	AuditReviewChange  AuditEventType = "review_change"
	AuditAggregation   AuditEventType = "aggregation_run"
)

// AuditEvent is a single structured audit record, persisted as one JSON line
// per event so it can be grepped or replayed for incident review (spec.md
// §7's "accompanied by the offending task_id or match_id").
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	TaskID     string                 `json:"task_id,omitempty"`
	PrimaryID  string                 `json:"primary_id,omitempty"`
	MatchID    string                 `json:"match_id,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit log file under the configured logs directory.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}
	if logsDir == "" {
		return nil
	}
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = f
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger writes AuditEvents as JSON lines.
type AuditLogger struct{}

var audit = &AuditLogger{}

// Audit returns the process-wide audit logger.
func Audit() *AuditLogger { return audit }

// Log writes one audit event, filling in the timestamp if absent.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	auditFile.WriteString(string(data) + "\n")
}

// TaskStarted records a task start.
func (a *AuditLogger) TaskStarted(taskID, mode string, total int) {
	a.Log(AuditEvent{EventType: AuditTaskStart, TaskID: taskID, Success: true,
		Message: fmt.Sprintf("mode=%s total=%d", mode, total)})
}

// TaskStopped records a cooperative cancellation.
func (a *AuditLogger) TaskStopped(taskID string, processed int) {
	a.Log(AuditEvent{EventType: AuditTaskStopped, TaskID: taskID, Success: true,
		Message: fmt.Sprintf("processed=%d", processed)})
}

// TaskCompleted records a normal completion.
func (a *AuditLogger) TaskCompleted(taskID string, processed, matched int, durationMs int64) {
	a.Log(AuditEvent{EventType: AuditTaskCompleted, TaskID: taskID, Success: true, DurationMs: durationMs,
		Message: fmt.Sprintf("processed=%d matched=%d", processed, matched)})
}

// TaskErrored records a fatal task-level error.
func (a *AuditLogger) TaskErrored(taskID string, err error) {
	a.Log(AuditEvent{EventType: AuditTaskError, TaskID: taskID, Success: false, Error: err.Error()})
}

// ReviewChanged records a review-state transition.
func (a *AuditLogger) ReviewChanged(matchID, fromStatus, toStatus, reviewer string) {
	a.Log(AuditEvent{EventType: AuditReviewChange, MatchID: matchID, Success: true,
		Message: fmt.Sprintf("%s -> %s by %s", fromStatus, toStatus, reviewer)})
}

// AggregationRun records an enhanced-association regeneration pass.
func (a *AuditLogger) AggregationRun(strategy string, groups int, durationMs int64, err error) {
	ev := AuditEvent{EventType: AuditAggregation, Success: err == nil, DurationMs: durationMs,
		Message: fmt.Sprintf("strategy=%s groups=%d", strategy, groups)}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}
