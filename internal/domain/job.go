package domain

import (
	"context"
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// PipelineJob tracks one tool invocation. Status progresses linearly
// queued -> running -> succeeded|failed; cancellation is an external
// transition the pipeline itself never performs.
type PipelineJob struct {
	ID          string
	UserID      string
	ConnectorID string
	ToolName    string
	Status      JobStatus
	Args        map[string]any
	Output      json.RawMessage
	Error       string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
}

type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// PipelineEvent is one append-only progress record tied to a job. Creation
// time ordering is the only guarantee; there are no sequence numbers.
type PipelineEvent struct {
	ID        string
	JobID     string
	Level     EventLevel
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusError   ActionStatus = "error"
)

// ActionLog is the write-once audit record of a tool invocation.
type ActionLog struct {
	ID          string
	UserID      string
	ConnectorID string
	ToolName    string
	RequestArgs map[string]any
	Response    json.RawMessage
	Status      ActionStatus
	Error       string
	LatencyMS   int64
	CreatedAt   time.Time
}

type JobStore interface {
	GetJob(ctx context.Context, id string) (PipelineJob, error)
	CreateJob(ctx context.Context, job PipelineJob) error
	UpdateJob(ctx context.Context, job PipelineJob) error
}

type EventStore interface {
	AppendEvent(ctx context.Context, event PipelineEvent) error
	ListEvents(ctx context.Context, jobID string) ([]PipelineEvent, error)
}

type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry ActionLog) error
}
