package flows

import (
	"context"
	"time"
)

// Status is the lifecycle status of a run, normalised across backends.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// RunInput holds concrete values for the placeholders of a definition.
type RunInput map[string]any

// RunHandle is the locally cached view of a remote run. It is refreshed only by polling.
type RunHandle struct {
	RunID          string         `json:"run_id"`
	FlowID         string         `json:"flow_id"`
	Label          string         `json:"label,omitempty"`
	Status         Status         `json:"status"`
	StartTime      time.Time      `json:"start_time,omitempty"`
	CompletionTime time.Time      `json:"completion_time,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Flow is a registered definition together with the scope needed to run it.
type Flow struct {
	ID          string         `json:"id"`
	Scope       string         `json:"scope"`
	Title       string         `json:"title,omitempty"`
	Definition  *Definition    `json:"-"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// LogEntry is one event recorded by the remote service for a run.
type LogEntry struct {
	Time        time.Time      `json:"time"`
	Code        string         `json:"code"`
	Description string         `json:"description,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Service starts runs and reports their status.
type Service interface {
	Run(ctx context.Context, flowID, scope string, input RunInput, label string) (*RunHandle, error)
	Status(ctx context.Context, flowID, scope, runID string) (*RunHandle, error)
}

// Registrar registers definitions with the remote service.
type Registrar interface {
	Deploy(ctx context.Context, definition *Definition, title string, inputSchema map[string]any) (*Flow, error)
}

// RunLogger lists the events of a run.
type RunLogger interface {
	Log(ctx context.Context, flowID, scope, runID string, limit int) ([]LogEntry, error)
}

// Canceler stops a run. Nothing cancels runs implicitly.
type Canceler interface {
	Cancel(ctx context.Context, flowID, scope, runID string) (*RunHandle, error)
}
