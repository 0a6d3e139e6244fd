package flows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flowrunner/internal/logging"
	"flowrunner/internal/tracing"
)

const DefaultTimeout = 30 * time.Minute

// Runner drives a single run from submission to a terminal status.
type Runner struct {
	service Service
	clock   Clock
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Runner)

// WithClock replaces the wall clock used between polls.
func WithClock(clock Clock) Option {
	return func(r *Runner) {
		r.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTimeout bounds AwaitCompletion. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.timeout = timeout
	}
}

func NewRunner(service Service, opts ...Option) *Runner {
	r := &Runner{
		service: service,
		clock:   systemClock{},
		logger:  logging.Discard(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy validates definition and registers it through registrar.
func (r *Runner) Deploy(ctx context.Context, registrar Registrar, definition *Definition, title string, inputSchema map[string]any) (*Flow, error) {
	if err := definition.Validate(); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, Validationf("flow title is required")
	}
	ctx, span := tracing.StartSpan(ctx, "flows.deploy", true)
	flow, err := registrar.Deploy(ctx, definition, title, inputSchema)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy flow %q: %w", title, err)
	}
	if flow.Definition == nil {
		flow.Definition = definition
	}
	if flow.InputSchema == nil {
		flow.InputSchema = inputSchema
	}
	r.logger.Info("flow deployed", "flow_id", flow.ID, "scope", flow.Scope, "title", title)
	return flow, nil
}

// Submit validates input locally and starts a run. Validation failures are reported before
// any remote call is made.
func (r *Runner) Submit(ctx context.Context, flow *Flow, input RunInput, label string) (*RunHandle, error) {
	if flow == nil || flow.ID == "" {
		return nil, Validationf("flow id is required")
	}
	if flow.Definition != nil {
		if err := flow.Definition.Validate(); err != nil {
			return nil, err
		}
		if err := flow.Definition.CheckInput(input); err != nil {
			return nil, err
		}
	}
	if err := ValidateInput(flow.InputSchema, input); err != nil {
		return nil, err
	}
	if label == "" {
		label = "flowrunner " + uuid.NewString()
	}

	ctx, span := tracing.StartSpan(ctx, "flows.submit", true)
	span.WithAttributes(map[string]string{"flow.id": flow.ID, "run.label": label})
	handle, err := r.service.Run(ctx, flow.ID, flow.Scope, input, label)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to submit run of flow %s: %w", flow.ID, err)
	}
	if handle.FlowID == "" {
		handle.FlowID = flow.ID
	}
	r.logger.Info("run submitted", "flow_id", flow.ID, "run_id", handle.RunID, "status", handle.Status, "label", label)
	return handle, nil
}

// AwaitCompletion polls the run until it reaches a terminal status and returns the last
// observed handle. FAILED and CANCELED are returned, not raised. Transient poll failures are
// logged and polling continues until the configured timeout.
func (r *Runner) AwaitCompletion(ctx context.Context, handle *RunHandle, pollInterval time.Duration, scope string) (*RunHandle, error) {
	if handle == nil || handle.RunID == "" {
		return nil, Validationf("run handle is required")
	}
	if pollInterval <= 0 {
		return nil, Validationf("poll interval must be positive, got %s", pollInterval)
	}

	start := r.clock.Now()
	for polls := 1; ; polls++ {
		current, err := r.poll(ctx, handle, scope)
		switch {
		case err == nil && current.Status.Terminal():
			r.logger.Info("run finished", "run_id", handle.RunID, "status", current.Status, "polls", polls)
			return current, nil
		case err == nil:
			r.logger.Debug("run in progress", "run_id", handle.RunID, "status", current.Status, "polls", polls)
		case IsRetryable(err):
			r.logger.Warn("status poll failed, will retry", "run_id", handle.RunID, "error", err)
		default:
			return nil, fmt.Errorf("failed to poll run %s: %w", handle.RunID, err)
		}

		elapsed := r.clock.Now().Sub(start)
		if r.timeout > 0 && elapsed+pollInterval > r.timeout {
			return nil, Timeoutf("run %s still running after %s (%d polls)", handle.RunID, elapsed, polls)
		}
		if err := r.clock.Sleep(ctx, pollInterval); err != nil {
			return nil, fmt.Errorf("stopped waiting for run %s: %w", handle.RunID, err)
		}
	}
}

func (r *Runner) poll(ctx context.Context, handle *RunHandle, scope string) (*RunHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "flows.status", true)
	span.WithAttributes(map[string]string{"run.id": handle.RunID})
	current, err := r.service.Status(ctx, handle.FlowID, scope, handle.RunID)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if current.FlowID == "" {
		current.FlowID = handle.FlowID
	}
	if current.Label == "" {
		current.Label = handle.Label
	}
	return current, nil
}

// AwaitSuccess is AwaitCompletion that turns FAILED and CANCELED into *RunFailedError.
func (r *Runner) AwaitSuccess(ctx context.Context, handle *RunHandle, pollInterval time.Duration, scope string) (*RunHandle, error) {
	final, err := r.AwaitCompletion(ctx, handle, pollInterval, scope)
	if err != nil {
		return nil, err
	}
	if final.Status != StatusSucceeded {
		return final, &RunFailedError{Handle: final}
	}
	return final, nil
}
