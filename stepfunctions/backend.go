package stepfunctions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"

	"flowrunner/flows"
)

const maxNameLength = 80

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Deploy creates a STANDARD state machine from definition. The definition must be valid
// Amazon States Language.
func (c *Client) Deploy(ctx context.Context, definition *flows.Definition, title string, inputSchema map[string]any) (*flows.Flow, error) {
	if c.roleARN == "" {
		return nil, flows.Configf("an execution role ARN is required to create state machines")
	}
	document, err := json.Marshal(definition.Document())
	if err != nil {
		return nil, flows.Validationf("failed to encode definition").WithCause(err)
	}
	out, err := c.sfnClient.CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
		Name:       aws.String(sanitizeName(title, maxNameLength)),
		Definition: aws.String(string(document)),
		RoleArn:    aws.String(c.roleARN),
		Type:       types.StateMachineTypeStandard,
	})
	if err != nil {
		return nil, mapError("create state machine", err)
	}
	return &flows.Flow{
		ID:          aws.ToString(out.StateMachineArn),
		Title:       title,
		Definition:  definition,
		InputSchema: inputSchema,
	}, nil
}

// Run starts an execution named after label. scope is unused: access is governed by IAM.
func (c *Client) Run(ctx context.Context, flowID, _ string, input flows.RunInput, label string) (*flows.RunHandle, error) {
	if input == nil {
		input = flows.RunInput{}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, flows.Validationf("failed to encode run input").WithCause(err)
	}
	out, err := c.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(flowID),
		Name:            aws.String(executionName(label)),
		Input:           aws.String(string(payload)),
	})
	if err != nil {
		return nil, mapError("start execution", err)
	}
	handle := &flows.RunHandle{
		RunID:  aws.ToString(out.ExecutionArn),
		FlowID: flowID,
		Label:  label,
		Status: flows.StatusActive,
	}
	if out.StartDate != nil {
		handle.StartTime = *out.StartDate
	}
	return handle, nil
}

// Status describes the execution runID.
func (c *Client) Status(ctx context.Context, flowID, _, runID string) (*flows.RunHandle, error) {
	out, err := c.sfnClient.DescribeExecution(ctx, &sfn.DescribeExecutionInput{ExecutionArn: aws.String(runID)})
	if err != nil {
		return nil, mapError("describe execution", err)
	}
	return executionHandle(flowID, out)
}

// Cancel stops the execution and returns its refreshed status.
func (c *Client) Cancel(ctx context.Context, flowID, scope, runID string) (*flows.RunHandle, error) {
	if _, err := c.sfnClient.StopExecution(ctx, &sfn.StopExecutionInput{
		ExecutionArn: aws.String(runID),
		Cause:        aws.String("canceled by flowrunner"),
	}); err != nil {
		return nil, mapError("stop execution", err)
	}
	return c.Status(ctx, flowID, scope, runID)
}

// Log returns the execution history. Express machines keep no history in Step Functions,
// so their events are read from CloudWatch Logs instead.
func (c *Client) Log(ctx context.Context, flowID, _, runID string, limit int) ([]flows.LogEntry, error) {
	sm, err := c.sfnClient.DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{StateMachineArn: aws.String(flowID)})
	if err != nil {
		return nil, mapError("describe state machine", err)
	}
	if string(sm.Type) == typeExpress {
		return c.expressLog(ctx, sm, runID, limit)
	}

	var entries []flows.LogEntry
	paginator := sfn.NewGetExecutionHistoryPaginator(c.sfnClient, &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(runID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("get execution history", err)
		}
		for _, event := range page.Events {
			entry := flows.LogEntry{
				Code:        string(event.Type),
				Description: fmt.Sprintf("event %d", event.Id),
			}
			if event.Timestamp != nil {
				entry.Time = *event.Timestamp
			}
			if details := event.StateEnteredEventDetails; details != nil {
				entry.Description = "entered " + aws.ToString(details.Name)
			}
			if details := event.StateExitedEventDetails; details != nil {
				entry.Description = "exited " + aws.ToString(details.Name)
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				return entries, nil
			}
		}
	}
	return entries, nil
}

func (c *Client) expressLog(ctx context.Context, sm *sfn.DescribeStateMachineOutput, runID string, limit int) ([]flows.LogEntry, error) {
	events, err := c.expressEvents(ctx, sm, fmt.Sprintf(`{ $.executionArn = "%s" }`, runID))
	if err != nil {
		return nil, err
	}
	var entries []flows.LogEntry
	for _, event := range events {
		if event.ExecutionArn != runID {
			continue
		}
		entries = append(entries, flows.LogEntry{
			Time:        time.UnixMilli(event.Timestamp).UTC(),
			Code:        event.EventType,
			Description: event.Status,
		})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func executionHandle(flowID string, out *sfn.DescribeExecutionOutput) (*flows.RunHandle, error) {
	status, err := ParseStatus(string(out.Status))
	if err != nil {
		return nil, err
	}
	if arn := aws.ToString(out.StateMachineArn); arn != "" {
		flowID = arn
	}
	handle := &flows.RunHandle{
		RunID:   aws.ToString(out.ExecutionArn),
		FlowID:  flowID,
		Label:   aws.ToString(out.Name),
		Status:  status,
		Details: map[string]any{},
	}
	if out.StartDate != nil {
		handle.StartTime = *out.StartDate
	}
	if out.StopDate != nil {
		handle.CompletionTime = *out.StopDate
	}
	if output := aws.ToString(out.Output); output != "" {
		var decoded any
		if err := json.Unmarshal([]byte(output), &decoded); err != nil {
			decoded = output
		}
		handle.Details["output"] = decoded
	}
	if out.Error != nil {
		handle.Details["error"] = aws.ToString(out.Error)
	}
	if out.Cause != nil {
		handle.Details["cause"] = aws.ToString(out.Cause)
	}
	return handle, nil
}

// ParseStatus maps Step Functions execution statuses onto flows.Status.
func ParseStatus(status string) (flows.Status, error) {
	switch types.ExecutionStatus(status) {
	case types.ExecutionStatusRunning:
		return flows.StatusActive, nil
	case types.ExecutionStatusPendingRedrive:
		return flows.StatusPending, nil
	case types.ExecutionStatusSucceeded:
		return flows.StatusSucceeded, nil
	case types.ExecutionStatusFailed, types.ExecutionStatusTimedOut:
		return flows.StatusFailed, nil
	case types.ExecutionStatusAborted:
		return flows.StatusCanceled, nil
	default:
		return "", flows.Validationf("unknown execution status %q", status)
	}
}

// executionName derives a unique execution name from label.
func executionName(label string) string {
	suffix := uuid.NewString()
	prefix := sanitizeName(label, maxNameLength-len(suffix)-1)
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

func sanitizeName(name string, limit int) string {
	cleaned := strings.Trim(invalidNameChars.ReplaceAllString(name, "_"), "_")
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}
