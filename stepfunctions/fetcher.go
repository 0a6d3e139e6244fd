package stepfunctions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"flowrunner/flows"
)

const (
	executionPageSize = 50
	logEventLimit     = 50
	logLookback       = 24 * time.Hour
)

// ListStateMachines returns every state machine with its states and recent executions.
// Machines whose details cannot be read are logged and skipped.
func (c *Client) ListStateMachines(ctx context.Context) ([]StateMachine, error) {
	var stateMachines []StateMachine
	paginator := sfn.NewListStateMachinesPaginator(c.sfnClient, &sfn.ListStateMachinesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("list state machines", err)
		}

		for _, sm := range page.StateMachines {
			details, err := c.getStateMachineDetails(ctx, aws.ToString(sm.StateMachineArn))
			if err != nil {
				c.logger.Warn("failed to get state machine details", "arn", aws.ToString(sm.StateMachineArn), "error", err)
				continue
			}
			stateMachines = append(stateMachines, details)
		}
	}

	return stateMachines, nil
}

func (c *Client) getStateMachineDetails(ctx context.Context, arn string) (StateMachine, error) {
	result, err := c.sfnClient.DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(arn),
	})
	if err != nil {
		return StateMachine{}, mapError("describe state machine "+arn, err)
	}

	smType := string(result.Type)
	name := aws.ToString(result.Name)
	c.logger.Debug("state machine described", "name", name, "type", smType)

	states, err := parseDefinition(aws.ToString(result.Definition))
	if err != nil {
		return StateMachine{}, fmt.Errorf("failed to parse definition for %s: %w", arn, err)
	}

	var executions []Execution
	switch smType {
	case typeExpress:
		executions, err = c.getExpressExecutions(ctx, result)
		if err != nil {
			c.logger.Warn("failed to fetch express executions", "name", name, "error", err)
			executions = []Execution{{
				ExecutionArn: notAvailable,
				Status:       "Not supported (check CloudWatch Logs configuration)",
				Duration:     notAvailable,
			}}
		}
	case typeStandard:
		executions, err = c.getExecutions(ctx, arn)
		if err != nil {
			return StateMachine{}, fmt.Errorf("failed to fetch executions for %s: %w", arn, err)
		}
	default:
		c.logger.Warn("unknown state machine type", "name", name, "type", smType)
		executions = []Execution{{
			ExecutionArn: notAvailable,
			Status:       fmt.Sprintf("Unknown state machine type: %s", smType),
			Duration:     notAvailable,
		}}
	}

	creationDate := ""
	if result.CreationDate != nil {
		creationDate = result.CreationDate.Format(time.RFC3339)
	}
	return StateMachine{
		Name:         name,
		ARN:          aws.ToString(result.StateMachineArn),
		RoleARN:      aws.ToString(result.RoleArn),
		Definition:   aws.ToString(result.Definition),
		States:       states,
		Executions:   executions,
		CreationDate: creationDate,
		Type:         smType,
	}, nil
}

func (c *Client) getExecutions(ctx context.Context, stateMachineArn string) ([]Execution, error) {
	var executions []Execution
	paginator := sfn.NewListExecutionsPaginator(c.sfnClient, &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(stateMachineArn),
		MaxResults:      executionPageSize,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("list executions", err)
		}

		for _, item := range page.Executions {
			exec := Execution{
				ExecutionArn: aws.ToString(item.ExecutionArn),
				Status:       string(item.Status),
				Duration:     notAvailable,
			}
			if item.StartDate != nil {
				exec.StartTime = item.StartDate.Format(time.RFC3339)
			}
			if item.StopDate != nil {
				exec.EndTime = item.StopDate.Format(time.RFC3339)
				if item.StartDate != nil {
					exec.Duration = item.StopDate.Sub(*item.StartDate).Round(time.Second).String()
				}
			}
			executions = append(executions, exec)
		}
	}

	return executions, nil
}

// logEvent is the JSON document Step Functions writes to CloudWatch Logs for express machines.
type logEvent struct {
	EventType    string `json:"eventType"`
	ExecutionArn string `json:"executionArn"`
	Timestamp    int64  `json:"timestamp"`
	Status       string `json:"status,omitempty"`
}

func logGroupName(sm *sfn.DescribeStateMachineOutput) (string, error) {
	if sm.LoggingConfiguration == nil || len(sm.LoggingConfiguration.Destinations) == 0 {
		return "", flows.NotFoundf("logging not enabled for express workflow %s", aws.ToString(sm.Name))
	}
	destination := sm.LoggingConfiguration.Destinations[0].CloudWatchLogsLogGroup
	if destination == nil || destination.LogGroupArn == nil {
		return "", flows.NotFoundf("no CloudWatch log group configured for %s", aws.ToString(sm.Name))
	}
	// arn:aws:logs:<region>:<account>:log-group:<name>:*
	parts := strings.SplitN(aws.ToString(destination.LogGroupArn), ":log-group:", 2)
	if len(parts) != 2 {
		return "", flows.Validationf("unexpected log group arn %s", aws.ToString(destination.LogGroupArn))
	}
	return strings.Split(parts[1], ":")[0], nil
}

func (c *Client) expressEvents(ctx context.Context, sm *sfn.DescribeStateMachineOutput, filterPattern string) ([]logEvent, error) {
	groupName, err := logGroupName(sm)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("querying log group", "log_group", groupName, "state_machine", aws.ToString(sm.Name))

	result, err := c.logsClient.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(groupName),
		FilterPattern: aws.String(filterPattern),
		Limit:         aws.Int32(logEventLimit),
		StartTime:     aws.Int64(c.now().Add(-logLookback).UnixMilli()),
	})
	if err != nil {
		return nil, mapError("filter log events of "+groupName, err)
	}

	events := make([]logEvent, 0, len(result.Events))
	for _, event := range result.Events {
		var item logEvent
		if err := json.Unmarshal([]byte(aws.ToString(event.Message)), &item); err != nil {
			c.logger.Warn("skipping unparsable log event", "log_group", groupName, "error", err)
			continue
		}
		events = append(events, item)
	}
	return events, nil
}

func (c *Client) getExpressExecutions(ctx context.Context, sm *sfn.DescribeStateMachineOutput) ([]Execution, error) {
	events, err := c.expressEvents(ctx, sm, `{ $.eventType = "ExecutionStarted" || $.eventType = "ExecutionSucceeded" || $.eventType = "ExecutionFailed" || $.eventType = "ExecutionTimedOut" || $.eventType = "ExecutionAborted" }`)
	if err != nil {
		return nil, err
	}

	executionMap := make(map[string]*Execution)
	for _, event := range events {
		timestamp := time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339)
		exec, exists := executionMap[event.ExecutionArn]
		switch {
		case !exists && event.EventType == "ExecutionStarted":
			executionMap[event.ExecutionArn] = &Execution{
				ExecutionArn: event.ExecutionArn,
				Status:       "RUNNING",
				StartTime:    timestamp,
				Duration:     notAvailable,
			}
		case exists && strings.HasPrefix(event.EventType, "Execution") && event.EventType != "ExecutionStarted":
			exec.Status = strings.ToUpper(strings.TrimPrefix(event.EventType, "Execution"))
			exec.EndTime = timestamp
			start, _ := time.Parse(time.RFC3339, exec.StartTime)
			end, _ := time.Parse(time.RFC3339, exec.EndTime)
			exec.Duration = end.Sub(start).String()
		}
	}

	executions := make([]Execution, 0, len(executionMap))
	for _, exec := range executionMap {
		executions = append(executions, *exec)
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartTime < executions[j].StartTime
	})
	c.logger.Debug("express executions found", "state_machine", aws.ToString(sm.Name), "count", len(executions))
	return executions, nil
}

// parseDefinition lists the states of an ASL document in name order.
func parseDefinition(definition string) ([]State, error) {
	def, err := flows.ParseDefinition([]byte(definition))
	if err != nil {
		return nil, err
	}
	rawStates, _ := def.Raw["States"].(map[string]any)

	states := make([]State, 0, len(def.States))
	for _, name := range def.StateNames() {
		state := def.States[name]
		if state == nil {
			continue
		}
		rawDef, _ := rawStates[name].(map[string]any)
		states = append(states, State{
			Name:          name,
			Type:          state.Type,
			Next:          state.Next,
			End:           state.End,
			Parameters:    state.Parameters,
			RawDefinition: rawDef,
		})
	}
	return states, nil
}
