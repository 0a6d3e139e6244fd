package globus

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flowrunner/flows"
)

// FlowsClient talks to the Globus Flows service.
type FlowsClient struct {
	rest *restClient
}

var (
	_ flows.Service   = (*FlowsClient)(nil)
	_ flows.Registrar = (*FlowsClient)(nil)
	_ flows.RunLogger = (*FlowsClient)(nil)
	_ flows.Canceler  = (*FlowsClient)(nil)
)

func NewFlowsClient(baseURL string, tokens *TokenStore, opts ...Option) *FlowsClient {
	return &FlowsClient{rest: newRestClient(baseURL, tokens, opts)}
}

type flowDocument struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	GlobusAuthScope string         `json:"globus_auth_scope"`
	InputSchema     map[string]any `json:"input_schema"`
}

type runDocument struct {
	RunID          string         `json:"run_id"`
	ActionID       string         `json:"action_id"`
	FlowID         string         `json:"flow_id"`
	Label          string         `json:"label"`
	Status         string         `json:"status"`
	StartTime      string         `json:"start_time"`
	CompletionTime string         `json:"completion_time"`
	Details        map[string]any `json:"details"`
}

type logDocument struct {
	Entries []struct {
		Time        string         `json:"time"`
		Code        string         `json:"code"`
		Description string         `json:"description"`
		Details     map[string]any `json:"details"`
	} `json:"entries"`
}

// Deploy registers definition and returns the flow id and the scope needed to run it.
func (c *FlowsClient) Deploy(ctx context.Context, definition *flows.Definition, title string, inputSchema map[string]any) (*flows.Flow, error) {
	if inputSchema == nil {
		inputSchema = map[string]any{}
	}
	body := map[string]any{
		"definition":   definition.Document(),
		"title":        title,
		"input_schema": inputSchema,
	}
	doc := &flowDocument{}
	if err := c.rest.do(ctx, http.MethodPost, "/flows", nil, ManageFlowsScope, body, doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, flows.Validationf("flow registration returned no id")
	}
	return &flows.Flow{
		ID:          doc.ID,
		Scope:       doc.GlobusAuthScope,
		Title:       doc.Title,
		Definition:  definition,
		InputSchema: inputSchema,
	}, nil
}

// Run starts a run of flowID; the credential must be scoped to the flow's own scope.
func (c *FlowsClient) Run(ctx context.Context, flowID, scope string, input flows.RunInput, label string) (*flows.RunHandle, error) {
	if input == nil {
		input = flows.RunInput{}
	}
	body := map[string]any{"body": input, "label": label}
	doc := &runDocument{}
	if err := c.rest.do(ctx, http.MethodPost, "/flows/"+url.PathEscape(flowID)+"/run", nil, scope, body, doc); err != nil {
		return nil, err
	}
	return doc.handle(flowID)
}

// Status fetches the current state of a run.
func (c *FlowsClient) Status(ctx context.Context, flowID, scope, runID string) (*flows.RunHandle, error) {
	doc := &runDocument{}
	if err := c.rest.do(ctx, http.MethodGet, runPath(flowID, runID, "status"), nil, scope, nil, doc); err != nil {
		return nil, err
	}
	return doc.handle(flowID)
}

// Log lists up to limit events recorded for a run.
func (c *FlowsClient) Log(ctx context.Context, flowID, scope, runID string, limit int) ([]flows.LogEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	doc := &logDocument{}
	if err := c.rest.do(ctx, http.MethodGet, runPath(flowID, runID, "log"), query, scope, nil, doc); err != nil {
		return nil, err
	}
	entries := make([]flows.LogEntry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		entries = append(entries, flows.LogEntry{
			Time:        parseTime(entry.Time),
			Code:        entry.Code,
			Description: entry.Description,
			Details:     entry.Details,
		})
	}
	return entries, nil
}

// Cancel asks the service to stop a run.
func (c *FlowsClient) Cancel(ctx context.Context, flowID, scope, runID string) (*flows.RunHandle, error) {
	doc := &runDocument{}
	if err := c.rest.do(ctx, http.MethodPost, runPath(flowID, runID, "cancel"), nil, scope, nil, doc); err != nil {
		return nil, err
	}
	return doc.handle(flowID)
}

func runPath(flowID, runID, action string) string {
	return "/flows/" + url.PathEscape(flowID) + "/" + url.PathEscape(runID) + "/" + action
}

func (d *runDocument) handle(flowID string) (*flows.RunHandle, error) {
	runID := d.RunID
	if runID == "" {
		runID = d.ActionID
	}
	if runID == "" {
		return nil, flows.Validationf("flows service returned a run without id")
	}
	status, err := ParseStatus(d.Status)
	if err != nil {
		return nil, err
	}
	if d.FlowID != "" {
		flowID = d.FlowID
	}
	return &flows.RunHandle{
		RunID:          runID,
		FlowID:         flowID,
		Label:          d.Label,
		Status:         status,
		StartTime:      parseTime(d.StartTime),
		CompletionTime: parseTime(d.CompletionTime),
		Details:        d.Details,
	}, nil
}

// ParseStatus maps the Flows vocabulary onto flows.Status.
func ParseStatus(status string) (flows.Status, error) {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return flows.StatusActive, nil
	case "INACTIVE":
		return flows.StatusInactive, nil
	case "SUCCEEDED":
		return flows.StatusSucceeded, nil
	case "FAILED":
		return flows.StatusFailed, nil
	case "ENDED", "CANCELED", "CANCELLED":
		return flows.StatusCanceled, nil
	default:
		return "", flows.Validationf("unknown run status %q", status)
	}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
