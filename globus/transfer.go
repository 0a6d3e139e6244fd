package globus

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"flowrunner/flows"
)

// TransferClient talks to the Globus Transfer service.
type TransferClient struct {
	rest *restClient
}

func NewTransferClient(baseURL string, tokens *TokenStore, opts ...Option) *TransferClient {
	return &TransferClient{rest: newRestClient(baseURL, tokens, opts)}
}

// AccessRule identifies a permission created on an endpoint.
type AccessRule struct {
	EndpointID string `json:"endpoint_id"`
	RuleID     string `json:"rule_id"`
}

type deleteDocument struct {
	DataType     string           `json:"DATA_TYPE"`
	SubmissionID string           `json:"submission_id"`
	Endpoint     string           `json:"endpoint"`
	Recursive    bool             `json:"recursive"`
	Label        string           `json:"label,omitempty"`
	Data         []deleteItemData `json:"DATA"`
}

type deleteItemData struct {
	DataType string `json:"DATA_TYPE"`
	Path     string `json:"path"`
}

// DeleteAccessRule removes a permission. A rule that no longer exists is reported as NOT_FOUND.
func (c *TransferClient) DeleteAccessRule(ctx context.Context, rule AccessRule) error {
	if err := validateEndpointID(rule.EndpointID); err != nil {
		return err
	}
	if rule.RuleID == "" {
		return flows.Validationf("access rule id is required")
	}
	path := "/endpoint/" + url.PathEscape(rule.EndpointID) + "/access/" + url.PathEscape(rule.RuleID)
	var ack struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.rest.do(ctx, http.MethodDelete, path, nil, TransferScope, nil, &ack); err != nil {
		return err
	}
	c.rest.logger.Info("access rule deleted", "endpoint_id", rule.EndpointID, "rule_id", rule.RuleID, "code", ack.Code)
	return nil
}

// DeleteTree submits a delete task for path and returns the task id. The task runs
// asynchronously on the service.
func (c *TransferClient) DeleteTree(ctx context.Context, endpointID, path string, recursive bool) (string, error) {
	if err := validateEndpointID(endpointID); err != nil {
		return "", err
	}
	if path == "" || path == "/" {
		return "", flows.Validationf("refusing to delete %q on endpoint %s", path, endpointID)
	}

	var submission struct {
		Value string `json:"value"`
	}
	if err := c.rest.do(ctx, http.MethodGet, "/submission_id", nil, TransferScope, nil, &submission); err != nil {
		return "", err
	}
	body := deleteDocument{
		DataType:     "delete",
		SubmissionID: submission.Value,
		Endpoint:     endpointID,
		Recursive:    recursive,
		Label:        "flowrunner cleanup",
		Data:         []deleteItemData{{DataType: "delete_item", Path: path}},
	}
	var result struct {
		TaskID string `json:"task_id"`
		Code   string `json:"code"`
	}
	if err := c.rest.do(ctx, http.MethodPost, "/delete", nil, TransferScope, body, &result); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", flows.Validationf("delete submission returned no task id (code %s)", result.Code)
	}
	c.rest.logger.Info("delete task submitted", "endpoint_id", endpointID, "path", path, "task_id", result.TaskID)
	return result.TaskID, nil
}

func validateEndpointID(endpointID string) error {
	if _, err := uuid.Parse(endpointID); err != nil {
		return flows.Validationf("endpoint id %q is not a UUID", endpointID).WithCause(err)
	}
	return nil
}
