package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"flowrunner/flows"
	"flowrunner/globus"
	"flowrunner/internal/store"
	"flowrunner/stepfunctions"
)

const (
	sourceEndpoint      = "ddb59aef-6d04-11e5-ba46-22000b92c6ec"
	destinationEndpoint = "ddb59af0-6d04-11e5-ba46-22000b92c6ec"
)

const runInput = `
source_endpoint: ddb59aef-6d04-11e5-ba46-22000b92c6ec
source_path: /share/godata/
destination_endpoint: ddb59af0-6d04-11e5-ba46-22000b92c6ec
destination_path: /~/tutorial-share/
principal_identifier: c8aad43e-d274-11e5-bf98-8b02896cf782
principal_type: identity
`

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

type fakeBackend struct {
	statuses    []flows.Status
	details     map[string]any
	deployed    *flows.Flow
	runInput    flows.RunInput
	statusCalls int
	canceled    bool
	entries     []flows.LogEntry
}

func (f *fakeBackend) Deploy(_ context.Context, definition *flows.Definition, title string, inputSchema map[string]any) (*flows.Flow, error) {
	f.deployed = &flows.Flow{ID: "flow-1", Scope: "scope-1", Title: title, Definition: definition, InputSchema: inputSchema}
	return f.deployed, nil
}

func (f *fakeBackend) Run(_ context.Context, flowID, _ string, input flows.RunInput, label string) (*flows.RunHandle, error) {
	f.runInput = input
	return &flows.RunHandle{RunID: "run-1", FlowID: flowID, Label: label, Status: flows.StatusActive}, nil
}

func (f *fakeBackend) Status(_ context.Context, flowID, _, runID string) (*flows.RunHandle, error) {
	status := f.statuses[len(f.statuses)-1]
	if f.statusCalls < len(f.statuses) {
		status = f.statuses[f.statusCalls]
	}
	f.statusCalls++
	return &flows.RunHandle{RunID: runID, FlowID: flowID, Status: status, Details: f.details}, nil
}

func (f *fakeBackend) Log(context.Context, string, string, string, int) ([]flows.LogEntry, error) {
	return f.entries, nil
}

func (f *fakeBackend) Cancel(_ context.Context, flowID, _, runID string) (*flows.RunHandle, error) {
	f.canceled = true
	return &flows.RunHandle{RunID: runID, FlowID: flowID, Status: flows.StatusCanceled}, nil
}

type fakeInventory struct {
	fakeBackend
}

func (f *fakeInventory) ListStateMachines(context.Context) ([]stepfunctions.StateMachine, error) {
	return []stepfunctions.StateMachine{{
		Name: "transfer",
		ARN:  "arn:aws:states:us-west-2:123456789012:stateMachine:transfer",
		Type: "STANDARD",
		States: []stepfunctions.State{{
			Name: "Copy", Type: "Task", End: true,
			RawDefinition: map[string]any{"Type": "Task", "End": true},
		}},
		Executions: []stepfunctions.Execution{{ExecutionArn: "exec-1", Status: "SUCCEEDED", Duration: "1m0s"}},
	}}, nil
}

func permissionDetails() map[string]any {
	return map[string]any{"output": map[string]any{
		flows.TransferStep:   map[string]any{"details": map[string]any{"task_id": "task-1"}},
		flows.PermissionStep: map[string]any{"details": map[string]any{"access_id": "rule-42"}},
	}}
}

func setEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLOWRUNNER_LOG_LEVEL", "FLOWRUNNER_POLL_INTERVAL_SECONDS", "FLOWRUNNER_TIMEOUT_SECONDS",
		"FLOWRUNNER_TRACE_FILE", "GLOBUS_DATA", "GLOBUS_TOKENS_URL", "GLOBUS_AUTH_URL",
		"GLOBUS_FLOWS_URL", "GLOBUS_TRANSFER_URL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("FLOWRUNNER_BACKEND", "globus")
}

func testApp(b backend) *app {
	a := newApp()
	a.clock = &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if b != nil {
		a.newBackend = func(context.Context) (backend, error) { return b, nil }
	}
	return a
}

func execute(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func upload(t *testing.T, location, content string) {
	t.Helper()
	err := afs.New().Upload(context.Background(), location, file.DefaultFileOsMode, strings.NewReader(content))
	require.NoError(t, err)
}

func TestRunDeploysAndReportsAccessRule(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_run_success"
	upload(t, outputURL+"/input.yaml", runInput)
	b := &fakeBackend{
		statuses: []flows.Status{flows.StatusActive, flows.StatusActive, flows.StatusSucceeded},
		details:  permissionDetails(),
	}

	out, err := execute(t, testApp(b), "", "run", "--output-url", outputURL, "--input", outputURL+"/input.yaml", "--label", "tutorial")
	require.NoError(t, err)
	assert.Equal(t, defaultFlowTitle, b.deployed.Title)
	assert.Equal(t, "/share/godata/", b.runInput["source_path"])
	assert.Equal(t, 3, b.statusCalls)
	assert.Contains(t, out, "Submitted run run-1 of flow flow-1")
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "Access rule rule-42 created on endpoint "+destinationEndpoint)
	assert.Contains(t, out, globus.FileManagerURL(globus.DefaultWebAppURL, destinationEndpoint, "/~/tutorial-share/"))

	st, err := store.New(context.Background(), outputURL)
	require.NoError(t, err)
	recorded, err := st.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, flows.StatusSucceeded, recorded.Status)
	flow, err := st.LoadFlow(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "scope-1", flow.Scope)
}

func TestRunRejectsIncompleteInputBeforeSubmitting(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_run_invalid"
	upload(t, outputURL+"/input.json", `{"source_endpoint": "`+sourceEndpoint+`", "source_path": "/share/godata/"}`)
	b := &fakeBackend{statuses: []flows.Status{flows.StatusSucceeded}}

	_, err := execute(t, testApp(b), "", "run", "--output-url", outputURL, "--input", outputURL+"/input.json")
	require.Error(t, err)
	assert.True(t, flows.IsCode(err, flows.CodeValidation))
	assert.Nil(t, b.runInput)
}

func TestRunFailedAfterTransferPointsToCleanup(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_run_failed"
	upload(t, outputURL+"/input.yaml", runInput)
	b := &fakeBackend{
		statuses: []flows.Status{flows.StatusFailed},
		details: map[string]any{"output": map[string]any{
			flows.TransferStep: map[string]any{"details": map[string]any{"task_id": "task-1"}},
		}},
	}

	out, err := execute(t, testApp(b), "", "run", "--output-url", outputURL, "--input", outputURL+"/input.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "flowrunner cleanup --endpoint "+destinationEndpoint+" --path /~/tutorial-share/")

	_, err = execute(t, testApp(&fakeBackend{statuses: []flows.Status{flows.StatusFailed}}), "",
		"run", "--strict", "--output-url", outputURL, "--input", outputURL+"/input.yaml")
	var failed *flows.RunFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, flows.StatusFailed, failed.Handle.Status)
}

func TestRunWithExistingAccessRuleIsConflict(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_run_conflict"
	upload(t, outputURL+"/input.yaml", runInput)
	details := map[string]any{"output": map[string]any{
		flows.TransferStep:   map[string]any{"details": map[string]any{"task_id": "task-1"}},
		flows.PermissionStep: map[string]any{"details": map[string]any{"code": "Exists"}},
	}}

	out, err := execute(t, testApp(&fakeBackend{statuses: []flows.Status{flows.StatusFailed}, details: details}), "",
		"run", "--strict", "--output-url", outputURL, "--input", outputURL+"/input.yaml")
	require.Error(t, err)
	assert.True(t, flows.IsCode(err, flows.CodeConflict))
	var failed *flows.RunFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, flows.StatusFailed, failed.Handle.Status)
	assert.Contains(t, out, "already exists")
	assert.Contains(t, out, "flowrunner cleanup --endpoint "+destinationEndpoint+" --rule-id")
	assert.NotContains(t, out, "--path")

	out, err = execute(t, testApp(&fakeBackend{statuses: []flows.Status{flows.StatusFailed}, details: details}), "",
		"run", "--output-url", outputURL, "--input", outputURL+"/input.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "--rule-id")
}

func TestRunTimesOut(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_run_timeout"
	upload(t, outputURL+"/input.yaml", runInput)
	b := &fakeBackend{statuses: []flows.Status{flows.StatusActive}}

	_, err := execute(t, testApp(b), "", "run", "--output-url", outputURL, "--input", outputURL+"/input.yaml",
		"--poll-interval", "5s", "--timeout", "12s")
	require.Error(t, err)
	assert.True(t, flows.IsCode(err, flows.CodeTimeout))
	assert.Equal(t, 3, b.statusCalls)
}

func TestStatusLogAndCancelUseRecordedRun(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_status"
	st, err := store.New(context.Background(), outputURL)
	require.NoError(t, err)
	_, err = st.SaveRun(context.Background(), &flows.RunHandle{RunID: "run-9", FlowID: "flow-9", Status: flows.StatusActive})
	require.NoError(t, err)

	b := &fakeBackend{
		statuses: []flows.Status{flows.StatusInactive},
		entries:  []flows.LogEntry{{Code: "FlowStarted", Description: "The Flow Instance started execution"}},
	}
	out, err := execute(t, testApp(b), "", "status", "run-9", "--output-url", outputURL)
	require.NoError(t, err)
	assert.Contains(t, out, "INACTIVE")

	out, err = execute(t, testApp(b), "", "log", "run-9", "--output-url", outputURL)
	require.NoError(t, err)
	assert.Contains(t, out, "FlowStarted")

	out, err = execute(t, testApp(b), "", "cancel", "run-9", "--output-url", outputURL)
	require.NoError(t, err)
	assert.True(t, b.canceled)
	assert.Contains(t, out, "CANCELED")

	out, err = execute(t, testApp(b), "", "runs", "--output-url", outputURL)
	require.NoError(t, err)
	assert.Contains(t, out, "Runs:")
	assert.Regexp(t, `run-9\s+\|\s+flow-9\s+\|\s+\|\s+CANCELED`, out)

	_, err = execute(t, testApp(b), "", "status", "run-unknown", "--output-url", outputURL)
	assert.True(t, flows.IsCode(err, flows.CodeValidation))
}

func TestDeployPrintsScope(t *testing.T) {
	setEnv(t)
	b := &fakeBackend{}
	out, err := execute(t, testApp(b), "", "deploy", "--output-url", "mem://localhost/cmd_deploy", "--title", "My share flow")
	require.NoError(t, err)
	assert.Contains(t, out, "flow-1")
	assert.Contains(t, out, "flowrunner login --flow-scope scope-1")
}

func TestCleanupDeletesRuleAndDirectory(t *testing.T) {
	setEnv(t)
	var (
		mu       sync.Mutex
		requests []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "Bearer transfer-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodDelete:
			_, _ = io.WriteString(w, `{"code": "Deleted", "message": "Access rule deleted"}`)
		case r.URL.Path == "/submission_id":
			_, _ = io.WriteString(w, `{"value": "submission-1"}`)
		case r.URL.Path == "/delete":
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"task_id": "task-7", "code": "Accepted"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	t.Setenv("GLOBUS_TRANSFER_URL", server.URL)
	t.Setenv("GLOBUS_DATA", `{"tokens": {"transfer.api.globus.org": {"access_token": "transfer-token", "scope": "`+globus.TransferScope+`", "resource_server": "transfer.api.globus.org"}}}`)

	outputURL := "mem://localhost/cmd_cleanup"
	st, err := store.New(context.Background(), outputURL)
	require.NoError(t, err)
	_, err = st.SaveRun(context.Background(), &flows.RunHandle{RunID: "run-5", Status: flows.StatusSucceeded, Details: permissionDetails()})
	require.NoError(t, err)

	out, err := execute(t, testApp(nil), "", "cleanup", "--output-url", outputURL,
		"--endpoint", destinationEndpoint, "--run-id", "run-5", "--path", "/~/tutorial-share/")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted access rule rule-42")
	assert.Contains(t, out, "Submitted delete task task-7")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"DELETE /endpoint/" + destinationEndpoint + "/access/rule-42",
		"GET /submission_id",
		"POST /delete",
	}, requests)
}

func TestCleanupNeedsSomethingToDelete(t *testing.T) {
	setEnv(t)
	_, err := execute(t, testApp(&fakeBackend{}), "", "cleanup", "--output-url", "mem://localhost/cmd_cleanup_empty", "--endpoint", destinationEndpoint)
	assert.True(t, flows.IsCode(err, flows.CodeValidation))

	_, err = execute(t, testApp(&fakeBackend{}), "", "cleanup", "--backend", "stepfunctions", "--output-url", "mem://localhost/cmd_cleanup_empty", "--endpoint", destinationEndpoint, "--path", "/x")
	assert.True(t, flows.IsCode(err, flows.CodeConfig))
}

func TestMissingCredentials(t *testing.T) {
	setEnv(t)
	_, err := execute(t, testApp(nil), "", "whoami", "--output-url", "mem://localhost/cmd_no_tokens")
	assert.True(t, flows.IsCode(err, flows.CodeAuthorization))
}

func TestStateMachinesSavesInventory(t *testing.T) {
	setEnv(t)
	outputURL := "mem://localhost/cmd_inventory"
	out, err := execute(t, testApp(&fakeInventory{}), "", "state-machines", "--details", "--output-url", outputURL)
	require.NoError(t, err)
	assert.Contains(t, out, "State Machines:")
	assert.Contains(t, out, "States for transfer:")
	assert.Contains(t, out, "exec-1")

	data, err := afs.New().DownloadWithURL(context.Background(), outputURL+"/state_machines/state_machines.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "transfer"`)

	_, err = execute(t, testApp(&fakeBackend{}), "", "state-machines", "--output-url", outputURL)
	assert.Error(t, err)
}

func TestInvalidFlagOverride(t *testing.T) {
	setEnv(t)
	_, err := execute(t, testApp(&fakeBackend{}), "", "status", "run-1", "--backend", "airflow")
	assert.True(t, flows.IsCode(err, flows.CodeConfig))
}
