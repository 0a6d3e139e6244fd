package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"flowrunner/flows"
)

func upload(t *testing.T, location, content string) {
	t.Helper()
	err := afs.New().Upload(context.Background(), location, file.DefaultFileOsMode, bytes.NewReader([]byte(content)))
	require.NoError(t, err)
}

func TestLoadDocuments(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "mem://localhost/store_docs")
	require.NoError(t, err)

	upload(t, "mem://localhost/inputs/run.yaml", `
source_endpoint: ddb59aef-6d04-11e5-ba46-22000b92c6ec
source_path: /share/godata
nested:
  depth: 2
`)
	input, err := s.LoadInput(ctx, "mem://localhost/inputs/run.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/share/godata", input["source_path"])
	assert.Equal(t, map[string]any{"depth": 2}, input["nested"])

	upload(t, "mem://localhost/inputs/run.json", `{"source_path": "/share/godata"}`)
	input, err = s.LoadInput(ctx, "mem://localhost/inputs/run.json")
	require.NoError(t, err)
	assert.Equal(t, "/share/godata", input["source_path"])

	upload(t, "mem://localhost/defs/flow.json", `{"StartAt": "Done", "States": {"Done": {"Type": "Succeed"}}}`)
	def, err := s.LoadDefinition(ctx, "mem://localhost/defs/flow.json")
	require.NoError(t, err)
	assert.NoError(t, def.Validate())

	_, err = s.LoadDocument(ctx, "mem://localhost/inputs/missing.json")
	assert.True(t, flows.IsCode(err, flows.CodeNotFound))

	upload(t, "mem://localhost/inputs/list.yaml", "- a\n- b\n")
	_, err = s.LoadDocument(ctx, "mem://localhost/inputs/list.yaml")
	assert.True(t, flows.IsCode(err, flows.CodeValidation))
}

func TestRunRecords(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "mem://localhost/store_runs")
	require.NoError(t, err)

	handle := &flows.RunHandle{
		RunID:     "arn:aws:states:us-west-2:123:execution:transfer:run-1",
		FlowID:    "flow-1",
		Label:     "tutorial",
		Status:    flows.StatusSucceeded,
		StartTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Details:   map[string]any{"output": map[string]any{"ok": true}},
	}
	location, err := s.SaveRun(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "mem://localhost/store_runs/runs/arn_aws_states_us-west-2_123_execution_transfer_run-1.json", location)

	loaded, err := s.LoadRun(ctx, handle.RunID)
	require.NoError(t, err)
	assert.Equal(t, handle.Status, loaded.Status)
	assert.Equal(t, handle.Label, loaded.Label)
	assert.True(t, handle.StartTime.Equal(loaded.StartTime))

	_, err = s.SaveRun(ctx, &flows.RunHandle{RunID: "run-2", Status: flows.StatusFailed})
	require.NoError(t, err)
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = s.LoadRun(ctx, "run-3")
	assert.True(t, flows.IsCode(err, flows.CodeNotFound))
	_, err = s.SaveRun(ctx, &flows.RunHandle{})
	assert.True(t, flows.IsCode(err, flows.CodeValidation))
}

func TestFlowRecords(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "mem://localhost/store_flows")
	require.NoError(t, err)

	def, err := flows.TransferShareDefinition()
	require.NoError(t, err)
	schema, err := flows.TransferShareInputSchema()
	require.NoError(t, err)
	_, err = s.SaveFlow(ctx, &flows.Flow{ID: "flow-1", Scope: "scope-1", Title: "Transfer and share", Definition: def, InputSchema: schema})
	require.NoError(t, err)

	loaded, err := s.LoadFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "scope-1", loaded.Scope)
	require.NotNil(t, loaded.Definition)
	assert.Equal(t, def.StartAt, loaded.Definition.StartAt)
	assert.NoError(t, loaded.Definition.Validate())
	assert.Equal(t, schema["required"], loaded.InputSchema["required"])
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a_b.c-d", Key("/a b.c-d/"))
}

func TestNewRequiresLocation(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.True(t, flows.IsCode(err, flows.CodeConfig))
}

func TestNewReportsUnusableLocation(t *testing.T) {
	_, err := New(context.Background(), "nosuchscheme://localhost/store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check store location")
}
