package flows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResultField(t *testing.T) {
	result := &RunHandle{
		RunID:  "run-1",
		Status: StatusSucceeded,
		Details: map[string]any{
			"output": map[string]any{
				TransferStep: map[string]any{
					"details": map[string]any{"task_id": "task-7", "files": 3},
				},
				PermissionStep: map[string]any{
					"details": map[string]any{"access_id": "rule-42"},
				},
			},
		},
	}

	testCases := []struct {
		description string
		step        string
		field       string
		expect      any
		expectCode  Code
	}{
		{description: "nested string", step: PermissionStep, field: AccessIDField, expect: "rule-42"},
		{description: "nested number", step: TransferStep, field: "details.files", expect: 3},
		{description: "whole bag", step: TransferStep, field: "", expect: result.Details["output"].(map[string]any)[TransferStep]},
		{description: "missing step", step: "NeverRan", field: "details", expectCode: CodeNotFound},
		{description: "missing field", step: TransferStep, field: "details.code", expectCode: CodeNotFound},
		{description: "field below scalar", step: TransferStep, field: "details.task_id.x", expectCode: CodeNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			value, err := ExtractResultField(result, testCase.step, testCase.field)
			if testCase.expectCode != "" {
				require.Error(t, err)
				assert.True(t, IsCode(err, testCase.expectCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expect, value)
		})
	}
}

func TestExtractResultFieldWithoutOutputBag(t *testing.T) {
	result := &RunHandle{Details: map[string]any{"Step": map[string]any{"value": "x"}}}
	value, err := ExtractResultString(result, "Step", "value")
	require.NoError(t, err)
	assert.Equal(t, "x", value)

	_, err = ExtractResultString(nil, "Step", "value")
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestExtractResultStringRejectsNonString(t *testing.T) {
	result := &RunHandle{Details: map[string]any{"Step": map[string]any{"value": 1}}}
	_, err := ExtractResultString(result, "Step", "value")
	assert.True(t, IsCode(err, CodeValidation))
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusActive, StatusInactive} {
		assert.False(t, status.Terminal(), status)
	}
	for _, status := range []Status{StatusSucceeded, StatusFailed, StatusCanceled} {
		assert.True(t, status.Terminal(), status)
	}
}

func TestValidateInput(t *testing.T) {
	schema, err := TransferShareInputSchema()
	require.NoError(t, err)
	assert.NoError(t, ValidateInput(schema, validInput()))
	assert.NoError(t, ValidateInput(nil, RunInput{"anything": true}))

	input := validInput()
	delete(input, "source_path")
	err = ValidateInput(schema, input)
	assert.True(t, IsCode(err, CodeValidation))
}

func TestErrorHelpers(t *testing.T) {
	err := Transientf("timeout talking to %s", "flows")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "TRANSIENT: timeout talking to flows", err.Error())

	wrapped := Conflictf("rule exists").WithCause(assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsCode(wrapped, CodeConflict))
}

func TestPermissionExists(t *testing.T) {
	failed := func(code any) *RunHandle {
		return &RunHandle{RunID: "run-1", Status: StatusFailed, Details: map[string]any{"output": map[string]any{
			PermissionStep: map[string]any{"details": map[string]any{"code": code}},
		}}}
	}
	assert.True(t, PermissionExists(failed("Exists")))
	assert.True(t, PermissionExists(failed("PermissionExists")))
	assert.False(t, PermissionExists(failed("PermissionDenied")))
	assert.False(t, PermissionExists(failed(409)))
	assert.False(t, PermissionExists(&RunHandle{RunID: "run-2", Status: StatusFailed}))
	assert.False(t, PermissionExists(nil))
}
