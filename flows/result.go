package flows

import (
	"fmt"
	"strings"
)

const outputKey = "output"

// ExtractResultField returns field (a dotted path) from the result bag stored by stepName.
// The bag is looked up under the run details' "output" document when present.
func ExtractResultField(result *RunHandle, stepName, field string) (any, error) {
	if result == nil {
		return nil, NotFoundf("run result is empty")
	}
	bag := result.Details
	if output, ok := bag[outputKey].(map[string]any); ok {
		bag = output
	}
	step, ok := bag[stepName]
	if !ok {
		return nil, NotFoundf("run %s has no result for step %s", result.RunID, stepName)
	}
	if field == "" {
		return step, nil
	}
	current := step
	for _, segment := range strings.Split(field, ".") {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, NotFoundf("result of step %s has no field %s", stepName, field)
		}
		if current, ok = container[segment]; !ok {
			return nil, NotFoundf("result of step %s has no field %s", stepName, field)
		}
	}
	return current, nil
}

// ExtractResultString is ExtractResultField for string values.
func ExtractResultString(result *RunHandle, stepName, field string) (string, error) {
	value, err := ExtractResultField(result, stepName, field)
	if err != nil {
		return "", err
	}
	text, ok := value.(string)
	if !ok {
		return "", Validationf("field %s of step %s is %T, not a string", field, stepName, value)
	}
	return text, nil
}

// PermissionExists reports whether the permission step failed because the access rule
// it tried to create is already in place, usually left over from an earlier run.
func PermissionExists(result *RunHandle) bool {
	code, err := ExtractResultString(result, PermissionStep, PermissionCodeField)
	return err == nil && strings.HasSuffix(code, "Exists")
}

// StepName returns the result bag name a state writes to, e.g. "$.TransferResult" -> "TransferResult".
func StepName(resultPath string) string {
	segments := pathSegments(resultPath)
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

// Describe is a one-line summary of a handle.
func (h *RunHandle) Describe() string {
	if h == nil {
		return "<nil run>"
	}
	return fmt.Sprintf("run %s (%s) status %s", h.RunID, h.Label, h.Status)
}
