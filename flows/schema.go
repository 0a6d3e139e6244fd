package flows

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidateInput checks input against a JSON schema document. A nil schema accepts any input.
func ValidateInput(schema map[string]any, input RunInput) error {
	if len(schema) == 0 {
		return nil
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return Validationf("failed to encode input schema").WithCause(err)
	}
	var parsed jsonschema.Schema
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return Validationf("failed to decode input schema").WithCause(err)
	}
	resolved, err := parsed.Resolve(nil)
	if err != nil {
		return Validationf("failed to resolve input schema").WithCause(err)
	}
	instance, err := normalize(input)
	if err != nil {
		return Validationf("failed to encode run input").WithCause(err)
	}
	if err := resolved.Validate(instance); err != nil {
		return Validationf("run input does not match input schema").WithCause(err)
	}
	return nil
}

// normalize converts YAML-decoded values into plain JSON values.
func normalize(input RunInput) (any, error) {
	if input == nil {
		input = RunInput{}
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
