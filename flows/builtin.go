package flows

import (
	_ "embed"
	"encoding/json"
)

const (
	// TransferStep and PermissionStep are the result bags written by the transfer-and-share flow.
	TransferStep   = "TransferResult"
	PermissionStep = "SetPermissionResult"
	// AccessIDField locates the created access rule inside PermissionStep.
	AccessIDField = "details.access_id"
	// PermissionCodeField holds the transfer service's error code when SetPermission fails.
	PermissionCodeField = "details.code"
)

//go:embed definitions/transfer_share.json
var transferShareDefinition []byte

//go:embed definitions/transfer_share_schema.json
var transferShareSchema []byte

// TransferShareDefinition returns the bundled transfer-and-share definition.
func TransferShareDefinition() (*Definition, error) {
	return ParseDefinition(transferShareDefinition)
}

// TransferShareInputSchema returns the input schema of the bundled definition.
func TransferShareInputSchema() (map[string]any, error) {
	var schema map[string]any
	if err := json.Unmarshal(transferShareSchema, &schema); err != nil {
		return nil, Validationf("failed to decode bundled input schema").WithCause(err)
	}
	return schema, nil
}
