package stepfunctions

// StateMachine is a Step Functions state machine with its states and recent executions.
type StateMachine struct {
	Name         string      `json:"name"`
	ARN          string      `json:"arn"`
	RoleARN      string      `json:"role_arn"`
	Definition   string      `json:"definition"`
	States       []State     `json:"states"`
	Executions   []Execution `json:"executions"`
	CreationDate string      `json:"creation_date"`
	Type         string      `json:"type"`
}

// State represents an individual state in the state machine
type State struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Next          string         `json:"next,omitempty"`
	End           bool           `json:"end,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	RawDefinition map[string]any `json:"raw_definition,omitempty"`
}

// Execution represents an execution of a state machine
type Execution struct {
	ExecutionArn string `json:"execution_arn"`
	Status       string `json:"status"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time,omitempty"`
	Duration     string `json:"duration"` // Human-readable duration (e.g., "1m30s")
}

const (
	typeExpress  = "EXPRESS"
	typeStandard = "STANDARD"
	notAvailable = "N/A"
)
