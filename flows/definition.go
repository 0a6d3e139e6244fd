package flows

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StateTypeAction  = "Action"
	StateTypeChoice  = "Choice"
	StateTypeSucceed = "Succeed"
	StateTypeFail    = "Fail"

	placeholderSuffix = ".$"
	pathRoot          = "$."
	contextRoot       = "_context"
)

// Definition is a flow definition: named states linked by Next, starting at StartAt.
type Definition struct {
	Comment string            `json:"Comment,omitempty"`
	StartAt string            `json:"StartAt"`
	States  map[string]*State `json:"States"`

	// Raw is the decoded source document; it is what gets registered remotely.
	Raw map[string]any `json:"-"`
}

// State is one step of a definition.
type State struct {
	Type        string           `json:"Type"`
	Comment     string           `json:"Comment,omitempty"`
	ActionURL   string           `json:"ActionUrl,omitempty"`
	ActionScope string           `json:"ActionScope,omitempty"`
	Parameters  map[string]any   `json:"Parameters,omitempty"`
	InputPath   string           `json:"InputPath,omitempty"`
	ResultPath  string           `json:"ResultPath,omitempty"`
	WaitTime    int              `json:"WaitTime,omitempty"`
	Choices     []map[string]any `json:"Choices,omitempty"`
	Default     string           `json:"Default,omitempty"`
	Catch       []map[string]any `json:"Catch,omitempty"`
	Next        string           `json:"Next,omitempty"`
	End         bool             `json:"End,omitempty"`
}

// Terminal reports whether the state ends the run.
func (s *State) Terminal() bool {
	return s.End || s.Type == StateTypeSucceed || s.Type == StateTypeFail
}

// targets returns every state name this state can transition to.
func (s *State) targets() []string {
	var out []string
	if s.Next != "" {
		out = append(out, s.Next)
	}
	for _, choice := range s.Choices {
		if next, ok := choice["Next"].(string); ok && next != "" {
			out = append(out, next)
		}
	}
	if s.Default != "" {
		out = append(out, s.Default)
	}
	for _, catcher := range s.Catch {
		if next, ok := catcher["Next"].(string); ok && next != "" {
			out = append(out, next)
		}
	}
	return out
}

// ParseDefinition decodes a JSON or YAML definition document.
func ParseDefinition(data []byte) (*Definition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, Validationf("failed to decode definition").WithCause(err)
	}
	if len(raw) == 0 {
		return nil, Validationf("definition is empty")
	}
	return DefinitionFromMap(raw)
}

// DefinitionFromMap builds a definition from an already decoded document.
func DefinitionFromMap(raw map[string]any) (*Definition, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, Validationf("failed to encode definition").WithCause(err)
	}
	def := &Definition{}
	if err := json.Unmarshal(encoded, def); err != nil {
		return nil, Validationf("failed to decode definition").WithCause(err)
	}
	def.Raw = raw
	return def, nil
}

// Document returns the document to register with a remote service.
func (d *Definition) Document() map[string]any {
	if d.Raw != nil {
		return d.Raw
	}
	encoded, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return out
}

// Validate checks the structure of the definition: a known start state, resolvable
// transitions, reachable states and, for linear definitions, a single acyclic path to a
// terminal state.
func (d *Definition) Validate() error {
	if d == nil {
		return Validationf("definition is nil")
	}
	if len(d.States) == 0 {
		return Validationf("definition has no states")
	}
	if d.StartAt == "" {
		return Validationf("definition has no StartAt")
	}
	if _, ok := d.States[d.StartAt]; !ok {
		return Validationf("StartAt references missing state %s", d.StartAt)
	}

	for _, name := range d.StateNames() {
		state := d.States[name]
		if state == nil {
			return Validationf("state %s is empty", name)
		}
		if state.Type == "" {
			return Validationf("state %s has no Type", name)
		}
		if state.Type == StateTypeAction && state.ActionURL == "" {
			return Validationf("action state %s has no ActionUrl", name)
		}
		if state.Type == StateTypeChoice {
			if len(state.Choices) == 0 {
				return Validationf("choice state %s has no Choices", name)
			}
		} else if !state.Terminal() && state.Next == "" {
			return Validationf("state %s has neither Next nor End", name)
		}
		if state.End && state.Next != "" {
			return Validationf("state %s sets both Next and End", name)
		}
		for _, target := range state.targets() {
			if _, ok := d.States[target]; !ok {
				return Validationf("state %s references missing state %s", name, target)
			}
		}
	}

	reachable := d.reachable()
	for _, name := range d.StateNames() {
		if !reachable[name] {
			return Validationf("state %s is unreachable from %s", name, d.StartAt)
		}
	}

	if _, err := d.Path(); err != nil {
		return err
	}
	return nil
}

// Path walks the definition from StartAt along Next references. The walk stops at the
// first terminal or Choice state.
func (d *Definition) Path() ([]string, error) {
	visited := make(map[string]bool)
	var path []string
	name := d.StartAt
	for {
		if visited[name] {
			return nil, Validationf("state %s is part of a cycle", name)
		}
		visited[name] = true
		path = append(path, name)
		state, ok := d.States[name]
		if !ok || state == nil {
			return nil, Validationf("state %s does not exist", name)
		}
		if state.Terminal() || state.Type == StateTypeChoice {
			return path, nil
		}
		name = state.Next
	}
}

func (d *Definition) reachable() map[string]bool {
	seen := map[string]bool{d.StartAt: true}
	queue := []string{d.StartAt}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		state := d.States[name]
		if state == nil {
			continue
		}
		for _, target := range state.targets() {
			if !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}
	return seen
}

// StateNames returns state names in lexical order.
func (d *Definition) StateNames() []string {
	names := make([]string, 0, len(d.States))
	for name := range d.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Placeholder is a parameter resolved against run-time data.
type Placeholder struct {
	State string
	Key   string
	Path  string
}

// Placeholders lists every $.-rooted path referenced by the definition's parameters.
func (d *Definition) Placeholders() []Placeholder {
	var out []Placeholder
	for _, name := range d.StateNames() {
		state := d.States[name]
		if state == nil {
			continue
		}
		if strings.HasPrefix(state.InputPath, pathRoot) {
			out = append(out, Placeholder{State: name, Key: "InputPath", Path: state.InputPath})
		}
		collectPlaceholders(name, "", state.Parameters, &out)
	}
	return out
}

func collectPlaceholders(state, prefix string, value any, out *[]Placeholder) {
	switch actual := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(actual))
		for key := range actual {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			item := actual[key]
			qualified := key
			if prefix != "" {
				qualified = prefix + "." + key
			}
			if path, ok := item.(string); ok && strings.HasSuffix(key, placeholderSuffix) {
				if strings.HasPrefix(path, pathRoot) {
					*out = append(*out, Placeholder{State: state, Key: qualified, Path: path})
				}
				continue
			}
			collectPlaceholders(state, qualified, item, out)
		}
	case []any:
		for i, item := range actual {
			collectPlaceholders(state, fmt.Sprintf("%s[%d]", prefix, i), item, out)
		}
	}
}

// CheckInput verifies that every placeholder resolves either against input or against a
// result stored by a state of the definition.
func (d *Definition) CheckInput(input RunInput) error {
	produced := make(map[string]bool)
	for _, state := range d.States {
		if state == nil || state.ResultPath == "" {
			continue
		}
		if segments := pathSegments(state.ResultPath); len(segments) > 0 {
			produced[segments[0]] = true
		}
	}
	for _, placeholder := range d.Placeholders() {
		segments := pathSegments(placeholder.Path)
		if len(segments) == 0 {
			continue
		}
		if produced[segments[0]] || segments[0] == contextRoot {
			continue
		}
		if _, ok := lookupPath(map[string]any(input), segments); !ok {
			return Validationf("run input is missing %s referenced by %s.%s", placeholder.Path, placeholder.State, placeholder.Key)
		}
	}
	return nil
}

// pathSegments splits "$.a.b[0].c" into [a b c], dropping index expressions.
func pathSegments(path string) []string {
	path = strings.TrimPrefix(path, pathRoot)
	if path == "" || path == "$" {
		return nil
	}
	var out []string
	for _, segment := range strings.Split(path, ".") {
		if i := strings.Index(segment, "["); i >= 0 {
			segment = segment[:i]
		}
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

func lookupPath(root map[string]any, segments []string) (any, bool) {
	var current any = root
	for _, segment := range segments {
		bag, ok := current.(map[string]any)
		if !ok {
			// Arrays and scalars are not walked further.
			return current, true
		}
		current, ok = bag[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
