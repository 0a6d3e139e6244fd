// Package store reads definitions, inputs and schemas from any afs URL and keeps run
// records, deployed flows and credentials under a results location.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"flowrunner/flows"
)

const (
	runsDir    = "runs"
	flowsDir   = "flows"
	TokensName = "tokens.json"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Store persists JSON documents below a base URL.
type Store struct {
	baseURL string
	fs      afs.Service
	mu      sync.RWMutex
}

// FlowRecord is a deployed flow as kept on disk.
type FlowRecord struct {
	ID          string         `json:"id"`
	Scope       string         `json:"scope,omitempty"`
	Title       string         `json:"title"`
	Definition  map[string]any `json:"definition"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// New creates the base location when it does not exist yet.
func New(ctx context.Context, baseURL string) (*Store, error) {
	if baseURL == "" {
		return nil, flows.Configf("store location cannot be empty")
	}
	fs := afs.New()
	baseURL = url.Normalize(baseURL, file.Scheme)
	exists, err := fs.Exists(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check store location %s: %w", baseURL, err)
	}
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create store location %s: %w", baseURL, err)
		}
	}
	return &Store{baseURL: baseURL, fs: fs}, nil
}

// URL returns the location of name under the store.
func (s *Store) URL(name string) string {
	return strings.TrimRight(s.baseURL, "/") + "/" + name
}

// Download reads any afs URL; relative paths are resolved against the working directory.
func (s *Store) Download(ctx context.Context, location string) ([]byte, error) {
	location = url.Normalize(location, file.Scheme)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return nil, flows.NotFoundf("document %s does not exist", location)
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}

// LoadDocument decodes a JSON or YAML object from location.
func (s *Store) LoadDocument(ctx context.Context, location string) (map[string]any, error) {
	data, err := s.Download(ctx, location)
	if err != nil {
		return nil, err
	}
	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, flows.Validationf("%s is neither JSON nor YAML", location).WithCause(err)
	}
	if document == nil {
		return nil, flows.Validationf("%s does not hold an object", location)
	}
	return document, nil
}

func (s *Store) LoadDefinition(ctx context.Context, location string) (*flows.Definition, error) {
	data, err := s.Download(ctx, location)
	if err != nil {
		return nil, err
	}
	def, err := flows.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", location, err)
	}
	return def, nil
}

func (s *Store) LoadInput(ctx context.Context, location string) (flows.RunInput, error) {
	document, err := s.LoadDocument(ctx, location)
	if err != nil {
		return nil, err
	}
	return flows.RunInput(document), nil
}

// Save writes data to name under the store and returns its URL.
func (s *Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	location := s.URL(name)
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", location, err)
	}
	return location, nil
}

func (s *Store) saveJSON(ctx context.Context, name string, value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return s.Save(ctx, name, data)
}

func (s *Store) loadJSON(ctx context.Context, name string, target any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.Download(ctx, s.URL(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// SaveRun records the last observed state of a run.
func (s *Store) SaveRun(ctx context.Context, handle *flows.RunHandle) (string, error) {
	if handle == nil || handle.RunID == "" {
		return "", flows.Validationf("run id cannot be empty")
	}
	return s.saveJSON(ctx, path.Join(runsDir, Key(handle.RunID)+".json"), handle)
}

func (s *Store) LoadRun(ctx context.Context, runID string) (*flows.RunHandle, error) {
	if runID == "" {
		return nil, flows.Validationf("run id cannot be empty")
	}
	handle := &flows.RunHandle{}
	if err := s.loadJSON(ctx, path.Join(runsDir, Key(runID)+".json"), handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// ListRuns returns every recorded run. Unreadable records are skipped.
func (s *Store) ListRuns(ctx context.Context) ([]*flows.RunHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	location := s.URL(runsDir)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil || !exists {
		return nil, err
	}
	objects, err := s.fs.List(ctx, location, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var handles []*flows.RunHandle
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		handle := &flows.RunHandle{}
		if err := json.Unmarshal(data, handle); err != nil {
			continue
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// SaveFlow records a deployed flow so later runs can validate input against it.
func (s *Store) SaveFlow(ctx context.Context, flow *flows.Flow) (string, error) {
	if flow == nil || flow.ID == "" {
		return "", flows.Validationf("flow id cannot be empty")
	}
	record := FlowRecord{ID: flow.ID, Scope: flow.Scope, Title: flow.Title, InputSchema: flow.InputSchema}
	if flow.Definition != nil {
		record.Definition = flow.Definition.Document()
	}
	return s.saveJSON(ctx, path.Join(flowsDir, Key(flow.ID)+".json"), record)
}

func (s *Store) LoadFlow(ctx context.Context, flowID string) (*flows.Flow, error) {
	if flowID == "" {
		return nil, flows.Validationf("flow id cannot be empty")
	}
	record := FlowRecord{}
	if err := s.loadJSON(ctx, path.Join(flowsDir, Key(flowID)+".json"), &record); err != nil {
		return nil, err
	}
	flow := &flows.Flow{ID: record.ID, Scope: record.Scope, Title: record.Title, InputSchema: record.InputSchema}
	if len(record.Definition) > 0 {
		def, err := flows.DefinitionFromMap(record.Definition)
		if err != nil {
			return nil, err
		}
		flow.Definition = def
	}
	return flow, nil
}

// Key turns an identifier such as an ARN into a file name.
func Key(id string) string {
	return strings.Trim(unsafeKeyChars.ReplaceAllString(id, "_"), "_")
}
