package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Stage is a private directory where a run's artifacts are written before
// publishing. Nothing in a stage is visible to readers.
type Stage struct {
	dir   string
	files map[string]bool
}

// NewStage creates a staging directory under parent (the system temp dir
// when empty).
func NewStage(parent string) (*Stage, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("artifact: failed to create staging parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "stage-*")
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to create stage: %w", err)
	}
	return &Stage{dir: dir, files: make(map[string]bool)}, nil
}

// Path registers name as a staged artifact and returns its local path.
func (s *Stage) Path(name string) string {
	s.files[name] = true
	return filepath.Join(s.dir, name)
}

// Create registers name and opens it for writing.
func (s *Stage) Create(name string) (*os.File, error) {
	f, err := os.Create(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to create staged %s: %w", name, err)
	}
	return f, nil
}

// WriteJSON stages v as indented JSON.
func (s *Stage) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(s.Path(name), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("artifact: failed to write staged %s: %w", name, err)
	}
	return nil
}

// Files returns the staged artifact names, sorted.
func (s *Stage) Files() []string {
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Dir returns the staging directory.
func (s *Stage) Dir() string {
	return s.dir
}

// Cleanup removes the staging directory.
func (s *Stage) Cleanup() error {
	return os.RemoveAll(s.dir)
}
