package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// ManifestVersion is the manifest format version.
const ManifestVersion = 1

// Artifact file names within a run.
const (
	EventsFile   = "events.ndjson.sz"
	FeaturesFile = "features.sqlite"
	SchemaFile   = "input_schema.json"
	PlanFile     = "plan.json"
	ManifestFile = "manifest.json"
)

// Manifest describes a completed run. It is published last; a run without a
// manifest is not ready.
type Manifest struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Target        string `json:"target"`
	ThresholdDays int    `json:"threshold_days"`

	RecordsRead  int `json:"records_read"`
	Events       int `json:"events"`
	Entities     int `json:"entities"`
	Positives    int `json:"positives"`
	InputColumns int `json:"input_columns"`
	Features     int `json:"features"`

	Dropped []DroppedColumn `json:"dropped_columns,omitempty"`
	Files   []FileEntry     `json:"files"`
}

// DroppedColumn records a feature column removed before fitting.
type DroppedColumn struct {
	Column string `json:"column"`
	Reason string `json:"reason"`
}

// FileEntry identifies one published artifact.
type FileEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// File returns the entry for name.
func (m *Manifest) File(name string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Verify checks a local copy of an artifact against its manifest entry.
func (m *Manifest) Verify(name, localPath string) error {
	want, ok := m.File(name)
	if !ok {
		return fmt.Errorf("artifact: %s is not listed in the manifest of run %s", name, m.RunID)
	}
	got, err := describeFile(name, localPath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("artifact: %s does not match the manifest of run %s", name, m.RunID)
	}
	return nil
}

func describeFile(name, path string) (FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("artifact: failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return FileEntry{}, fmt.Errorf("artifact: failed to hash %s: %w", path, err)
	}
	return FileEntry{Name: name, SizeBytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
