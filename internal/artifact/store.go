// Package artifact publishes and reads the append-only artifacts of a
// pipeline run. A run lives under runs/<run-id>/ and is complete once its
// manifest exists.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/storage"
)

// RunsPrefix is the object prefix under which runs are published.
const RunsPrefix = "runs/"

// RunPath returns the object path of an artifact within a run.
func RunPath(runID, name string) string {
	return path.Join(RunsPrefix+runID, name)
}

// Store publishes and reads run artifacts in object storage.
type Store struct {
	storage storage.ObjectStorage
}

// NewStore creates an artifact store.
func NewStore(st storage.ObjectStorage) *Store {
	return &Store{storage: st}
}

// Storage returns the backing object storage.
func (s *Store) Storage() storage.ObjectStorage {
	return s.storage
}

// Publish uploads every staged file of a run, then the manifest. File entries
// are filled into m from the staged content. Any existing object for the run
// aborts the publish with STORAGE:ARTIFACT_EXISTS and nothing is replaced.
func (s *Store) Publish(ctx context.Context, runID string, stage *Stage, m *Manifest) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return ferrors.NewInternalError(fmt.Sprintf("invalid run id %q", runID), nil)
	}

	done, err := s.storage.Exists(ctx, RunPath(runID, ManifestFile))
	if err != nil {
		return fmt.Errorf("artifact: failed to check run %s: %w", runID, err)
	}
	if done {
		return ferrors.NewStorageError(ferrors.CodeArtifactExists,
			fmt.Sprintf("run %s is already published", runID), nil)
	}

	names := stage.Files()
	m.RunID = runID
	m.Version = ManifestVersion
	m.Files = make([]FileEntry, 0, len(names))
	for _, name := range names {
		if name == ManifestFile {
			continue
		}
		entry, err := describeFile(name, stage.Path(name))
		if err != nil {
			return err
		}
		m.Files = append(m.Files, entry)
	}

	for _, entry := range m.Files {
		if err := s.storage.PutIfAbsent(ctx, stage.Path(entry.Name), RunPath(runID, entry.Name)); err != nil {
			return fmt.Errorf("artifact: failed to publish %s: %w", entry.Name, err)
		}
	}

	if err := stage.WriteJSON(ManifestFile, m); err != nil {
		return err
	}
	if err := s.storage.PutIfAbsent(ctx, stage.Path(ManifestFile), RunPath(runID, ManifestFile)); err != nil {
		return fmt.Errorf("artifact: failed to publish manifest: %w", err)
	}
	return nil
}

// Manifest reads the manifest of a completed run. A run without a manifest
// is reported as STORAGE:OBJECT_NOT_FOUND.
func (s *Store) Manifest(ctx context.Context, runID string) (*Manifest, error) {
	var m Manifest
	if err := s.ReadJSON(ctx, runID, ManifestFile, &m); err != nil {
		return nil, err
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("artifact: run %s has unsupported manifest version %d", runID, m.Version)
	}
	return &m, nil
}

// ReadJSON decodes a JSON artifact of a run into v.
func (s *Store) ReadJSON(ctx context.Context, runID, name string, v any) error {
	r, err := s.storage.Open(ctx, RunPath(runID, name))
	if err != nil {
		return err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("artifact: failed to decode %s of run %s: %w", name, runID, err)
	}
	return nil
}

// Runs returns the ids of completed runs, sorted. Partially published runs
// are skipped.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	objects, err := s.storage.ListObjects(ctx, RunsPrefix)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to list runs: %w", err)
	}

	var runs []string
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj, RunsPrefix)
		id, name, ok := strings.Cut(rest, "/")
		if ok && name == ManifestFile {
			runs = append(runs, id)
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// Latest returns the most recent completed run. Run ids are time-ordered.
func (s *Store) Latest(ctx context.Context) (string, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ferrors.NewStorageError(ferrors.CodeObjectNotFound, "no completed runs", nil)
	}
	return runs[len(runs)-1], nil
}

// IsNotFound reports whether err means the artifact does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrObjectNotFound)
}
