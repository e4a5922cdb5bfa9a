package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"outlierscan/internal/fsutil"
	"outlierscan/internal/trace"
)

// ErrNoRun is returned when a run id has no run.json.
var ErrNoRun = errors.New("run not found")

// Store persists run records under <dir>/runs/<run-id>/. All writes are
// atomic and durable.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) runsRootDir() string { return filepath.Join(s.dir, "runs") }

func (s *Store) runDir(runID string) string { return filepath.Join(s.runsRootDir(), runID) }

func (s *Store) runPath(runID string) string { return filepath.Join(s.runDir(runID), "run.json") }

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

func (s *Store) tracePath(runID string) string { return filepath.Join(s.runDir(runID), "trace.json") }

// ListRunIDs returns the ids of all recorded runs in lexical order.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListRuns loads every readable run, most recent first. Unreadable run
// directories are skipped and reported in the second return value.
func (s *Store) ListRuns() ([]Run, []error, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return nil, nil, err
	}
	var runs []Run
	var bad []error
	for _, id := range ids {
		r, err := s.LoadRun(id)
		if err != nil {
			bad = append(bad, fmt.Errorf("run %s: %w", id, err))
			continue
		}
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].StartTime.After(runs[j].StartTime)
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, bad, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.write(s.runPath(run.RunID), run, "run")
}

func (s *Store) LoadRun(runID string) (Run, error) {
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	var run Run
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Run{}, fmt.Errorf("%w: %s", ErrNoRun, runID)
		}
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.write(s.failurePath(runID), failure, "failure")
}

// LoadFailure returns the failure of runID. ok is false when the run did not
// fail.
func (s *Store) LoadFailure(runID string) (Failure, bool, error) {
	if strings.TrimSpace(runID) == "" {
		return Failure{}, false, errors.New("runID is required")
	}
	var failure Failure
	if err := readJSONStrict(s.failurePath(runID), &failure); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Failure{}, false, nil
		}
		return Failure{}, false, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, false, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, true, nil
}

func (s *Store) SaveTrace(runID string, tr trace.RunTrace) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	data, err := tr.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if err := fsutil.EnsureDir(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	if err := fsutil.WriteBytesAtomic(s.tracePath(runID), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (s *Store) LoadTrace(runID string) (trace.RunTrace, error) {
	data, err := os.ReadFile(s.tracePath(runID))
	if err != nil {
		return trace.RunTrace{}, err
	}
	var tr trace.RunTrace
	if err := json.Unmarshal(data, &tr); err != nil {
		return trace.RunTrace{}, fmt.Errorf("invalid trace on disk: %w", err)
	}
	return tr, nil
}

func (s *Store) write(path string, v any, what string) error {
	if err := fsutil.EnsureDir(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := fsutil.WriteBytesAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
