package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Files written into every run directory.
const (
	RecordFile     = "record.json"
	MetricsFile    = "metrics.json"
	DiffFile       = "diff.patch"
	ReportFile     = "report.md"
	EvaluationFile = "evaluation.md"
	FixtureDir     = "fixture"
	ArtifactsDir   = "artifacts"
	BaselineDir    = "baseline.git"
)

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// RunDir is results/<scenario>/<agent>/<model>/<run-id>.
func RunDir(baseDir, scenario, agent, model, runID string) string {
	return filepath.Join(baseDir, sanitize(scenario), sanitize(agent), sanitize(model), runID)
}

func sanitize(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// CreateRunDir creates the run directory and its artifacts subdirectory
// and points baseDir/latest at it.
func CreateRunDir(baseDir, scenario, agent, model, runID string) (string, error) {
	runDir, err := filepath.Abs(RunDir(baseDir, scenario, agent, model, runID))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(runDir, ArtifactsDir), 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// WriteJSON writes v indented to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func WriteRecord(runDir string, rec *RunRecord) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	return WriteJSON(filepath.Join(runDir, RecordFile), rec)
}

func ReadRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}
	return &rec, nil
}

// FindRecords returns every record.json under baseDir, skipping the
// latest symlink and the cache.
func FindRecords(baseDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == baseDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() && (d.Name() == cacheDirName || d.Name() == FixtureDir || d.Name() == BaselineDir) {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == RecordFile {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
