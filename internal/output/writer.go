// Package output writes import reports as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/importer"
)

// Run is one invocation of the import command.
type Run struct {
	StartedAt time.Time          `json:"startedAt"`
	Ledger    string             `json:"ledger"`
	DryRun    bool               `json:"dryRun"`
	Files     []*importer.Report `json:"files"`
}

// History is the report file: every run, oldest first.
type History struct {
	Runs []Run `json:"runs"`
}

// WriteOptions configures how the report is written
type WriteOptions struct {
	MergeMode bool   // append to the runs already in FilePath
	FilePath  string // empty means stdout
}

// WriteHistory serializes h to JSON with 2-space indentation
func WriteHistory(h *History, w io.Writer) error {
	if h == nil {
		return fmt.Errorf("history cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(h); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return nil
}

// WriteRunToFile writes run to a file or stdout based on options. Files are
// replaced atomically, so a reader never sees a half-written report.
func WriteRunToFile(run *Run, opts WriteOptions) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	history := &History{}

	if opts.MergeMode && opts.FilePath != "" {
		existing, err := LoadHistory(opts.FilePath)
		switch {
		case err == nil:
			history = existing
		case os.IsNotExist(err):
			// first run, nothing to merge
		default:
			return fmt.Errorf("failed to load existing report for merge: %w", err)
		}
	}
	if err := mergeRun(history, run); err != nil {
		return fmt.Errorf("failed to merge run: %w", err)
	}

	if opts.FilePath == "" {
		return WriteHistory(history, os.Stdout)
	}
	if err := writeAtomic(opts.FilePath, history); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", opts.FilePath, err)
	}
	return nil
}

func writeAtomic(path string, h *History) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = WriteHistory(h, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadHistory reads an existing report file for merge mode
func LoadHistory(filePath string) (*History, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f, err := os.Open(filePath)
	if err != nil {
		// unwrapped so callers can check os.IsNotExist
		return nil, err
	}
	defer f.Close()

	var h History
	if err := json.NewDecoder(f).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode report JSON: %w", err)
	}
	return &h, nil
}

// mergeRun appends run. The same run written twice is an error.
func mergeRun(target *History, run *Run) error {
	if target == nil || run == nil {
		return fmt.Errorf("history and run cannot be nil")
	}
	for _, r := range target.Runs {
		if r.StartedAt.Equal(run.StartedAt) && r.Ledger == run.Ledger {
			return fmt.Errorf("run started %s on %s already exists", run.StartedAt.Format(time.RFC3339Nano), run.Ledger)
		}
	}
	target.Runs = append(target.Runs, *run)
	return nil
}
