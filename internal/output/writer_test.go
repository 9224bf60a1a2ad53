package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/importer"
)

var started = time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)

func newRun(offset time.Duration, files ...string) *Run {
	run := &Run{StartedAt: started.Add(offset), Ledger: "ledger.db"}
	for _, f := range files {
		run.Files = append(run.Files, &importer.Report{File: f, Format: "qif", Posted: 3, Committed: true})
	}
	return run
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHistory(&History{Runs: []Run{*newRun(0, "checking.qif")}}, &buf); err != nil {
		t.Fatalf("WriteHistory failed: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	runs, ok := result["runs"].([]interface{})
	if !ok || len(runs) != 1 {
		t.Fatalf("expected 1 run, got %v", result["runs"])
	}
	files := runs[0].(map[string]interface{})["files"].([]interface{})
	file := files[0].(map[string]interface{})
	if file["file"] != "checking.qif" || file["posted"] != float64(3) {
		t.Errorf("unexpected file report: %v", file)
	}

	if !strings.Contains(buf.String(), "  \"runs\"") {
		t.Errorf("output does not use 2-space indentation")
	}
}

func TestWriteHistory_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHistory(nil, &buf); err == nil {
		t.Errorf("expected error for nil history")
	}
}

func TestWriteRunToFile_FreshMode(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "report.json")
	if err := os.WriteFile(outputPath, []byte(`{"runs":[{"ledger":"old.db"}]}`), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := WriteRunToFile(newRun(0, "a.qif"), WriteOptions{FilePath: outputPath}); err != nil {
		t.Fatalf("WriteRunToFile failed: %v", err)
	}

	h, err := LoadHistory(outputPath)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(h.Runs) != 1 || h.Runs[0].Ledger != "ledger.db" {
		t.Errorf("fresh mode should replace the file, got %+v", h.Runs)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestWriteRunToFile_MergeMode(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "report.json")

	opts := WriteOptions{MergeMode: true, FilePath: outputPath}
	if err := WriteRunToFile(newRun(0, "a.qif"), opts); err != nil {
		t.Fatalf("first run failed (missing file should be treated as empty): %v", err)
	}
	if err := WriteRunToFile(newRun(time.Hour, "b.ofx", "c.csv"), opts); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	h, err := LoadHistory(outputPath)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(h.Runs) != 2 {
		t.Fatalf("expected 2 runs after merge, got %d", len(h.Runs))
	}
	if len(h.Runs[1].Files) != 2 || h.Runs[1].Files[0].File != "b.ofx" {
		t.Errorf("unexpected second run: %+v", h.Runs[1])
	}
	if !h.Runs[0].StartedAt.Equal(started) {
		t.Errorf("first run start = %v, want %v", h.Runs[0].StartedAt, started)
	}
}

func TestWriteRunToFile_MergeDuplicateRun(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "report.json")
	opts := WriteOptions{MergeMode: true, FilePath: outputPath}

	if err := WriteRunToFile(newRun(0, "a.qif"), opts); err != nil {
		t.Fatalf("WriteRunToFile failed: %v", err)
	}
	err := WriteRunToFile(newRun(0, "a.qif"), opts)
	if err == nil {
		t.Fatal("expected error for a run written twice")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected 'already exists' error, got: %v", err)
	}
}

func TestWriteRunToFile_MergeMode_InvalidJSON(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(outputPath, []byte("not valid json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	err := WriteRunToFile(newRun(0), WriteOptions{MergeMode: true, FilePath: outputPath})
	if err == nil {
		t.Fatal("expected error when merge file cannot be loaded")
	}
	if !strings.Contains(err.Error(), "failed to load existing report") {
		t.Errorf("expected load error message, got: %v", err)
	}

	content, _ := os.ReadFile(outputPath)
	if string(content) != "not valid json" {
		t.Errorf("a failed merge must leave the file untouched")
	}
}

func TestWriteRunToFile_MissingDirectory(t *testing.T) {
	err := WriteRunToFile(newRun(0), WriteOptions{FilePath: filepath.Join(t.TempDir(), "nope", "report.json")})
	if err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestWriteRunToFile_Nil(t *testing.T) {
	if err := WriteRunToFile(nil, WriteOptions{}); err == nil {
		t.Errorf("expected error for nil run")
	}
}

func TestLoadHistory_MissingFile(t *testing.T) {
	_, err := LoadHistory("/nonexistent/path/report.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got: %v", err)
	}
}

func TestLoadHistory_EmptyPath(t *testing.T) {
	if _, err := LoadHistory(""); err == nil {
		t.Errorf("expected error for empty path")
	}
}
