package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// Kind tells which import path a file takes.
type Kind string

const (
	// KindStatement files (QIF, OFX/QFX) go through a statement parser.
	KindStatement Kind = "statement"
	// KindTabular files (CSV, XLSX, XLS) need an import profile.
	KindTabular Kind = "tabular"
)

var extensions = map[string]Kind{
	".qfx":  KindStatement,
	".ofx":  KindStatement,
	".qif":  KindStatement,
	".csv":  KindTabular,
	".tsv":  KindTabular,
	".xlsx": KindTabular,
	".xls":  KindTabular,
}

// KindOf returns the kind of a file by extension, or "" when the file is not
// importable.
func KindOf(path string) Kind {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Scanner finds importable files below a root laid out as
// {institution}/{account}/{period}/file.
type Scanner struct {
	rootDir string
	now     func() time.Time
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir, now: time.Now}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Kind     Kind
	Metadata *parser.Metadata
}

// Scan walks the directory tree and returns every importable file, sorted
// by path. Hidden directories below the root are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	rootDir, err := s.expandHome(s.rootDir)
	if err != nil {
		return nil, err
	}

	var results []ScanResult
	walk := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return fmt.Errorf("error accessing %s: %w", path, err)
		case d.IsDir() && path != rootDir && strings.HasPrefix(d.Name(), "."):
			return filepath.SkipDir
		case d.IsDir():
			return nil
		}
		kind := KindOf(path)
		if kind == "" {
			return nil
		}
		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return err
		}
		results = append(results, ScanResult{Path: path, Kind: kind, Metadata: meta})
		return nil
	}
	if err := filepath.WalkDir(rootDir, walk); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// Describe builds the metadata of a single file given on the command line,
// relative to the scanner root when the file lies below it.
func (s *Scanner) Describe(path string) (*parser.Metadata, error) {
	rootDir, err := s.expandHome(s.rootDir)
	if err != nil {
		return nil, err
	}
	if rootDir == "" {
		return parser.NewMetadata(path, s.now())
	}
	return s.extractMetadata(path, rootDir)
}

// extractMetadata parses directory structure to extract institution/account info
// Path structure: {root}/{institution}/{account}/{period?}/file.ext
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	meta, err := parser.NewMetadata(filePath, s.now())
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return meta, nil
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	if len(parts) >= 2 {
		meta.SetInstitution(s.normalizeInstitutionName(parts[0]))
	}
	if len(parts) >= 3 {
		meta.SetAccountNumber(parts[1])
	}
	if len(parts) >= 4 && s.looksLikePeriod(parts[2]) {
		meta.SetPeriod(parts[2])
	}
	return meta, nil
}

// normalizeInstitutionName turns a directory name into a display name:
// "american_express" becomes "American Express".
func (s *Scanner) normalizeInstitutionName(dirName string) string {
	return cases.Title(language.Und, cases.NoLower).String(strings.Join(strings.Fields(strings.ReplaceAll(dirName, "_", " ")), " "))
}

// looksLikePeriod reports whether a directory name starts like YYYY-MM.
func (s *Scanner) looksLikePeriod(str string) bool {
	if len(str) < 7 || str[4] != '-' {
		return false
	}
	return strings.IndexFunc(str[:4], func(r rune) bool { return r < '0' || r > '9' }) < 0
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
