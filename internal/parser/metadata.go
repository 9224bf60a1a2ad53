package parser

import (
	"fmt"
	"path/filepath"
	"time"
)

// Metadata contains context about the file being parsed.
// Inferred from directory structure: {root}/{institution}/{account}/[{period}/]file.ext
//
// Create instances using NewMetadata. Institution, account and period are
// optional; empty values mean the path did not follow the layout, and the
// importer then relies on the file contents or the --account flag.
type Metadata struct {
	filePath      string
	institution   string // e.g. "American Express"
	accountNumber string // e.g. "2011"
	period        string // e.g. "2025-10"
	detectedAt    time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the file path
func (m *Metadata) FilePath() string { return m.filePath }

// FileName returns the base name of the file
func (m *Metadata) FileName() string { return filepath.Base(m.filePath) }

// Institution returns the institution name inferred from directory structure.
func (m *Metadata) Institution() string { return m.institution }

// AccountNumber returns the account number inferred from directory structure.
func (m *Metadata) AccountNumber() string { return m.accountNumber }

// Period returns the period directory name, or empty.
func (m *Metadata) Period() string { return m.period }

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time { return m.detectedAt }

// SetInstitution sets the institution name
func (m *Metadata) SetInstitution(institution string) { m.institution = institution }

// SetAccountNumber sets the account number
func (m *Metadata) SetAccountNumber(accountNumber string) { m.accountNumber = accountNumber }

// SetPeriod sets the period
func (m *Metadata) SetPeriod(period string) { m.period = period }

// FileSuffix returns the " from <path>" suffix appended to parser errors.
func FileSuffix(meta *Metadata) string {
	if meta == nil || meta.filePath == "" {
		return ""
	}
	return " from " + meta.filePath
}
