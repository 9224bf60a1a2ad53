// Package importerr defines the error kinds raised by the import pipeline.
//
// Callers classify failures with errors.As:
//   - FormatError and StructuralError abort the current file before commit.
//   - DuplicateImportError and AccountResolutionError reject a single group on
//     the tabular path and are reported, not propagated.
//   - InternalInvariantError indicates a defect and is never recovered.
package importerr

import (
	"errors"
	"fmt"
	"strings"
)

// FormatError reports a malformed line, tag, date or amount.
type FormatError struct {
	Line   int    // 1-based input line, 0 when unknown
	Text   string // offending text
	Reason string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("format error")
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Text != "" {
		fmt.Fprintf(&b, " (got %q)", e.Text)
	}
	return b.String()
}

// Format returns a FormatError without line information.
func Format(text, reason string, args ...any) *FormatError {
	return &FormatError{Text: text, Reason: fmt.Sprintf(reason, args...)}
}

// AtLine sets the line number and returns the receiver.
func (e *FormatError) AtLine(line int) *FormatError {
	if e.Line == 0 {
		e.Line = line
	}
	return e
}

// StructuralError reports that the parser lost synchronization with the
// stream: a mismatched closing tag, a header that does not match the schema,
// a malformed split sequence.
type StructuralError struct {
	Line   int
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("structural error at line %d: %s", e.Line, e.Reason)
	}
	return "structural error: " + e.Reason
}

// Structural returns a StructuralError for the given line.
func Structural(line int, reason string, args ...any) *StructuralError {
	return &StructuralError{Line: line, Reason: fmt.Sprintf(reason, args...)}
}

// DuplicateImportError reports a dedup key that is already fully resolved in
// the ledger.
type DuplicateImportError struct {
	Key    string
	Reason string
}

func (e *DuplicateImportError) Error() string {
	return fmt.Sprintf("duplicate import %s: %s", e.Key, e.Reason)
}

// Duplicate returns a DuplicateImportError for key.
func Duplicate(key, reason string, args ...any) *DuplicateImportError {
	return &DuplicateImportError{Key: key, Reason: fmt.Sprintf(reason, args...)}
}

// InternalInvariantError reports a pipeline defect such as an unbalanced
// transaction.
type InternalInvariantError struct {
	Reason string
}

func (e *InternalInvariantError) Error() string {
	return "internal invariant violated: " + e.Reason
}

// Invariant returns an InternalInvariantError.
func Invariant(reason string, args ...any) *InternalInvariantError {
	return &InternalInvariantError{Reason: fmt.Sprintf(reason, args...)}
}

// AccountResolutionError reports a lookup that found zero or several
// accounts where exactly one was required.
type AccountResolutionError struct {
	Query      string
	Ambiguous  bool
	Candidates []string
}

func (e *AccountResolutionError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("account %q is ambiguous: matches %s", e.Query, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("no account matches %q", e.Query)
}

// IsGroupLocal reports whether err rejects only the current group on the
// tabular import path.
func IsGroupLocal(err error) bool {
	var dup *DuplicateImportError
	var res *AccountResolutionError
	return errors.As(err, &dup) || errors.As(err, &res)
}

// IsFatal reports whether err must abort the whole invocation.
func IsFatal(err error) bool {
	var st *StructuralError
	var inv *InternalInvariantError
	return errors.As(err, &st) || errors.As(err, &inv)
}

// WithLine attaches a line number to a FormatError carried by err. Other
// errors are returned unchanged.
func WithLine(err error, line int) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		fe.AtLine(line)
	}
	return err
}
