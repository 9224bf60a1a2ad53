// Package registry picks the statement parser for a file.
package registry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/qif"
)

// Options configure the built-in parsers.
type Options struct {
	QIF qif.Options
	OFX ofx.Options
}

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with the built-in OFX and QIF parsers on default
// options.
func New() (*Registry, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a registry with configured built-in parsers.
func NewWithOptions(opts Options) (*Registry, error) {
	r := &Registry{}
	for _, p := range []parser.Parser{ofx.NewParser(opts.OFX), qif.NewParser(opts.QIF)} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a parser after the existing ones. Names must be unique.
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// headerSize is how much of a file parsers see when sniffing its format.
const headerSize = 512

// FindParser returns the first parser accepting this file, judged by its
// path and the first headerSize bytes.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for file: %s (known formats: %s)", path, strings.Join(r.ListParsers(), ", "))
}

func readHeader(path string) (header []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file %s: %w", path, cerr)
		}
	}()

	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF:
		// short files are fine, parsers get whatever was read
		return buf[:n], nil
	}
	return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
}

// ListParsers returns the names of all registered parsers in order.
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
