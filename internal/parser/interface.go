package parser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// Parser is the strategy interface for statement-shaped file formats
// (QIF, OFX/QFX). Tabular feeds go through the csv importer instead.
type Parser interface {
	// Name returns parser identifier (e.g., "ofx", "qif")
	Name() string

	// CanParse checks if parser can handle this file
	// Returns true if this parser should be used for the file
	CanParse(path string, header []byte) bool

	// Parse decodes the whole file into normalized entries
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*Statement, error)
}

// Statement is everything a statement file yielded.
type Statement struct {
	Accounts []*AccountStatement
	// Categories declared by the file (QIF !Type:Cat).
	Categories []Category
	// Memorized transaction templates. Decoded for inspection, never posted.
	Memorized []domain.EntryData
}

// EntryCount returns the number of entries across all accounts.
func (s *Statement) EntryCount() int {
	n := 0
	for _, a := range s.Accounts {
		n += len(a.Entries)
	}
	return n
}

// AccountStatement groups the entries a file lists for one account.
type AccountStatement struct {
	// Account is nil when the file does not identify the account; the
	// caller then falls back to the account given on the command line or
	// derived from the directory layout.
	Account    *RawAccount
	Period     *Period
	Investment bool
	Entries    []domain.EntryData
}

// Category is a category declared in a statement file.
type Category struct {
	Name        string
	Description string
	Income      bool
}

// RawAccount represents account information from the file
type RawAccount struct {
	name        string // QIF N line
	number      string // OFX ACCTID
	accountType string // "Bank", "CCard", "CHECKING", ...
	currency    string // OFX CURDEF, empty when the file does not say
	description string
}

// Name returns the account name as written in the file
func (r *RawAccount) Name() string { return r.name }

// Number returns the account number as written in the file
func (r *RawAccount) Number() string { return r.number }

// AccountType returns the account type as written in the file
func (r *RawAccount) AccountType() string { return r.accountType }

// Currency returns the ISO currency code, or empty
func (r *RawAccount) Currency() string { return r.currency }

// Description returns the free-text account description
func (r *RawAccount) Description() string { return r.description }

// SetDescription sets the optional description
func (r *RawAccount) SetDescription(d string) { r.description = d }

// SetCurrency sets the optional currency code
func (r *RawAccount) SetCurrency(c string) { r.currency = c }

// NewRawAccount creates a validated raw account. At least one of name and
// number must be set, otherwise the account cannot be resolved.
func NewRawAccount(name, number, accountType string) (*RawAccount, error) {
	if name == "" && number == "" {
		return nil, fmt.Errorf("account name and number cannot both be empty")
	}
	return &RawAccount{
		name:        name,
		number:      number,
		accountType: accountType,
	}, nil
}

// Period represents the statement period
type Period struct {
	start time.Time
	end   time.Time
}

// Start returns the period start time
func (p *Period) Start() time.Time { return p.start }

// End returns the period end time
func (p *Period) End() time.Time { return p.end }

// Contains returns true if the given time falls within the period (inclusive)
func (p *Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && !t.After(p.end)
}

// NewPeriod creates a validated period
func NewPeriod(start, end time.Time) (*Period, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("start time cannot be zero")
	}
	if end.IsZero() {
		return nil, fmt.Errorf("end time cannot be zero")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("start must not be after end")
	}

	return &Period{
		start: start,
		end:   end,
	}, nil
}
