// Package matcher resolves accounts and finds the ledger state an incoming
// record must be merged with, so that overlapping or cross-feed imports never
// produce duplicates.
//
// Every lookup is a linear scan over the session's per-account entries.
package matcher

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
)

// Side tells which half of a purchase a feed describes.
type Side int

const (
	// ItemsSide feeds carry the line items of a shipment.
	ItemsSide Side = iota
	// ChargeSide feeds carry the payment charged for a shipment.
	ChargeSide
)

func (s Side) String() string {
	if s == ChargeSide {
		return "charge"
	}
	return "items"
}

// Mode is how a group relates to existing ledger state.
type Mode int

const (
	// Unmatched groups create a fresh staging entry holding their total.
	Unmatched Mode = iota
	// Matched groups merge into the staged counterpart found in the ledger.
	Matched
)

func (m Mode) String() string {
	if m == Matched {
		return "matched"
	}
	return "unmatched"
}

// DefaultStagingPrefix names the category accounts that hold unmatched
// totals, one per currency.
const DefaultStagingPrefix = "Unmatched"

// Options configure a Matcher.
type Options struct {
	StagingPrefix string
	Logger        *log.Logger
}

// Matcher answers account and dedup questions against one ledger session.
// It is the explicit context every feed handler and builder works with.
type Matcher struct {
	session *ledger.Session
	prefix  string
	logger  *log.Logger
}

// New creates a matcher over session.
func New(session *ledger.Session, opts Options) *Matcher {
	if opts.StagingPrefix == "" {
		opts.StagingPrefix = DefaultStagingPrefix
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Matcher{session: session, prefix: opts.StagingPrefix, logger: opts.Logger}
}

// Session returns the ledger session the matcher reads and writes.
func (m *Matcher) Session() *ledger.Session { return m.session }

func resolutionError(query string, l ledger.Lookup) error {
	return &importerr.AccountResolutionError{
		Query:      query,
		Ambiguous:  l.Status == ledger.Ambiguous,
		Candidates: l.Names(),
	}
}

// ChargeAccount finds the capital account whose number ends with partial.
// Zero or several matches is an AccountResolutionError.
func (m *Matcher) ChargeAccount(partial string) (*ledger.Account, error) {
	l := m.session.AccountByNumber(partial)
	if l.Status != ledger.Found {
		return nil, resolutionError(partial, l)
	}
	return l.Account, nil
}

// StagingAccount finds the staging category for currency. A missing one is
// created; several candidates is an AccountResolutionError.
func (m *Matcher) StagingAccount(currency string) (*ledger.Account, error) {
	l := m.session.AccountByNamePrefix(m.prefix, currency)
	switch l.Status {
	case ledger.Found:
		return l.Account, nil
	case ledger.Ambiguous:
		return nil, resolutionError(m.prefix+" ("+currency+")", l)
	}
	name := m.prefix + " " + strings.ToUpper(currency)
	m.logger.Debug("creating staging account", "name", name)
	return m.session.CreateAccount(ledger.Account{
		Name:     name,
		Currency: strings.ToUpper(currency),
		Kind:     domain.AccountKindCategory,
	})
}

// CategoryAccount finds a category by exact name, creating it when missing.
// A name that matches a capital account resolves to that account, which
// makes the entry a transfer.
func (m *Matcher) CategoryAccount(name, currency string) (*ledger.Account, error) {
	l := m.session.AccountByName(name)
	switch l.Status {
	case ledger.Found:
		return l.Account, nil
	case ledger.Ambiguous:
		return nil, resolutionError(name, l)
	}
	return m.session.CreateAccount(ledger.Account{
		Name:     name,
		Currency: currency,
		Kind:     domain.AccountKindCategory,
	})
}

// FindStaged returns the staging entry carrying key, or nil.
func (m *Matcher) FindStaged(staging *ledger.Account, key domain.GroupKey) *ledger.Entry {
	for _, e := range m.session.Entries(staging.ID) {
		if e.Ext.Order != nil && e.Ext.Order.Key().Equal(key) {
			return e
		}
	}
	return nil
}

// CheckPolarity verifies that a staged entry is waiting for the given side:
// a positive amount stages a charge whose items are outstanding, a negative
// amount stages items whose charge is outstanding.
func CheckPolarity(staged *ledger.Entry, side Side, key domain.GroupKey) error {
	switch {
	case side == ItemsSide && staged.Amount > 0:
		return nil
	case side == ChargeSide && staged.Amount < 0:
		return nil
	}
	return importerr.Duplicate(key.String(), "%s already staged (staged amount %d)", side, staged.Amount)
}

// CheckImported scans the charge account for an entry carrying key. A hit
// means the shipment was already imported end to end.
func (m *Matcher) CheckImported(charge *ledger.Account, key domain.GroupKey) error {
	for _, e := range m.session.Entries(charge.ID) {
		if e.UniqueID == key.String() {
			return importerr.Duplicate(key.String(), "already imported into %s", charge.Name)
		}
	}
	return nil
}

// CheckUniqueIDs rejects ids already present on any ledger entry.
func (m *Matcher) CheckUniqueIDs(ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			want[id] = true
		}
	}
	if len(want) == 0 {
		return nil
	}
	for _, t := range m.session.Transactions() {
		for _, e := range t.Entries {
			if want[e.UniqueID] {
				return importerr.Duplicate(e.UniqueID, "item already imported")
			}
		}
	}
	return nil
}

// FindUniqueID returns the entry of account carrying id, or nil.
func (m *Matcher) FindUniqueID(account *ledger.Account, id string) *ledger.Entry {
	if id == "" {
		return nil
	}
	for _, e := range m.session.Entries(account.ID) {
		if e.UniqueID == id {
			return e
		}
	}
	return nil
}

// FindManualMatch returns an entry of account that was typed in by hand and
// describes the same event as e: no unique id, same amount, same date and
// same check number.
func (m *Matcher) FindManualMatch(account *ledger.Account, e domain.EntryData) *ledger.Entry {
	for _, x := range m.session.Entries(account.ID) {
		if x.UniqueID != "" || x.Amount != e.Amount || x.CheckNumber != e.CheckNumber {
			continue
		}
		if x.Date.Format(domain.DateLayout) == e.Date.Format(domain.DateLayout) {
			return x
		}
	}
	return nil
}

// Resolution is the outcome of matching one group key.
type Resolution struct {
	Mode    Mode
	Charge  *ledger.Account
	Staging *ledger.Account
	// Staged is the counterpart entry in Matched mode.
	Staged *ledger.Entry
}

// Resolve decides how a new group for key merges into the ledger.
func (m *Matcher) Resolve(ctx context.Context, key domain.GroupKey, side Side, partialNumber, currency string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	charge, err := m.ChargeAccount(partialNumber)
	if err != nil {
		return Resolution{}, err
	}
	if currency == "" {
		currency = charge.Currency
	}
	staging, err := m.StagingAccount(currency)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Mode: Unmatched, Charge: charge, Staging: staging}
	if staged := m.FindStaged(staging, key); staged != nil {
		if err := CheckPolarity(staged, side, key); err != nil {
			return Resolution{}, err
		}
		res.Mode = Matched
		res.Staged = staged
		m.logger.Debug("matched staged entry", "key", key, "side", side, "staged", staged.Amount)
		return res, nil
	}
	if err := m.CheckImported(charge, key); err != nil {
		return Resolution{}, err
	}
	m.logger.Debug("no staged entry", "key", key, "side", side)
	return res, nil
}
