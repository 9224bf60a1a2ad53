package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// ErrSessionClosed is returned by operations on a committed or discarded
// session.
var ErrSessionClosed = errors.New("ledger session is closed")

// Store hands out isolated sessions over a backend.
type Store struct {
	backend Backend
	newID   func() string
}

// NewStore creates a store over backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, newID: uuid.NewString}
}

// Begin loads the persisted state into a new isolated session.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return newSession(s.backend, snap, s.newID), nil
}

// Session is an isolated working copy of the ledger. It is not safe for
// concurrent use.
type Session struct {
	backend Backend
	newID   func() string

	accounts  []*Account
	byID      map[string]*Account
	txns      map[string]*Transaction
	byAccount map[string][]*Entry

	newAccounts []*Account
	dirty       map[string]bool
	deleted     map[string]bool
	closed      bool
}

func newSession(backend Backend, snap *Snapshot, newID func() string) *Session {
	s := &Session{
		backend:   backend,
		newID:     newID,
		byID:      make(map[string]*Account),
		txns:      make(map[string]*Transaction),
		byAccount: make(map[string][]*Entry),
		dirty:     make(map[string]bool),
		deleted:   make(map[string]bool),
	}
	for _, a := range snap.Accounts {
		c := *a
		s.accounts = append(s.accounts, &c)
		s.byID[c.ID] = &c
	}

	txns := make([]*Transaction, 0, len(snap.Transactions))
	for _, t := range snap.Transactions {
		txns = append(txns, t.clone())
	}
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].Date.Before(txns[j].Date) })
	for _, t := range txns {
		s.txns[t.ID] = t
		for _, e := range t.Entries {
			s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], e)
		}
	}
	return s
}

// Accounts returns all accounts in load order.
func (s *Session) Accounts() []*Account {
	return append([]*Account(nil), s.accounts...)
}

// Account returns the account with the given id, or nil.
func (s *Session) Account(id string) *Account {
	return s.byID[id]
}

// AccountByName finds an account by exact short name.
func (s *Session) AccountByName(name string) Lookup {
	var matches []*Account
	for _, a := range s.accounts {
		if a.Name == name {
			matches = append(matches, a)
		}
	}
	return newLookup(matches)
}

// AccountByNumber finds capital accounts whose configured number ends with
// partial, e.g. the last four digits printed on a receipt. Spaces and
// dashes are ignored on both sides.
func (s *Session) AccountByNumber(partial string) Lookup {
	want := normalizeNumber(partial)
	if want == "" {
		return Lookup{Status: NotFound}
	}
	var matches []*Account
	for _, a := range s.accounts {
		if !a.Kind.IsCapital() || a.Number == "" {
			continue
		}
		if strings.HasSuffix(normalizeNumber(a.Number), want) {
			matches = append(matches, a)
		}
	}
	return newLookup(matches)
}

// AccountByNamePrefix finds category accounts whose name starts with prefix
// and whose currency is currency.
func (s *Session) AccountByNamePrefix(prefix, currency string) Lookup {
	var matches []*Account
	for _, a := range s.accounts {
		if a.Kind != domain.AccountKindCategory {
			continue
		}
		if strings.HasPrefix(a.Name, prefix) && strings.EqualFold(a.Currency, currency) {
			matches = append(matches, a)
		}
	}
	return newLookup(matches)
}

func normalizeNumber(n string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(n))
}

// CreateAccount adds an account. Names must be unique.
func (s *Session) CreateAccount(a Account) (*Account, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if strings.TrimSpace(a.Name) == "" {
		return nil, fmt.Errorf("account name cannot be empty")
	}
	if !domain.ValidateAccountKind(a.Kind) {
		return nil, fmt.Errorf("invalid account kind %q", a.Kind)
	}
	if a.Currency == "" {
		return nil, fmt.Errorf("account %q has no currency", a.Name)
	}
	if s.AccountByName(a.Name).Status != NotFound {
		return nil, fmt.Errorf("account %q already exists", a.Name)
	}
	if a.ID == "" {
		a.ID = s.newID()
	}
	acct := &a
	s.accounts = append(s.accounts, acct)
	s.byID[acct.ID] = acct
	s.newAccounts = append(s.newAccounts, acct)
	return acct, nil
}

// Entries returns the entries posted to an account, oldest first.
func (s *Session) Entries(accountID string) []*Entry {
	return append([]*Entry(nil), s.byAccount[accountID]...)
}

// Transaction returns the transaction with the given id, or nil.
func (s *Session) Transaction(id string) *Transaction {
	return s.txns[id]
}

// Transactions returns all live transactions ordered by date then id.
func (s *Session) Transactions() []*Transaction {
	out := make([]*Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateTransaction starts a new, empty transaction.
func (s *Session) CreateTransaction(date time.Time, description string) (*Transaction, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	t := &Transaction{ID: s.newID(), Date: date, Description: description}
	s.txns[t.ID] = t
	s.dirty[t.ID] = true
	return t, nil
}

// AddEntry posts a copy of e to account accountID inside transaction t.
func (s *Session) AddEntry(t *Transaction, accountID string, e Entry) (*Entry, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.txns[t.ID] != t {
		return nil, fmt.Errorf("transaction %s does not belong to this session", t.ID)
	}
	if s.byID[accountID] == nil {
		return nil, fmt.Errorf("unknown account %s", accountID)
	}
	entry := e.clone()
	entry.ID = s.newID()
	entry.TransactionID = t.ID
	entry.AccountID = accountID
	t.Entries = append(t.Entries, entry)
	s.byAccount[accountID] = append(s.byAccount[accountID], entry)
	s.dirty[t.ID] = true
	return entry, nil
}

// Update applies fn to an existing entry and marks its transaction dirty.
// fn must not change the entry's account or transaction.
func (s *Session) Update(e *Entry, fn func(*Entry)) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.txns[e.TransactionID] == nil {
		return fmt.Errorf("entry %s does not belong to a live transaction", e.ID)
	}
	accountID, txnID := e.AccountID, e.TransactionID
	fn(e)
	e.AccountID, e.TransactionID = accountID, txnID
	s.dirty[txnID] = true
	return nil
}

// DeleteEntry removes an entry. A transaction left without entries is
// deleted too.
func (s *Session) DeleteEntry(e *Entry) error {
	if s.closed {
		return ErrSessionClosed
	}
	t := s.txns[e.TransactionID]
	if t == nil {
		return fmt.Errorf("entry %s does not belong to a live transaction", e.ID)
	}
	t.Entries = removeEntry(t.Entries, e)
	s.byAccount[e.AccountID] = removeEntry(s.byAccount[e.AccountID], e)
	if len(t.Entries) == 0 {
		delete(s.txns, t.ID)
		delete(s.dirty, t.ID)
		s.deleted[t.ID] = true
		return nil
	}
	s.dirty[t.ID] = true
	return nil
}

func removeEntry(entries []*Entry, e *Entry) []*Entry {
	out := entries[:0]
	for _, x := range entries {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

// Changes builds the changeset the session would commit.
func (s *Session) Changes() *Changeset {
	cs := &Changeset{Accounts: append([]*Account(nil), s.newAccounts...)}
	for id := range s.dirty {
		if t := s.txns[id]; t != nil {
			cs.Upserted = append(cs.Upserted, t.clone())
		}
	}
	sort.Slice(cs.Upserted, func(i, j int) bool { return cs.Upserted[i].ID < cs.Upserted[j].ID })
	for id := range s.deleted {
		cs.Deleted = append(cs.Deleted, id)
	}
	sort.Strings(cs.Deleted)
	return cs
}

// Commit writes every change of the session to the backend in one call and
// closes the session.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	cs := s.Changes()
	s.closed = true
	if cs.IsEmpty() {
		return nil
	}
	if err := s.backend.Apply(ctx, cs); err != nil {
		return fmt.Errorf("failed to commit ledger session: %w", err)
	}
	return nil
}

// Discard closes the session without writing anything.
func (s *Session) Discard() {
	s.closed = true
}

// Closed reports whether the session was committed or discarded.
func (s *Session) Closed() bool { return s.closed }
