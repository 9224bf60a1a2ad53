// Package ledger is the double-entry store the import pipeline writes to.
//
// All work happens inside a Session: an isolated in-memory copy loaded from a
// Backend. Nothing becomes visible to other sessions until Commit, and a
// session that is discarded leaves the backend untouched.
package ledger

import (
	"context"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// Account is a capital account or a category.
type Account struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Number   string             `json:"number,omitempty"`
	Currency string             `json:"currency"`
	Kind     domain.AccountKind `json:"kind"`
}

// Entry is one leg of a transaction.
type Entry struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transactionId"`
	AccountID     string            `json:"accountId"`
	Amount        int64             `json:"amount"`
	Date          time.Time         `json:"date"`
	ClearedDate   time.Time         `json:"clearedDate,omitempty"`
	Memo          string            `json:"memo,omitempty"`
	Payee         string            `json:"payee,omitempty"`
	Description   string            `json:"description,omitempty"`
	CheckNumber   string            `json:"checkNumber,omitempty"`
	UniqueID      string            `json:"uniqueId,omitempty"`
	Ext           domain.Extensions `json:"ext"`
}

// EntryFromData copies the ledger-relevant fields of a parsed entry.
func EntryFromData(d domain.EntryData) Entry {
	return Entry{
		Amount:      d.Amount,
		Date:        d.Date,
		ClearedDate: d.ClearedDate,
		Memo:        d.Memo,
		Payee:       d.Payee,
		Description: d.Description,
		CheckNumber: d.CheckNumber,
		UniqueID:    d.UniqueID,
		Ext:         d.Ext.Clone(),
	}
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Ext = e.Ext.Clone()
	return &c
}

// Transaction is a balanced group of entries.
type Transaction struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Entries     []*Entry  `json:"entries"`
}

// Sum returns the total of all entry amounts. A valid transaction sums to 0.
func (t *Transaction) Sum() int64 {
	var sum int64
	for _, e := range t.Entries {
		sum += e.Amount
	}
	return sum
}

func (t *Transaction) clone() *Transaction {
	c := &Transaction{ID: t.ID, Date: t.Date, Description: t.Description}
	c.Entries = make([]*Entry, len(t.Entries))
	for i, e := range t.Entries {
		c.Entries[i] = e.clone()
	}
	return c
}

// LookupStatus is the outcome of an account lookup.
type LookupStatus int

const (
	NotFound LookupStatus = iota
	Ambiguous
	Found
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	}
	return "not found"
}

// Lookup is the result of an account search. Account is set only when
// Status is Found; Candidates lists every match.
type Lookup struct {
	Status     LookupStatus
	Account    *Account
	Candidates []*Account
}

func newLookup(matches []*Account) Lookup {
	switch len(matches) {
	case 0:
		return Lookup{Status: NotFound}
	case 1:
		return Lookup{Status: Found, Account: matches[0], Candidates: matches}
	}
	return Lookup{Status: Ambiguous, Candidates: matches}
}

// Names returns the candidate account names.
func (l Lookup) Names() []string {
	names := make([]string, len(l.Candidates))
	for i, a := range l.Candidates {
		names[i] = a.Name
	}
	return names
}

// Snapshot is the full persisted state handed to a new session.
type Snapshot struct {
	Accounts     []*Account
	Transactions []*Transaction
}

// Changeset is what a session writes back on commit.
type Changeset struct {
	Accounts []*Account     // created in the session
	Upserted []*Transaction // created or modified, full contents
	Deleted  []string       // transaction ids
}

// IsEmpty reports whether the changeset carries no change.
func (c *Changeset) IsEmpty() bool {
	return len(c.Accounts) == 0 && len(c.Upserted) == 0 && len(c.Deleted) == 0
}

// Backend persists ledger state.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Apply(ctx context.Context, changes *Changeset) error
}
