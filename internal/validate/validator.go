package validate

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
)

// ValidationResult contains all validation errors and warnings for a ledger
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a validation error
type ValidationError struct {
	Entity  string // "account", "transaction", "entry"
	ID      string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s %s: %s: %s (%s)", e.Entity, e.ID, e.Field, e.Message, e.Value)
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning ValidationError

// HasErrors reports whether any error was found.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// Err returns the errors as one InternalInvariantError, or nil.
func (r *ValidationResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.String()
	}
	return importerr.Invariant("ledger validation failed: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) fail(entity, id, field, value, msg string) {
	r.Errors = append(r.Errors, ValidationError{Entity: entity, ID: id, Field: field, Value: value, Message: msg})
}

func (r *ValidationResult) warn(entity, id, field, value, msg string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Entity: entity, ID: id, Field: field, Value: value, Message: msg})
}

// ValidateSession checks a ledger session before it is committed: account
// fields and uniqueness, balanced transactions, entries pointing at known
// accounts, and unique ids that appear at most once per account.
func ValidateSession(s *ledger.Session) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}
	known := result.checkAccounts(s.Accounts())
	result.checkTransactions(s.Transactions(), known)
	return result
}

// checkAccounts returns the set of valid account ids.
func (r *ValidationResult) checkAccounts(accounts []*ledger.Account) map[string]bool {
	ids := make(map[string]bool)
	names := make(map[string]bool)
	for _, acc := range accounts {
		switch {
		case acc.ID == "":
			r.fail("account", "", "ID", "", "account ID cannot be empty")
		case ids[acc.ID]:
			r.fail("account", acc.ID, "ID", acc.ID, "duplicate account ID")
		default:
			ids[acc.ID] = true
		}

		switch {
		case acc.Name == "":
			r.fail("account", acc.ID, "Name", "", "account name cannot be empty")
		case names[acc.Name]:
			r.fail("account", acc.ID, "Name", acc.Name, "duplicate account name")
		default:
			names[acc.Name] = true
		}

		if !domain.ValidateAccountKind(acc.Kind) {
			r.fail("account", acc.ID, "Kind", string(acc.Kind), "invalid account kind")
		}
		if acc.Currency == "" {
			r.fail("account", acc.ID, "Currency", "", "account currency cannot be empty")
		}
	}
	return ids
}

func (r *ValidationResult) checkTransactions(txns []*ledger.Transaction, accounts map[string]bool) {
	// account id -> unique id -> seen
	uniqueIDs := make(map[string]map[string]bool)

	for _, t := range txns {
		if len(t.Entries) == 0 {
			r.fail("transaction", t.ID, "Entries", "", "transaction has no entries")
			continue
		}
		if sum := t.Sum(); sum != 0 {
			r.fail("transaction", t.ID, "Entries", fmt.Sprintf("%d", sum), "entries do not sum to zero")
		}
		if t.Date.IsZero() {
			r.warn("transaction", t.ID, "Date", "", "transaction has no date")
		}

		for _, e := range t.Entries {
			if !accounts[e.AccountID] {
				r.fail("entry", e.ID, "AccountID", e.AccountID, "entry references non-existent account")
			}
			if e.TransactionID != t.ID {
				r.fail("entry", e.ID, "TransactionID", e.TransactionID, "entry is listed in transaction "+t.ID)
			}
			if !e.ClearedDate.IsZero() && !e.Date.IsZero() && e.ClearedDate.Before(e.Date) {
				r.warn("entry", e.ID, "ClearedDate", e.ClearedDate.Format(domain.DateLayout),
					"cleared before its value date "+e.Date.Format(domain.DateLayout))
			}
			if e.UniqueID == "" {
				continue
			}
			seen := uniqueIDs[e.AccountID]
			if seen == nil {
				seen = make(map[string]bool)
				uniqueIDs[e.AccountID] = seen
			}
			if seen[e.UniqueID] {
				r.fail("entry", e.ID, "UniqueID", e.UniqueID, "unique id appears twice in one account")
			}
			seen[e.UniqueID] = true
		}
	}
}
