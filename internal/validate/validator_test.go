package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
)

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

var (
	checking  = ledger.Account{ID: "acc1", Name: "Checking", Number: "1234", Currency: "USD", Kind: domain.AccountKindBank}
	groceries = ledger.Account{ID: "cat1", Name: "Groceries", Currency: "USD", Kind: domain.AccountKindCategory}
)

// session loads a ledger holding accounts and txns, bypassing the session
// checks so that broken states can be validated.
func session(t *testing.T, accounts []ledger.Account, txns ...*ledger.Transaction) *ledger.Session {
	t.Helper()
	ctx := context.Background()
	m := ledger.NewMemory(accounts...)
	if len(txns) > 0 {
		if err := m.Apply(ctx, &ledger.Changeset{Upserted: txns}); err != nil {
			t.Fatalf("failed to seed ledger: %v", err)
		}
	}
	s, err := ledger.NewStore(m).Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin session: %v", err)
	}
	return s
}

func txn(id string, entries ...*ledger.Entry) *ledger.Transaction {
	for _, e := range entries {
		e.TransactionID = id
	}
	return &ledger.Transaction{ID: id, Date: jan15, Entries: entries}
}

func hasError(result *ValidationResult, entity, field string) bool {
	for _, e := range result.Errors {
		if e.Entity == entity && e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateSession_Empty(t *testing.T) {
	result := ValidateSession(session(t, nil))
	if len(result.Errors) != 0 {
		t.Errorf("empty ledger should have no errors, got %d", len(result.Errors))
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v, want nil", result.Err())
	}
}

func TestValidateSession_Valid(t *testing.T) {
	s := session(t, []ledger.Account{checking, groceries})
	tx, err := s.CreateTransaction(jan15, "test")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	if _, err := s.AddEntry(tx, "acc1", ledger.Entry{Amount: -5000, Date: jan15, UniqueID: "FIT1"}); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if _, err := s.AddEntry(tx, "cat1", ledger.Entry{Amount: 5000, Date: jan15}); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	result := ValidateSession(s)
	if len(result.Errors) != 0 {
		t.Errorf("valid ledger should have no errors, got %d:", len(result.Errors))
		for _, e := range result.Errors {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateSession_Unbalanced(t *testing.T) {
	s := session(t, []ledger.Account{checking, groceries},
		txn("t1", &ledger.Entry{ID: "e1", AccountID: "acc1", Amount: -5000}, &ledger.Entry{ID: "e2", AccountID: "cat1", Amount: 4000}))

	result := ValidateSession(s)
	if !hasError(result, "transaction", "Entries") {
		t.Fatalf("expected unbalanced transaction error, got %v", result.Errors)
	}
	if result.Errors[0].Value != "-1000" {
		t.Errorf("error value = %s, want -1000", result.Errors[0].Value)
	}

	err := result.Err()
	var inv *importerr.InternalInvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("Err() = %v, want InternalInvariantError", err)
	}
	if !strings.Contains(err.Error(), "do not sum to zero") {
		t.Errorf("Err() = %v, want message", err)
	}
}

func TestValidateSession_MissingAccountReference(t *testing.T) {
	s := session(t, []ledger.Account{checking},
		txn("t1", &ledger.Entry{ID: "e1", AccountID: "acc1", Amount: -100}, &ledger.Entry{ID: "e2", AccountID: "gone", Amount: 100}))

	result := ValidateSession(s)
	if !hasError(result, "entry", "AccountID") {
		t.Errorf("expected missing account error, got %v", result.Errors)
	}
}

func TestValidateSession_DuplicateUniqueIDs(t *testing.T) {
	s := session(t, []ledger.Account{checking, groceries},
		txn("t1", &ledger.Entry{ID: "e1", AccountID: "acc1", Amount: -100, UniqueID: "FIT1"}, &ledger.Entry{ID: "e2", AccountID: "cat1", Amount: 100, UniqueID: "FIT1"}),
		txn("t2", &ledger.Entry{ID: "e3", AccountID: "acc1", Amount: -100, UniqueID: "FIT1"}, &ledger.Entry{ID: "e4", AccountID: "cat1", Amount: 100}),
	)

	result := ValidateSession(s)
	count := 0
	for _, e := range result.Errors {
		if e.Field == "UniqueID" {
			count++
			if e.Value != "FIT1" {
				t.Errorf("error value = %s, want FIT1", e.Value)
			}
		}
	}
	// the same id in two different accounts is fine
	if count != 1 {
		t.Errorf("expected 1 duplicate unique id error, got %d", count)
	}
}

func TestValidateSession_Accounts(t *testing.T) {
	dup := checking
	dup.ID = "acc2"
	bad := ledger.Account{ID: "acc3", Name: "", Kind: "rocket"}

	result := ValidateSession(session(t, []ledger.Account{checking, dup, bad}))

	for _, field := range []string{"Name", "Kind", "Currency"} {
		if !hasError(result, "account", field) {
			t.Errorf("expected account %s error, got %v", field, result.Errors)
		}
	}
	found := false
	for _, e := range result.Errors {
		if e.Message == "duplicate account name" && e.ID == "acc2" {
			found = true
		}
	}
	if !found {
		t.Error("expected duplicate account name error for acc2")
	}
}

func TestValidateSession_ClearedBeforeValueDate(t *testing.T) {
	s := session(t, []ledger.Account{checking, groceries},
		txn("t1",
			&ledger.Entry{ID: "e1", AccountID: "acc1", Amount: -100, Date: jan15, ClearedDate: jan15.AddDate(0, 0, -2)},
			&ledger.Entry{ID: "e2", AccountID: "cat1", Amount: 100}))

	result := ValidateSession(s)
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Field != "ClearedDate" {
		t.Errorf("expected one ClearedDate warning, got %v", result.Warnings)
	}
}
