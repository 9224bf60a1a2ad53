// Package sqlitestore persists the ledger in a SQLite database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
)

const timeLayout = time.RFC3339Nano

// Store is a ledger.Backend over a *sql.DB.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ ledger.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The schema is not touched.
func New(db *sql.DB, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range querySchema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate ledger schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every account and transaction.
func (s *Store) Load(ctx context.Context) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{}

	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	snap.Accounts = accounts

	txns, byID, err := s.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, byID); err != nil {
		return nil, err
	}
	snap.Transactions = txns

	s.logger.Debug("ledger loaded", "accounts", len(accounts), "transactions", len(txns))
	return snap, nil
}

func (s *Store) loadAccounts(ctx context.Context) ([]*ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryAccountList)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		var a ledger.Account
		var kind string
		if err := rows.Scan(&a.ID, &a.Name, &a.Number, &a.Currency, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Kind = domain.AccountKind(kind)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return out, nil
}

func (s *Store) loadTransactions(ctx context.Context) ([]*ledger.Transaction, map[string]*ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryTransactionList)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	byID := make(map[string]*ledger.Transaction)
	for rows.Next() {
		var t ledger.Transaction
		var date string
		if err := rows.Scan(&t.ID, &date, &t.Description); err != nil {
			return nil, nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.Date, err = parseTime(date); err != nil {
			return nil, nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		out = append(out, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, byID, nil
}

func (s *Store) loadEntries(ctx context.Context, byID map[string]*ledger.Transaction) error {
	rows, err := s.db.QueryContext(ctx, queryEntryList)
	if err != nil {
		return fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ledger.Entry
		var date, cleared, ext string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &date, &cleared,
			&e.Memo, &e.Payee, &e.Description, &e.CheckNumber, &e.UniqueID, &ext); err != nil {
			return fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Date, err = parseTime(date); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if e.ClearedDate, err = parseTime(cleared); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(ext), &e.Ext); err != nil {
			return fmt.Errorf("entry %s: failed to decode extension fields: %w", e.ID, err)
		}
		t := byID[e.TransactionID]
		if t == nil {
			return fmt.Errorf("entry %s references missing transaction %s", e.ID, e.TransactionID)
		}
		t.Entries = append(t.Entries, &e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read entries: %w", err)
	}
	return nil
}

// Apply writes a changeset in a single database transaction. Either every
// change lands or none does.
func (s *Store) Apply(ctx context.Context, cs *ledger.Changeset) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
			}
			s.logger.Warn("ledger changes rolled back", "err", err)
			return
		}
		if err = tx.Commit(); err != nil {
			if errors.Is(err, sql.ErrTxDone) {
				err = nil
			}
		}
	}()

	for _, a := range cs.Accounts {
		if _, err = tx.ExecContext(ctx, queryAccountCreate, a.ID, a.Name, a.Number, a.Currency, string(a.Kind)); err != nil {
			return fmt.Errorf("failed to insert account %q: %w", a.Name, err)
		}
	}
	for _, t := range cs.Upserted {
		if err = upsertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, id := range cs.Deleted {
		if _, err = tx.ExecContext(ctx, queryEntryDeleteByTransaction, id); err != nil {
			return fmt.Errorf("failed to delete entries of transaction %s: %w", id, err)
		}
		if _, err = tx.ExecContext(ctx, queryTransactionDelete, id); err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", id, err)
		}
	}

	s.logger.Debug("ledger changes applied",
		"accounts", len(cs.Accounts), "upserted", len(cs.Upserted), "deleted", len(cs.Deleted))
	return nil
}

// upsertTransaction replaces a transaction and all of its entries.
func upsertTransaction(ctx context.Context, tx *sql.Tx, t *ledger.Transaction) error {
	if _, err := tx.ExecContext(ctx, queryTransactionUpsert, t.ID, formatTime(t.Date), t.Description); err != nil {
		return fmt.Errorf("failed to write transaction %s: %w", t.ID, err)
	}
	if _, err := tx.ExecContext(ctx, queryEntryDeleteByTransaction, t.ID); err != nil {
		return fmt.Errorf("failed to clear entries of transaction %s: %w", t.ID, err)
	}
	for i, e := range t.Entries {
		ext, err := json.Marshal(e.Ext)
		if err != nil {
			return fmt.Errorf("entry %s: failed to encode extension fields: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, queryEntryCreate,
			e.ID, t.ID, e.AccountID, i, e.Amount, formatTime(e.Date), formatTime(e.ClearedDate),
			e.Memo, e.Payee, e.Description, e.CheckNumber, e.UniqueID, string(ext)); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
