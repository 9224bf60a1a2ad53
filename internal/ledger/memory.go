package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Backend that keeps the ledger in process memory.
type Memory struct {
	mu       sync.Mutex
	accounts []*Account
	txns     map[string]*Transaction
	commits  int
}

// NewMemory creates a memory backend seeded with accounts.
func NewMemory(accounts ...Account) *Memory {
	m := &Memory{txns: make(map[string]*Transaction)}
	for _, a := range accounts {
		c := a
		m.accounts = append(m.accounts, &c)
	}
	return m
}

// Load returns a deep copy of the stored state.
func (m *Memory) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

// Apply stores a changeset atomically.
func (m *Memory) Apply(ctx context.Context, cs *Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range cs.Accounts {
		c := *a
		m.accounts = append(m.accounts, &c)
	}
	for _, t := range cs.Upserted {
		m.txns[t.ID] = t.clone()
	}
	for _, id := range cs.Deleted {
		delete(m.txns, id)
	}
	m.commits++
	return nil
}

// Snapshot returns a deep copy of the stored state, transactions ordered by
// date then id.
func (m *Memory) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Commits returns how many changesets were applied.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *Memory) snapshotLocked() *Snapshot {
	snap := &Snapshot{}
	for _, a := range m.accounts {
		c := *a
		snap.Accounts = append(snap.Accounts, &c)
	}
	for _, t := range m.txns {
		snap.Transactions = append(snap.Transactions, t.clone())
	}
	sort.Slice(snap.Transactions, func(i, j int) bool {
		a, b := snap.Transactions[i], snap.Transactions[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
	return snap
}
