package builder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/aggregator"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
)

var jan1 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*matcher.Matcher, *Builder) {
	t.Helper()
	s, err := ledger.NewStore(ledger.NewMemory(
		ledger.Account{ID: "visa", Name: "Visa", Number: "4111 1111 1111 1234", Currency: "USD", Kind: domain.AccountKindCredit},
		ledger.Account{ID: "chk", Name: "Checking", Number: "000123456789", Currency: "USD", Kind: domain.AccountKindBank},
		ledger.Account{ID: "groc", Name: "Groceries", Currency: "USD", Kind: domain.AccountKindCategory},
	)).Begin(context.Background())
	require.NoError(t, err)
	m := matcher.New(s, matcher.Options{})
	return m, New(m, Options{Description: "test import"})
}

func key(order string) domain.GroupKey {
	return domain.GroupKey{OrderID: order, ShipmentDate: jan1}
}

func itemRow(order, itemID string, line int, subtotal int64, category string) aggregator.Item {
	k := key(order)
	return aggregator.Item{
		Key:  k,
		Line: line,
		Entry: domain.EntryData{
			Amount:   subtotal,
			Memo:     "item " + itemID,
			UniqueID: domain.ItemUniqueID(order, itemID),
			Category: category,
			Ext:      domain.Extensions{Order: &domain.OrderFields{OrderID: order, ShipmentDate: jan1, ItemID: itemID}},
		},
		PartialNumber: "1234",
	}
}

func chargeRow(order string, line int, total int64) aggregator.Item {
	k := key(order)
	return aggregator.Item{
		Key:  k,
		Line: line,
		Entry: domain.EntryData{
			Amount:   -total,
			Memo:     "order " + order,
			UniqueID: k.String(),
			Ext:      domain.Extensions{Order: &domain.OrderFields{OrderID: order, ShipmentDate: jan1}},
		},
		PartialNumber: "1234",
	}
}

func group(t *testing.T, m *matcher.Matcher, side matcher.Side, items ...aggregator.Item) *aggregator.PendingGroup {
	t.Helper()
	res, err := m.Resolve(context.Background(), items[0].Key, side, "1234", "")
	require.NoError(t, err)
	g := &aggregator.PendingGroup{Key: items[0].Key, Side: side, Resolution: res}
	for _, it := range items {
		require.True(t, g.Accept(it))
	}
	return g
}

// build closes g through a one-shot aggregator, the only way to close a
// group outside its package.
func build(t *testing.T, m *matcher.Matcher, b *Builder, side matcher.Side, items ...aggregator.Item) error {
	t.Helper()
	ctx := context.Background()
	a := aggregator.New(side, m, b, nil)
	for _, it := range items {
		if err := a.Offer(ctx, it); err != nil {
			return err
		}
	}
	if err := a.Finish(ctx); err != nil {
		return err
	}
	return a.Rejected()
}

func stagingEntries(t *testing.T, m *matcher.Matcher) []*ledger.Entry {
	t.Helper()
	staging, err := m.StagingAccount("USD")
	require.NoError(t, err)
	return m.Session().Entries(staging.ID)
}

func TestBuild_RequiresClosedGroup(t *testing.T) {
	m, b := setup(t)
	g := group(t, m, matcher.ItemsSide, itemRow("X1", "I1", 2, 100, ""))
	_, err := b.Build(context.Background(), g)
	var inv *importerr.InternalInvariantError
	assert.True(t, errors.As(err, &inv))
	assert.Empty(t, m.Session().Transactions())
}

func TestBuild_UnmatchedItems(t *testing.T) {
	m, b := setup(t)
	require.NoError(t, build(t, m, b, matcher.ItemsSide,
		itemRow("X1", "I1", 2, 1000, "Groceries"),
		itemRow("X1", "I2", 3, 250, ""),
	))

	txns := m.Session().Transactions()
	require.Len(t, txns, 1)
	tx := txns[0]
	assert.Equal(t, "test import", tx.Description)
	assert.True(t, tx.Date.Equal(jan1))
	require.Len(t, tx.Entries, 3)
	assert.Zero(t, tx.Sum())

	assert.Equal(t, "groc", tx.Entries[0].AccountID)
	assert.Equal(t, int64(1000), tx.Entries[0].Amount)
	assert.Equal(t, "X1~I1", tx.Entries[0].UniqueID)
	assert.True(t, tx.Entries[0].Date.Equal(jan1), "empty dates default to the shipment date")

	uncategorized := m.Session().AccountByName(DefaultCategory)
	require.Equal(t, ledger.Found, uncategorized.Status)
	assert.Equal(t, uncategorized.Account.ID, tx.Entries[1].AccountID)

	staged := stagingEntries(t, m)
	require.Len(t, staged, 1)
	assert.Equal(t, int64(-1250), staged[0].Amount)
	assert.Equal(t, "X1~2020-01-01", staged[0].UniqueID)
	require.NotNil(t, staged[0].Ext.Order)
	assert.Equal(t, "X1", staged[0].Ext.Order.OrderID)
}

func TestBuild_ChargeThenItemsMatches(t *testing.T) {
	m, b := setup(t)
	require.NoError(t, build(t, m, b, matcher.ChargeSide, chargeRow("X1", 2, 1250)))

	staged := stagingEntries(t, m)
	require.Len(t, staged, 1)
	assert.Equal(t, int64(1250), staged[0].Amount)

	require.NoError(t, build(t, m, b, matcher.ItemsSide,
		itemRow("X1", "I1", 2, 1000, "Groceries"),
		itemRow("X1", "I2", 3, 250, "Groceries"),
	))
	assert.Empty(t, stagingEntries(t, m), "a fully matched staged entry is removed")

	txns := m.Session().Transactions()
	require.Len(t, txns, 1)
	tx := txns[0]
	assert.Zero(t, tx.Sum())
	require.Len(t, tx.Entries, 3)
	assert.Equal(t, "visa", tx.Entries[0].AccountID)
	assert.Equal(t, int64(-1250), tx.Entries[0].Amount)

	// the same shipment again is rejected and collected
	err := build(t, m, b, matcher.ItemsSide, itemRow("X1", "I3", 2, 5, ""))
	var dup *importerr.DuplicateImportError
	assert.True(t, errors.As(err, &dup))
}

func TestBuild_MatchedWithResidual(t *testing.T) {
	m, b := setup(t)
	require.NoError(t, build(t, m, b, matcher.ItemsSide, itemRow("X1", "I1", 2, 1000, "Groceries")))
	// the charge includes 80 of shipping the item feed does not list
	require.NoError(t, build(t, m, b, matcher.ChargeSide, chargeRow("X1", 2, 1080)))

	staged := stagingEntries(t, m)
	require.Len(t, staged, 1)
	assert.Equal(t, int64(80), staged[0].Amount)

	txns := m.Session().Transactions()
	require.Len(t, txns, 1)
	assert.Zero(t, txns[0].Sum())
}

func TestBuild_DuplicateItemIDs(t *testing.T) {
	t.Run("within the group", func(t *testing.T) {
		m, b := setup(t)
		err := build(t, m, b, matcher.ItemsSide,
			itemRow("X1", "I1", 2, 100, ""),
			itemRow("X1", "I1", 3, 100, ""),
		)
		var dup *importerr.DuplicateImportError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "X1~I1", dup.Key)
		assert.Empty(t, m.Session().Transactions())
	})

	t.Run("already in the ledger", func(t *testing.T) {
		m, b := setup(t)
		require.NoError(t, build(t, m, b, matcher.ItemsSide, itemRow("X1", "I1", 2, 100, "")))
		other := itemRow("X1", "I1", 2, 100, "")
		other.Key.ShipmentDate = jan1.AddDate(0, 0, 3)
		err := build(t, m, b, matcher.ItemsSide, other)
		var dup *importerr.DuplicateImportError
		require.True(t, errors.As(err, &dup))
		assert.Len(t, m.Session().Transactions(), 1)
	})
}

func TestGroupedRowsBuildOneTransaction(t *testing.T) {
	m, b := setup(t)
	ctx := context.Background()
	a := aggregator.New(matcher.ItemsSide, m, b, nil)

	require.NoError(t, a.Offer(ctx, itemRow("X1", "I1", 2, 100, "")))
	require.NoError(t, a.Offer(ctx, itemRow("X1", "I2", 3, 200, "")))
	require.NoError(t, a.Offer(ctx, itemRow("X1", "I3", 4, 300, "")))
	assert.Empty(t, m.Session().Transactions())

	require.NoError(t, a.Offer(ctx, itemRow("Y2", "I1", 5, 50, "")))
	txns := m.Session().Transactions()
	require.Len(t, txns, 1)
	require.Len(t, txns[0].Entries, 4)

	staging, err := m.StagingAccount("USD")
	require.NoError(t, err)
	var stagingAmount int64
	items := 0
	for _, e := range txns[0].Entries {
		if e.AccountID == staging.ID {
			stagingAmount += e.Amount
		} else {
			items++
		}
	}
	assert.Equal(t, 3, items)
	assert.Equal(t, int64(-600), stagingAmount)

	require.NoError(t, a.Finish(ctx))
	assert.Len(t, m.Session().Transactions(), 2)
}

func TestValidateBalance(t *testing.T) {
	tx := &ledger.Transaction{ID: "t1", Entries: []*ledger.Entry{{Amount: 100}, {Amount: -90}}}
	err := ValidateBalance(tx)
	var inv *importerr.InternalInvariantError
	require.True(t, errors.As(err, &inv))
	assert.Contains(t, err.Error(), "10")

	tx.Entries = append(tx.Entries, &ledger.Entry{Amount: -10})
	assert.NoError(t, ValidateBalance(tx))
}

type payeeRules map[string]string

func (r payeeRules) Categorize(e domain.EntryData) (string, bool) {
	c, ok := r[e.Payee]
	return c, ok
}

func TestPost(t *testing.T) {
	ctx := context.Background()

	t.Run("category", func(t *testing.T) {
		m, b := setup(t)
		chk := m.Session().Account("chk")
		tx, err := b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{
			Amount: -4567, Date: jan1, Payee: "GROCERY STORE", Category: "Groceries", UniqueID: "TX001",
		}})
		require.NoError(t, err)
		require.Len(t, tx.Entries, 2)
		assert.Equal(t, "chk", tx.Entries[0].AccountID)
		assert.Equal(t, "TX001", tx.Entries[0].UniqueID)
		assert.Equal(t, "groc", tx.Entries[1].AccountID)
		assert.Equal(t, int64(4567), tx.Entries[1].Amount)
		assert.Equal(t, "GROCERY STORE", tx.Entries[1].Payee)
		assert.Equal(t, "test import", tx.Description)
	})

	t.Run("rule then default category", func(t *testing.T) {
		m, _ := setup(t)
		b := New(m, Options{Categories: payeeRules{"SHELL": "Fuel"}})
		chk := m.Session().Account("chk")

		tx, err := b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{Amount: -3000, Date: jan1, Payee: "SHELL"}})
		require.NoError(t, err)
		fuel := m.Session().AccountByName("Fuel")
		require.Equal(t, ledger.Found, fuel.Status)
		assert.Equal(t, fuel.Account.ID, tx.Entries[1].AccountID)

		tx, err = b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{Amount: -100, Date: jan1, Payee: "UNKNOWN"}})
		require.NoError(t, err)
		def := m.Session().AccountByName(DefaultCategory)
		require.Equal(t, ledger.Found, def.Status)
		assert.Equal(t, def.Account.ID, tx.Entries[1].AccountID)
	})

	t.Run("splits", func(t *testing.T) {
		m, b := setup(t)
		visa := m.Session().Account("visa")
		tx, err := b.Post(ctx, Posting{Account: visa, Description: "split", Entry: domain.EntryData{
			Amount: 0, Date: jan1, Memo: "refund swap",
			Splits: []domain.Split{
				{Category: "Cat1", Amount: 1000},
				{Category: "Cat2", Amount: -1000, Memo: "returned"},
			},
		}})
		require.NoError(t, err)
		require.Len(t, tx.Entries, 3)
		assert.Equal(t, "split", tx.Description)
		assert.Equal(t, int64(-1000), tx.Entries[1].Amount)
		assert.Equal(t, "refund swap", tx.Entries[1].Memo)
		assert.Equal(t, int64(1000), tx.Entries[2].Amount)
		assert.Equal(t, "returned", tx.Entries[2].Memo)
		assert.Zero(t, tx.Sum())
	})

	t.Run("percent only splits fall back to the category", func(t *testing.T) {
		m, b := setup(t)
		chk := m.Session().Account("chk")
		tx, err := b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{
			Amount: -500, Date: jan1, Category: "Groceries",
			Splits: []domain.Split{{Category: "A", Percent: "50"}, {Category: "B", Percent: "50"}},
		}})
		require.NoError(t, err)
		require.Len(t, tx.Entries, 2)
		assert.Equal(t, "groc", tx.Entries[1].AccountID)
	})

	t.Run("transfer", func(t *testing.T) {
		m, b := setup(t)
		chk := m.Session().Account("chk")
		tx, err := b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{Amount: -20000, Date: jan1, Category: "[Visa]"}})
		require.NoError(t, err)
		assert.Equal(t, "visa", tx.Entries[1].AccountID)

		tx, err = b.Post(ctx, Posting{Account: chk, Entry: domain.EntryData{Amount: -500, Date: jan1, Category: "[Savings]"}})
		require.NoError(t, err)
		savings := m.Session().AccountByName("Savings")
		require.Equal(t, ledger.Found, savings.Status)
		assert.Equal(t, domain.AccountKindAsset, savings.Account.Kind)
		assert.Equal(t, savings.Account.ID, tx.Entries[1].AccountID)
	})

	t.Run("cancelled", func(t *testing.T) {
		m, b := setup(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.Post(cctx, Posting{Account: m.Session().Account("chk"), Entry: domain.EntryData{Amount: 1, Date: jan1}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
