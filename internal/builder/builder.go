// Package builder materializes balanced ledger transactions from closed
// groups and from statement entries.
package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/rumor-ml/commons.systems/finimport/internal/aggregator"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
)

// DefaultCategory receives entries no source field or rule categorizes.
const DefaultCategory = "Uncategorized"

// Categorizer picks a category name for an entry.
type Categorizer interface {
	Categorize(e domain.EntryData) (string, bool)
}

// Options configure a Builder.
type Options struct {
	// Description tags every transaction created, e.g. "orders: 2020.csv".
	Description     string
	DefaultCategory string
	Categories      Categorizer
	Logger          *log.Logger
}

// Builder writes transactions into the matcher's session.
type Builder struct {
	m    *matcher.Matcher
	opts Options
}

var _ aggregator.Materializer = (*Builder)(nil)

// New creates a builder.
func New(m *matcher.Matcher, opts Options) *Builder {
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = DefaultCategory
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Builder{m: m, opts: opts}
}

// ValidateBalance checks that the entries of t sum to exactly zero.
func ValidateBalance(t *ledger.Transaction) error {
	if sum := t.Sum(); sum != 0 {
		return importerr.Invariant("transaction %s (%s) does not balance: entries sum to %d", t.ID, t.Description, sum)
	}
	return nil
}

// Materialize builds g; it satisfies aggregator.Materializer.
func (b *Builder) Materialize(ctx context.Context, g *aggregator.PendingGroup) error {
	_, err := b.Build(ctx, g)
	return err
}

// Build turns a closed group into ledger entries. An unmatched group gets a
// new transaction with a staging entry holding the negated total; a matched
// group is added to its staged counterpart's transaction and the staged
// amount shrinks by the group total, disappearing once it reaches zero.
func (b *Builder) Build(ctx context.Context, g *aggregator.PendingGroup) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.Closed() {
		return nil, importerr.Invariant("group %s built while still open", g.Key)
	}
	s := b.m.Session()
	res := g.Resolution

	// Everything that can reject the group is checked before the session is
	// touched.
	if err := b.checkItems(g); err != nil {
		return nil, err
	}
	targets := make([]*ledger.Account, len(g.Items))
	for i, it := range g.Items {
		acct, err := b.target(g.Side, res, it.Entry)
		if err != nil {
			return nil, err
		}
		targets[i] = acct
	}

	var tx *ledger.Transaction
	if res.Mode == matcher.Matched {
		tx = s.Transaction(res.Staged.TransactionID)
		if tx == nil {
			return nil, importerr.Invariant("staged entry %s of %s has no live transaction", res.Staged.ID, g.Key)
		}
	} else {
		var err error
		if tx, err = s.CreateTransaction(g.Key.ShipmentDate, b.opts.Description); err != nil {
			return nil, err
		}
	}

	for i, it := range g.Items {
		entry := ledger.EntryFromData(it.Entry)
		if entry.Date.IsZero() {
			entry.Date = g.Key.ShipmentDate
		}
		if _, err := s.AddEntry(tx, targets[i].ID, entry); err != nil {
			return nil, err
		}
	}

	total := g.Total()
	switch {
	case res.Mode == matcher.Matched:
		staged := res.Staged
		if err := s.Update(staged, func(e *ledger.Entry) { e.Amount -= total }); err != nil {
			return nil, err
		}
		if staged.Amount == 0 {
			if err := s.DeleteEntry(staged); err != nil {
				return nil, err
			}
			b.opts.Logger.Debug("group fully matched", "key", g.Key)
		} else {
			b.opts.Logger.Warn("group matched with a residual", "key", g.Key, "residual", staged.Amount)
		}
	case total != 0:
		staging := ledger.Entry{
			Amount:   -total,
			Date:     g.Key.ShipmentDate,
			Memo:     fmt.Sprintf("%s outstanding for order %s", counterpart(g.Side), g.Key.OrderID),
			UniqueID: g.Key.String(),
			Ext: domain.Extensions{Order: &domain.OrderFields{
				OrderID:      g.Key.OrderID,
				ShipmentDate: g.Key.ShipmentDate,
			}},
		}
		if _, err := s.AddEntry(tx, res.Staging.ID, staging); err != nil {
			return nil, err
		}
	}

	if err := ValidateBalance(tx); err != nil {
		return nil, err
	}
	b.opts.Logger.Debug("built group", "key", g.Key, "side", g.Side, "mode", res.Mode, "items", len(g.Items), "total", total)
	return tx, nil
}

func counterpart(side matcher.Side) string {
	if side == matcher.ItemsSide {
		return "charge"
	}
	return "items"
}

// checkItems rejects item ids that are repeated in the group or already in
// the ledger.
func (b *Builder) checkItems(g *aggregator.PendingGroup) error {
	if g.Side != matcher.ItemsSide {
		return nil
	}
	seen := make(map[string]bool, len(g.Items))
	ids := make([]string, 0, len(g.Items))
	for _, it := range g.Items {
		id := it.Entry.UniqueID
		if id == "" {
			continue
		}
		if seen[id] {
			return importerr.Duplicate(id, "item listed twice in shipment %s", g.Key)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return b.m.CheckUniqueIDs(ids)
}

// target picks the account an item is posted to: the charge account on the
// charge side, a category on the items side.
func (b *Builder) target(side matcher.Side, res matcher.Resolution, e domain.EntryData) (*ledger.Account, error) {
	if side == matcher.ChargeSide {
		return res.Charge, nil
	}
	return b.m.CategoryAccount(b.category(e), res.Staging.Currency)
}

func (b *Builder) category(e domain.EntryData) string {
	if e.Category != "" {
		return e.Category
	}
	if b.opts.Categories != nil {
		if name, ok := b.opts.Categories.Categorize(e); ok {
			return name
		}
	}
	return b.opts.DefaultCategory
}

// Posting is one statement entry to be written to Account.
type Posting struct {
	Account     *ledger.Account
	Entry       domain.EntryData
	Description string
}

// Post writes a statement entry to its account and balances it against its
// category, its splits, or a transfer account named in brackets.
func (b *Builder) Post(ctx context.Context, p Posting) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := b.m.Session()
	e := p.Entry
	currency := p.Account.Currency

	type leg struct {
		account *ledger.Account
		amount  int64
		memo    string
	}
	var legs []leg
	if len(e.Splits) > 0 && splitTotal(e.Splits) != e.Amount {
		// percentage-only splits carry no amounts
		b.opts.Logger.Warn("ignoring splits that do not add up", "date", e.Date.Format(domain.DateLayout), "payee", e.Payee)
		e.Splits = nil
	}
	if len(e.Splits) > 0 {
		for _, sp := range e.Splits {
			acct, err := b.counterAccount(sp.Category, e, currency)
			if err != nil {
				return nil, err
			}
			memo := sp.Memo
			if memo == "" {
				memo = e.Memo
			}
			legs = append(legs, leg{account: acct, amount: -sp.Amount, memo: memo})
		}
	} else if e.Amount != 0 {
		acct, err := b.counterAccount(e.Category, e, currency)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg{account: acct, amount: -e.Amount, memo: e.Memo})
	}

	desc := p.Description
	if desc == "" {
		desc = b.opts.Description
	}
	tx, err := s.CreateTransaction(e.Date, desc)
	if err != nil {
		return nil, err
	}
	if _, err := s.AddEntry(tx, p.Account.ID, ledger.EntryFromData(e)); err != nil {
		return nil, err
	}
	for _, l := range legs {
		counter := ledger.Entry{Amount: l.amount, Date: e.Date, Memo: l.memo, Payee: e.Payee}
		if _, err := s.AddEntry(tx, l.account.ID, counter); err != nil {
			return nil, err
		}
	}
	if err := ValidateBalance(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// counterAccount resolves a source category. "[Name]" names a transfer
// account; a missing one is created as an asset account.
func (b *Builder) counterAccount(category string, e domain.EntryData, currency string) (*ledger.Account, error) {
	if name, ok := transferName(category); ok {
		l := b.m.Session().AccountByName(name)
		switch l.Status {
		case ledger.Found:
			return l.Account, nil
		case ledger.Ambiguous:
			return nil, &importerr.AccountResolutionError{Query: name, Ambiguous: true, Candidates: l.Names()}
		}
		b.opts.Logger.Warn("creating transfer account", "name", name)
		return b.m.Session().CreateAccount(ledger.Account{Name: name, Currency: currency, Kind: domain.AccountKindAsset})
	}
	if category == "" {
		category = b.category(domain.EntryData{Payee: e.Payee, Memo: e.Memo, Description: e.Description})
	}
	return b.m.CategoryAccount(category, currency)
}

func splitTotal(splits []domain.Split) int64 {
	var sum int64
	for _, s := range splits {
		sum += s.Amount
	}
	return sum
}

func transferName(category string) (string, bool) {
	if len(category) > 2 && strings.HasPrefix(category, "[") && strings.HasSuffix(category, "]") {
		return category[1 : len(category)-1], true
	}
	return "", false
}
