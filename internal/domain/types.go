package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar date layout used for keys and display.
const DateLayout = "2006-01-02"

// AccountKind represents the kind of ledger account.
// Use ValidateAccountKind to ensure validity before use.
type AccountKind string

const (
	AccountKindBank       AccountKind = "bank"
	AccountKindCredit     AccountKind = "credit"
	AccountKindCash       AccountKind = "cash"
	AccountKindInvestment AccountKind = "investment"
	AccountKindAsset      AccountKind = "asset"
	AccountKindLiability  AccountKind = "liability"
	AccountKindCategory   AccountKind = "category"
)

var validAccountKinds = map[AccountKind]struct{}{
	AccountKindBank: {}, AccountKindCredit: {}, AccountKindCash: {},
	AccountKindInvestment: {}, AccountKindAsset: {}, AccountKindLiability: {},
	AccountKindCategory: {},
}

// ValidateAccountKind checks if the account kind is one of the known kinds.
func ValidateAccountKind(k AccountKind) bool {
	_, ok := validAccountKinds[k]
	return ok
}

// IsCapital reports whether the kind holds real money, as opposed to a
// category account.
func (k AccountKind) IsCapital() bool {
	return k != AccountKindCategory
}

// EntryData is a normalized candidate ledger entry produced by a parser.
//
// Sign convention: positive amounts flow into the account the entry is
// posted to, negative amounts flow out of it.
type EntryData struct {
	Amount      int64 // minor currency units
	Date        time.Time
	ClearedDate time.Time // zero when not cleared
	Memo        string
	Payee       string
	Description string
	CheckNumber string
	UniqueID    string
	// Category is the counter-account named by the source (a QIF "L" line),
	// empty when the source does not name one.
	Category string
	Splits   []Split
	Ext      Extensions
}

// Validate checks the fields every entry must carry.
func (e *EntryData) Validate() error {
	if e.Date.IsZero() {
		return fmt.Errorf("entry date cannot be zero")
	}
	var sum int64
	for _, s := range e.Splits {
		sum += s.Amount
	}
	if len(e.Splits) > 0 && sum != e.Amount {
		return fmt.Errorf("splits total %d does not match entry amount %d", sum, e.Amount)
	}
	return nil
}

// IsCleared reports whether a cleared date is recorded.
func (e *EntryData) IsCleared() bool { return !e.ClearedDate.IsZero() }

// Text returns the most descriptive text available, for rules and display.
func (e *EntryData) Text() string {
	switch {
	case e.Payee != "":
		return e.Payee
	case e.Description != "":
		return e.Description
	}
	return e.Memo
}

// Split is one line of a split transaction.
type Split struct {
	Category string
	Memo     string
	Amount   int64
	Percent  string // as written in the source, informational only
}

// Extensions holds the source-specific fields an entry may carry. At most
// one of the pointers is normally set.
type Extensions struct {
	Bank       *BankFields       `json:"bank,omitempty"`
	Order      *OrderFields      `json:"order,omitempty"`
	Investment *InvestmentFields `json:"investment,omitempty"`
}

// IsZero reports whether no extension is set.
func (x Extensions) IsZero() bool {
	return x.Bank == nil && x.Order == nil && x.Investment == nil
}

// Clone returns a deep copy.
func (x Extensions) Clone() Extensions {
	var c Extensions
	if x.Bank != nil {
		b := *x.Bank
		c.Bank = &b
	}
	if x.Order != nil {
		o := *x.Order
		c.Order = &o
	}
	if x.Investment != nil {
		i := *x.Investment
		c.Investment = &i
	}
	return c
}

// BankFields are carried by entries imported from bank statements.
type BankFields struct {
	FITID           string `json:"fitid"`
	TransactionType string `json:"trnType,omitempty"`
	SIC             string `json:"sic,omitempty"`
	// UserDate is DTUSER, the date the user initiated the transaction.
	UserDate time.Time `json:"dtUser,omitzero"`
}

// OrderFields are carried by entries imported from online order feeds.
type OrderFields struct {
	OrderID      string    `json:"orderId"`
	ItemID       string    `json:"itemId,omitempty"`
	ShipmentDate time.Time `json:"shipmentDate"`
	Quantity     int       `json:"quantity,omitempty"`
	Seller       string    `json:"seller,omitempty"`
}

// Key returns the group key of the shipment the entry belongs to.
func (o *OrderFields) Key() GroupKey {
	return GroupKey{OrderID: o.OrderID, ShipmentDate: o.ShipmentDate}
}

// InvestmentFields are carried by entries describing security trades.
type InvestmentFields struct {
	Action     string          `json:"action"`
	Security   string          `json:"security,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
}

// GroupKey identifies one shipment of one order across feeds.
type GroupKey struct {
	OrderID      string
	ShipmentDate time.Time
}

// String renders the key as "orderId~yyyy-mm-dd".
func (k GroupKey) String() string {
	return k.OrderID + "~" + k.ShipmentDate.Format(DateLayout)
}

// IsZero reports whether the key is unset.
func (k GroupKey) IsZero() bool {
	return k.OrderID == "" && k.ShipmentDate.IsZero()
}

// Equal compares keys by order id and calendar date.
func (k GroupKey) Equal(o GroupKey) bool {
	return k.OrderID == o.OrderID && k.ShipmentDate.Format(DateLayout) == o.ShipmentDate.Format(DateLayout)
}

// ItemUniqueID builds the dedup token of one order line item.
func ItemUniqueID(orderID, itemID string) string {
	return orderID + "~" + itemID
}
