// Package feed turns the rows of online-order exports into aggregator items.
// An items feed lists one row per purchased item; an orders feed lists one
// row per charged shipment. Both are keyed by order id and shipment date so
// that either can be imported first.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/rumor-ml/commons.systems/finimport/internal/aggregator"
	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/finimport/internal/transform"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// Sink receives the items of one feed in file order.
type Sink interface {
	Offer(ctx context.Context, it aggregator.Item) error
	Finish(ctx context.Context) error
}

// Options configure a Handler.
type Options struct {
	// AccountHint overrides the card digits read from the payment column.
	AccountHint string
	// Currency applies to rows without a currency column.
	Currency   value.Currency
	Currencies value.CurrencyResolver
	Logger     *log.Logger
}

// Handler is the csv.RowHandler of one feed profile.
type Handler struct {
	profile config.Profile
	sink    Sink
	opts    Options
	rows    int
}

var _ csv.RowHandler = (*Handler)(nil)

// New creates a handler feeding sink.
func New(profile config.Profile, sink Sink, opts Options) *Handler {
	if opts.Currency.Code == "" {
		opts.Currency = value.Currency{Code: "USD", Fraction: value.DefaultFraction}
	}
	if opts.Currencies == nil {
		opts.Currencies = value.ISOCurrencies{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Handler{profile: profile, sink: sink, opts: opts}
}

// Side returns the matching side of the profile.
func Side(p config.Profile) matcher.Side {
	if p.Side == config.SideOrders {
		return matcher.ChargeSide
	}
	return matcher.ItemsSide
}

// HandleRow decodes one row and offers it to the sink. A malformed cell is a
// FormatError that aborts the file.
func (h *Handler) HandleRow(ctx context.Context, row csv.Row) error {
	it, err := h.Item(row)
	if err != nil {
		return err
	}
	h.rows++
	return h.sink.Offer(ctx, it)
}

// Finish closes the last group.
func (h *Handler) Finish(ctx context.Context) error {
	h.opts.Logger.Debug("feed finished", "profile", h.profile.Name, "rows", h.rows)
	return h.sink.Finish(ctx)
}

// Rows returns how many rows were offered.
func (h *Handler) Rows() int { return h.rows }

// Item decodes a row without offering it.
func (h *Handler) Item(row csv.Row) (aggregator.Item, error) {
	f := h.profile.Fields

	orderID := row.Get(f.OrderID)
	if orderID == "" {
		return aggregator.Item{}, columnError(f.OrderID, importerr.Format("", "empty order id").AtLine(row.Line))
	}
	shipped, err := row.Date(f.ShipmentDate, h.profile.DateLayout)
	if err != nil {
		return aggregator.Item{}, err
	}

	currency := h.opts.Currency
	code := ""
	if f.Currency != "" {
		if code = strings.ToUpper(row.Get(f.Currency)); code != "" {
			if currency, err = h.opts.Currencies.Currency(code); err != nil {
				return aggregator.Item{}, columnError(f.Currency, importerr.Format(code, "%v", err).AtLine(row.Line))
			}
		}
	}
	amount, err := row.Money(f.Amount, currency)
	if err != nil {
		return aggregator.Item{}, err
	}

	key := domain.GroupKey{OrderID: orderID, ShipmentDate: shipped}
	order := &domain.OrderFields{OrderID: orderID, ShipmentDate: shipped, Seller: h.optional(row, f.Seller)}
	entry := domain.EntryData{
		Date:        shipped,
		Description: h.optional(row, f.Description),
		Ext:         domain.Extensions{Order: order},
	}

	if Side(h.profile) == matcher.ItemsSide {
		itemID := row.Get(f.ItemID)
		if itemID == "" {
			return aggregator.Item{}, columnError(f.ItemID, importerr.Format("", "empty item id").AtLine(row.Line))
		}
		order.ItemID = itemID
		if q := h.optional(row, f.Quantity); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 0 {
				return aggregator.Item{}, columnError(f.Quantity, importerr.Format(q, "quantity is not a whole number").AtLine(row.Line))
			}
			order.Quantity = n
		}
		entry.Amount = amount
		entry.UniqueID = domain.ItemUniqueID(orderID, itemID)
		entry.Memo = entry.Description
		entry.Category = h.optional(row, f.Category)
	} else {
		entry.Amount = -amount
		entry.UniqueID = key.String()
		entry.Memo = "order " + orderID
	}

	partial := h.opts.AccountHint
	if partial == "" {
		partial = CardDigits(h.optional(row, f.Payment))
	}
	return aggregator.Item{
		Key:           key,
		Line:          row.Line,
		Entry:         entry,
		PartialNumber: partial,
		Currency:      code,
	}, nil
}

func (h *Handler) optional(row csv.Row, column string) string {
	if column == "" {
		return ""
	}
	return row.Get(column)
}

func columnError(column string, err error) error {
	return fmt.Errorf("column %q: %w", column, err)
}

// CardDigits returns the last four digits of the trailing number in a
// payment description such as "Visa - 1234" or "Mastercard ending in
// 5678", or "" when there is none.
func CardDigits(payment string) string {
	end := len(payment)
	for end > 0 && !isDigit(payment[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(payment[start-1]) {
		start--
	}
	return transform.ExtractLast4(payment[start:end])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
