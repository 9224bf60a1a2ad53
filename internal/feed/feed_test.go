package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/aggregator"
	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/csv"
)

type recordingSink struct {
	items    []aggregator.Item
	finished bool
}

func (s *recordingSink) Offer(_ context.Context, it aggregator.Item) error {
	s.items = append(s.items, it)
	return nil
}

func (s *recordingSink) Finish(context.Context) error {
	s.finished = true
	return nil
}

var itemsProfile = config.Profile{
	Name:       "items",
	Side:       config.SideItems,
	DateLayout: "01/02/06",
	Fields: config.Fields{
		OrderID:      "Order ID",
		ItemID:       "ASIN",
		ShipmentDate: "Shipped",
		Amount:       "Subtotal",
		Description:  "Title",
		Quantity:     "Qty",
		Payment:      "Payment",
		Currency:     "Currency",
	},
}

var ordersProfile = config.Profile{
	Name:       "orders",
	Side:       config.SideOrders,
	DateLayout: "01/02/06",
	Fields: config.Fields{
		OrderID:      "Order ID",
		ShipmentDate: "Shipped",
		Amount:       "Total",
		Payment:      "Payment",
	},
}

func itemValues(overrides map[string]string) map[string]string {
	v := map[string]string{
		"Order ID": "111-222",
		"ASIN":     "B000X",
		"Shipped":  "01/02/20",
		"Subtotal": "$12.50",
		"Title":    "Coffee beans",
		"Qty":      "2",
		"Payment":  "Visa - 1234",
		"Currency": "usd",
	}
	for k, val := range overrides {
		v[k] = val
	}
	return v
}

func TestHandler_ItemsRow(t *testing.T) {
	sink := &recordingSink{}
	h := New(itemsProfile, sink, Options{})

	require.NoError(t, h.HandleRow(context.Background(), csv.NewRow(2, itemValues(nil))))
	require.NoError(t, h.Finish(context.Background()))

	require.Len(t, sink.items, 1)
	assert.True(t, sink.finished)
	assert.Equal(t, 1, h.Rows())

	it := sink.items[0]
	shipped := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, domain.GroupKey{OrderID: "111-222", ShipmentDate: shipped}, it.Key)
	assert.Equal(t, 2, it.Line)
	assert.Equal(t, "1234", it.PartialNumber)
	assert.Equal(t, "USD", it.Currency)
	assert.Equal(t, int64(1250), it.Entry.Amount)
	assert.Equal(t, "111-222~B000X", it.Entry.UniqueID)
	assert.Equal(t, "Coffee beans", it.Entry.Memo)
	require.NotNil(t, it.Entry.Ext.Order)
	assert.Equal(t, "B000X", it.Entry.Ext.Order.ItemID)
	assert.Equal(t, 2, it.Entry.Ext.Order.Quantity)
}

func TestHandler_OrdersRow(t *testing.T) {
	sink := &recordingSink{}
	h := New(ordersProfile, sink, Options{AccountHint: "9999"})

	row := csv.NewRow(5, map[string]string{
		"Order ID": "111-222",
		"Shipped":  "01/02/20",
		"Total":    "1,025.00",
		"Payment":  "Visa - 1234",
	})
	require.NoError(t, h.HandleRow(context.Background(), row))

	it := sink.items[0]
	assert.Equal(t, int64(-102500), it.Entry.Amount)
	assert.Equal(t, "111-222~2020-01-02", it.Entry.UniqueID)
	assert.Equal(t, "order 111-222", it.Entry.Memo)
	assert.Equal(t, "9999", it.PartialNumber, "the account hint wins over the payment column")
	assert.Empty(t, it.Currency)
	assert.Equal(t, matcher.ChargeSide, Side(ordersProfile))
	assert.Equal(t, matcher.ItemsSide, Side(itemsProfile))
}

func TestHandler_RowErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		wantErr   string
	}{
		{"bad amount", map[string]string{"Subtotal": "twelve"}, `column "Subtotal"`},
		{"bad date", map[string]string{"Shipped": "2020-01-02"}, `column "Shipped"`},
		{"empty order id", map[string]string{"Order ID": ""}, "empty order id"},
		{"empty item id", map[string]string{"ASIN": ""}, "empty item id"},
		{"bad quantity", map[string]string{"Qty": "1.5"}, "quantity is not a whole number"},
		{"unknown currency", map[string]string{"Currency": "XXY"}, "unknown currency code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			h := New(itemsProfile, sink, Options{})

			err := h.HandleRow(context.Background(), csv.NewRow(7, itemValues(tt.overrides)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var fe *importerr.FormatError
			require.True(t, errors.As(err, &fe), "want FormatError, got %T", err)
			assert.Equal(t, 7, fe.Line)
			assert.Empty(t, sink.items)
		})
	}
}

func TestHandler_CurrencyFraction(t *testing.T) {
	sink := &recordingSink{}
	h := New(itemsProfile, sink, Options{})

	require.NoError(t, h.HandleRow(context.Background(), csv.NewRow(2, itemValues(map[string]string{
		"Currency": "JPY",
		"Subtotal": "1,200",
	}))))
	assert.Equal(t, int64(1200), sink.items[0].Entry.Amount)
}

func TestCardDigits(t *testing.T) {
	tests := []struct {
		payment string
		want    string
	}{
		{"Visa - 1234", "1234"},
		{"Mastercard ending in 5678.", "5678"},
		{"4111111111111234", "1234"},
		{"Amex 12", "12"},
		{"Gift card", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.payment, func(t *testing.T) {
			assert.Equal(t, tt.want, CardDigits(tt.payment))
		})
	}
}
