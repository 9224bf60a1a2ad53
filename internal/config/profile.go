package config

import (
	"fmt"
	"unicode/utf8"

	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/csv"
)

// Feed sides a profile can describe.
const (
	SideItems  = "items"
	SideOrders = "orders"
)

// Profile describes one tabular feed: its exact column layout and which
// columns carry the fields the importer needs.
type Profile struct {
	Name string `mapstructure:"-"`
	// Side is "items" for per-item feeds and "orders" for per-shipment
	// charge feeds.
	Side  string `mapstructure:"side" validate:"required,oneof=items orders"`
	Label string `mapstructure:"label"`
	// Comma is the field delimiter of text files; empty means ",".
	Comma      string       `mapstructure:"comma" validate:"omitempty,len=1"`
	Charset    string       `mapstructure:"charset"`
	DateLayout string       `mapstructure:"date_layout" validate:"required"`
	Columns    []csv.Column `mapstructure:"columns" validate:"required,min=1"`
	Sentinel   []string     `mapstructure:"sentinel"`
	Fields     Fields       `mapstructure:"fields"`
}

// Fields name the columns holding each value. Empty optional fields are
// not read.
type Fields struct {
	OrderID      string `mapstructure:"order_id" validate:"required"`
	ShipmentDate string `mapstructure:"shipment_date" validate:"required"`
	Amount       string `mapstructure:"amount" validate:"required"`
	ItemID       string `mapstructure:"item_id"`
	Description  string `mapstructure:"description"`
	Category     string `mapstructure:"category"`
	Quantity     string `mapstructure:"quantity"`
	Seller       string `mapstructure:"seller"`
	// Payment holds the card description the charge account's last digits
	// are taken from.
	Payment  string `mapstructure:"payment"`
	Currency string `mapstructure:"currency"`
}

// Schema returns the column layout checked against the file header.
func (p Profile) Schema() csv.Schema {
	return csv.Schema{Columns: p.Columns, Sentinel: p.Sentinel}
}

// CommaRune returns the delimiter, or 0 for the default.
func (p Profile) CommaRune() rune {
	if p.Comma == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(p.Comma)
	return r
}

// SourceLabel tags the transactions built from this feed.
func (p Profile) SourceLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Name
}

// Validate checks the field constraints and that every mapped field names a
// column that is read.
func (p Profile) Validate() error {
	if errs := validateStruct(p); len(errs) > 0 {
		return fmt.Errorf("%s", joinFieldErrors(errs))
	}
	if p.Side == SideItems && p.Fields.ItemID == "" {
		return fmt.Errorf("fields.item_id is required for an items feed")
	}

	readable := make(map[string]bool, len(p.Columns))
	for _, c := range p.Columns {
		if !c.Ignored {
			readable[c.Name] = true
		}
	}
	mapped := []struct{ field, column string }{
		{"order_id", p.Fields.OrderID},
		{"shipment_date", p.Fields.ShipmentDate},
		{"amount", p.Fields.Amount},
		{"item_id", p.Fields.ItemID},
		{"description", p.Fields.Description},
		{"category", p.Fields.Category},
		{"quantity", p.Fields.Quantity},
		{"seller", p.Fields.Seller},
		{"payment", p.Fields.Payment},
		{"currency", p.Fields.Currency},
	}
	for _, m := range mapped {
		if m.column != "" && !readable[m.column] {
			return fmt.Errorf("fields.%s names column %q, which is not a read column", m.field, m.column)
		}
	}
	if len(p.Sentinel) > len(p.Columns) {
		return fmt.Errorf("sentinel has %d cells, the table only %d columns", len(p.Sentinel), len(p.Columns))
	}
	return nil
}
