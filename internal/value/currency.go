package value

import (
	"fmt"
	"strings"

	money "github.com/Rhymond/go-money"
)

// Currency is the subset of ISO-4217 data the importer needs.
type Currency struct {
	Code     string
	Fraction int
}

// CurrencyResolver looks up currencies by code.
type CurrencyResolver interface {
	Currency(code string) (Currency, error)
}

// ISOCurrencies resolves codes against the go-money ISO-4217 table.
type ISOCurrencies struct{}

// Currency returns the currency for code.
func (ISOCurrencies) Currency(code string) (Currency, error) {
	c := money.GetCurrency(strings.TrimSpace(code))
	if c == nil {
		return Currency{}, fmt.Errorf("unknown currency code %q", code)
	}
	return Currency{Code: c.Code, Fraction: c.Fraction}, nil
}

// FormatMinor renders minor units for display, e.g. "$12.34".
func FormatMinor(amount int64, code string) string {
	if money.GetCurrency(code) == nil {
		return MinorToDecimal(amount, DefaultFraction).StringFixed(DefaultFraction) + " " + code
	}
	return money.New(amount, code).Display()
}
