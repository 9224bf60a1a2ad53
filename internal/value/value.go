// Package value converts free text found in statement files into money,
// decimal and date values.
package value

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
)

// DefaultFraction is the number of minor-unit digits assumed when no
// currency is known.
const DefaultFraction = 2

var currencySymbols = []string{"$", "€", "£", "¥"}

// ParseMoney converts text such as "1,234.5" or "-$10.00" into minor units
// with two fractional digits.
func ParseMoney(text string) (int64, error) {
	return parseMinor(text, DefaultFraction)
}

// ParseMoneyIn is ParseMoney with the fraction width of currency.
func ParseMoneyIn(text string, currency Currency) (int64, error) {
	return parseMinor(text, currency.Fraction)
}

func parseMinor(text string, fraction int) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, importerr.Format(text, "amount is blank")
	}

	s, neg := stripSign(s)
	for _, sym := range currencySymbols {
		if strings.HasPrefix(s, sym) {
			s = strings.TrimSpace(strings.TrimPrefix(s, sym))
			break
		}
	}
	if !neg {
		// "$-10.00"
		s, neg = stripSign(s)
	}

	s = strings.ReplaceAll(s, ",", "")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, importerr.Format(text, "amount has more than one decimal point")
	}
	intPart := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if intPart == "" && frac == "" {
		return 0, importerr.Format(text, "amount has no digits")
	}
	if len(frac) > fraction {
		return 0, importerr.Format(text, "amount has more than %d fractional digits", fraction)
	}
	frac += strings.Repeat("0", fraction-len(frac))

	digits := intPart + frac
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, importerr.Format(text, "amount is not numeric")
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, importerr.Format(text, "amount out of range")
	}
	if neg {
		n = -n
	}
	return n, nil
}

func stripSign(s string) (string, bool) {
	switch {
	case strings.HasPrefix(s, "-"):
		return strings.TrimSpace(s[1:]), true
	case strings.HasPrefix(s, "+"):
		return strings.TrimSpace(s[1:]), false
	}
	return s, false
}

// ParseDate parses text with a Go time layout. The error names both the
// expected layout and the offending text.
func ParseDate(text, layout string) (time.Time, error) {
	t, err := time.Parse(layout, strings.TrimSpace(text))
	if err != nil {
		return time.Time{}, importerr.Format(text, "expected date in format %q", layout)
	}
	return t, nil
}

// ParseDecimal parses a quantity or price, tolerating thousands separators.
func ParseDecimal(text string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if s == "" {
		return decimal.Zero, importerr.Format(text, "number is blank")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, importerr.Format(text, "invalid number")
	}
	return d, nil
}

// MinorToDecimal converts minor units into a decimal major-unit value.
func MinorToDecimal(amount int64, fraction int) decimal.Decimal {
	return decimal.New(amount, -int32(fraction))
}

// DecimalToMinor converts a decimal major-unit value into minor units. It
// fails when the value carries more precision than the currency allows.
func DecimalToMinor(d decimal.Decimal, fraction int) (int64, error) {
	shifted := d.Shift(int32(fraction))
	if !shifted.IsInteger() {
		return 0, importerr.Format(d.String(), "amount has more than %d fractional digits", fraction)
	}
	return shifted.IntPart(), nil
}
