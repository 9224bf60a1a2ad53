package qif

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// splitAccumulator gathers S/E/$/% lines. A tag repeating while the pending
// split already has that field set flushes the pending split first; a new S
// line flushes whenever the pending split has any field set.
type splitAccumulator struct {
	splits  []domain.Split
	pending domain.Split
	has     map[byte]bool
}

func (a *splitAccumulator) set(tag byte, fn func(*domain.Split)) {
	if a.has == nil {
		a.has = make(map[byte]bool)
	}
	if a.has[tag] || (tag == 'S' && len(a.has) > 0) {
		a.flush()
		a.has = map[byte]bool{}
	}
	fn(&a.pending)
	a.has[tag] = true
}

func (a *splitAccumulator) flush() {
	if len(a.has) == 0 {
		return
	}
	a.splits = append(a.splits, a.pending)
	a.pending = domain.Split{}
	a.has = nil
}

func (a *splitAccumulator) open() bool {
	return len(a.has) > 0
}

func (a *splitAccumulator) result() []domain.Split {
	a.flush()
	return a.splits
}

// fieldDecoder holds the per-record decoding helpers.
type fieldDecoder struct {
	opts Options
}

func (f fieldDecoder) money(l parser.Line, v string) (int64, error) {
	n, err := value.ParseMoneyIn(v, f.opts.Currency)
	return n, importerr.WithLine(err, l.Num)
}

func (f fieldDecoder) decimal(l parser.Line, v string) (decimal.Decimal, error) {
	d, err := value.ParseDecimal(v)
	return d, importerr.WithLine(err, l.Num)
}

func (f fieldDecoder) date(l parser.Line, v string) (time.Time, error) {
	t, err := value.ParseDate(normalizeDate(v), f.opts.DateLayout)
	if err != nil {
		return time.Time{}, importerr.Format(v, "expected date in format %q", f.opts.DateLayout).AtLine(l.Num)
	}
	return t, nil
}

// normalizeDate rewrites Quicken date spellings ("6/15'09", " 6/15/ 9",
// "06-15-2009") to slash separated fields with a four digit year. Two digit
// years written after an apostrophe are in the 2000s; after a slash, years
// below 50 are in the 2000s and the rest in the 1900s.
func normalizeDate(v string) string {
	s := strings.ReplaceAll(strings.TrimSpace(v), " ", "")
	apostrophe := strings.Contains(s, "'")
	s = strings.NewReplacer("'", "/", "-", "/", ".", "/").Replace(s)

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return s
	}
	year := parts[2]
	if len(year) <= 2 {
		y, err := strconv.Atoi(year)
		if err != nil {
			return s
		}
		switch {
		case apostrophe, y < 50:
			y += 2000
		default:
			y += 1900
		}
		parts[2] = strconv.Itoa(y)
	}
	return strings.Join(parts, "/")
}

// clearedStatus reports whether a C line marks the record cleared or
// reconciled.
func clearedStatus(l parser.Line, v string) (bool, error) {
	switch v {
	case "":
		return false, nil
	case "*", "c", "C", "X", "x", "R", "r":
		return true, nil
	}
	return false, importerr.Format(v, "unknown cleared status").AtLine(l.Num)
}

// decodeTransaction decodes a non-investment record. Memorized records
// additionally accept K (memorized kind) and the amortization tags 1 to 7,
// and may omit the date.
func (d *decoder) decodeTransaction(rec []parser.Line, memorized bool) (domain.EntryData, error) {
	f := fieldDecoder{opts: d.opts}
	var (
		e         domain.EntryData
		splits    splitAccumulator
		hasAmount bool
		cleared   bool
	)

	for _, l := range rec {
		tag, v := split(l)
		var err error
		switch tag {
		case 'D':
			e.Date, err = f.date(l, v)
		case 'T', 'U':
			e.Amount, err = f.money(l, v)
			hasAmount = true
		case 'C':
			cleared, err = clearedStatus(l, v)
		case 'P':
			e.Payee = v
		case 'L':
			e.Category = entryCategory(v)
		case 'N':
			e.CheckNumber = v
		case 'M':
			e.Memo = appendLine(e.Memo, v)
		case 'A':
			e.Description = appendLine(e.Description, v)
		case 'S':
			cat := entryCategory(v)
			splits.set('S', func(s *domain.Split) { s.Category = cat })
		case 'E':
			splits.set('E', func(s *domain.Split) { s.Memo = v })
		case '$':
			var amt int64
			if amt, err = f.money(l, v); err == nil {
				splits.set('$', func(s *domain.Split) { s.Amount = amt })
			}
		case '%':
			pct := strings.TrimSuffix(v, "%")
			splits.set('%', func(s *domain.Split) { s.Percent = pct })
		case 'K':
			if !memorized {
				return e, unknownTag(l, "transaction")
			}
			if !strings.Contains("CDPIE", v) || len(v) != 1 {
				return e, importerr.Format(v, "unknown memorized transaction kind").AtLine(l.Num)
			}
		case '1', '2', '3', '4', '5', '6', '7':
			if !memorized {
				return e, unknownTag(l, "transaction")
			}
		default:
			return e, unknownTag(l, "transaction")
		}
		if err != nil {
			return e, err
		}
	}

	e.Splits = splits.result()
	if err := finishEntry(&e, rec, hasAmount, cleared, memorized); err != nil {
		return e, err
	}
	return e, nil
}

// decodeInvestment decodes a record of an investment section.
func (d *decoder) decodeInvestment(rec []parser.Line) (domain.EntryData, error) {
	f := fieldDecoder{opts: d.opts}
	var (
		e         domain.EntryData
		inv       domain.InvestmentFields
		splits    splitAccumulator
		hasAmount bool
		cleared   bool
	)

	for _, l := range rec {
		tag, v := split(l)
		var err error
		switch tag {
		case 'D':
			e.Date, err = f.date(l, v)
		case 'N':
			inv.Action = v
		case 'Y':
			inv.Security = v
		case 'I':
			inv.Price, err = f.decimal(l, v)
		case 'Q':
			inv.Quantity, err = f.decimal(l, v)
		case 'O':
			inv.Commission, err = f.decimal(l, v)
		case 'T', 'U':
			e.Amount, err = f.money(l, v)
			hasAmount = true
		case 'C':
			cleared, err = clearedStatus(l, v)
		case 'P':
			e.Payee = v
		case 'M':
			e.Memo = appendLine(e.Memo, v)
		case 'L':
			e.Category = entryCategory(v)
		case 'S':
			cat := entryCategory(v)
			splits.set('S', func(s *domain.Split) { s.Category = cat })
		case 'E':
			splits.set('E', func(s *domain.Split) { s.Memo = v })
		case '%':
			pct := strings.TrimSuffix(v, "%")
			splits.set('%', func(s *domain.Split) { s.Percent = pct })
		case '$':
			// Split amount inside a split, otherwise the amount transferred
			// to the L account, which always equals the cash effect.
			var amt int64
			if amt, err = f.money(l, v); err == nil && splits.open() {
				splits.set('$', func(s *domain.Split) { s.Amount = amt })
			}
		default:
			return e, unknownTag(l, "investment")
		}
		if err != nil {
			return e, err
		}
	}

	if inv.Action == "" {
		return e, importerr.Format(rec[0].Text, "investment record has no N (action) line").AtLine(rec[0].Num)
	}
	if hasAmount {
		e.Amount = cashEffect(inv.Action, e.Amount)
	}
	e.Ext.Investment = &inv
	e.Splits = splits.result()
	if err := finishEntry(&e, rec, hasAmount, cleared, false); err != nil {
		return e, err
	}
	return e, nil
}

// finishEntry checks the record-level rules shared by all transaction
// records.
func finishEntry(e *domain.EntryData, rec []parser.Line, hasAmount, cleared, memorized bool) error {
	if e.Date.IsZero() && !memorized {
		return importerr.Format(rec[0].Text, "transaction record has no D line").AtLine(rec[0].Num)
	}
	if cleared {
		e.ClearedDate = e.Date
	}
	if len(e.Splits) == 0 {
		return nil
	}
	sum := sumSplits(e.Splits)
	if !hasAmount {
		e.Amount = sum
		return nil
	}
	if sum != e.Amount && !percentOnly(e.Splits) {
		return importerr.Structural(rec[0].Num, "splits total %d does not match record amount %d", sum, e.Amount)
	}
	return nil
}

// percentOnly reports whether every split is expressed as a percentage
// without an amount, as memorized templates may do.
func percentOnly(splits []domain.Split) bool {
	for _, s := range splits {
		if s.Percent == "" || s.Amount != 0 {
			return false
		}
	}
	return true
}

// cashEffect gives the signed effect of an investment action on the cash
// held in the investment account.
func cashEffect(action string, amount int64) int64 {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	a := strings.ToLower(action)
	switch {
	case strings.HasPrefix(a, "reinv"), a == "shrsin", a == "shrsout", a == "stksplit":
		return 0
	case strings.HasPrefix(a, "buy"), strings.HasPrefix(a, "miscexp"),
		a == "xout", a == "withdrwx", strings.HasPrefix(a, "margint"):
		return -abs
	case strings.HasPrefix(a, "sell"), strings.HasPrefix(a, "div"), strings.HasPrefix(a, "intinc"),
		strings.HasPrefix(a, "cg"), strings.HasPrefix(a, "miscinc"), strings.HasPrefix(a, "rtrncap"),
		a == "xin", a == "contribx":
		return abs
	}
	return amount
}

func appendLine(cur, v string) string {
	if cur == "" {
		return v
	}
	return cur + "\n" + v
}
