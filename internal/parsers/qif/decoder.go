package qif

import (
	"context"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

type decoder struct {
	ctx  context.Context
	opts Options
	cur  *cursor
	stmt *parser.Statement

	// unnamed receives transaction sections not preceded by an account.
	unnamed *parser.AccountStatement
}

func newDecoder(ctx context.Context, opts Options, lines []parser.Line) *decoder {
	return &decoder{
		ctx:  ctx,
		opts: opts,
		cur:  &cursor{lines: lines},
		stmt: &parser.Statement{},
	}
}

func (d *decoder) decode() error {
	for {
		d.cur.skipBlank()
		l, ok := d.cur.next()
		if !ok {
			return nil
		}
		if err := d.ctx.Err(); err != nil {
			return err
		}

		header := strings.TrimSpace(l.Text)
		switch {
		case strings.EqualFold(header, "!Account"):
			if err := d.accountList(); err != nil {
				return err
			}
		case strings.HasPrefix(header, "!Option:"), strings.HasPrefix(header, "!Clear:"):
			// Quicken switches; no data
		case strings.HasPrefix(header, "!Type:"):
			kind, _, err := sectionOf(l)
			if err != nil {
				return err
			}
			if err := d.section(kind, nil); err != nil {
				return err
			}
		default:
			return importerr.Format(l.Text, "expected a section header").AtLine(l.Num)
		}
	}
}

// accountList decodes account records. A transaction section directly
// following an account record belongs to that account.
func (d *decoder) accountList() error {
	for {
		rec, ok, err := d.cur.readRecord()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if len(rec) == 0 {
			continue
		}
		acct, err := d.decodeAccount(rec)
		if err != nil {
			return err
		}

		d.cur.skipBlank()
		next, more := d.cur.peek()
		if !more {
			return nil
		}
		kind, isType, err := sectionOf(next)
		if err != nil {
			return err
		}
		if isType && kind.holdsTransactions() {
			d.cur.next()
			if err := d.section(kind, acct); err != nil {
				return err
			}
		}
	}
	return nil
}

// section decodes records up to the next header. target is the account that
// owns the transactions, nil when the file names none.
func (d *decoder) section(kind sectionKind, target *parser.AccountStatement) error {
	if kind.holdsTransactions() && target == nil {
		if d.unnamed == nil {
			d.unnamed = &parser.AccountStatement{}
			d.stmt.Accounts = append(d.stmt.Accounts, d.unnamed)
		}
		target = d.unnamed
	}
	if kind == sectionInvestment {
		target.Investment = true
	}

	for {
		if err := d.ctx.Err(); err != nil {
			return err
		}
		rec, ok, err := d.cur.readRecord()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if len(rec) == 0 {
			continue
		}

		switch kind {
		case sectionBank:
			e, err := d.decodeTransaction(rec, false)
			if err != nil {
				return err
			}
			target.Entries = append(target.Entries, e)
		case sectionInvestment:
			e, err := d.decodeInvestment(rec)
			if err != nil {
				return err
			}
			target.Entries = append(target.Entries, e)
		case sectionMemorized:
			e, err := d.decodeTransaction(rec, true)
			if err != nil {
				return err
			}
			d.stmt.Memorized = append(d.stmt.Memorized, e)
		case sectionCategory:
			c, err := decodeCategory(rec)
			if err != nil {
				return err
			}
			d.stmt.Categories = append(d.stmt.Categories, c)
		case sectionClass:
			if err := checkTags(rec, "ND"); err != nil {
				return err
			}
		case sectionSecurity:
			// name, symbol, type and goal
			if err := checkTags(rec, "NSTG"); err != nil {
				return err
			}
		case sectionPrices:
			if err := checkPrices(rec); err != nil {
				return err
			}
		}
	}
}

// decodeAccount decodes an account header record and returns the statement
// collecting that account's transactions. An account listed twice (once in
// an AutoSwitch list, once before its transactions) yields one statement.
func (d *decoder) decodeAccount(rec []parser.Line) (*parser.AccountStatement, error) {
	var name, typ, desc string
	for _, l := range rec {
		tag, val := split(l)
		switch tag {
		case 'N':
			name = val
		case 'T':
			typ = val
		case 'D':
			desc = val
		case 'A', 'L', '/', '$', 'X', 'B':
			// address, credit limit, balance date and balance
		default:
			return nil, unknownTag(l, "account")
		}
	}
	if name == "" {
		return nil, importerr.Format(rec[0].Text, "account record has no N line").AtLine(rec[0].Num)
	}

	for _, as := range d.stmt.Accounts {
		if as.Account != nil && as.Account.Name() == name {
			return as, nil
		}
	}
	raw, err := parser.NewRawAccount(name, "", typ)
	if err != nil {
		return nil, importerr.Format(rec[0].Text, "%v", err).AtLine(rec[0].Num)
	}
	raw.SetDescription(desc)
	as := &parser.AccountStatement{Account: raw, Investment: isInvestmentType(typ)}
	d.stmt.Accounts = append(d.stmt.Accounts, as)
	return as, nil
}

func isInvestmentType(typ string) bool {
	switch strings.ToLower(typ) {
	case "invst", "port", "401(k)/403(b)", "mutual":
		return true
	}
	return false
}

func decodeCategory(rec []parser.Line) (parser.Category, error) {
	var c parser.Category
	for _, l := range rec {
		tag, val := split(l)
		switch tag {
		case 'N':
			c.Name = val
		case 'D':
			c.Description = val
		case 'I':
			c.Income = true
		case 'E':
			c.Income = false
		case 'T', 'R', 'B':
			// tax flags and budget amount
		default:
			return c, unknownTag(l, "category")
		}
	}
	if c.Name == "" {
		return c, importerr.Format(rec[0].Text, "category record has no N line").AtLine(rec[0].Num)
	}
	return c, nil
}

func checkTags(rec []parser.Line, allowed string) error {
	for _, l := range rec {
		tag, _ := split(l)
		if !strings.ContainsRune(allowed, rune(tag)) {
			return unknownTag(l, "list")
		}
	}
	return nil
}

// checkPrices accepts price history lines of the form
// "SYMBOL",price,"date". They carry no tag.
func checkPrices(rec []parser.Line) error {
	for _, l := range rec {
		fields := strings.Split(l.Text, ",")
		if len(fields) != 3 || !strings.HasPrefix(fields[0], `"`) {
			return importerr.Format(l.Text, "expected a \"symbol\",price,\"date\" line in price list").AtLine(l.Num)
		}
	}
	return nil
}

// split separates a field line into its tag and value.
func split(l parser.Line) (byte, string) {
	if l.Text == "" {
		return 0, ""
	}
	return l.Text[0], strings.TrimSpace(l.Text[1:])
}

func unknownTag(l parser.Line, context string) error {
	return importerr.Format(l.Text, "unrecognized tag in %s record", context).AtLine(l.Num)
}

// entryCategory normalizes an L or S value: the "/class" suffix is dropped
// and a leading ":" separator (an empty parent) is removed. Transfers keep
// their brackets, e.g. "[Savings]".
func entryCategory(v string) string {
	if i := strings.Index(v, "/"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(v), ":"))
}

// sumSplits adds the split amounts.
func sumSplits(splits []domain.Split) int64 {
	var sum int64
	for _, s := range splits {
		sum += s.Amount
	}
	return sum
}
