package ofx

import (
	"context"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// handler is called for every opening child of an aggregate. It returns
// false for children it does not decode; those are skipped.
type handler func(child element) (bool, error)

type descent struct {
	ctx  context.Context
	opts Options
	cur  *cursor
	stmt *parser.Statement
}

// document decodes the <OFX> root.
func (d *descent) document() error {
	root, ok := d.cur.next()
	if !ok {
		return importerr.Structural(0, "input has no <OFX> element")
	}
	if root.closing || root.name != "OFX" || root.isLeaf() {
		return importerr.Structural(root.line, "expected <OFX>, got %s", root)
	}
	return d.aggregate(root, func(el element) (bool, error) {
		if el.isLeaf() {
			return false, nil
		}
		switch el.name {
		case "BANKMSGSRSV1":
			return true, d.aggregate(el, d.responses("STMTTRNRS", "STMTRS", "BANKACCTFROM"))
		case "CREDITCARDMSGSRSV1":
			return true, d.aggregate(el, d.responses("CCSTMTTRNRS", "CCSTMTRS", "CCACCTFROM"))
		}
		return false, nil
	})
}

// aggregate consumes the children of open up to its closing tag. A closing
// tag for any other element means the stream is out of sync.
func (d *descent) aggregate(open element, fn handler) error {
	for {
		el, ok := d.cur.next()
		if !ok {
			return importerr.Structural(d.cur.lastLine(), "unexpected end of input inside <%s>", open.name)
		}
		if el.closing {
			if el.name == open.name {
				return nil
			}
			return importerr.Structural(el.line, "expected </%s>, got </%s>", open.name, el.name)
		}

		handled, err := fn(el)
		if err != nil {
			return err
		}
		switch {
		case !handled:
			if err := d.skip(el); err != nil {
				return err
			}
		case el.isLeaf():
			d.closeLeaf(el)
		}
	}
}

// skip discards an element and everything nested in it.
func (d *descent) skip(el element) error {
	if el.isLeaf() {
		d.closeLeaf(el)
		return nil
	}
	return d.aggregate(el, func(element) (bool, error) { return false, nil })
}

// closeLeaf consumes the optional closing tag of a leaf.
func (d *descent) closeLeaf(el element) {
	if next, ok := d.cur.peek(); ok && next.closing && next.name == el.name {
		d.cur.next()
	}
}

// responses decodes a message set wrapper: each transaction response holds
// one statement.
func (d *descent) responses(trnrs, stmtrs, acctFrom string) handler {
	return func(el element) (bool, error) {
		if el.name != trnrs || el.isLeaf() {
			return false, nil
		}
		return true, d.aggregate(el, func(c element) (bool, error) {
			if c.name != stmtrs || c.isLeaf() {
				return false, nil
			}
			return true, d.statement(c, acctFrom)
		})
	}
}

// rawTxn collects the leaf values of one STMTTRN. Values are converted once
// the enclosing statement, and with it CURDEF, is complete.
type rawTxn struct {
	line   int
	fields map[string]element
}

func (r rawTxn) get(name string) (element, bool) {
	el, ok := r.fields[name]
	return el, ok && el.value != ""
}

func (d *descent) statement(open element, acctFrom string) error {
	var (
		number, acctType string
		curdef           element
		start, end       element
		txns             []rawTxn
	)

	err := d.aggregate(open, func(el element) (bool, error) {
		switch {
		case el.name == "CURDEF" && el.isLeaf():
			curdef = el
			return true, nil
		case el.name == acctFrom && !el.isLeaf():
			return true, d.aggregate(el, func(f element) (bool, error) {
				switch {
				case f.name == "ACCTID" && f.isLeaf():
					number = f.value
				case f.name == "ACCTTYPE" && f.isLeaf():
					acctType = f.value
				default:
					return false, nil
				}
				return true, nil
			})
		case el.name == "BANKTRANLIST" && !el.isLeaf():
			return true, d.aggregate(el, func(c element) (bool, error) {
				switch {
				case c.name == "DTSTART" && c.isLeaf():
					start = c
				case c.name == "DTEND" && c.isLeaf():
					end = c
				case c.name == "STMTTRN" && !c.isLeaf():
					if err := d.ctx.Err(); err != nil {
						return true, err
					}
					raw, err := d.transaction(c)
					if err != nil {
						return true, err
					}
					txns = append(txns, raw)
				default:
					return false, nil
				}
				return true, nil
			})
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	if acctType == "" && acctFrom == "CCACCTFROM" {
		acctType = "CREDITCARD"
	}
	as := &parser.AccountStatement{}
	currency := d.opts.DefaultCurrency
	if curdef.value != "" {
		currency = curdef.value
	}
	cur, err := d.opts.Currencies.Currency(currency)
	if err != nil {
		return importerr.Format(currency, "unknown currency").AtLine(curdef.line)
	}
	if number != "" {
		acct, err := parser.NewRawAccount("", number, acctType)
		if err != nil {
			return err
		}
		acct.SetCurrency(cur.Code)
		as.Account = acct
	}
	if start.value != "" && end.value != "" {
		s, err := parseDate(start)
		if err != nil {
			return err
		}
		e, err := parseDate(end)
		if err != nil {
			return err
		}
		if period, err := parser.NewPeriod(s, e); err == nil {
			as.Period = period
		}
	}

	for _, raw := range txns {
		entry, err := buildEntry(raw, cur.Fraction)
		if err != nil {
			return err
		}
		as.Entries = append(as.Entries, entry)
	}
	d.stmt.Accounts = append(d.stmt.Accounts, as)
	return nil
}

// transaction collects the leaves of a STMTTRN. The NAME inside a PAYEE
// aggregate is kept as a fallback payee name.
func (d *descent) transaction(open element) (rawTxn, error) {
	raw := rawTxn{line: open.line, fields: make(map[string]element)}
	err := d.aggregate(open, func(el element) (bool, error) {
		if el.isLeaf() {
			raw.fields[el.name] = el
			return true, nil
		}
		if el.name == "PAYEE" {
			return true, d.aggregate(el, func(f element) (bool, error) {
				if f.name == "NAME" && f.isLeaf() {
					raw.fields["PAYEE.NAME"] = f
					return true, nil
				}
				return false, nil
			})
		}
		return false, nil
	})
	return raw, err
}

func buildEntry(raw rawTxn, fraction int) (domain.EntryData, error) {
	var e domain.EntryData

	posted, ok := raw.get("DTPOSTED")
	if !ok {
		return e, importerr.Format("", "transaction has no DTPOSTED").AtLine(raw.line)
	}
	postedDate, err := parseDate(posted)
	if err != nil {
		return e, err
	}
	// DTPOSTED is the value date; DTUSER, when the bank sends it, is kept
	// alongside for reference only.
	e.Date = postedDate
	bank := &domain.BankFields{}
	if user, ok := raw.get("DTUSER"); ok {
		if bank.UserDate, err = parseDate(user); err != nil {
			return e, err
		}
	}

	amt, ok := raw.get("TRNAMT")
	if !ok {
		return e, importerr.Format("", "transaction has no TRNAMT").AtLine(raw.line)
	}
	if e.Amount, err = parseAmount(amt, fraction); err != nil {
		return e, err
	}

	name, _ := raw.get("NAME")
	if name.value == "" {
		name, _ = raw.get("PAYEE.NAME")
	}
	memo, _ := raw.get("MEMO")
	e.Payee = name.value
	e.Memo = combineNameMemo(name.value, memo.value)

	if n, ok := raw.get("CHECKNUM"); ok {
		e.CheckNumber = n.value
	}
	if id, ok := raw.get("FITID"); ok {
		e.UniqueID = id.value
		bank.FITID = id.value
	}
	if t, ok := raw.get("TRNTYPE"); ok {
		bank.TransactionType = strings.ToUpper(t.value)
	}
	if sic, ok := raw.get("SIC"); ok {
		bank.SIC = sic.value
	}
	e.Ext.Bank = bank
	return e, nil
}

// combineNameMemo merges NAME and MEMO. Banks put the same information in
// either field, so a single present value becomes the memo and two values
// are joined.
func combineNameMemo(name, memo string) string {
	switch {
	case name == "":
		return memo
	case memo == "":
		return name
	}
	return name + " " + memo
}

// parseDate decodes the yyyyMMdd prefix of an OFX date-time.
func parseDate(el element) (time.Time, error) {
	if len(el.value) < 8 {
		return time.Time{}, importerr.Format(el.value, "expected date starting with yyyyMMdd").AtLine(el.line)
	}
	t, err := value.ParseDate(el.value[:8], "20060102")
	return t, importerr.WithLine(err, el.line)
}

// parseAmount decodes a signed decimal amount. A comma is accepted as the
// decimal separator when no point is present.
func parseAmount(el element, fraction int) (int64, error) {
	v := el.value
	if strings.Contains(v, ",") && !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	d, err := value.ParseDecimal(v)
	if err != nil {
		return 0, importerr.WithLine(err, el.line)
	}
	n, err := value.DecimalToMinor(d, fraction)
	return n, importerr.WithLine(err, el.line)
}
