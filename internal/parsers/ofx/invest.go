package ofx

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// parseInvestment decodes investment statements with ofxgo. Cash movements
// become plain entries, trades and income carry InvestmentFields.
func (p *Parser) parseInvestment(content []byte) (*parser.Statement, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, importerr.Format("", "invalid OFX investment response: %v", err)
	}

	stmt := &parser.Statement{}
	for i, msg := range resp.InvStmt {
		invStmt, ok := msg.(*ofxgo.InvStatementResponse)
		if !ok {
			return nil, fmt.Errorf("failed to type assert investment statement: expected *ofxgo.InvStatementResponse, got %T", msg)
		}
		as, err := p.investmentStatement(invStmt)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		stmt.Accounts = append(stmt.Accounts, as)
	}
	return stmt, nil
}

func (p *Parser) investmentStatement(s *ofxgo.InvStatementResponse) (*parser.AccountStatement, error) {
	code := s.CurDef.String()
	if code == "" {
		code = p.opts.DefaultCurrency
	}
	cur, err := p.opts.Currencies.Currency(code)
	if err != nil {
		return nil, importerr.Format(code, "unknown currency")
	}

	as := &parser.AccountStatement{Investment: true}
	if id := s.InvAcctFrom.AcctID.String(); id != "" {
		acct, err := parser.NewRawAccount("", id, "investment")
		if err != nil {
			return nil, err
		}
		acct.SetCurrency(cur.Code)
		as.Account = acct
	}
	if s.InvTranList == nil {
		return as, nil
	}
	if period, err := parser.NewPeriod(s.InvTranList.DtStart.Time, s.InvTranList.DtEnd.Time); err == nil {
		as.Period = period
	}

	for _, bank := range s.InvTranList.BankTransactions {
		for _, txn := range bank.Transactions {
			e, err := cashEntry(txn, cur.Fraction)
			if err != nil {
				return nil, err
			}
			as.Entries = append(as.Entries, e)
		}
	}

	for _, txn := range s.InvTranList.InvTransactions {
		e, ok, err := tradeEntry(txn, cur.Fraction)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.opts.Logger.Warn("skipping unsupported investment transaction", "type", txn.TransactionType())
			continue
		}
		as.Entries = append(as.Entries, e)
	}
	return as, nil
}

// cashEntry converts an INVBANKTRAN transaction.
func cashEntry(txn ofxgo.Transaction, fraction int) (domain.EntryData, error) {
	var e domain.EntryData
	id := txn.FiTID.String()

	// ofxgo requires DTPOSTED, which is the value date here
	e.Date = txn.DtPosted.Time
	if e.Date.IsZero() {
		return e, importerr.Format(id, "investment cash transaction has no date")
	}
	amount, err := toMinor(txn.TrnAmt, fraction)
	if err != nil {
		return e, err
	}
	e.Amount = amount
	e.Payee = strings.TrimSpace(txn.Name.String())
	e.Memo = combineNameMemo(e.Payee, strings.TrimSpace(txn.Memo.String()))
	e.CheckNumber = txn.CheckNum.String()
	e.UniqueID = id
	e.Ext.Bank = &domain.BankFields{FITID: id, TransactionType: txn.TrnType.String()}
	return e, nil
}

// tradeEntry converts a security transaction. ok is false for transaction
// types that are not imported.
func tradeEntry(txn ofxgo.InvTransaction, fraction int) (domain.EntryData, bool, error) {
	var (
		tran     ofxgo.InvTran
		security string
		units    ofxgo.Amount
		price    ofxgo.Amount
		fee      ofxgo.Amount
		total    ofxgo.Amount
	)
	switch t := txn.(type) {
	case ofxgo.BuyStock:
		tran, security, units, price, fee, total = t.InvBuy.InvTran, t.InvBuy.SecID.UniqueID.String(), t.InvBuy.Units, t.InvBuy.UnitPrice, t.InvBuy.Commission, t.InvBuy.Total
	case ofxgo.BuyMF:
		tran, security, units, price, fee, total = t.InvBuy.InvTran, t.InvBuy.SecID.UniqueID.String(), t.InvBuy.Units, t.InvBuy.UnitPrice, t.InvBuy.Commission, t.InvBuy.Total
	case ofxgo.SellStock:
		tran, security, units, price, fee, total = t.InvSell.InvTran, t.InvSell.SecID.UniqueID.String(), t.InvSell.Units, t.InvSell.UnitPrice, t.InvSell.Commission, t.InvSell.Total
	case ofxgo.SellMF:
		tran, security, units, price, fee, total = t.InvSell.InvTran, t.InvSell.SecID.UniqueID.String(), t.InvSell.Units, t.InvSell.UnitPrice, t.InvSell.Commission, t.InvSell.Total
	case ofxgo.Income:
		tran, security, total = t.InvTran, t.SecID.UniqueID.String(), t.Total
	default:
		return domain.EntryData{}, false, nil
	}

	e := domain.EntryData{
		Date:     tran.DtTrade.Time,
		Memo:     strings.TrimSpace(tran.Memo.String()),
		UniqueID: tran.FiTID.String(),
	}
	if e.Date.IsZero() {
		return e, false, importerr.Format(e.UniqueID, "investment transaction has no trade date")
	}
	amount, err := toMinor(total, fraction)
	if err != nil {
		return e, false, err
	}
	e.Amount = amount
	e.Ext.Investment = &domain.InvestmentFields{
		Action:     txn.TransactionType(),
		Security:   security,
		Quantity:   toDecimal(units),
		Price:      toDecimal(price),
		Commission: toDecimal(fee),
	}
	return e, true, nil
}

func toDecimal(a ofxgo.Amount) decimal.Decimal {
	d, err := decimal.NewFromString(a.FloatString(8))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// toMinor rounds to the currency's minor unit. Brokers report totals with
// more precision than the currency has.
func toMinor(a ofxgo.Amount, fraction int) (int64, error) {
	return value.DecimalToMinor(toDecimal(a).Round(int32(fraction)), fraction)
}
