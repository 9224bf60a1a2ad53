package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/builder"
	"github.com/rumor-ml/commons.systems/finimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/transform"
)

// importStatement posts a QIF or OFX file. Any error aborts the file.
func (im *Importer) importStatement(ctx context.Context, m *matcher.Matcher, req Request, rep *Report) error {
	p, meta, stmt, err := im.parseStatement(ctx, req)
	if err != nil {
		return err
	}
	rep.Format = p.Name()
	rep.Rows = stmt.EntryCount()
	rep.Memorized = len(stmt.Memorized)
	s := m.Session()

	for _, c := range stmt.Categories {
		if _, err := m.CategoryAccount(c.Name, im.currency.Code); err != nil {
			return fmt.Errorf("category %q: %w", c.Name, err)
		}
	}

	b := builder.New(m, builder.Options{
		Description:     description(strings.ToUpper(p.Name()), req.Path),
		DefaultCategory: im.cfg.DefaultCategory,
		Categories:      im.rules,
		Logger:          im.logger,
	})
	tracker := dedup.NewTracker()

	for _, as := range stmt.Accounts {
		acct, err := im.statementAccount(s, as, meta, req.AccountHint)
		if err != nil {
			return err
		}
		for _, e := range as.Entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.UniqueID == "" {
				e.UniqueID = tracker.Assign(e)
			}
			if m.FindUniqueID(acct, e.UniqueID) != nil {
				im.logger.Debug("already imported", "account", acct.Name, "id", e.UniqueID)
				rep.Skipped++
				continue
			}
			if manual := m.FindManualMatch(acct, e); manual != nil {
				if err := s.Update(manual, func(x *ledger.Entry) { stamp(x, e) }); err != nil {
					return err
				}
				im.logger.Debug("merged into manual entry", "account", acct.Name, "id", e.UniqueID, "entry", manual.ID)
				rep.Merged++
				continue
			}
			if _, err := b.Post(ctx, builder.Posting{Account: acct, Entry: e}); err != nil {
				return fmt.Errorf("entry dated %s: %w", e.Date.Format(domain.DateLayout), err)
			}
			rep.Posted++
		}
	}
	rep.Fingerprinted = tracker.Total()
	if rep.Memorized > 0 {
		im.logger.Debug("memorized transactions are not posted", "count", rep.Memorized)
	}
	return nil
}

// stamp copies the identity of an imported entry onto the manual entry it
// was merged into.
func stamp(x *ledger.Entry, e domain.EntryData) {
	x.UniqueID = e.UniqueID
	if x.ClearedDate.IsZero() {
		x.ClearedDate = e.ClearedDate
	}
	if x.Payee == "" {
		x.Payee = e.Payee
	}
	if e.Ext.Bank != nil && x.Ext.Bank == nil {
		b := *e.Ext.Bank
		x.Ext.Bank = &b
	}
}

func (im *Importer) parseStatement(ctx context.Context, req Request) (parser.Parser, *parser.Metadata, *parser.Statement, error) {
	p, err := im.registry.FindParser(req.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	meta, err := im.scanner.Describe(req.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := openFile(req.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer closeFile(f, im.logger)

	stmt, err := p.Parse(ctx, f, meta)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, meta, stmt, nil
}

// statementAccount finds the ledger account of one account section: by the
// command-line hint, then by the number and name the file gives, then by
// the number taken from the directory layout. A section naming an account
// that does not exist yet creates it.
func (im *Importer) statementAccount(s *ledger.Session, as *parser.AccountStatement, meta *parser.Metadata, hint string) (*ledger.Account, error) {
	if hint != "" {
		if l := s.AccountByName(hint); l.Status == ledger.Found {
			return l.Account, nil
		}
		return lookupNumber(s, hint)
	}

	var name, number, rawType, currency string
	if as.Account != nil {
		name, number = as.Account.Name(), as.Account.Number()
		rawType, currency = as.Account.AccountType(), as.Account.Currency()
	}
	if number == "" && meta != nil {
		number = meta.AccountNumber()
	}

	if number != "" {
		l := s.AccountByNumber(number)
		switch l.Status {
		case ledger.Found:
			return l.Account, nil
		case ledger.Ambiguous:
			return nil, &importerr.AccountResolutionError{Query: number, Ambiguous: true, Candidates: l.Names()}
		}
	}
	if name != "" {
		if l := s.AccountByName(name); l.Status == ledger.Found {
			return l.Account, nil
		}
	}
	if name == "" && number == "" {
		return nil, &importerr.AccountResolutionError{Query: "statement account (use an account hint)"}
	}

	kind, err := transform.MapAccountKind(rawType)
	if err != nil {
		return nil, err
	}
	if name == "" {
		institution := ""
		if meta != nil {
			institution = meta.Institution()
		}
		name = transform.AccountName(institution, number)
	}
	if currency == "" {
		currency = im.currency.Code
	}
	im.logger.Info("creating account", "name", name, "kind", kind, "currency", currency)
	return s.CreateAccount(ledger.Account{Name: name, Number: number, Currency: strings.ToUpper(currency), Kind: kind})
}

func lookupNumber(s *ledger.Session, number string) (*ledger.Account, error) {
	l := s.AccountByNumber(number)
	if l.Status != ledger.Found {
		return nil, &importerr.AccountResolutionError{Query: number, Ambiguous: l.Status == ledger.Ambiguous, Candidates: l.Names()}
	}
	return l.Account, nil
}
