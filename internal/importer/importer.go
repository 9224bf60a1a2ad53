// Package importer runs one file through the pipeline inside one ledger
// session. Nothing reaches the ledger unless the whole file was read,
// matched and validated; the session is then committed in one call.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/qif"
	"github.com/rumor-ml/commons.systems/finimport/internal/registry"
	"github.com/rumor-ml/commons.systems/finimport/internal/rules"
	"github.com/rumor-ml/commons.systems/finimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/finimport/internal/validate"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// Request names one file to import.
type Request struct {
	Path string
	// Profile selects the column layout of a tabular file.
	Profile string
	// AccountHint picks the account: the card digits for tabular feeds, an
	// account name or number for statements.
	AccountHint string
	// DryRun validates everything and then discards the session.
	DryRun bool
}

// Options configure an Importer.
type Options struct {
	// Rules categorize entries that carry no category. Nil loads the
	// embedded rules, or cfg.RulesFile when set.
	Rules *rules.Engine
	// Root is the statement directory used to derive institution and
	// account from a file's path.
	Root   string
	Logger *log.Logger
}

// Importer imports files into a ledger store.
type Importer struct {
	store    *ledger.Store
	cfg      *config.Config
	currency value.Currency
	registry *registry.Registry
	rules    *rules.Engine
	scanner  *scanner.Scanner
	logger   *log.Logger
	now      func() time.Time
}

// New creates an importer.
func New(store *ledger.Store, cfg *config.Config, opts Options) (*Importer, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	currency, err := value.ISOCurrencies{}.Currency(cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("invalid default currency: %w", err)
	}

	if opts.Rules == nil {
		if cfg.RulesFile != "" {
			opts.Rules, err = rules.LoadFromFile(cfg.RulesFile)
		} else {
			opts.Rules, err = rules.LoadEmbedded()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load category rules: %w", err)
		}
	}

	reg, err := registry.NewWithOptions(registry.Options{
		QIF: qif.Options{DateLayout: cfg.QIF.DateLayout, Charset: cfg.QIF.Charset, Currency: currency},
		OFX: ofx.Options{Charset: cfg.OFX.Charset, DefaultCurrency: currency.Code, Logger: opts.Logger},
	})
	if err != nil {
		return nil, err
	}

	return &Importer{
		store:    store,
		cfg:      cfg,
		currency: currency,
		registry: reg,
		rules:    opts.Rules,
		scanner:  scanner.New(opts.Root),
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// ImportFile imports one file. The returned report is never nil; on error
// it describes how far the import got and nothing was committed.
func (im *Importer) ImportFile(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{File: req.Path, StartedAt: im.now(), DryRun: req.DryRun}
	if err := im.importFile(ctx, req, rep); err != nil {
		rep.Error = err.Error()
		return rep, fmt.Errorf("failed to import %s: %w", req.Path, err)
	}
	return rep, nil
}

func (im *Importer) importFile(ctx context.Context, req Request, rep *Report) error {
	kind := scanner.KindOf(req.Path)
	if kind == "" {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(req.Path))
	}

	s, err := im.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if !s.Closed() {
			s.Discard()
		}
	}()
	m := matcher.New(s, matcher.Options{StagingPrefix: im.cfg.StagingPrefix, Logger: im.logger})

	switch kind {
	case scanner.KindTabular:
		err = im.importTable(ctx, m, req, rep)
	default:
		err = im.importStatement(ctx, m, req, rep)
	}
	if err != nil {
		return err
	}

	result := validate.ValidateSession(s)
	for _, w := range result.Warnings {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s %s: %s", w.Entity, w.ID, w.Message))
	}
	if err := result.Err(); err != nil {
		return err
	}

	changes := s.Changes()
	rep.TransactionsWritten = len(changes.Upserted)
	rep.TransactionsDeleted = len(changes.Deleted)
	for _, a := range changes.Accounts {
		rep.AccountsCreated = append(rep.AccountsCreated, a.Name)
	}

	if req.DryRun {
		s.Discard()
		im.logger.Info("dry run, nothing committed", "file", filepath.Base(req.Path), "transactions", rep.TransactionsWritten)
		return nil
	}
	if err := s.Commit(ctx); err != nil {
		return err
	}
	rep.Committed = true
	im.logger.Info("imported file", "file", filepath.Base(req.Path), "format", rep.Format,
		"transactions", rep.TransactionsWritten, "deleted", rep.TransactionsDeleted)
	return nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func closeFile(f *os.File, logger *log.Logger) {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("failed to close file", "file", f.Name(), "err", err)
	}
}

func description(label, path string) string {
	return label + ": " + filepath.Base(path)
}
