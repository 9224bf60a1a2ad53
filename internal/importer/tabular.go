package importer

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/finimport/internal/aggregator"
	"github.com/rumor-ml/commons.systems/finimport/internal/builder"
	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/feed"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/csv"
)

func (im *Importer) profile(req Request) (config.Profile, error) {
	if req.Profile == "" {
		return config.Profile{}, fmt.Errorf("tabular file needs an import profile (one of: %v)", im.cfg.ProfileNames())
	}
	return im.cfg.Profile(req.Profile)
}

// importTable reads an items or orders feed. Rejected groups are reported
// and do not stop the file.
func (im *Importer) importTable(ctx context.Context, m *matcher.Matcher, req Request, rep *Report) error {
	profile, err := im.profile(req)
	if err != nil {
		return err
	}
	rep.Format = profile.Name

	f, err := openFile(req.Path)
	if err != nil {
		return err
	}
	defer closeFile(f, im.logger)

	src, err := csv.Open(req.Path, f, profile.CommaRune(), profile.Charset)
	if err != nil {
		return fmt.Errorf("failed to read table: %w", err)
	}

	b := builder.New(m, builder.Options{
		Description:     description(profile.SourceLabel(), req.Path),
		DefaultCategory: im.cfg.DefaultCategory,
		Categories:      im.rules,
		Logger:          im.logger,
	})
	agg := aggregator.New(feed.Side(profile), m, b, im.logger)
	h := feed.New(profile, agg, feed.Options{
		AccountHint: req.AccountHint,
		Currency:    im.currency,
		Logger:      im.logger,
	})

	n, err := csv.Import(ctx, src, profile.Schema(), h)
	rep.Rows = n
	stats := agg.Stats()
	rep.GroupsBuilt = stats.Built
	rep.GroupsRejected = stats.Rejected
	rep.RowsDropped = stats.Dropped
	for _, e := range agg.RejectedErrors() {
		rep.Rejected = append(rep.Rejected, e.Error())
	}
	if err != nil {
		return err
	}
	if stats.Rejected > 0 {
		im.logger.Warn("some groups were rejected", "file", req.Path, "rejected", stats.Rejected, "dropped rows", stats.Dropped)
	}
	return nil
}

// readTable decodes a tabular file into aggregator items without touching
// a ledger.
func (im *Importer) readTable(ctx context.Context, req Request) ([]aggregator.Item, error) {
	profile, err := im.profile(req)
	if err != nil {
		return nil, err
	}
	f, err := openFile(req.Path)
	if err != nil {
		return nil, err
	}
	defer closeFile(f, im.logger)

	src, err := csv.Open(req.Path, f, profile.CommaRune(), profile.Charset)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	sink := &collector{}
	h := feed.New(profile, sink, feed.Options{AccountHint: req.AccountHint, Currency: im.currency, Logger: im.logger})
	if _, err := csv.Import(ctx, src, profile.Schema(), h); err != nil {
		return nil, err
	}
	return sink.items, nil
}

type collector struct {
	items []aggregator.Item
}

func (c *collector) Offer(_ context.Context, it aggregator.Item) error {
	c.items = append(c.items, it)
	return nil
}

func (c *collector) Finish(context.Context) error { return nil }
