// Package aggregator groups consecutive tabular rows that describe one
// logical event, such as the line items of one shipment, into a
// PendingGroup that is materialized as a single transaction.
//
// The aggregator is a small state machine:
//
//	Idle --first row--> Accumulating --key change / end--> Closed --built--> Idle
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
)

// State of the aggregator.
type State int

const (
	Idle State = iota
	Accumulating
	Closed
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Closed:
		return "closed"
	}
	return "idle"
}

// Item is one row's contribution to a group.
type Item struct {
	Key  domain.GroupKey
	Line int
	// Entry is posted as is: an item subtotal on the items side, the signed
	// charge on the charge side.
	Entry domain.EntryData
	// PartialNumber identifies the charge account, e.g. its last four digits.
	PartialNumber string
	Currency      string
}

// PendingGroup accumulates the items of one group key.
type PendingGroup struct {
	Key        domain.GroupKey
	Side       matcher.Side
	Resolution matcher.Resolution
	Items      []Item
	closed     bool
}

// Accept appends it when its key equals the group key. A closed group
// accepts nothing.
func (g *PendingGroup) Accept(it Item) bool {
	if g.closed || !it.Key.Equal(g.Key) {
		return false
	}
	g.Items = append(g.Items, it)
	return true
}

// Closed reports whether the group stopped accepting rows.
func (g *PendingGroup) Closed() bool { return g.closed }

// Total returns the sum of the item amounts.
func (g *PendingGroup) Total() int64 {
	var sum int64
	for _, it := range g.Items {
		sum += it.Entry.Amount
	}
	return sum
}

// Resolver finds existing ledger state for a new group.
type Resolver interface {
	Resolve(ctx context.Context, key domain.GroupKey, side matcher.Side, partialNumber, currency string) (matcher.Resolution, error)
}

// Materializer turns a closed group into ledger entries.
type Materializer interface {
	Materialize(ctx context.Context, g *PendingGroup) error
}

// Aggregator feeds rows of one side into groups.
type Aggregator struct {
	side     matcher.Side
	resolver Resolver
	builder  Materializer
	logger   *log.Logger

	state    State
	open     *PendingGroup
	rejected *domain.GroupKey
	errs     *multierror.Error

	built   int
	dropped int
	rejects int
}

// New creates an idle aggregator for one side.
func New(side matcher.Side, resolver Resolver, builder Materializer, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{side: side, resolver: resolver, builder: builder, logger: logger}
}

// State returns the current state.
func (a *Aggregator) State() State { return a.state }

// Offer hands one row to the aggregator. Group-local errors (duplicates,
// unresolvable accounts) reject the group and are collected; any other
// error is returned and aborts the import.
func (a *Aggregator) Offer(ctx context.Context, it Item) error {
	if a.open != nil {
		if a.open.Accept(it) {
			return nil
		}
		if err := a.close(ctx); err != nil {
			return err
		}
	}

	if a.rejected != nil {
		if a.rejected.Equal(it.Key) {
			a.dropped++
			return nil
		}
		a.rejected = nil
	}

	res, err := a.resolver.Resolve(ctx, it.Key, a.side, it.PartialNumber, it.Currency)
	if err != nil {
		return a.reject(it.Key, it.Line, err)
	}

	g := &PendingGroup{Key: it.Key, Side: a.side, Resolution: res}
	if !g.Accept(it) {
		return importerr.Invariant("new %s group %s rejected its first row at line %d", res.Mode, it.Key, it.Line)
	}
	a.open = g
	a.state = Accumulating
	a.logger.Debug("opened group", "key", it.Key, "side", a.side, "mode", res.Mode)
	return nil
}

// Finish closes the open group, if any, at end of input.
func (a *Aggregator) Finish(ctx context.Context) error {
	if a.open == nil {
		return nil
	}
	return a.close(ctx)
}

func (a *Aggregator) close(ctx context.Context) error {
	g := a.open
	g.closed = true
	a.state = Closed
	a.open = nil

	err := a.builder.Materialize(ctx, g)
	a.state = Idle
	if err != nil {
		line := 0
		if len(g.Items) > 0 {
			line = g.Items[0].Line
		}
		return a.reject(g.Key, line, err)
	}
	a.built++
	return nil
}

func (a *Aggregator) reject(key domain.GroupKey, line int, err error) error {
	if !importerr.IsGroupLocal(err) {
		return err
	}
	a.logger.Warn("rejected group", "key", key, "line", line, "err", err)
	a.rejects++
	a.rejected = &key
	a.errs = multierror.Append(a.errs, fmt.Errorf("line %d: group %s: %w", line, key, err))
	return nil
}

// Rejected returns the collected group-local errors, or nil.
func (a *Aggregator) Rejected() error {
	return a.errs.ErrorOrNil()
}

// Stats reports how many groups were built and rejected, and how many rows
// were dropped because their group had already been rejected.
type Stats struct {
	Built    int
	Rejected int
	Dropped  int
}

// Stats returns the counters of this run.
func (a *Aggregator) Stats() Stats {
	return Stats{Built: a.built, Rejected: a.rejects, Dropped: a.dropped}
}

// RejectedErrors unpacks the collected errors.
func (a *Aggregator) RejectedErrors() []error {
	var me *multierror.Error
	if errors.As(a.Rejected(), &me) {
		return me.Errors
	}
	return nil
}
