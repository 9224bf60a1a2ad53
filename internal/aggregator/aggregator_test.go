package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/matcher"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, key domain.GroupKey, side matcher.Side, partial, currency string) (matcher.Resolution, error) {
	args := m.Called(key.String(), side)
	return args.Get(0).(matcher.Resolution), args.Error(1)
}

type recordingBuilder struct {
	groups []*PendingGroup
	fail   map[string]error
}

func (b *recordingBuilder) Materialize(_ context.Context, g *PendingGroup) error {
	if err := b.fail[g.Key.String()]; err != nil {
		return err
	}
	b.groups = append(b.groups, g)
	return nil
}

var jan1 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func item(order string, line int, amount int64) Item {
	return Item{
		Key:           domain.GroupKey{OrderID: order, ShipmentDate: jan1},
		Line:          line,
		Entry:         domain.EntryData{Amount: amount},
		PartialNumber: "1234",
	}
}

func TestAggregator_GroupsConsecutiveRows(t *testing.T) {
	ctx := context.Background()
	res := &mockResolver{}
	res.On("Resolve", "X1~2020-01-01", matcher.ItemsSide).Return(matcher.Resolution{Mode: matcher.Unmatched}, nil).Once()
	res.On("Resolve", "X2~2020-01-01", matcher.ItemsSide).Return(matcher.Resolution{Mode: matcher.Matched}, nil).Once()
	b := &recordingBuilder{}
	a := New(matcher.ItemsSide, res, b, nil)

	assert.Equal(t, Idle, a.State())
	require.NoError(t, a.Offer(ctx, item("X1", 2, 100)))
	assert.Equal(t, Accumulating, a.State())
	require.NoError(t, a.Offer(ctx, item("X1", 3, 200)))
	require.NoError(t, a.Offer(ctx, item("X1", 4, 300)))
	assert.Empty(t, b.groups, "nothing is built while the key is unchanged")

	require.NoError(t, a.Offer(ctx, item("X2", 5, 50)))
	require.Len(t, b.groups, 1)
	first := b.groups[0]
	assert.True(t, first.Closed())
	assert.Len(t, first.Items, 3)
	assert.Equal(t, int64(600), first.Total())
	assert.Equal(t, Accumulating, a.State())

	require.NoError(t, a.Finish(ctx))
	assert.Equal(t, Idle, a.State())
	require.Len(t, b.groups, 2)
	assert.Equal(t, matcher.Matched, b.groups[1].Resolution.Mode)
	assert.Equal(t, Stats{Built: 2}, a.Stats())
	assert.NoError(t, a.Rejected())
	res.AssertExpectations(t)
}

func TestAggregator_RejectsGroupOnDuplicate(t *testing.T) {
	ctx := context.Background()
	res := &mockResolver{}
	res.On("Resolve", "X1~2020-01-01", matcher.ItemsSide).
		Return(matcher.Resolution{}, importerr.Duplicate("X1~2020-01-01", "already imported")).Once()
	res.On("Resolve", "X2~2020-01-01", matcher.ItemsSide).Return(matcher.Resolution{}, nil).Once()
	b := &recordingBuilder{}
	a := New(matcher.ItemsSide, res, b, nil)

	require.NoError(t, a.Offer(ctx, item("X1", 2, 100)))
	require.NoError(t, a.Offer(ctx, item("X1", 3, 100)), "later rows of a rejected group are dropped")
	require.NoError(t, a.Offer(ctx, item("X2", 4, 100)))
	require.NoError(t, a.Finish(ctx))

	require.Len(t, b.groups, 1)
	assert.Equal(t, "X2", b.groups[0].Key.OrderID)
	assert.Equal(t, Stats{Built: 1, Rejected: 1, Dropped: 1}, a.Stats())

	errs := a.RejectedErrors()
	require.Len(t, errs, 1)
	var dup *importerr.DuplicateImportError
	assert.True(t, errors.As(errs[0], &dup))
	assert.Contains(t, errs[0].Error(), "line 2")
	res.AssertExpectations(t)
}

func TestAggregator_MaterializeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("group local", func(t *testing.T) {
		res := &mockResolver{}
		res.On("Resolve", mock.Anything, matcher.ChargeSide).Return(matcher.Resolution{}, nil)
		b := &recordingBuilder{fail: map[string]error{
			"X1~2020-01-01": &importerr.AccountResolutionError{Query: "Groceries", Ambiguous: true},
		}}
		a := New(matcher.ChargeSide, res, b, nil)
		require.NoError(t, a.Offer(ctx, item("X1", 2, -100)))
		require.NoError(t, a.Offer(ctx, item("X2", 3, -100)))
		require.NoError(t, a.Finish(ctx))
		assert.Len(t, b.groups, 1)
		assert.Error(t, a.Rejected())
	})

	t.Run("invariant propagates", func(t *testing.T) {
		res := &mockResolver{}
		res.On("Resolve", mock.Anything, matcher.ItemsSide).Return(matcher.Resolution{}, nil)
		b := &recordingBuilder{fail: map[string]error{
			"X1~2020-01-01": importerr.Invariant("unbalanced"),
		}}
		a := New(matcher.ItemsSide, res, b, nil)
		require.NoError(t, a.Offer(ctx, item("X1", 2, 100)))
		err := a.Finish(ctx)
		var inv *importerr.InternalInvariantError
		assert.True(t, errors.As(err, &inv))
		assert.Equal(t, Idle, a.State())
	})
}

func TestAggregator_ResolverFailurePropagates(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, matcher.ItemsSide).Return(matcher.Resolution{}, context.Canceled)
	a := New(matcher.ItemsSide, res, &recordingBuilder{}, nil)
	err := a.Offer(context.Background(), item("X1", 2, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPendingGroup_Accept(t *testing.T) {
	g := &PendingGroup{Key: domain.GroupKey{OrderID: "X1", ShipmentDate: jan1}}
	assert.True(t, g.Accept(item("X1", 1, 1)))

	other := item("X1", 2, 1)
	other.Key.ShipmentDate = jan1.AddDate(0, 0, 1)
	assert.False(t, g.Accept(other), "same order, different shipment")
	assert.False(t, g.Accept(item("X2", 3, 1)))

	sameDayLater := item("X1", 4, 1)
	sameDayLater.Key.ShipmentDate = jan1.Add(13 * time.Hour)
	assert.True(t, g.Accept(sameDayLater), "keys compare by calendar date")

	g.closed = true
	assert.False(t, g.Accept(item("X1", 5, 1)))
	assert.Len(t, g.Items, 2)
}
