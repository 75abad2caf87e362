package exposure

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const eurusd = market.Symbol("EURUSD")

func TestApplyFillNetsAcrossAccounts(t *testing.T) {
	t.Parallel()

	l := NewLedger()

	_, err := l.ApplyFill("A1", eurusd, market.Buy, d("1.5"), d("1.0842"))
	require.NoError(t, err)
	snap, err := l.ApplyFill("A2", eurusd, market.Sell, d("0.5"), d("1.0840"))
	require.NoError(t, err)

	assert.True(t, snap.NetVolume.Equal(d("1.0")), snap.NetVolume)
	assert.True(t, snap.Long.Equal(d("1.5")))
	assert.True(t, snap.Short.Equal(d("0.5")))
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, snap, l.Snapshot(eurusd))
}

func TestConcurrentFillsSumExactly(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := market.Buy
			if i%4 == 0 {
				side = market.Sell
			}
			_, err := l.ApplyFill(fmt.Sprintf("A%d", i%7), eurusd, side, d("0.01"), d("1.1"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 150 buys, 50 sells
	snap := l.Snapshot(eurusd)
	assert.True(t, snap.NetVolume.Equal(d("1.00")), snap.NetVolume)
	assert.Equal(t, uint64(n), snap.Seq)

	sum := decimal.Zero
	for i := 0; i < 7; i++ {
		sum = sum.Add(l.Position(fmt.Sprintf("A%d", i), eurusd).NetVolume)
	}
	assert.True(t, sum.Equal(snap.NetVolume))
}

func TestPositionAveraging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fills   [][3]string // side, volume, price
		wantNet string
		wantAvg string
	}{
		{"open", [][3]string{{"buy", "1", "1.10"}}, "1", "1.10"},
		{"grow vwap", [][3]string{{"buy", "1", "1.10"}, {"buy", "3", "1.20"}}, "4", "1.175"},
		{"shrink keeps entry", [][3]string{{"buy", "2", "1.10"}, {"sell", "0.5", "1.30"}}, "1.5", "1.10"},
		{"close flat", [][3]string{{"sell", "1", "1.10"}, {"buy", "1", "1.00"}}, "0", "0"},
		{"flip resets entry", [][3]string{{"buy", "1", "1.10"}, {"sell", "3", "1.05"}}, "-2", "1.05"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewLedger()
			for _, f := range tt.fills {
				_, err := l.ApplyFill("A1", eurusd, market.Side(f[0]), d(f[1]), d(f[2]))
				require.NoError(t, err)
			}
			p := l.Position("A1", eurusd)
			assert.True(t, p.NetVolume.Equal(d(tt.wantNet)), "net %s", p.NetVolume)
			assert.True(t, p.AvgEntryPrice.Equal(d(tt.wantAvg)), "avg %s", p.AvgEntryPrice)
		})
	}
}

func TestExclusiveRollsBackOnError(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	_, err := l.ApplyFill("A1", eurusd, market.Buy, d("1"), d("1.1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	snap, err := l.Exclusive(eurusd, func(tx *Tx) error {
		if _, err := tx.Apply("A1", market.Buy, d("2"), d("1.2")); err != nil {
			return err
		}
		if _, err := tx.Apply("A2", market.Sell, d("5"), d("1.2")); err != nil {
			return err
		}
		assert.True(t, tx.Net().Equal(d("-2")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.True(t, snap.NetVolume.Equal(d("1")))
	assert.Equal(t, uint64(1), snap.Seq)
	assert.True(t, l.Position("A1", eurusd).AvgEntryPrice.Equal(d("1.1")))
	assert.True(t, l.Position("A2", eurusd).Flat())
	assert.Empty(t, l.Positions("A2"))
}

func TestExclusiveRollsBackOnPanic(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	_, err := l.ApplyFill("A1", eurusd, market.Buy, d("1"), d("1.1"))
	require.NoError(t, err)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = l.Exclusive(eurusd, func(tx *Tx) error {
			_, err := tx.Apply("A1", market.Buy, d("2"), d("1.2"))
			require.NoError(t, err)
			panic("boom")
		})
	})

	assert.True(t, l.Snapshot(eurusd).NetVolume.Equal(d("1")))
	assert.True(t, l.Position("A1", eurusd).NetVolume.Equal(d("1")))
	assert.True(t, l.Position("A1", eurusd).AvgEntryPrice.Equal(d("1.1")))

	// the symbol lock was released
	snap, err := l.ApplyFill("A1", eurusd, market.Sell, d("1"), d("1.1"))
	require.NoError(t, err)
	assert.True(t, snap.NetVolume.IsZero())
	assert.Equal(t, uint64(2), snap.Seq)
}

func TestApplyFillValidation(t *testing.T) {
	t.Parallel()

	l := NewLedger()

	_, err := l.ApplyFill("A1", eurusd, market.Buy, d("0"), d("1.1"))
	assert.ErrorIs(t, err, risk.ErrInvalidVolume)

	_, err = l.ApplyFill("A1", eurusd, market.Side("hold"), d("1"), d("1.1"))
	assert.Error(t, err)

	_, err = l.ApplyFill("", eurusd, market.Buy, d("1"), d("1.1"))
	assert.Error(t, err)

	_, err = l.ApplyFill("A1", "", market.Buy, d("1"), d("1.1"))
	assert.ErrorIs(t, err, risk.ErrConfiguration)

	assert.Equal(t, uint64(0), l.Snapshot(eurusd).Seq)
}

func TestApplyHedgeFillNeverGrowsExposure(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	_, err := l.ApplyFill("A1", eurusd, market.Buy, d("3"), d("1.1"))
	require.NoError(t, err)

	// wrong side: ignored
	snap, applied, err := l.ApplyHedgeFill(eurusd, market.Buy, d("1"), d("1.1"))
	require.NoError(t, err)
	assert.True(t, applied.IsZero())
	assert.True(t, snap.NetVolume.Equal(d("3")))

	snap, applied, err = l.ApplyHedgeFill(eurusd, market.Sell, d("2"), d("1.1"))
	require.NoError(t, err)
	assert.True(t, applied.Equal(d("2")))
	assert.True(t, snap.NetVolume.Equal(d("1")))

	// larger than exposure: flattens only
	snap, applied, err = l.ApplyHedgeFill(eurusd, market.Sell, d("5"), d("1.1"))
	require.NoError(t, err)
	assert.True(t, applied.Equal(d("1")))
	assert.True(t, snap.NetVolume.IsZero())

	assert.True(t, l.Position(HedgeAccount, eurusd).NetVolume.Equal(d("-3")))
}

func TestSubscribeSeesLatestSnapshot(t *testing.T) {
	t.Parallel()

	var observed []uint64
	l := NewLedger(WithObserver(func(s Snapshot) { observed = append(observed, s.Seq) }))
	sub := l.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 3; i++ {
		_, err := l.ApplyFill("A1", eurusd, market.Buy, d("0.1"), d("1.1"))
		require.NoError(t, err)
	}
	_, err := l.ApplyFill("A1", "USDJPY", market.Sell, d("0.2"), d("150"))
	require.NoError(t, err)

	got := sub.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, eurusd, got[0].Symbol)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.True(t, got[1].NetVolume.Equal(d("-0.2")))
	assert.Equal(t, []uint64{1, 2, 3, 1}, observed)
}

func TestSnapshotsAndPositions(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	assert.Empty(t, l.Snapshots())
	assert.Equal(t, Snapshot{Symbol: eurusd}, l.Snapshot(eurusd))

	_, err := l.ApplyFill("A1", "USDJPY", market.Buy, d("1"), d("150"))
	require.NoError(t, err)
	_, err = l.ApplyFill("A1", eurusd, market.Sell, d("1"), d("1.1"))
	require.NoError(t, err)

	snaps := l.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, eurusd, snaps[0].Symbol)

	pos := l.Positions("A1")
	require.Len(t, pos, 2)
	assert.Equal(t, eurusd, pos[0].Symbol)
	assert.True(t, pos[0].NetVolume.Equal(d("-1")))
}
