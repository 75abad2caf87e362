package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/hedge"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/order"
	"github.com/rustyeddy/dealer/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scenarioConfig() *config.Config {
	cfg := config.Default()
	cfg.Simulation.Quotes = []config.QuoteStep{
		{Symbol: "EURUSD", Bid: d("1.0840"), Ask: d("1.0842")},
	}
	return cfg
}

func TestScenarioRoutesOrders(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.Simulation.Orders = []config.OrderStep{
		{Account: "ACC-1", Symbol: "EURUSD", Side: market.Buy, Volume: d("1")},
		// 1 + 6 is over the EURUSD limit of 5
		{Account: "ACC-1", Symbol: "EURUSD", Side: market.Buy, Volume: d("6")},
		{Account: "ACC-9", Symbol: "EURUSD", Side: market.Buy, Volume: d("1")},
	}

	s, err := newScenario(cfg, nil)
	require.NoError(t, err)
	defer s.close()

	results, err := s.run(context.Background(), runOptions{settle: time.Second})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, order.Settled, results[0].State)
	assert.Equal(t, market.BBook, results[0].Book)

	assert.Equal(t, order.Settled, results[1].State)
	assert.Equal(t, market.ABook, results[1].Book)
	assert.True(t, d("1.0842").Equal(results[1].FillPrice))

	assert.Equal(t, order.Aborted, results[2].State)
	assert.Equal(t, risk.CodeConfigurationError, results[2].Code)

	assert.True(t, d("1").Equal(s.ledger.Snapshot("EURUSD").NetVolume))
	assert.Empty(t, s.hedger.Archive())

	open, err := s.accounts.OpenPositions(context.Background(), "ACC-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, d("6").Equal(open[0].NetVolume))

	var out bytes.Buffer
	s.summary(&out, results)
	assert.Contains(t, out.String(), "ACC-1")
	assert.Contains(t, out.String(), "CONFIGURATION_ERROR")
	assert.Contains(t, out.String(), "LP tickets: 1 filled")
}

func TestScenarioHedgesExcess(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.Exposure.Limits["EURUSD"] = d("0.5")
	cfg.Routing.Symbols = map[market.Symbol]market.Book{"EURUSD": market.BBook}
	cfg.Simulation.Orders = []config.OrderStep{
		{Account: "ACC-1", Symbol: "EURUSD", Side: market.Buy, Volume: d("1")},
	}

	s, err := newScenario(cfg, nil)
	require.NoError(t, err)
	defer s.close()

	results, err := s.run(context.Background(), runOptions{settle: 5 * time.Second})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, market.BBook, results[0].Book)

	archive := s.hedger.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, hedge.Reconciled, archive[0].State)
	assert.Equal(t, market.Sell, archive[0].Side)
	assert.True(t, d("0.5").Equal(archive[0].Filled))
	assert.True(t, d("0.5").Equal(s.ledger.Snapshot("EURUSD").NetVolume))
	assert.Empty(t, s.hedger.Blocked())
}

func TestScenarioStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := scenarioConfig()
	cfg.Simulation.Orders = []config.OrderStep{
		{Account: "ACC-1", Symbol: "EURUSD", Side: market.Buy, Volume: d("1"), Delay: "1h"},
	}

	s, err := newScenario(cfg, nil)
	require.NoError(t, err)
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results, err := s.run(ctx, runOptions{walk: time.Millisecond})
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestScenarioReplaysTicks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(`time,symbol,bid,ask,event,arg1,arg2,arg3
2026-01-24T09:30:00Z,EUR_USD,1.1000,1.1002,ORDER,ACC-1,buy,0.5
2026-01-24T09:30:05Z,EUR_USD,1.1010,1.1012,ORDER,ACC-1,sell,0.2
`), 0o644))

	cfg := config.Default()
	s, err := newScenario(cfg, nil)
	require.NoError(t, err)
	defer s.close()

	results, err := s.run(context.Background(), runOptions{ticks: path, settle: time.Second})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, d("1.1002").Equal(results[0].FillPrice))
	assert.True(t, d("1.1010").Equal(results[1].FillPrice))
	assert.True(t, d("0.3").Equal(s.ledger.Snapshot("EURUSD").NetVolume))
}
