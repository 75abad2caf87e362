package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/journal"
	"github.com/rustyeddy/dealer/market"
)

func trade(acct string, book market.Book, sym market.Symbol, side market.Side, vol, price string) journal.Entry {
	return journal.Entry{
		ID:            "E-" + vol + price,
		AccountID:     acct,
		ReferenceType: journal.RefTrade,
		ReferenceID:   "O-1",
		Symbol:        sym,
		Side:          side,
		Volume:        d(vol),
		Price:         d(price),
		Book:          book,
		Time:          time.Now(),
	}
}

func TestAccountsBooksPostings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := NewAccounts(newQuotes(t), config.NewStore(config.Default()), nil)

	eq, err := a.Equity(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, d("10000").Equal(eq))

	require.NoError(t, a.PostEntry(trade("ACC-1", market.ABook, "EURUSD", market.Buy, "1", "1.0800")))
	eq, err = a.Equity(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, d("10400").Equal(eq), "equity %s", eq)

	require.NoError(t, a.PostEntry(trade("ACC-1", market.BBook, "EURUSD", market.Buy, "0.5", "1.0842")))
	eq, err = a.Equity(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, d("10390").Equal(eq), "equity %s", eq)

	pos, err := a.OpenPositions(ctx, "ACC-1")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.True(t, d("1").Equal(pos[0].NetVolume))

	require.NoError(t, a.PostEntry(trade("ACC-1", market.ABook, "EURUSD", market.Sell, "1", "1.0850")))
	bal, err := a.Balance("ACC-1")
	require.NoError(t, err)
	assert.True(t, d("10500").Equal(bal), "balance %s", bal)

	pos, err = a.OpenPositions(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestAccountsConvertsRealizedPL(t *testing.T) {
	t.Parallel()

	a := NewAccounts(newQuotes(t), config.NewStore(config.Default()), nil)
	require.NoError(t, a.PostEntry(trade("ACC-1", market.ABook, "USDJPY", market.Buy, "1", "150.00")))
	require.NoError(t, a.PostEntry(trade("ACC-1", market.ABook, "USDJPY", market.Sell, "1", "151.00")))

	bal, err := a.Balance("ACC-1")
	require.NoError(t, err)
	// 100000 JPY at 151
	assert.InDelta(t, 10662.25, bal.InexactFloat64(), 0.01)
}

func TestAccountsIgnoresHedgesAndRejectsUnknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := NewAccounts(newQuotes(t), config.NewStore(config.Default()), nil)

	h := trade("", market.ABook, "EURUSD", market.Sell, "1", "1.0840")
	h.ReferenceType = journal.RefHedge
	require.NoError(t, a.PostEntry(h))

	err := a.PostEntry(trade("ACC-9", market.ABook, "EURUSD", market.Buy, "1", "1.08"))
	assert.ErrorIs(t, err, ErrUnknownAccount)
	err = a.PostEntry(trade("ACC-1", market.ABook, "XAUUSD", market.Buy, "1", "1.08"))
	assert.Error(t, err)

	_, err = a.Equity(ctx, "ACC-9")
	assert.ErrorIs(t, err, ErrUnknownAccount)
	_, err = a.OpenPositions(ctx, "ACC-9")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	a.Open("ACC-9", "usd", decimal.NewFromInt(50))
	eq, err := a.Equity(ctx, "ACC-9")
	require.NoError(t, err)
	assert.True(t, d("50").Equal(eq))
}
