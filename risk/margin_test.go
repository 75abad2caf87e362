package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eurusd() market.Quote {
	return market.Quote{Symbol: "EURUSD", Bid: d("1.0840"), Ask: d("1.0842")}
}

func account(equity string) AccountState {
	return AccountState{AccountID: "acct-1", Currency: "USD", Equity: d(equity), Leverage: d("100")}
}

func TestCheckMarginOneLotInsufficient(t *testing.T) {
	t.Parallel()

	res, err := CheckMargin(account("1000"), Ticket{
		Instrument: market.Majors["EURUSD"],
		Side:       market.Buy,
		Volume:     d("1.0"),
	}, eurusd())
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.True(t, res.RequiredMargin.Equal(d("1084.20")), "required %s", res.RequiredMargin)
	assert.True(t, res.FreeMarginBefore.Equal(d("1000")))
	assert.True(t, res.FreeMarginAfter.Equal(d("-84.20")))
}

func TestCheckMarginTenthLotAllowed(t *testing.T) {
	t.Parallel()

	res, err := CheckMargin(account("1000"), Ticket{
		Instrument: market.Majors["EURUSD"],
		Side:       market.Buy,
		Volume:     d("0.1"),
	}, eurusd())
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.True(t, res.RequiredMargin.Equal(d("108.42")), "required %s", res.RequiredMargin)
	assert.True(t, res.FreeMarginAfter.Equal(d("891.58")))
}

func TestCheckMarginSellUsesBid(t *testing.T) {
	t.Parallel()

	res, err := CheckMargin(account("1000"), Ticket{
		Instrument: market.Majors["EURUSD"],
		Side:       market.Sell,
		Volume:     d("0.1"),
	}, eurusd())
	require.NoError(t, err)
	assert.True(t, res.RequiredMargin.Equal(d("108.40")))
}

func TestCheckMarginExactlyZeroFreeMarginAllowed(t *testing.T) {
	t.Parallel()

	res, err := CheckMargin(account("108.42"), Ticket{
		Instrument: market.Majors["EURUSD"],
		Side:       market.Buy,
		Volume:     d("0.1"),
	}, eurusd())
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.FreeMarginAfter.IsZero())
}

func TestCheckMarginCountsUsedMargin(t *testing.T) {
	t.Parallel()

	acct := account("1000")
	acct.UsedMargin = d("900")
	res, err := CheckMargin(acct, Ticket{
		Instrument: market.Majors["EURUSD"],
		Side:       market.Buy,
		Volume:     d("0.1"),
	}, eurusd())
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.FreeMarginBefore.Equal(d("100")))
}

func TestCheckMarginErrors(t *testing.T) {
	t.Parallel()

	inst := market.Majors["EURUSD"]

	tests := []struct {
		name     string
		leverage string
		volume   string
		quote    market.Quote
		code     Code
	}{
		{"zero leverage", "0", "0.1", eurusd(), CodeConfigurationError},
		{"negative leverage", "-50", "0.1", eurusd(), CodeConfigurationError},
		{"below min lot", "100", "0.001", eurusd(), CodeInvalidVolume},
		{"above max lot", "100", "51", eurusd(), CodeInvalidVolume},
		{"off lot step", "100", "0.015", eurusd(), CodeInvalidVolume},
		{"zero volume", "100", "0", eurusd(), CodeInvalidVolume},
		{"invalid volume wins over leverage", "0", "0", eurusd(), CodeInvalidVolume},
		{"no price", "100", "0.1", market.Quote{}, CodeStaleQuote},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			acct := account("1000")
			acct.Leverage = d(tt.leverage)
			_, err := CheckMargin(acct, Ticket{Instrument: inst, Side: market.Buy, Volume: d(tt.volume)}, tt.quote)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

func TestCheckMarginIsDeterministic(t *testing.T) {
	t.Parallel()

	tk := Ticket{Instrument: market.Majors["EURUSD"], Side: market.Buy, Volume: d("0.37")}
	first, err := CheckMargin(account("5000"), tk, eurusd())
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := CheckMargin(account("5000"), tk, eurusd())
		require.NoError(t, err)
		assert.True(t, first.RequiredMargin.Equal(again.RequiredMargin))
		assert.Equal(t, first.Allowed, again.Allowed)
	}
}

func TestUsedMargin(t *testing.T) {
	t.Parallel()

	held := []Held{
		{
			Position:   market.Position{Symbol: "EURUSD", NetVolume: d("-0.5"), AvgEntryPrice: d("1.1000")},
			Instrument: market.Majors["EURUSD"],
			Mark:       eurusd(),
			Leverage:   d("100"),
		},
		{
			// no mark: margined at entry price
			Position:   market.Position{Symbol: "GBPUSD", NetVolume: d("0.1"), AvgEntryPrice: d("1.2500")},
			Instrument: market.Majors["GBPUSD"],
			Leverage:   d("50"),
		},
		{
			Position:   market.Position{Symbol: "EURUSD"},
			Instrument: market.Majors["EURUSD"],
			Leverage:   d("100"),
		},
	}

	used, err := UsedMargin("USD", held)
	require.NoError(t, err)
	// 50000 * 1.0841 / 100 + 10000 * 1.25 / 50
	assert.True(t, used.Equal(d("542.05").Add(d("250"))), "used %s", used)
}

func TestUsedMarginBaseCurrencyAccount(t *testing.T) {
	t.Parallel()

	held := []Held{{
		Position:   market.Position{Symbol: "USDJPY", NetVolume: d("1")},
		Instrument: market.Majors["USDJPY"],
		Mark:       market.Quote{Bid: d("149.99"), Ask: d("150.01")},
		Leverage:   d("100"),
	}}
	used, err := UsedMargin("USD", held)
	require.NoError(t, err)
	// one lot of USD at 1:100 is 1000 USD whatever the rate
	assert.InDelta(t, 1000.0, used.InexactFloat64(), 1e-9)
}
