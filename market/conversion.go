package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuoteToAccountRate is the multiplier that turns a quote currency amount of
// inst into accountCurrency. An empty account currency means "same as quote".
func QuoteToAccountRate(inst Instrument, accountCurrency string, q Quote) (decimal.Decimal, error) {
	// EURUSD in a USD account, or no account currency configured.
	if accountCurrency == "" || inst.QuoteCurrency == accountCurrency {
		return decimal.NewFromInt(1), nil
	}

	// USDJPY in a USD account: JPY per USD is the mid, we want USD per JPY.
	if inst.BaseCurrency == accountCurrency {
		mid := q.Mid()
		if !mid.IsPositive() {
			return decimal.Zero, fmt.Errorf("convert %s to %s: %w", inst.Symbol, accountCurrency, ErrQuoteNotAvailable)
		}
		return decimal.NewFromInt(1).Div(mid), nil
	}

	return decimal.Zero, fmt.Errorf(
		"cross conversion not implemented for %s -> %s",
		inst.QuoteCurrency,
		accountCurrency,
	)
}

// AccountNotional values lots of inst filled at price in accountCurrency.
func AccountNotional(inst Instrument, accountCurrency string, lots, price decimal.Decimal) (decimal.Decimal, error) {
	rate, err := QuoteToAccountRate(inst, accountCurrency, Quote{Symbol: inst.Symbol, Bid: price, Ask: price})
	if err != nil {
		return decimal.Zero, err
	}
	return inst.Notional(lots, price).Mul(rate), nil
}
