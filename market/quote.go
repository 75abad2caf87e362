package market

import (
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol Symbol
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(two)
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// PriceFor returns the side of the book a market order executes against:
// buys lift the ask, sells hit the bid.
func (q Quote) PriceFor(side Side) decimal.Decimal {
	if side == Sell {
		return q.Bid
	}
	return q.Ask
}

// Age is how old the quote is at now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Time)
}
