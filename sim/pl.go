package sim

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
)

// UnrealizedPL values p at q in the quote currency. Longs are marked at the
// bid, shorts at the ask.
func UnrealizedPL(inst market.Instrument, p market.Position, q market.Quote) decimal.Decimal {
	if p.Flat() {
		return decimal.Zero
	}
	mark := q.Bid
	if p.NetVolume.IsNegative() {
		mark = q.Ask
	}
	return inst.Units(p.NetVolume).Mul(mark.Sub(p.AvgEntryPrice))
}

// applyFill books a fill onto p and returns the P/L realized by the part
// of the fill that reduced it, in the quote currency.
func applyFill(inst market.Instrument, p market.Position, side market.Side, volume, price decimal.Decimal) (market.Position, decimal.Decimal) {
	signed := side.Signed(volume)
	old := p.NetVolume
	net := old.Add(signed)
	realized := decimal.Zero

	if old.IsZero() || old.Sign() == signed.Sign() {
		size := old.Abs()
		p.AvgEntryPrice = size.Mul(p.AvgEntryPrice).Add(volume.Mul(price)).Div(size.Add(volume))
	} else {
		closed := decimal.Min(volume, old.Abs())
		realized = inst.Units(closed).Mul(price.Sub(p.AvgEntryPrice))
		if old.IsNegative() {
			realized = realized.Neg()
		}
		switch {
		case net.IsZero():
			p.AvgEntryPrice = decimal.Zero
		case net.Sign() != old.Sign():
			p.AvgEntryPrice = price
		}
	}
	p.NetVolume = net
	return p, realized
}
