package exposure

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
)

type undo struct {
	account string
	prev    *market.Position // nil if the account had no entry
}

// Tx is the mutable view of one symbol inside Exclusive.
type Tx struct {
	book   *book
	closed bool

	undo      []undo
	prevLong  decimal.Decimal
	prevShort decimal.Decimal
}

func (tx *Tx) dirty() bool { return len(tx.undo) > 0 }

func (tx *Tx) Symbol() market.Symbol { return tx.book.symbol }

// Net is the symbol's current net volume, including changes made by tx.
func (tx *Tx) Net() decimal.Decimal { return tx.book.net() }

// Position is accountID's current position, including changes made by tx.
func (tx *Tx) Position(accountID string) market.Position {
	if p, ok := tx.book.positions[accountID]; ok {
		return *p
	}
	return market.Position{AccountID: accountID, Symbol: tx.book.symbol}
}

// Apply is the only code path that changes a position.
func (tx *Tx) Apply(accountID string, side market.Side, volume, price decimal.Decimal) (market.Position, error) {
	if tx.closed {
		return market.Position{}, ErrTxClosed
	}
	if err := validateFill(accountID, side, volume, price); err != nil {
		return market.Position{}, err
	}

	b := tx.book
	if !tx.dirty() {
		tx.prevLong, tx.prevShort = b.long, b.short
	}

	cur, had := b.positions[accountID]
	u := undo{account: accountID}
	if had {
		c := *cur
		u.prev = &c
	}
	tx.undo = append(tx.undo, u)

	old := market.Position{AccountID: accountID, Symbol: b.symbol}
	if had {
		old = *cur
	}
	next := applyToPosition(old, side, volume, price)

	b.long, b.short = removeGross(b.long, b.short, old.NetVolume)
	b.long, b.short = addGross(b.long, b.short, next.NetVolume)

	if next.Flat() {
		delete(b.positions, accountID)
	} else {
		b.positions[accountID] = &next
	}
	return next, nil
}

// ApplyHedge books a hedge fill to HedgeAccount, clamped so |Net| cannot grow.
func (tx *Tx) ApplyHedge(side market.Side, volume, price decimal.Decimal) (decimal.Decimal, error) {
	if tx.closed {
		return decimal.Zero, ErrTxClosed
	}
	if err := validateFill(HedgeAccount, side, volume, price); err != nil {
		return decimal.Zero, err
	}
	net := tx.Net()
	// A hedge must point against the exposure.
	if net.IsZero() || side.Signed(volume).Sign() == net.Sign() {
		return decimal.Zero, nil
	}
	applied := decimal.Min(volume, net.Abs())
	if _, err := tx.Apply(HedgeAccount, side, applied, price); err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

func (tx *Tx) rollback() {
	if !tx.dirty() {
		return
	}
	b := tx.book
	for i := len(tx.undo) - 1; i >= 0; i-- {
		u := tx.undo[i]
		if u.prev == nil {
			delete(b.positions, u.account)
			continue
		}
		p := *u.prev
		b.positions[u.account] = &p
	}
	b.long, b.short = tx.prevLong, tx.prevShort
	tx.undo = nil
}

// applyToPosition moves old by a fill. The average entry price is volume
// weighted while the position grows, kept while it shrinks, and reset to the
// fill price when the position flips.
func applyToPosition(old market.Position, side market.Side, volume, price decimal.Decimal) market.Position {
	delta := side.Signed(volume)
	next := old
	next.NetVolume = old.NetVolume.Add(delta)

	switch {
	case next.NetVolume.IsZero():
		next.AvgEntryPrice = decimal.Zero
	case old.NetVolume.IsZero():
		next.AvgEntryPrice = price
	case old.NetVolume.Sign() == delta.Sign():
		oldAbs := old.NetVolume.Abs()
		next.AvgEntryPrice = oldAbs.Mul(old.AvgEntryPrice).Add(volume.Mul(price)).Div(oldAbs.Add(volume))
	case next.NetVolume.Sign() == old.NetVolume.Sign():
		// shrinking, entry unchanged
	default:
		next.AvgEntryPrice = price
	}
	return next
}

func addGross(long, short, net decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if net.IsPositive() {
		return long.Add(net), short
	}
	return long, short.Add(net.Abs())
}

func removeGross(long, short, net decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if net.IsPositive() {
		return long.Sub(net), short
	}
	return long, short.Sub(net.Abs())
}
