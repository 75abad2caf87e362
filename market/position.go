package market

import "github.com/shopspring/decimal"

// Position is an account's retained net volume in a symbol. A positive
// NetVolume is long, negative is short, zero is flat.
type Position struct {
	AccountID     string
	Symbol        Symbol
	NetVolume     decimal.Decimal
	AvgEntryPrice decimal.Decimal
}

func (p Position) Flat() bool { return p.NetVolume.IsZero() }
