package market

import "github.com/shopspring/decimal"

// Symbol identifies a tradable instrument, e.g. "EURUSD".
type Symbol string

// Instrument is reference data for a symbol. Volumes are in lots; one lot is
// ContractSize units of the base currency.
type Instrument struct {
	Symbol        Symbol          `json:"symbol" yaml:"symbol"`
	BaseCurrency  string          `json:"base_currency" yaml:"base_currency"`
	QuoteCurrency string          `json:"quote_currency" yaml:"quote_currency"`
	PipLocation   int             `json:"pip_location" yaml:"pip_location"`
	ContractSize  decimal.Decimal `json:"contract_size" yaml:"contract_size"`
	MinLot        decimal.Decimal `json:"min_lot" yaml:"min_lot"`
	MaxLot        decimal.Decimal `json:"max_lot" yaml:"max_lot"`
	LotStep       decimal.Decimal `json:"lot_step" yaml:"lot_step"`
}

// Units converts lots to base currency units.
func (i Instrument) Units(lots decimal.Decimal) decimal.Decimal {
	return lots.Mul(i.ContractSize)
}

// Notional is the quote currency value of lots at price.
func (i Instrument) Notional(lots, price decimal.Decimal) decimal.Decimal {
	return i.Units(lots).Abs().Mul(price)
}

func lot(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fx(sym Symbol, base, quote string, pipLoc int) Instrument {
	return Instrument{
		Symbol:        sym,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		PipLocation:   pipLoc,
		ContractSize:  decimal.NewFromInt(100_000),
		MinLot:        lot("0.01"),
		MaxLot:        lot("50"),
		LotStep:       lot("0.01"),
	}
}

// Majors is the default instrument table used by config.Default.
var Majors = map[Symbol]Instrument{
	"EURUSD": fx("EURUSD", "EUR", "USD", -4),
	"GBPUSD": fx("GBPUSD", "GBP", "USD", -4),
	"AUDUSD": fx("AUDUSD", "AUD", "USD", -4),
	"USDJPY": fx("USDJPY", "USD", "JPY", -2),
	"USDCHF": fx("USDCHF", "USD", "CHF", -4),
	"USDTRY": fx("USDTRY", "USD", "TRY", -4),
}
