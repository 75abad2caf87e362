package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
)

// AccountState is what the margin check needs to know about an account.
// UsedMargin is margin already committed to open positions and in-flight
// orders, see UsedMargin.
type AccountState struct {
	AccountID  string
	Currency   string
	Equity     decimal.Decimal
	Leverage   decimal.Decimal
	UsedMargin decimal.Decimal
}

// Ticket is the part of an order the margin check looks at.
type Ticket struct {
	Instrument market.Instrument
	Side       market.Side
	Volume     decimal.Decimal
}

type MarginCheckResult struct {
	Allowed          bool
	RequiredMargin   decimal.Decimal
	UsedMargin       decimal.Decimal
	FreeMarginBefore decimal.Decimal
	FreeMarginAfter  decimal.Decimal
}

// ValidateVolume checks volume against the instrument's lot limits.
func ValidateVolume(inst market.Instrument, volume decimal.Decimal) error {
	if !volume.IsPositive() {
		return Errorf(CodeInvalidVolume, "%s volume %s must be positive", inst.Symbol, volume)
	}
	if inst.MinLot.IsPositive() && volume.LessThan(inst.MinLot) {
		return Errorf(CodeInvalidVolume, "%s volume %s below minimum lot %s", inst.Symbol, volume, inst.MinLot)
	}
	if inst.MaxLot.IsPositive() && volume.GreaterThan(inst.MaxLot) {
		return Errorf(CodeInvalidVolume, "%s volume %s above maximum lot %s", inst.Symbol, volume, inst.MaxLot)
	}
	if inst.LotStep.IsPositive() && !volume.Mod(inst.LotStep).IsZero() {
		return Errorf(CodeInvalidVolume, "%s volume %s is not a multiple of lot step %s", inst.Symbol, volume, inst.LotStep)
	}
	return nil
}

// RequiredMargin is |volume| * contractSize * price / leverage, converted to
// the account currency with rate.
func RequiredMargin(inst market.Instrument, volume, price, leverage, rate decimal.Decimal) (decimal.Decimal, error) {
	if !leverage.IsPositive() {
		return decimal.Zero, Errorf(CodeConfigurationError, "leverage %s for %s must be positive", leverage, inst.Symbol)
	}
	if !inst.ContractSize.IsPositive() {
		return decimal.Zero, Errorf(CodeConfigurationError, "contract size for %s must be positive", inst.Symbol)
	}
	return inst.Notional(volume, price).Mul(rate).Div(leverage), nil
}

// CheckMargin decides whether acct can carry t at quote q. It is a pure
// function: no locks, no I/O, same inputs give the same answer.
func CheckMargin(acct AccountState, t Ticket, q market.Quote) (MarginCheckResult, error) {
	if err := ValidateVolume(t.Instrument, t.Volume); err != nil {
		return MarginCheckResult{}, err
	}
	if !t.Side.Valid() {
		return MarginCheckResult{}, Errorf(CodeConfigurationError, "unknown side %q", t.Side)
	}

	price := q.PriceFor(t.Side)
	if !price.IsPositive() {
		return MarginCheckResult{}, Errorf(CodeStaleQuote, "no usable %s price for %s", t.Side, t.Instrument.Symbol)
	}

	rate, err := market.QuoteToAccountRate(t.Instrument, acct.Currency, q)
	if err != nil {
		return MarginCheckResult{}, Errorf(CodeConfigurationError, "%v", err)
	}

	required, err := RequiredMargin(t.Instrument, t.Volume, price, acct.Leverage, rate)
	if err != nil {
		return MarginCheckResult{}, err
	}

	free := acct.Equity.Sub(acct.UsedMargin)
	after := free.Sub(required)
	return MarginCheckResult{
		Allowed:          !after.IsNegative(),
		RequiredMargin:   required,
		UsedMargin:       acct.UsedMargin,
		FreeMarginBefore: free,
		FreeMarginAfter:  after,
	}, nil
}

// Held is an open position with the reference data needed to margin it.
// Mark may be the zero Quote, in which case the entry price is used.
type Held struct {
	Position   market.Position
	Instrument market.Instrument
	Mark       market.Quote
	Leverage   decimal.Decimal
}

// UsedMargin sums the margin committed to open positions, marked at mid.
func UsedMargin(currency string, held []Held) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, h := range held {
		if h.Position.Flat() {
			continue
		}
		price := h.Mark.Mid()
		if !price.IsPositive() {
			price = h.Position.AvgEntryPrice
		}
		mark := h.Mark
		if !mark.Mid().IsPositive() {
			mark = market.Quote{Bid: price, Ask: price}
		}
		rate, err := market.QuoteToAccountRate(h.Instrument, currency, mark)
		if err != nil {
			return decimal.Zero, Errorf(CodeConfigurationError, "%v", err)
		}
		m, err := RequiredMargin(h.Instrument, h.Position.NetVolume, price, h.Leverage, rate)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(m)
	}
	return total, nil
}
