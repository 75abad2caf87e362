// Package routing decides whether an order is A-Booked or B-Booked.
//
// Rules are evaluated in a fixed order and the first match wins:
//
//  1. client override
//  2. symbol override
//  3. volume threshold (above it, A-Book)
//  4. exposure limit: B-Book if |net + signed volume| stays within the
//     symbol's limit, else A-Book
//
// Overrides are checked before exposure so operators can always force flow
// out of (or into) the house book.
package routing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/exposure"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/risk"
)

type Reason string

const (
	ReasonClientForced    Reason = "client-forced"
	ReasonSymbolForced    Reason = "symbol-forced"
	ReasonVolumeThreshold Reason = "volume-threshold"
	ReasonExposureLimit   Reason = "exposure-limit"
)

// Ticket is the part of an order the engine looks at.
type Ticket struct {
	OrderID   string
	AccountID string
	Symbol    market.Symbol
	Side      market.Side
	Volume    decimal.Decimal
}

type Outcome struct {
	OrderID string
	Book    market.Book
	Reason  Reason
	// Price is the quote side the order would fill at when decided.
	Price decimal.Decimal
	// Exposure is the net volume the decision was made against.
	Exposure decimal.Decimal
	Limit    decimal.Decimal
}

// ExposureView is the read side of the exposure ledger.
type ExposureView interface {
	Snapshot(sym market.Symbol) exposure.Snapshot
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

type Engine struct {
	cfg    *config.Store
	ledger ExposureView
	log    *zap.Logger
}

func NewEngine(cfg *config.Store, ledger ExposureView, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, ledger: ledger, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decide routes t against the last published exposure of its symbol. The
// snapshot may be stale by the time the order is booked; the coordinator
// uses DecideWithExposure inside the ledger's critical section instead.
func (e *Engine) Decide(t Ticket, q market.Quote) (Outcome, error) {
	return e.DecideWithExposure(t, q, e.ledger.Snapshot(t.Symbol).NetVolume)
}

// DecideWithExposure routes t given the symbol's current net volume. The
// configuration is read once per call.
func (e *Engine) DecideWithExposure(t Ticket, q market.Quote, net decimal.Decimal) (Outcome, error) {
	cfg := e.cfg.Load()

	if _, err := cfg.Instrument(t.Symbol); err != nil {
		return Outcome{}, err
	}
	if !t.Side.Valid() {
		return Outcome{}, risk.Errorf(risk.CodeInvalidVolume, "unknown side %q", t.Side)
	}
	if !t.Volume.IsPositive() {
		return Outcome{}, risk.Errorf(risk.CodeInvalidVolume, "volume %s must be positive", t.Volume)
	}
	if q.Symbol != "" && q.Symbol != t.Symbol {
		return Outcome{}, risk.Errorf(risk.CodeConfigurationError, "quote for %s used to route %s", q.Symbol, t.Symbol)
	}

	out := Outcome{
		OrderID:  t.OrderID,
		Price:    q.PriceFor(t.Side),
		Exposure: net,
	}

	var matched bool
	if out.Book, out.Reason, matched = override(cfg, t); !matched {
		lim, err := cfg.ExposureLimit(t.Symbol)
		if err != nil {
			return Outcome{}, err
		}
		out.Limit = lim
		out.Reason = ReasonExposureLimit
		out.Book = market.ABook
		if net.Add(t.Side.Signed(t.Volume)).Abs().LessThanOrEqual(lim) {
			out.Book = market.BBook
		}
	}

	e.log.Debug("routed",
		zap.String("order_id", t.OrderID),
		zap.String("account_id", t.AccountID),
		zap.String("symbol", string(t.Symbol)),
		zap.String("book", string(out.Book)),
		zap.String("reason", string(out.Reason)),
		zap.String("net_volume", net.String()),
	)
	return out, nil
}

// override applies rules 1-3.
func override(cfg *config.Config, t Ticket) (market.Book, Reason, bool) {
	if b, ok := cfg.ClientRoute(t.AccountID); ok {
		return b, ReasonClientForced, true
	}
	if b, ok := cfg.SymbolRoute(t.Symbol); ok {
		return b, ReasonSymbolForced, true
	}
	if th, ok := cfg.VolumeThreshold(); ok && t.Volume.GreaterThan(th) {
		return market.ABook, ReasonVolumeThreshold, true
	}
	return "", "", false
}
