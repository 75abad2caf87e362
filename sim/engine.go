// Package sim simulates the outside world of the dealer: a liquidity
// provider that fills at the live quote, an account service fed by trade
// postings, and quote feeds.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/broker"
	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/pkg/id"
)

var ErrUnknownHandle = errors.New("sim: unknown handle")

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is a broker.Gateway. Every accepted request is executed after
// the configured latency: filled at the current quote (ask for buys, bid
// for sells), rejected for reject symbols, or left open for drop symbols.
type Engine struct {
	quotes market.QuoteSource
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	latency  time.Duration
	reject   map[market.Symbol]bool
	drop     map[market.Symbol]bool
	tickets  map[broker.Handle]*ticket
	listener broker.Listener
}

func NewEngine(quotes market.QuoteSource, cfg config.SimulationConfig, opts ...Option) *Engine {
	e := &Engine{
		quotes:  quotes,
		log:     zap.NewNop(),
		now:     time.Now,
		latency: cfg.Latency,
		reject:  make(map[market.Symbol]bool),
		drop:    make(map[market.Symbol]bool),
		tickets: make(map[broker.Handle]*ticket),
	}
	for _, sym := range cfg.RejectSymbols {
		e.reject[sym] = true
	}
	for _, sym := range cfg.DropSymbols {
		e.drop[sym] = true
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetListener sets the receiver of execution reports. Reports are delivered
// after the engine lock is released.
func (e *Engine) SetListener(l broker.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

// SetReject makes the engine reject every order for sym.
func (e *Engine) SetReject(sym market.Symbol, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject[sym] = on
}

// SetDrop makes the engine accept orders for sym and never report on them.
func (e *Engine) SetDrop(sym market.Symbol, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drop[sym] = on
}

func (e *Engine) Submit(ctx context.Context, req broker.Request) (broker.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.ClientRef == "" || !req.Side.Valid() || !req.Volume.IsPositive() {
		return "", fmt.Errorf("sim: invalid request %+v", req)
	}
	if _, err := e.quotes.Get(req.Symbol); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrGatewayUnavailable, err)
	}

	h := broker.Handle(id.Prefixed("LP"))
	e.mu.Lock()
	e.tickets[h] = &ticket{handle: h, req: req, state: ticketOpen, submitted: e.now()}
	latency := e.latency
	e.mu.Unlock()

	e.log.Debug("order accepted",
		zap.String("handle", string(h)),
		zap.String("client_ref", req.ClientRef),
		zap.String("origin", string(req.Origin)),
		zap.String("symbol", string(req.Symbol)),
		zap.String("side", string(req.Side)),
		zap.String("volume", req.Volume.String()),
	)
	time.AfterFunc(latency, func() { e.execute(h) })
	return h, nil
}

func (e *Engine) execute(h broker.Handle) {
	e.mu.Lock()
	t, ok := e.tickets[h]
	if !ok || t.state != ticketOpen {
		e.mu.Unlock()
		return
	}
	if e.drop[t.req.Symbol] {
		e.mu.Unlock()
		e.log.Debug("order dropped", zap.String("handle", string(h)))
		return
	}

	var (
		fill *broker.Fill
		rej  *broker.Reject
		now  = e.now()
	)
	q, err := e.quotes.Get(t.req.Symbol)
	switch {
	case e.reject[t.req.Symbol]:
		t.state = ticketRejected
		rej = t.reject("symbol not offered", now)
	case err != nil:
		t.state = ticketRejected
		rej = t.reject(err.Error(), now)
	default:
		t.state = ticketFilled
		fill = t.fill(q.PriceFor(t.req.Side), now)
	}
	l := e.listener
	e.mu.Unlock()

	if l == nil {
		return
	}
	if fill != nil {
		l.OnFill(*fill)
	} else {
		l.OnReject(*rej)
	}
}

// Cancel withdraws an open order and confirms with a reject. Cancelling an
// order that already executed does nothing.
func (e *Engine) Cancel(_ context.Context, h broker.Handle) error {
	e.mu.Lock()
	t, ok := e.tickets[h]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if t.state != ticketOpen {
		e.mu.Unlock()
		return nil
	}
	t.state = ticketCancelled
	rej := t.reject("cancelled", e.now())
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l.OnReject(*rej)
	}
	return nil
}

// Stats counts tickets by state.
type Stats struct {
	Open, Filled, Rejected, Cancelled int
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Stats
	for _, t := range e.tickets {
		switch t.state {
		case ticketOpen:
			s.Open++
		case ticketFilled:
			s.Filled++
		case ticketRejected:
			s.Rejected++
		case ticketCancelled:
			s.Cancelled++
		}
	}
	return s
}
