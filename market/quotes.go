package market

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/pkg/fanout"
)

var (
	ErrQuoteNotAvailable = errors.New("quote not available")
	ErrQuoteStale        = errors.New("quote is stale")
	ErrInvalidQuote      = errors.New("invalid quote")
)

// QuoteSource is the read side of the price cache.
type QuoteSource interface {
	Get(symbol Symbol) (Quote, error)
}

// QuoteCache holds the latest quote per symbol. Each symbol has its own
// atomic pointer, so readers never take a lock and never see a half-written
// bid/ask pair.
type QuoteCache struct {
	slots sync.Map // Symbol -> *atomic.Pointer[Quote]
	topic *fanout.Topic[Symbol, Quote]
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{topic: fanout.NewTopic[Symbol, Quote]()}
}

func (c *QuoteCache) slot(sym Symbol) *atomic.Pointer[Quote] {
	if p, ok := c.slots.Load(sym); ok {
		return p.(*atomic.Pointer[Quote])
	}
	p, _ := c.slots.LoadOrStore(sym, new(atomic.Pointer[Quote]))
	return p.(*atomic.Pointer[Quote])
}

// Update stores a new quote for symbol. Last write wins.
func (c *QuoteCache) Update(sym Symbol, bid, ask decimal.Decimal, ts time.Time) error {
	if sym == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidQuote)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return fmt.Errorf("%w: %s bid %s ask %s must be positive", ErrInvalidQuote, sym, bid, ask)
	}
	if bid.GreaterThan(ask) {
		return fmt.Errorf("%w: %s bid %s above ask %s", ErrInvalidQuote, sym, bid, ask)
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	q := &Quote{Symbol: sym, Bid: bid, Ask: ask, Time: ts}
	c.slot(sym).Store(q)
	c.topic.Publish(sym, *q)
	return nil
}

// Set is Update for an already built quote.
func (c *QuoteCache) Set(q Quote) error {
	return c.Update(q.Symbol, q.Bid, q.Ask, q.Time)
}

func (c *QuoteCache) Get(sym Symbol) (Quote, error) {
	p, ok := c.slots.Load(sym)
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", sym, ErrQuoteNotAvailable)
	}
	q := p.(*atomic.Pointer[Quote]).Load()
	if q == nil {
		return Quote{}, fmt.Errorf("%s: %w", sym, ErrQuoteNotAvailable)
	}
	return *q, nil
}

// Fresh returns the quote only if it is no older than maxAge at now.
// A missing quote is an error, never a zero price.
func (c *QuoteCache) Fresh(sym Symbol, now time.Time, maxAge time.Duration) (Quote, error) {
	q, err := c.Get(sym)
	if err != nil {
		return Quote{}, err
	}
	if maxAge > 0 && q.Age(now) > maxAge {
		return q, fmt.Errorf("%s: %w: age %s exceeds %s", sym, ErrQuoteStale, q.Age(now), maxAge)
	}
	return q, nil
}

// Symbols lists every symbol that has been quoted.
func (c *QuoteCache) Symbols() []Symbol {
	var out []Symbol
	c.slots.Range(func(k, _ any) bool {
		out = append(out, k.(Symbol))
		return true
	})
	return out
}

// Subscribe returns a token that is signalled on every quote change.
// Callers must Unsubscribe when done.
func (c *QuoteCache) Subscribe() *fanout.Subscription[Symbol, Quote] {
	return c.topic.Subscribe()
}
