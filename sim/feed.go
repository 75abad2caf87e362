package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/pkg/retry"
)

// Replay writes steps into cache in order, waiting each step's delay
// before writing it.
func Replay(ctx context.Context, cache *market.QuoteCache, steps []config.QuoteStep) error {
	for i, s := range steps {
		delay, err := s.ParseDuration()
		if err != nil {
			return fmt.Errorf("quote step %d: %w", i, err)
		}
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
		if err := cache.Update(s.Symbol, s.Bid, s.Ask, time.Now()); err != nil {
			return fmt.Errorf("quote step %d: %w", i, err)
		}
	}
	return nil
}

// Walk moves every quoted symbol by -1, 0 or +1 pip per tick, keeping its
// spread. It only moves symbols that already have a quote.
type Walk struct {
	cache    *market.QuoteCache
	cfg      *config.Store
	rng      *rand.Rand
	interval time.Duration
}

func NewWalk(cache *market.QuoteCache, cfg *config.Store, seed int64, interval time.Duration) *Walk {
	if interval <= 0 {
		interval = time.Second
	}
	return &Walk{
		cache:    cache,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		interval: interval,
	}
}

func (w *Walk) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			w.Step(now)
		}
	}
}

// Step moves every symbol once.
func (w *Walk) Step(now time.Time) {
	cfg := w.cfg.Load()
	for _, sym := range w.cache.Symbols() {
		inst, err := cfg.Instrument(sym)
		if err != nil {
			continue
		}
		q, err := w.cache.Get(sym)
		if err != nil {
			continue
		}
		pip := decimal.New(1, int32(inst.PipLocation))
		move := pip.Mul(decimal.NewFromInt(int64(w.rng.Intn(3) - 1)))
		bid, ask := q.Bid.Add(move), q.Ask.Add(move)
		if !bid.IsPositive() {
			continue
		}
		// best effort, a rejected update keeps the old quote
		_ = w.cache.Update(sym, bid, ask, now)
	}
}
