package sim

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/market"
)

// Events receives the scripted events of a tick file.
type Events interface {
	Order(ctx context.Context, step config.OrderStep) error
}

type EventsFunc func(ctx context.Context, step config.OrderStep) error

func (f EventsFunc) Order(ctx context.Context, step config.OrderStep) error { return f(ctx, step) }

// ReplayCSV replays ticks from r into cache and hands scripted events to ev.
//
// CSV formats supported:
//
//  1. Basic ticks:
//     time,symbol,bid,ask
//
//  2. Ticks + events:
//     time,symbol,bid,ask,event,arg1,arg2,arg3
//
// Events (case-insensitive):
//
//	ORDER:  arg1=account  arg2=side  arg3=volume   (market order in the row's symbol)
//
// The tick is applied before the row's event, so an order sees the prices of
// its own row. Quotes are stamped with the wall clock; the time column only
// has to parse. Symbols may be written "EUR_USD". It returns the number of
// rows applied.
func ReplayCSV(ctx context.Context, r io.Reader, cache *market.QuoteCache, ev Events) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	n := 0
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := replayRow(ctx, row, cache, ev); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
}

func replayRow(ctx context.Context, row []string, cache *market.QuoteCache, ev Events) error {
	if len(row) < 4 {
		return fmt.Errorf("bad row (need at least 4 cols time,symbol,bid,ask): %v", row)
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	if _, err := time.Parse(time.RFC3339, row[0]); err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	sym := market.Symbol(strings.ReplaceAll(row[1], "_", ""))
	bid, err := decimal.NewFromString(row[2])
	if err != nil {
		return fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := decimal.NewFromString(row[3])
	if err != nil {
		return fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	if err := cache.Update(sym, bid, ask, time.Now()); err != nil {
		return err
	}

	if len(row) < 5 || row[4] == "" {
		return nil
	}
	return handleEvent(ctx, sym, row[4], row[5:], ev)
}

func handleEvent(ctx context.Context, sym market.Symbol, event string, args []string, ev Events) error {
	switch strings.ToUpper(event) {
	case "ORDER":
		// ORDER,ACC-1,buy,0.5
		step, err := parseOrderArgs(sym, args)
		if err != nil {
			return fmt.Errorf("ORDER: %w", err)
		}
		if ev == nil {
			return nil
		}
		return ev.Order(ctx, step)
	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

func parseOrderArgs(sym market.Symbol, args []string) (config.OrderStep, error) {
	if len(args) < 3 {
		return config.OrderStep{}, fmt.Errorf("need arg1=account arg2=side arg3=volume")
	}
	if args[0] == "" {
		return config.OrderStep{}, fmt.Errorf("account is empty")
	}
	side, err := market.ParseSide(args[1])
	if err != nil {
		return config.OrderStep{}, err
	}
	vol, err := decimal.NewFromString(args[2])
	if err != nil {
		return config.OrderStep{}, fmt.Errorf("bad volume %q: %w", args[2], err)
	}
	return config.OrderStep{Account: args[0], Symbol: sym, Side: side, Volume: vol}, nil
}
