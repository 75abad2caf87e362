package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/market"
)

// QuoteSink receives each price of the stream. market.QuoteCache is one.
type QuoteSink interface {
	Update(sym market.Symbol, bid, ask decimal.Decimal, ts time.Time) error
}

type StreamOptions struct {
	AccountID string
	Symbols   []market.Symbol
	// MaxQuotes stops the stream after that many quotes when > 0.
	MaxQuotes int
}

type priceBucket struct {
	Price decimal.Decimal `json:"price"`
}

type streamMsg struct {
	Type       string        `json:"type"`
	Time       string        `json:"time"`
	Instrument string        `json:"instrument"`
	Tradeable  *bool         `json:"tradeable,omitempty"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

// StreamQuotes connects to the pricing stream and writes the best bid and
// ask of every PRICE message into sink. Heartbeats are skipped. A price the
// sink refuses is logged and dropped; the previous quote stays. It returns
// the number of quotes written when ctx is done, the stream ends, or
// MaxQuotes is reached.
func (c *Client) StreamQuotes(ctx context.Context, opts StreamOptions, sink QuoteSink) (int, error) {
	if opts.AccountID == "" {
		return 0, fmt.Errorf("oanda: missing account id")
	}
	if len(opts.Symbols) == 0 {
		return 0, fmt.Errorf("oanda: missing symbols")
	}

	instruments := make([]string, 0, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		instruments = append(instruments, Instrument(sym))
	}
	params := url.Values{}
	params.Set("instruments", strings.Join(instruments, ","))

	body, err := c.get(ctx, fmt.Sprintf("/v3/accounts/%s/pricing/stream", opts.AccountID), params)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	// price lines carry the whole book and can be long
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	written := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var msg streamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return written, fmt.Errorf("oanda: bad json: %w (line=%q)", err, trimForErr(line))
		}
		if !strings.EqualFold(msg.Type, "PRICE") {
			continue
		}
		if msg.Instrument == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
			continue
		}
		if msg.Tradeable != nil && !*msg.Tradeable {
			continue
		}

		sym := Symbol(msg.Instrument)
		if err := sink.Update(sym, msg.Bids[0].Price, msg.Asks[0].Price, parseTime(msg.Time)); err != nil {
			c.log.Warn("quote dropped", zap.String("symbol", string(sym)), zap.Error(err))
			continue
		}
		written++
		if opts.MaxQuotes > 0 && written >= opts.MaxQuotes {
			return written, nil
		}
	}

	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		return written, err
	}
	return written, nil
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
