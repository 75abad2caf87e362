// Package broker holds the contracts of the collaborators the dealer core
// consumes: the account service and the execution gateway of the liquidity
// provider.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
)

// ErrGatewayUnavailable marks transient gateway failures worth retrying.
var ErrGatewayUnavailable = errors.New("execution gateway unavailable")

// Accounts is the read only account and balance service.
type Accounts interface {
	Equity(ctx context.Context, accountID string) (decimal.Decimal, error)
	OpenPositions(ctx context.Context, accountID string) ([]market.Position, error)
}

// Origin tells which flow an execution belongs to.
type Origin string

const (
	OriginTrade Origin = "trade"
	OriginHedge Origin = "hedge"
)

// Handle identifies a submission at the gateway.
type Handle string

type Request struct {
	// ClientRef is the order or hedge id the report is matched back to.
	ClientRef string
	Origin    Origin
	Symbol    market.Symbol
	Side      market.Side
	Volume    decimal.Decimal
}

type Fill struct {
	Handle    Handle
	ClientRef string
	Origin    Origin
	Symbol    market.Symbol
	Side      market.Side
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Time      time.Time
}

type Reject struct {
	Handle    Handle
	ClientRef string
	Origin    Origin
	Reason    string
	Time      time.Time
}

// Listener receives asynchronous execution reports. Callbacks may arrive on
// any goroutine and must not block.
type Listener interface {
	OnFill(Fill)
	OnReject(Reject)
}

// Gateway is the opaque execution capability of the liquidity provider.
// Submit returns once the request is accepted; the outcome arrives later as
// a Fill or Reject on the listener. Cancel is best effort: a fill may still
// arrive after it.
type Gateway interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
	SetListener(l Listener)
}
