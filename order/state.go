package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/risk"
	"github.com/rustyeddy/dealer/routing"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrDuplicateOrder    = errors.New("duplicate order id")
	ErrNotCancellable    = errors.New("order can no longer be cancelled")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

type Type string

const Market Type = "market"

// Order is a client order as received from order entry. It is never
// modified after Submit.
type Order struct {
	ID        string
	AccountID string
	Symbol    market.Symbol
	Side      market.Side
	Volume    decimal.Decimal
	Type      Type
	CreatedAt time.Time
}

type State int

const (
	StateUnknown State = iota
	Received
	MarginChecked
	Routed
	Dispatched
	Filled
	Settled
	Aborted
)

var stateNames = map[State]string{
	StateUnknown:  "Unknown",
	Received:      "Received",
	MarginChecked: "MarginChecked",
	Routed:        "Routed",
	Dispatched:    "Dispatched",
	Filled:        "Filled",
	Settled:       "Settled",
	Aborted:       "Aborted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Terminal() bool { return s == Settled || s == Aborted }

var transitions = map[State][]State{
	Received:      {MarginChecked, Aborted},
	MarginChecked: {Routed, Aborted},
	Routed:        {Dispatched, Filled, Aborted},
	Dispatched:    {Settled, Aborted},
	Filled:        {Settled},
	// a fill that arrives after a dispatched order was given up on
	Aborted: {Settled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is the externally visible state of an order.
type Result struct {
	OrderID   string
	AccountID string
	Symbol    market.Symbol
	Side      market.Side
	Volume    decimal.Decimal
	State     State

	Book   market.Book
	Reason routing.Reason
	Margin risk.MarginCheckResult

	FillPrice    decimal.Decimal
	FilledVolume decimal.Decimal
	// Exposure is the symbol's net B-Book volume after a B-Book fill.
	Exposure decimal.Decimal

	// Error also explains the dropped remainder of a partially settled
	// order; Code is empty then.
	Code  risk.Code
	Error string
	// Late is set when a fill arrived after the order was aborted or
	// already settled.
	Late bool

	UpdatedAt time.Time
}

// Err rebuilds the rejection error carried by the result, nil if none.
func (r Result) Err() error {
	if r.Code == "" {
		return nil
	}
	return &risk.Error{Code: r.Code, Msg: r.Error}
}

// Notifier receives the terminal result of every dispatched A-Book order,
// success or failure, and of every fill that arrives late.
type Notifier interface {
	OrderCompleted(Result)
}

type NotifyFunc func(Result)

func (f NotifyFunc) OrderCompleted(r Result) { f(r) }
