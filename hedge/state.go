package hedge

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/broker"
	"github.com/rustyeddy/dealer/journal"
	"github.com/rustyeddy/dealer/market"
)

var (
	ErrInvalidTransition = errors.New("invalid hedge state transition")
	ErrNotBlocked        = errors.New("symbol has no failed hedge to acknowledge")
)

// State tracks the lifecycle of a hedge order.
type State uint8

const (
	StateUnknown State = iota
	Pending
	Submitted
	Filled
	Rejected
	Reconciled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Submitted:
		return "Submitted"
	case Filled:
		return "Filled"
	case Rejected:
		return "Rejected"
	case Reconciled:
		return "Reconciled"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Reconciled || s == Failed }

// Outstanding reports whether the hedge still counts against its symbol.
func (s State) Outstanding() bool { return s == Pending || s == Submitted }

// Pending -> Reconciled withdraws a hedge the exposure no longer needs.
var transitions = map[State][]State{
	Pending:   {Submitted, Reconciled, Failed},
	Submitted: {Filled, Rejected, Pending, Failed},
	Filled:    {Reconciled},
	Rejected:  {Reconciled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is a hedge the broker places with the liquidity provider for its own
// account. Target is the exposure excess the hedge is meant to remove;
// Volume is what is (or will be) submitted. Filled counts every booked
// execution, including late fills of earlier attempts.
type Order struct {
	ID          string
	Symbol      market.Symbol
	Side        market.Side
	Target      decimal.Decimal
	Volume      decimal.Decimal
	Filled      decimal.Decimal
	Price       decimal.Decimal
	State       State
	Attempts    int
	LastError   string
	Handle      broker.Handle
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt time.Time
	NextAttempt time.Time

	inflight      bool
	attemptFilled decimal.Decimal
}

func (o *Order) transition(to State, now time.Time) error {
	if !canTransition(o.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, o.ID, o.State, to)
	}
	o.State = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) record() journal.HedgeRecord {
	return journal.HedgeRecord{
		HedgeID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Target:    o.Target,
		Volume:    o.Volume,
		Filled:    o.Filled,
		Price:     o.Price,
		State:     o.State.String(),
		Attempts:  o.Attempts,
		LastError: o.LastError,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
