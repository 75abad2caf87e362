package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/broker"
)

type ticketState int

const (
	ticketOpen ticketState = iota
	ticketFilled
	ticketRejected
	ticketCancelled
)

// ticket is an order resting at the simulated liquidity provider.
type ticket struct {
	handle    broker.Handle
	req       broker.Request
	state     ticketState
	submitted time.Time
}

func (t *ticket) fill(price decimal.Decimal, now time.Time) *broker.Fill {
	return &broker.Fill{
		Handle:    t.handle,
		ClientRef: t.req.ClientRef,
		Origin:    t.req.Origin,
		Symbol:    t.req.Symbol,
		Side:      t.req.Side,
		Price:     price,
		Volume:    t.req.Volume,
		Time:      now,
	}
}

func (t *ticket) reject(reason string, now time.Time) *broker.Reject {
	return &broker.Reject{
		Handle:    t.handle,
		ClientRef: t.req.ClientRef,
		Origin:    t.req.Origin,
		Reason:    reason,
		Time:      now,
	}
}
