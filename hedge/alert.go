package hedge

import "go.uber.org/zap"

// Alerter surfaces hedges that exhausted their retry budget to an operator.
// The broker carries the unhedged exposure until someone acts.
type Alerter interface {
	HedgeFailed(o Order)
}

type AlertFunc func(o Order)

func (f AlertFunc) HedgeFailed(o Order) { f(o) }

type logAlerter struct{ log *zap.Logger }

func (a logAlerter) HedgeFailed(o Order) {
	a.log.Error("HEDGE_FAILED: unhedged exposure requires operator action",
		zap.String("hedge_id", o.ID),
		zap.String("symbol", string(o.Symbol)),
		zap.String("side", string(o.Side)),
		zap.String("target", o.Target.String()),
		zap.Int("attempts", o.Attempts),
		zap.String("last_error", o.LastError),
	)
}
