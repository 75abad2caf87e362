// Package hedge places offsetting A-Book orders when the B-Book exposure of
// a symbol exceeds its limit.
//
// Every decision that creates or resizes a hedge runs inside the exposure
// ledger's per-symbol critical section, so the controller needs no lock
// hierarchy of its own: the ledger lock is always taken first and the
// controller mutex second. Gateway calls are made with no lock held.
package hedge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/broker"
	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/exposure"
	"github.com/rustyeddy/dealer/journal"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/metrics"
	"github.com/rustyeddy/dealer/pkg/id"
	"github.com/rustyeddy/dealer/pkg/retry"
)

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithJournal(j journal.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

func WithAlerter(a Alerter) Option {
	return func(c *Controller) { c.alerter = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// carry is what a rejected hedge hands to its successor.
type carry struct {
	attempts  int
	notBefore time.Time
}

type Controller struct {
	ledger  *exposure.Ledger
	gateway broker.Gateway
	cfg     *config.Store
	journal journal.Journal
	alerter Alerter
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	active   map[market.Symbol]*Order
	blocked  map[market.Symbol]*Order
	carry    map[market.Symbol]carry
	byID     map[string]*Order
	byHandle map[broker.Handle]*Order
	archive  []Order
}

func NewController(ledger *exposure.Ledger, gw broker.Gateway, cfg *config.Store, opts ...Option) *Controller {
	c := &Controller{
		ledger:   ledger,
		gateway:  gw,
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
		active:   make(map[market.Symbol]*Order),
		blocked:  make(map[market.Symbol]*Order),
		carry:    make(map[market.Symbol]carry),
		byID:     make(map[string]*Order),
		byHandle: make(map[broker.Handle]*Order),
	}
	for _, o := range opts {
		o(c)
	}
	if c.alerter == nil {
		c.alerter = logAlerter{log: c.log}
	}
	return c
}

// effects are side effects collected under the locks and executed after
// they are released.
type effects struct {
	records []journal.HedgeRecord
	entries []journal.Entry
	alerts  []Order
	cancels []broker.Handle
}

// Run evaluates symbols as the ledger changes and drives retries and
// timeouts on the configured interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	sub := c.ledger.Subscribe()
	defer sub.Unsubscribe()

	for _, s := range c.ledger.Snapshots() {
		c.evaluateAndLog(s.Symbol)
	}
	c.DispatchDue(ctx)

	t := time.NewTimer(c.interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Ready():
			for _, snap := range sub.Drain() {
				c.evaluateAndLog(snap.Symbol)
			}
			c.DispatchDue(ctx)
		case <-t.C:
			c.Tick(ctx)
			t.Reset(c.interval())
		}
	}
}

func (c *Controller) interval() time.Duration {
	if d := c.cfg.Load().Hedging.Interval; d > 0 {
		return d
	}
	return 100 * time.Millisecond
}

func (c *Controller) evaluateAndLog(sym market.Symbol) {
	if err := c.Evaluate(sym); err != nil {
		c.log.Error("hedge evaluation failed", zap.String("symbol", string(sym)), zap.Error(err))
	}
}

// Tick expires submitted hedges past the submit timeout, re-evaluates every
// symbol against the current limits and dispatches the pending hedges that
// are due.
func (c *Controller) Tick(ctx context.Context) {
	c.expire(ctx)
	for _, s := range c.ledger.Snapshots() {
		c.evaluateAndLog(s.Symbol)
	}
	c.DispatchDue(ctx)
}

// Evaluate compares the symbol's exposure with its limit and creates,
// resizes or withdraws the symbol's hedge.
func (c *Controller) Evaluate(sym market.Symbol) error {
	var fx effects
	_, err := c.ledger.Exclusive(sym, func(tx *exposure.Tx) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.evaluateLocked(tx, &fx)
	})
	c.flush(context.Background(), fx)
	return err
}

func (c *Controller) evaluateLocked(tx *exposure.Tx, fx *effects) error {
	cfg := c.cfg.Load()
	if cfg.Hedging.Disabled {
		return nil
	}
	sym := tx.Symbol()
	if _, ok := c.blocked[sym]; ok {
		return nil
	}

	lim, err := cfg.ExposureLimit(sym)
	if err != nil {
		return err
	}
	inst, err := cfg.Instrument(sym)
	if err != nil {
		return err
	}

	net := tx.Net()
	excess := net.Abs().Sub(lim)
	side := market.Sell
	if net.IsNegative() {
		side = market.Buy
	}
	now := c.now()
	o := c.active[sym]

	switch {
	case o == nil:
		if !excess.IsPositive() {
			return nil
		}
		o = &Order{
			ID:          id.Prefixed("HDG"),
			Symbol:      sym,
			Side:        side,
			Target:      excess,
			Volume:      hedgeVolume(inst, excess, net),
			State:       Pending,
			CreatedAt:   now,
			UpdatedAt:   now,
			NextAttempt: now,
		}
		if cr, ok := c.carry[sym]; ok {
			o.Attempts = cr.attempts
			o.NextAttempt = cr.notBefore
			delete(c.carry, sym)
		}
		c.active[sym] = o
		c.byID[o.ID] = o
		c.changedLocked(o, fx)
		c.log.Info("hedge created",
			zap.String("hedge_id", o.ID),
			zap.String("symbol", string(sym)),
			zap.String("side", string(o.Side)),
			zap.String("volume", o.Volume.String()),
			zap.String("net_volume", net.String()),
			zap.String("limit", lim.String()),
		)

	case o.State == Pending && !o.inflight:
		if !excess.IsPositive() {
			o.LastError = "exposure back within limit"
			if err := o.transition(Reconciled, now); err != nil {
				return err
			}
			c.changedLocked(o, fx)
			c.archiveLocked(o)
			return nil
		}
		vol := hedgeVolume(inst, excess, net)
		if o.Side == side && o.Target.Equal(excess) && o.Volume.Equal(vol) {
			return nil
		}
		o.Side, o.Target, o.Volume = side, excess, vol
		o.UpdatedAt = now
		c.changedLocked(o, fx)

	default:
		// In flight: the submitted volume is fixed, only the target grows.
		// Whatever is left after the fill gets a successor.
		if o.Side == side && excess.GreaterThan(o.Target) {
			o.Target = excess
			o.UpdatedAt = now
			c.changedLocked(o, fx)
		}
	}
	return nil
}

// hedgeVolume rounds excess up to the lot step, within [MinLot, MaxLot] and
// never more than the exposure itself.
func hedgeVolume(inst market.Instrument, excess, net decimal.Decimal) decimal.Decimal {
	v := excess
	if inst.LotStep.IsPositive() {
		v = excess.Div(inst.LotStep).Ceil().Mul(inst.LotStep)
	}
	if inst.MinLot.IsPositive() && v.LessThan(inst.MinLot) {
		v = inst.MinLot
	}
	if inst.MaxLot.IsPositive() && v.GreaterThan(inst.MaxLot) {
		v = inst.MaxLot
	}
	return decimal.Min(v, net.Abs())
}

// DispatchDue submits every pending hedge whose backoff has elapsed.
func (c *Controller) DispatchDue(ctx context.Context) {
	cfg := c.cfg.Load().Hedging
	now := c.now()

	type submission struct {
		o   *Order
		req broker.Request
	}
	var (
		fx   effects
		subs []submission
	)

	c.mu.Lock()
	for _, o := range c.sortedActiveLocked() {
		if o.State != Pending || o.inflight || now.Before(o.NextAttempt) {
			continue
		}
		if o.Attempts >= cfg.MaxAttempts {
			c.failLocked(o, now, "retry budget exhausted", &fx)
			continue
		}
		o.inflight = true
		o.Attempts++
		o.attemptFilled = decimal.Zero
		subs = append(subs, submission{o: o, req: broker.Request{
			ClientRef: o.ID,
			Origin:    broker.OriginHedge,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Volume:    o.Volume,
		}})
	}
	c.mu.Unlock()
	c.flush(ctx, fx)

	for _, s := range subs {
		c.submit(ctx, cfg, s.o, s.req)
	}
}

func (c *Controller) submit(ctx context.Context, cfg config.HedgingConfig, o *Order, req broker.Request) {
	sctx, cancel := context.WithTimeout(ctx, cfg.SubmitTimeout)
	h, err := c.gateway.Submit(sctx, req)
	cancel()

	var fx effects
	c.mu.Lock()
	o.inflight = false
	now := c.now()
	switch {
	case err != nil:
		o.LastError = err.Error()
		o.UpdatedAt = now
		if o.State != Pending {
			break
		}
		if o.Attempts >= cfg.MaxAttempts {
			c.failLocked(o, now, o.LastError, &fx)
			break
		}
		o.NextAttempt = now.Add(backoff(cfg).Delay(o.Attempts))
		c.changedLocked(o, &fx)
		c.log.Warn("hedge submit failed, will retry",
			zap.String("hedge_id", o.ID),
			zap.Int("attempt", o.Attempts),
			zap.Time("next_attempt", o.NextAttempt),
			zap.Error(err),
		)

	case o.State == Pending:
		o.Handle = h
		o.SubmittedAt = now
		c.byHandle[h] = o
		_ = o.transition(Submitted, now)
		c.changedLocked(o, &fx)

	default:
		// A report arrived before Submit returned.
		if o.Handle == "" {
			o.Handle = h
		}
		c.byHandle[h] = o
	}
	c.mu.Unlock()
	c.flush(ctx, fx)
}

func (c *Controller) expire(ctx context.Context) {
	cfg := c.cfg.Load().Hedging
	now := c.now()

	var fx effects
	c.mu.Lock()
	for _, o := range c.sortedActiveLocked() {
		if o.State != Submitted || now.Sub(o.SubmittedAt) < cfg.SubmitTimeout {
			continue
		}
		fx.cancels = append(fx.cancels, o.Handle)
		o.LastError = "no execution report within submit timeout"
		if o.Attempts >= cfg.MaxAttempts {
			c.failLocked(o, now, o.LastError, &fx)
			continue
		}
		_ = o.transition(Pending, now)
		o.Handle = ""
		o.attemptFilled = decimal.Zero
		o.NextAttempt = now.Add(backoff(cfg).Delay(o.Attempts))
		c.changedLocked(o, &fx)
		c.log.Warn("hedge timed out, will retry",
			zap.String("hedge_id", o.ID),
			zap.Int("attempt", o.Attempts),
			zap.Time("next_attempt", o.NextAttempt),
		)
	}
	c.mu.Unlock()
	c.flush(ctx, fx)
}

// OnFill books a hedge execution. Fills are authoritative: a fill for a
// superseded or failed attempt is still booked to the ledger.
func (c *Controller) OnFill(f broker.Fill) {
	o := c.lookup(f.ClientRef, f.Handle)
	if o == nil {
		c.log.Warn("fill for unknown hedge",
			zap.String("client_ref", f.ClientRef),
			zap.String("handle", string(f.Handle)),
		)
		return
	}

	var fx effects
	_, err := c.ledger.Exclusive(o.Symbol, func(tx *exposure.Tx) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		side := f.Side
		if !side.Valid() {
			side = o.Side
		}
		applied, err := tx.ApplyHedge(side, f.Volume, f.Price)
		if err != nil {
			return err
		}

		now := c.now()
		o.Filled = o.Filled.Add(f.Volume)
		o.Price = f.Price
		o.UpdatedAt = now
		c.postLocked(o, side, f, &fx)

		if applied.LessThan(f.Volume) {
			c.log.Warn("hedge fill larger than exposure, excess not booked",
				zap.String("hedge_id", o.ID),
				zap.String("volume", f.Volume.String()),
				zap.String("applied", applied.String()),
			)
		}

		switch {
		case !c.currentLocked(o, f.Handle):
			c.log.Warn("late hedge fill booked",
				zap.String("hedge_id", o.ID),
				zap.String("handle", string(f.Handle)),
				zap.String("state", o.State.String()),
				zap.String("volume", applied.String()),
			)
			c.changedLocked(o, &fx)

		case o.attemptFilled.Add(f.Volume).LessThan(o.Volume):
			// The ticket stays open at the provider for the remainder.
			o.attemptFilled = o.attemptFilled.Add(f.Volume)
			if o.State == Pending {
				o.SubmittedAt = now
				_ = o.transition(Submitted, now)
			}
			c.changedLocked(o, &fx)
			c.log.Info("hedge partially filled",
				zap.String("hedge_id", o.ID),
				zap.String("filled", o.attemptFilled.String()),
				zap.String("volume", o.Volume.String()),
			)

		default:
			o.attemptFilled = o.attemptFilled.Add(f.Volume)
			if o.State == Pending {
				_ = o.transition(Submitted, now)
			}
			_ = o.transition(Filled, now)
			c.changedLocked(o, &fx)
			_ = o.transition(Reconciled, now)
			c.changedLocked(o, &fx)
			c.archiveLocked(o)
			delete(c.carry, o.Symbol)
		}

		if err := c.evaluateLocked(tx, &fx); err != nil {
			c.log.Error("hedge re-evaluation failed", zap.String("symbol", string(o.Symbol)), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		c.log.Error("hedge fill not booked", zap.String("hedge_id", o.ID), zap.Error(err))
	}
	c.flush(context.Background(), fx)
}

// OnReject reconciles a rejected hedge. A successor is created right away
// if the exposure still needs it; it inherits the attempt count.
func (c *Controller) OnReject(r broker.Reject) {
	o := c.lookup(r.ClientRef, r.Handle)
	if o == nil {
		c.log.Warn("reject for unknown hedge", zap.String("client_ref", r.ClientRef))
		return
	}

	var fx effects
	_, err := c.ledger.Exclusive(o.Symbol, func(tx *exposure.Tx) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if !c.currentLocked(o, r.Handle) {
			c.log.Info("reject for superseded hedge attempt ignored",
				zap.String("hedge_id", o.ID),
				zap.String("handle", string(r.Handle)),
				zap.String("reason", r.Reason),
			)
			return nil
		}

		now := c.now()
		o.LastError = r.Reason
		if o.State == Pending {
			_ = o.transition(Submitted, now)
		}
		_ = o.transition(Rejected, now)
		c.changedLocked(o, &fx)
		_ = o.transition(Reconciled, now)
		c.changedLocked(o, &fx)
		c.archiveLocked(o)

		c.carry[o.Symbol] = carry{
			attempts:  o.Attempts,
			notBefore: now.Add(backoff(c.cfg.Load().Hedging).Delay(o.Attempts)),
		}
		c.log.Warn("hedge rejected",
			zap.String("hedge_id", o.ID),
			zap.Int("attempts", o.Attempts),
			zap.String("reason", r.Reason),
		)
		return c.evaluateLocked(tx, &fx)
	})
	if err != nil {
		c.log.Error("hedge re-evaluation after reject failed", zap.String("symbol", string(o.Symbol)), zap.Error(err))
	}
	c.flush(context.Background(), fx)
}

// Acknowledge clears a failed hedge so the symbol can be hedged again.
func (c *Controller) Acknowledge(sym market.Symbol) error {
	c.mu.Lock()
	o, ok := c.blocked[sym]
	if ok {
		delete(c.blocked, sym)
		c.archive = append(c.archive, *o)
	}
	c.mu.Unlock()
	if !ok {
		return ErrNotBlocked
	}
	c.log.Info("failed hedge acknowledged", zap.String("hedge_id", o.ID), zap.String("symbol", string(sym)))
	return c.Evaluate(sym)
}

// Outstanding returns the symbol's Pending or Submitted hedge.
func (c *Controller) Outstanding(sym market.Symbol) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.active[sym]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns the outstanding and failed, unacknowledged hedges.
func (c *Controller) Orders() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Order, 0, len(c.active)+len(c.blocked))
	for _, o := range c.active {
		out = append(out, *o)
	}
	for _, o := range c.blocked {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Archive returns reconciled and acknowledged hedges, oldest first.
func (c *Controller) Archive() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Order(nil), c.archive...)
}

// Blocked returns the symbols waiting for Acknowledge.
func (c *Controller) Blocked() []market.Symbol {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]market.Symbol, 0, len(c.blocked))
	for sym := range c.blocked {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) lookup(ref string, h broker.Handle) *Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.byID[ref]; ok {
		return o
	}
	return c.byHandle[h]
}

// currentLocked reports whether a report with handle h belongs to o's live
// attempt rather than to one that timed out.
func (c *Controller) currentLocked(o *Order, h broker.Handle) bool {
	switch o.State {
	case Submitted:
		return o.Handle == "" || h == "" || o.Handle == h
	case Pending:
		// handles of earlier attempts are registered, the inflight one is not yet
		return o.inflight && (h == "" || c.byHandle[h] == nil)
	}
	return false
}

func (c *Controller) failLocked(o *Order, now time.Time, reason string, fx *effects) {
	if err := o.transition(Failed, now); err != nil {
		c.log.Error("cannot fail hedge", zap.Error(err))
		return
	}
	o.LastError = reason
	delete(c.active, o.Symbol)
	c.blocked[o.Symbol] = o
	c.changedLocked(o, fx)
	fx.alerts = append(fx.alerts, *o)
	c.metrics.HedgeFailed(string(o.Symbol))
}

func (c *Controller) archiveLocked(o *Order) {
	if c.active[o.Symbol] == o {
		delete(c.active, o.Symbol)
	}
	c.archive = append(c.archive, *o)
}

func (c *Controller) changedLocked(o *Order, fx *effects) {
	fx.records = append(fx.records, o.record())
	c.metrics.HedgeState(string(o.Symbol), o.State.String())
}

func (c *Controller) postLocked(o *Order, side market.Side, f broker.Fill, fx *effects) {
	cfg := c.cfg.Load()
	when := f.Time
	if when.IsZero() {
		when = c.now()
	}
	e := journal.Entry{
		ID:            id.New(),
		AccountID:     exposure.HedgeAccount,
		ReferenceType: journal.RefHedge,
		ReferenceID:   o.ID,
		Symbol:        o.Symbol,
		Side:          side,
		Volume:        f.Volume,
		Price:         f.Price,
		Book:          market.ABook,
		Time:          when,
	}
	if inst, err := cfg.Instrument(o.Symbol); err == nil {
		if amt, err := market.AccountNotional(inst, cfg.Currency, f.Volume, f.Price); err == nil {
			e.Amount = amt
		} else {
			c.log.Warn("hedge posting without account amount", zap.String("hedge_id", o.ID), zap.Error(err))
		}
	}
	fx.entries = append(fx.entries, e)
}

func (c *Controller) sortedActiveLocked() []*Order {
	out := make([]*Order, 0, len(c.active))
	for _, o := range c.active {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *Controller) flush(ctx context.Context, fx effects) {
	for _, h := range fx.cancels {
		if err := c.gateway.Cancel(ctx, h); err != nil {
			c.log.Warn("hedge cancel failed", zap.String("handle", string(h)), zap.Error(err))
		}
	}
	if c.journal != nil {
		for _, e := range fx.entries {
			if err := c.journal.PostEntry(e); err != nil {
				c.metrics.JournalError("entry")
				c.log.Error("hedge posting failed", zap.String("entry_id", e.ID), zap.Error(err))
			}
		}
		for _, r := range fx.records {
			if err := c.journal.RecordHedge(r); err != nil {
				c.metrics.JournalError("hedge")
				c.log.Error("hedge record failed", zap.String("hedge_id", r.HedgeID), zap.Error(err))
			}
		}
	}
	for _, o := range fx.alerts {
		c.alerter.HedgeFailed(o)
	}
}

func backoff(cfg config.HedgingConfig) retry.Backoff {
	return retry.Backoff{Base: cfg.BaseBackoff, Max: cfg.MaxBackoff}
}
