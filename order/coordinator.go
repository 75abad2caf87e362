// Package order runs client orders through margin check, routing and
// execution.
//
// Submit is the only entry point. Margin is checked under a per-account lock
// so that two orders of one account cannot both spend the same free margin.
// The routing decision and the B-Book fill share one exposure ledger
// critical section. A-Book orders are sent to the execution gateway and
// never touch the ledger.
//
// Lock order: account lock, then ledger symbol lock, then the coordinator
// mutex. Gateway calls are made with only the account lock held at most.
package order

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/rustyeddy/dealer/risk"
	"github.com/rustyeddy/dealer/routing"
)

// Quotes is the read side of the price cache.
type Quotes interface {
	Get(sym market.Symbol) (market.Quote, error)
	Fresh(sym market.Symbol, now time.Time, maxAge time.Duration) (market.Quote, error)
}

// Services are the collaborators a Coordinator cannot run without. Router
// is optional and defaults to a routing.Engine over Ledger.
type Services struct {
	Quotes   Quotes
	Ledger   *exposure.Ledger
	Accounts broker.Accounts
	Gateway  broker.Gateway
	Router   *routing.Engine
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func WithJournal(j journal.Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

type entry struct {
	order Order
	res   Result

	handle          broker.Handle
	retired         map[broker.Handle]bool
	dispatched      bool
	cancelRequested bool

	done   chan struct{}
	closed bool
}

type Coordinator struct {
	cfg      *config.Store
	quotes   Quotes
	ledger   *exposure.Ledger
	router   *routing.Engine
	accounts broker.Accounts
	gateway  broker.Gateway
	journal  journal.Journal
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu       sync.Mutex
	orders   map[string]*entry
	byHandle map[broker.Handle]*entry
	// margin held by dispatched A-Book orders, account -> order -> amount
	reserved map[string]map[string]decimal.Decimal
}

func New(cfg *config.Store, svc Services, opts ...Option) (*Coordinator, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("order: config store is required")
	case svc.Quotes == nil:
		return nil, errors.New("order: quote source is required")
	case svc.Ledger == nil:
		return nil, errors.New("order: exposure ledger is required")
	case svc.Accounts == nil:
		return nil, errors.New("order: account service is required")
	case svc.Gateway == nil:
		return nil, errors.New("order: execution gateway is required")
	}

	c := &Coordinator{
		cfg:      cfg,
		quotes:   svc.Quotes,
		ledger:   svc.Ledger,
		router:   svc.Router,
		accounts: svc.Accounts,
		gateway:  svc.Gateway,
		log:      zap.NewNop(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		orders:   make(map[string]*entry),
		byHandle: make(map[broker.Handle]*entry),
		reserved: make(map[string]map[string]decimal.Decimal),
	}
	for _, o := range opts {
		o(c)
	}
	if c.router == nil {
		c.router = routing.NewEngine(cfg, svc.Ledger, routing.WithLogger(c.log))
	}
	return c, nil
}

// Submit runs o to completion. Rejections before dispatch are returned with
// their reason code and leave no trace in the ledger. An A-Book order blocks
// until the gateway fills or rejects it, or the retry budget runs out.
func (c *Coordinator) Submit(ctx context.Context, o Order) (Result, error) {
	if o.ID == "" {
		o.ID = id.Prefixed("ORD")
	}
	if o.Type == "" {
		o.Type = Market
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = c.now()
	}

	e, err := c.register(o)
	if err != nil {
		return Result{}, err
	}

	cfg := c.cfg.Load()
	inst, q, err := c.prepare(cfg, o)
	if err != nil {
		return c.reject(e, err)
	}

	out, err := c.accept(ctx, cfg, e, inst, q)
	if err != nil {
		return c.reject(e, err)
	}
	c.metrics.Routed(string(o.Symbol), string(out.Book), string(out.Reason))

	if out.Book == market.BBook {
		return c.settleInternal(cfg, e, out)
	}
	return c.execute(ctx, cfg, e)
}

func (c *Coordinator) register(o Order) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[o.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	e := &entry{
		order: o,
		res: Result{
			OrderID:   o.ID,
			AccountID: o.AccountID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Volume:    o.Volume,
			State:     Received,
			UpdatedAt: c.now(),
		},
		done: make(chan struct{}),
	}
	c.orders[o.ID] = e
	return e, nil
}

// prepare checks everything that needs no account state: the instrument,
// the volume and the freshness of the quote.
func (c *Coordinator) prepare(cfg *config.Config, o Order) (market.Instrument, market.Quote, error) {
	if o.Type != Market {
		return market.Instrument{}, market.Quote{}, risk.Errorf(risk.CodeConfigurationError, "unsupported order type %q", o.Type)
	}
	if o.AccountID == "" {
		return market.Instrument{}, market.Quote{}, risk.Errorf(risk.CodeConfigurationError, "order %s has no account", o.ID)
	}
	inst, err := cfg.Instrument(o.Symbol)
	if err != nil {
		return market.Instrument{}, market.Quote{}, err
	}
	if err := risk.ValidateVolume(inst, o.Volume); err != nil {
		return market.Instrument{}, market.Quote{}, err
	}
	q, err := c.quotes.Fresh(o.Symbol, c.now(), cfg.Staleness)
	if err != nil {
		return market.Instrument{}, market.Quote{}, risk.Errorf(risk.CodeStaleQuote, "%v", err)
	}
	return inst, q, nil
}

// accept checks margin and routes the order while holding the account lock.
// B-Book orders are booked into the ledger before the lock is released;
// A-Book orders reserve their margin.
func (c *Coordinator) accept(ctx context.Context, cfg *config.Config, e *entry, inst market.Instrument, q market.Quote) (routing.Outcome, error) {
	o := e.order
	lk := c.accountLock(o.AccountID)
	lk.Lock()
	defer lk.Unlock()

	acct, err := c.accountState(ctx, cfg, o)
	if err != nil {
		return routing.Outcome{}, err
	}
	mc, err := risk.CheckMargin(acct, risk.Ticket{Instrument: inst, Side: o.Side, Volume: o.Volume}, q)
	if err != nil {
		return routing.Outcome{}, err
	}
	c.mu.Lock()
	e.res.Margin = mc
	c.mu.Unlock()
	if !mc.Allowed {
		return routing.Outcome{}, risk.Errorf(risk.CodeInsufficientMargin,
			"account %s needs %s %s, free margin %s",
			o.AccountID, mc.RequiredMargin.StringFixed(2), acct.Currency, mc.FreeMarginBefore.StringFixed(2))
	}
	if err := c.advance(e, MarginChecked, nil); err != nil {
		return routing.Outcome{}, err
	}

	ticket := routing.Ticket{
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Volume:    o.Volume,
	}
	var out routing.Outcome
	snap, err := c.ledger.Exclusive(o.Symbol, func(tx *exposure.Tx) error {
		var err error
		if out, err = c.router.DecideWithExposure(ticket, q, tx.Net()); err != nil {
			return err
		}
		err = c.advance(e, Routed, func(r *Result) {
			r.Book = out.Book
			r.Reason = out.Reason
		})
		if err != nil || out.Book != market.BBook {
			return err
		}
		_, err = tx.Apply(o.AccountID, o.Side, o.Volume, out.Price)
		return err
	})
	if err != nil {
		return routing.Outcome{}, err
	}

	c.mu.Lock()
	if out.Book == market.BBook {
		e.res.Exposure = snap.NetVolume
	} else {
		if c.reserved[o.AccountID] == nil {
			c.reserved[o.AccountID] = make(map[string]decimal.Decimal)
		}
		c.reserved[o.AccountID][o.ID] = mc.RequiredMargin
	}
	c.mu.Unlock()
	return out, nil
}

// accountState builds the margin view of the order's account: equity from
// the account service, margin used by positions held at the account service
// and in the house book, plus margin reserved by in-flight A-Book orders.
func (c *Coordinator) accountState(ctx context.Context, cfg *config.Config, o Order) (risk.AccountState, error) {
	acct := o.AccountID
	equity, err := c.accounts.Equity(ctx, acct)
	if err != nil {
		return risk.AccountState{}, risk.Errorf(risk.CodeConfigurationError, "equity of account %s: %v", acct, err)
	}
	open, err := c.accounts.OpenPositions(ctx, acct)
	if err != nil {
		return risk.AccountState{}, risk.Errorf(risk.CodeConfigurationError, "positions of account %s: %v", acct, err)
	}

	positions := make([]market.Position, 0, len(open))
	positions = append(positions, open...)
	positions = append(positions, c.ledger.Positions(acct)...)

	held := make([]risk.Held, 0, len(positions))
	for _, p := range positions {
		inst, err := cfg.Instrument(p.Symbol)
		if err != nil {
			return risk.AccountState{}, err
		}
		// no mark means the entry price is used
		mark, _ := c.quotes.Get(p.Symbol)
		held = append(held, risk.Held{
			Position:   p,
			Instrument: inst,
			Mark:       mark,
			Leverage:   cfg.LeverageFor(acct, p.Symbol),
		})
	}

	cur := cfg.AccountCurrency(acct)
	used, err := risk.UsedMargin(cur, held)
	if err != nil {
		return risk.AccountState{}, err
	}

	c.mu.Lock()
	for _, m := range c.reserved[acct] {
		used = used.Add(m)
	}
	c.mu.Unlock()

	return risk.AccountState{
		AccountID:  acct,
		Currency:   cur,
		Equity:     equity,
		Leverage:   cfg.LeverageFor(acct, o.Symbol),
		UsedMargin: used,
	}, nil
}

func (c *Coordinator) settleInternal(cfg *config.Config, e *entry, out routing.Outcome) (Result, error) {
	now := c.now()
	c.mu.Lock()
	e.res.FillPrice = out.Price
	e.res.FilledVolume = e.order.Volume
	_ = c.transitionLocked(e, Filled, now)
	_ = c.transitionLocked(e, Settled, now)
	c.finishLocked(e)
	res := e.res
	c.mu.Unlock()

	c.post(cfg, e.order, market.BBook, out.Price, e.order.Volume, now)
	c.metrics.Settled(string(market.BBook))
	c.log.Info("order settled",
		zap.String("order_id", res.OrderID),
		zap.String("account_id", res.AccountID),
		zap.String("symbol", string(res.Symbol)),
		zap.String("book", string(res.Book)),
		zap.String("reason", string(res.Reason)),
		zap.String("price", res.FillPrice.String()),
		zap.String("net_volume", res.Exposure.String()),
	)
	return res, nil
}

// execute dispatches an A-Book order, retrying submit errors and fill
// timeouts with backoff. The order is never moved to the B-Book.
func (c *Coordinator) execute(ctx context.Context, cfg *config.Config, e *entry) (Result, error) {
	o := e.order
	exec := cfg.Execution
	bo := retry.Backoff{Base: exec.BaseBackoff, Max: exec.MaxBackoff}
	req := broker.Request{
		ClientRef: o.ID,
		Origin:    broker.OriginTrade,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Volume:    o.Volume,
	}

	err := c.advance(e, Dispatched, nil)
	if err != nil {
		return c.result(e), err
	}

	var lastErr error
	for attempt := 1; attempt <= exec.MaxAttempts; attempt++ {
		if attempt > 1 && !c.pause(ctx, e, bo.Delay(attempt-1)) {
			break
		}
		if c.cancelled(e) {
			break
		}
		req.Volume = o.Volume.Sub(c.result(e).FilledVolume)

		start := time.Now()
		h, err := c.gateway.Submit(ctx, req)
		c.metrics.ObserveSubmit(string(market.ABook), time.Since(start))
		if err != nil {
			lastErr = err
			c.log.Warn("order submit failed",
				zap.String("order_id", o.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.bind(e, h)

		timer := time.NewTimer(exec.FillTimeout)
		select {
		case <-e.done:
			timer.Stop()
			r := c.result(e)
			return r, r.Err()
		case <-timer.C:
			lastErr = fmt.Errorf("no execution report within %s", exec.FillTimeout)
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
		}
		c.log.Warn("order attempt timed out",
			zap.String("order_id", o.ID),
			zap.String("handle", string(h)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		c.unbind(e, h, exec.FillTimeout)
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	code := risk.CodeExecutionUnavailable
	msg := fmt.Sprintf("gateway did not execute order after %d attempts", exec.MaxAttempts)
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	if c.cancelled(e) {
		code, msg = risk.CodeOrderCancelled, "cancelled by client before execution"
	}
	r := c.abortDispatched(e, code, msg)
	return r, r.Err()
}

// pause waits d, returning false if the order finished or ctx ended first.
func (c *Coordinator) pause(ctx context.Context, e *entry, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) bind(e *entry, h broker.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHandle[h] = e
	if !e.res.State.Terminal() {
		e.handle = h
	}
}

// unbind cancels a timed out attempt. Reports for it are still matched by
// order id.
func (c *Coordinator) unbind(e *entry, h broker.Handle, timeout time.Duration) {
	c.mu.Lock()
	if e.handle == h {
		e.handle = ""
	}
	if e.retired == nil {
		e.retired = make(map[broker.Handle]bool)
	}
	e.retired[h] = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.gateway.Cancel(ctx, h); err != nil {
		c.log.Warn("order cancel failed", zap.String("order_id", e.order.ID), zap.String("handle", string(h)), zap.Error(err))
	}
}

func (c *Coordinator) cancelled(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.cancelRequested
}

// OnFill books a trade execution. A dispatched order settles once its filled
// volume reaches the order volume; partial fills are posted as they arrive.
// Fills are authoritative: one that arrives after the order was aborted
// still settles it, and a fill for a settled order is booked as well.
func (c *Coordinator) OnFill(f broker.Fill) {
	e := c.lookup(f.ClientRef, f.Handle)
	if e == nil {
		c.log.Warn("fill for unknown order",
			zap.String("client_ref", f.ClientRef),
			zap.String("handle", string(f.Handle)),
		)
		return
	}

	cfg := c.cfg.Load()
	now := c.now()
	when := f.Time
	if when.IsZero() {
		when = now
	}

	var (
		superseded broker.Handle
		first      bool
	)
	c.mu.Lock()
	switch {
	case e.res.State == Dispatched:
		if e.handle != "" && f.Handle != "" && f.Handle != e.handle {
			superseded = e.handle
		}
		addFillLocked(e, f)
		if e.res.FilledVolume.LessThan(e.order.Volume) && superseded == "" {
			// The rest of the ticket is still working at the gateway.
			e.res.UpdatedAt = now
			res := e.res
			c.mu.Unlock()
			c.post(cfg, e.order, market.ABook, f.Price, f.Volume, when)
			c.log.Info("order partially filled",
				zap.String("order_id", res.OrderID),
				zap.String("filled", res.FilledVolume.String()),
				zap.String("volume", res.Volume.String()),
			)
			return
		}
		first = true
		_ = c.transitionLocked(e, Settled, now)

	case e.res.State == Aborted && e.dispatched:
		first = true
		e.res.FillPrice = f.Price
		e.res.FilledVolume = f.Volume
		e.res.Code = ""
		e.res.Error = ""
		e.res.Late = true
		_ = c.transitionLocked(e, Settled, now)

	case e.res.State == Settled && e.dispatched:
		addFillLocked(e, f)
		e.res.Late = true
		e.res.UpdatedAt = now

	default:
		state := e.res.State
		c.mu.Unlock()
		c.log.Warn("fill for order that was not dispatched",
			zap.String("order_id", e.order.ID),
			zap.String("state", state.String()),
		)
		return
	}
	c.releaseLocked(e)
	c.finishLocked(e)
	e.handle = ""
	res := e.res
	c.mu.Unlock()

	if superseded != "" {
		if err := c.gateway.Cancel(context.Background(), superseded); err != nil {
			c.log.Warn("order cancel failed", zap.String("order_id", res.OrderID), zap.String("handle", string(superseded)), zap.Error(err))
		}
	}
	c.post(cfg, e.order, market.ABook, f.Price, f.Volume, when)

	if first {
		c.metrics.Settled(string(market.ABook))
	}
	if res.Late {
		c.log.Warn("late fill booked",
			zap.String("order_id", res.OrderID),
			zap.String("handle", string(f.Handle)),
			zap.String("volume", f.Volume.String()),
			zap.String("price", f.Price.String()),
		)
	} else {
		c.log.Info("order settled",
			zap.String("order_id", res.OrderID),
			zap.String("account_id", res.AccountID),
			zap.String("symbol", string(res.Symbol)),
			zap.String("book", string(res.Book)),
			zap.String("reason", string(res.Reason)),
			zap.String("price", res.FillPrice.String()),
		)
	}
	c.notify(res)
}

// addFillLocked adds f to the order's filled volume at the volume weighted
// average price.
func addFillLocked(e *entry, f broker.Fill) {
	total := e.res.FilledVolume.Add(f.Volume)
	if total.IsPositive() {
		e.res.FillPrice = e.res.FillPrice.Mul(e.res.FilledVolume).Add(f.Price.Mul(f.Volume)).Div(total)
	}
	e.res.FilledVolume = total
}

// OnReject aborts a dispatched order. Rejects for attempts that already
// timed out, including the gateway's cancel confirmations, are ignored.
func (c *Coordinator) OnReject(r broker.Reject) {
	e := c.lookup(r.ClientRef, r.Handle)
	if e == nil {
		c.log.Warn("reject for unknown order", zap.String("client_ref", r.ClientRef))
		return
	}

	c.mu.Lock()
	stale := r.Handle != "" && (e.retired[r.Handle] || (e.handle != "" && r.Handle != e.handle))
	if e.res.State != Dispatched || stale {
		state := e.res.State
		c.mu.Unlock()
		c.log.Info("reject ignored",
			zap.String("order_id", e.order.ID),
			zap.String("handle", string(r.Handle)),
			zap.String("state", state.String()),
			zap.String("reason", r.Reason),
		)
		return
	}
	if e.res.FilledVolume.IsPositive() {
		res := c.settlePartialLocked(e, r.Reason)
		c.mu.Unlock()
		c.partial(res)
		return
	}
	code := risk.CodeExecutionRejected
	if e.cancelRequested {
		code = risk.CodeOrderCancelled
	}
	res := c.abortLocked(e, code, r.Reason)
	c.mu.Unlock()

	c.rejected(res)
	c.notify(res)
}

// Cancel aborts an order that has not been routed yet. Once routed the
// cancel is forwarded to the gateway and a fill may still settle the order.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	c.mu.Lock()
	e, ok := c.orders[orderID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	switch e.res.State {
	case Received, MarginChecked:
		res := c.abortLocked(e, risk.CodeOrderCancelled, "cancelled by client")
		c.mu.Unlock()
		c.rejected(res)
		return nil

	case Routed, Dispatched:
		e.cancelRequested = true
		h := e.handle
		c.mu.Unlock()
		c.log.Info("cancel requested", zap.String("order_id", orderID), zap.String("handle", string(h)))
		if h == "" {
			return nil
		}
		return c.gateway.Cancel(ctx, h)
	}

	state := e.res.State
	c.mu.Unlock()
	return fmt.Errorf("%w: %s is %s", ErrNotCancellable, orderID, state)
}

// Get returns the current result of an order.
func (c *Coordinator) Get(orderID string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.orders[orderID]
	if !ok {
		return Result{}, false
	}
	return e.res, true
}

// Orders returns every order seen, oldest first.
func (c *Coordinator) Orders() []Result {
	c.mu.Lock()
	out := make([]Result, 0, len(c.orders))
	created := make(map[string]time.Time, len(c.orders))
	for _, e := range c.orders {
		out = append(out, e.res)
		created[e.order.ID] = e.order.CreatedAt
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := created[out[i].OrderID], created[out[j].OrderID]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (c *Coordinator) accountLock(acct string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	lk, ok := c.locks[acct]
	if !ok {
		lk = new(sync.Mutex)
		c.locks[acct] = lk
	}
	return lk
}

func (c *Coordinator) lookup(ref string, h broker.Handle) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.orders[ref]; ok {
		return e
	}
	return c.byHandle[h]
}

func (c *Coordinator) result(e *entry) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.res
}

// advance moves e to the next state. It fails with the order's own error
// if the order was aborted meanwhile, typically by Cancel.
func (c *Coordinator) advance(e *entry, to State, fn func(*Result)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.res.State.Terminal() {
		if err := e.res.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, e.order.ID, e.res.State)
	}
	if err := c.transitionLocked(e, to, c.now()); err != nil {
		return err
	}
	if to == Dispatched {
		e.dispatched = true
	}
	if fn != nil {
		fn(&e.res)
	}
	return nil
}

func (c *Coordinator) transitionLocked(e *entry, to State, now time.Time) error {
	if !canTransition(e.res.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, e.order.ID, e.res.State, to)
	}
	e.res.State = to
	e.res.UpdatedAt = now
	return nil
}

// reject aborts an order that was not dispatched. If the order is already
// terminal, its result is returned unchanged.
func (c *Coordinator) reject(e *entry, err error) (Result, error) {
	c.mu.Lock()
	if e.res.State.Terminal() {
		res := e.res
		c.mu.Unlock()
		return res, res.Err()
	}
	code := risk.CodeOf(err)
	if code == "" {
		code = risk.CodeConfigurationError
	}
	msg := err.Error()
	var re *risk.Error
	if errors.As(err, &re) {
		msg = re.Msg
	}
	res := c.abortLocked(e, code, msg)
	c.mu.Unlock()

	c.rejected(res)
	return res, res.Err()
}

func (c *Coordinator) abortDispatched(e *entry, code risk.Code, msg string) Result {
	c.mu.Lock()
	if e.res.State.Terminal() {
		res := e.res
		c.mu.Unlock()
		return res
	}
	if e.res.FilledVolume.IsPositive() {
		res := c.settlePartialLocked(e, msg)
		c.mu.Unlock()
		c.partial(res)
		return res
	}
	res := c.abortLocked(e, code, msg)
	c.mu.Unlock()

	c.rejected(res)
	c.notify(res)
	return res
}

func (c *Coordinator) abortLocked(e *entry, code risk.Code, msg string) Result {
	if err := c.transitionLocked(e, Aborted, c.now()); err != nil {
		c.log.Error("cannot abort order", zap.Error(err))
	}
	e.res.Code = code
	e.res.Error = msg
	c.releaseLocked(e)
	c.finishLocked(e)
	return e.res
}

// settlePartialLocked settles a dispatched order for the volume already
// filled. The unfilled remainder is dropped and msg records why.
func (c *Coordinator) settlePartialLocked(e *entry, msg string) Result {
	if err := c.transitionLocked(e, Settled, c.now()); err != nil {
		c.log.Error("cannot settle order", zap.Error(err))
	}
	e.res.Error = fmt.Sprintf("remaining %s not executed: %s", e.order.Volume.Sub(e.res.FilledVolume), msg)
	e.handle = ""
	c.releaseLocked(e)
	c.finishLocked(e)
	return e.res
}

func (c *Coordinator) partial(res Result) {
	c.metrics.Settled(string(market.ABook))
	c.log.Warn("order settled partially",
		zap.String("order_id", res.OrderID),
		zap.String("account_id", res.AccountID),
		zap.String("filled", res.FilledVolume.String()),
		zap.String("volume", res.Volume.String()),
		zap.String("reason", res.Error),
	)
	c.notify(res)
}

func (c *Coordinator) releaseLocked(e *entry) {
	acct := e.order.AccountID
	delete(c.reserved[acct], e.order.ID)
	if len(c.reserved[acct]) == 0 {
		delete(c.reserved, acct)
	}
}

func (c *Coordinator) finishLocked(e *entry) {
	if !e.closed {
		e.closed = true
		close(e.done)
	}
}

func (c *Coordinator) rejected(res Result) {
	c.metrics.Rejected(string(res.Code))
	c.log.Info("order rejected",
		zap.String("order_id", res.OrderID),
		zap.String("account_id", res.AccountID),
		zap.String("symbol", string(res.Symbol)),
		zap.String("state", res.State.String()),
		zap.String("code", string(res.Code)),
		zap.String("reason", res.Error),
	)
}

func (c *Coordinator) notify(res Result) {
	if c.notifier != nil {
		c.notifier.OrderCompleted(res)
	}
}

// post writes the trade posting for a fill. Failures are counted and
// logged; retrying is the journal's business.
func (c *Coordinator) post(cfg *config.Config, o Order, book market.Book, price, volume decimal.Decimal, when time.Time) {
	if c.journal == nil {
		return
	}
	e := journal.Entry{
		ID:            id.New(),
		AccountID:     o.AccountID,
		ReferenceType: journal.RefTrade,
		ReferenceID:   o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Volume:        volume,
		Price:         price,
		Book:          book,
		Time:          when,
	}
	if inst, err := cfg.Instrument(o.Symbol); err == nil {
		amt, err := market.AccountNotional(inst, cfg.AccountCurrency(o.AccountID), volume, price)
		if err != nil {
			c.log.Warn("trade posting without account amount", zap.String("order_id", o.ID), zap.Error(err))
		}
		e.Amount = amt
	}
	if err := c.journal.PostEntry(e); err != nil {
		c.metrics.JournalError("entry")
		c.log.Error("trade posting failed", zap.String("order_id", o.ID), zap.String("entry_id", e.ID), zap.Error(err))
	}
}
