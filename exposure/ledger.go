// Package exposure is the B-Book exposure ledger: net retained volume per
// symbol, netted across accounts.
//
// Every position change goes through Exclusive, which holds a per-symbol lock
// for the duration of the callback. Fills on one symbol are applied one at a
// time in lock acquisition order, fills on different symbols never contend.
// Readers use Snapshot, which loads an atomically published copy and never
// waits on a writer.
package exposure

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/pkg/fanout"
	"github.com/rustyeddy/dealer/risk"
)

// HedgeAccount books the broker's own hedge fills so that the net volume of a
// symbol stays equal to the sum of its positions.
const HedgeAccount = "HOUSE-HEDGE"

var ErrTxClosed = errors.New("exposure: transaction used outside Exclusive")

// Snapshot is the aggregate for one symbol. Long and Short are gross volumes
// across accounts, NetVolume = Long - Short. Seq increases by one per commit.
type Snapshot struct {
	Symbol    market.Symbol
	NetVolume decimal.Decimal
	Long      decimal.Decimal
	Short     decimal.Decimal
	Seq       uint64
	AsOf      time.Time
}

type book struct {
	mu        sync.Mutex
	symbol    market.Symbol
	long      decimal.Decimal
	short     decimal.Decimal
	positions map[string]*market.Position
	seq       uint64
	snap      atomic.Pointer[Snapshot]
}

func (b *book) net() decimal.Decimal { return b.long.Sub(b.short) }

func (b *book) snapshot(asOf time.Time) Snapshot {
	return Snapshot{
		Symbol:    b.symbol,
		NetVolume: b.net(),
		Long:      b.long,
		Short:     b.short,
		Seq:       b.seq,
		AsOf:      asOf,
	}
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}

// WithObserver registers fn to be called with every committed snapshot while
// the symbol lock is still held. fn must not block or call back into the
// ledger.
func WithObserver(fn func(Snapshot)) Option {
	return func(led *Ledger) {
		if fn != nil {
			led.observers = append(led.observers, fn)
		}
	}
}

type Ledger struct {
	books     sync.Map // market.Symbol -> *book
	topic     *fanout.Topic[market.Symbol, Snapshot]
	observers []func(Snapshot)
	log       *zap.Logger
	now       func() time.Time
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		topic: fanout.NewTopic[market.Symbol, Snapshot](),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) book(sym market.Symbol) *book {
	if b, ok := l.books.Load(sym); ok {
		return b.(*book)
	}
	nb := &book{symbol: sym, positions: make(map[string]*market.Position)}
	first := nb.snapshot(time.Time{})
	nb.snap.Store(&first)
	b, _ := l.books.LoadOrStore(sym, nb)
	return b.(*book)
}

// Exclusive runs fn while holding the symbol's lock. Mutations made through
// tx are committed and published when fn returns nil and rolled back when it
// returns an error or panics. The returned snapshot is the state after fn.
func (l *Ledger) Exclusive(sym market.Symbol, fn func(tx *Tx) error) (Snapshot, error) {
	if sym == "" {
		return Snapshot{}, risk.Errorf(risk.CodeConfigurationError, "empty symbol")
	}
	b := l.book(sym)

	b.mu.Lock()
	defer b.mu.Unlock()

	tx := &Tx{book: b}
	defer func() {
		if r := recover(); r != nil {
			if !tx.closed {
				tx.closed = true
				tx.rollback()
			}
			panic(r)
		}
	}()
	err := fn(tx)
	tx.closed = true

	if err != nil {
		tx.rollback()
		return *b.snap.Load(), err
	}
	if !tx.dirty() {
		return *b.snap.Load(), nil
	}

	b.seq++
	snap := b.snapshot(l.now())
	b.snap.Store(&snap)
	for _, fn := range l.observers {
		fn(snap)
	}
	// Published under the lock so subscribers see commits in order.
	l.topic.Publish(sym, snap)
	return snap, nil
}

// ApplyFill books a B-Book fill for accountID. Buys add volume, sells
// subtract it; closing a position is a fill of the opposite side.
func (l *Ledger) ApplyFill(accountID string, sym market.Symbol, side market.Side, volume, price decimal.Decimal) (Snapshot, error) {
	return l.Exclusive(sym, func(tx *Tx) error {
		_, err := tx.Apply(accountID, side, volume, price)
		return err
	})
}

// ApplyHedgeFill books a hedge fill against HedgeAccount. The volume applied
// is clamped so that |NetVolume| never grows: a hedge on the wrong side of
// the current exposure is not applied at all, and a hedge larger than the
// exposure only flattens it. The applied volume is returned.
func (l *Ledger) ApplyHedgeFill(sym market.Symbol, side market.Side, volume, price decimal.Decimal) (Snapshot, decimal.Decimal, error) {
	applied := decimal.Zero
	snap, err := l.Exclusive(sym, func(tx *Tx) error {
		v, err := tx.ApplyHedge(side, volume, price)
		applied = v
		return err
	})
	if err == nil && applied.LessThan(volume) {
		l.log.Warn("hedge fill exceeds exposure, excess not booked",
			zap.String("symbol", string(sym)),
			zap.String("side", string(side)),
			zap.String("volume", volume.String()),
			zap.String("applied", applied.String()),
			zap.String("net_volume", snap.NetVolume.String()),
		)
	}
	return snap, applied, err
}

// Snapshot returns the last committed aggregate for sym without blocking.
// A symbol that was never traded reports a zero snapshot.
func (l *Ledger) Snapshot(sym market.Symbol) Snapshot {
	b, ok := l.books.Load(sym)
	if !ok {
		return Snapshot{Symbol: sym}
	}
	return *b.(*book).snap.Load()
}

// Snapshots returns the committed aggregate of every known symbol, sorted.
func (l *Ledger) Snapshots() []Snapshot {
	var out []Snapshot
	l.books.Range(func(_, v any) bool {
		out = append(out, *v.(*book).snap.Load())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns accountID's position in sym.
func (l *Ledger) Position(accountID string, sym market.Symbol) market.Position {
	b, ok := l.books.Load(sym)
	if !ok {
		return market.Position{AccountID: accountID, Symbol: sym}
	}
	bk := b.(*book)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if p, ok := bk.positions[accountID]; ok {
		return *p
	}
	return market.Position{AccountID: accountID, Symbol: sym}
}

// Positions returns every open B-Book position of accountID.
func (l *Ledger) Positions(accountID string) []market.Position {
	var out []market.Position
	l.books.Range(func(_, v any) bool {
		bk := v.(*book)
		bk.mu.Lock()
		if p, ok := bk.positions[accountID]; ok && !p.Flat() {
			out = append(out, *p)
		}
		bk.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Subscribe returns a coalescing notification of per-symbol changes.
func (l *Ledger) Subscribe() *fanout.Subscription[market.Symbol, Snapshot] {
	return l.topic.Subscribe()
}

func validateFill(accountID string, side market.Side, volume, price decimal.Decimal) error {
	if accountID == "" {
		return fmt.Errorf("exposure: empty account id")
	}
	if !side.Valid() {
		return fmt.Errorf("exposure: unknown side %q", side)
	}
	if !volume.IsPositive() {
		return risk.Errorf(risk.CodeInvalidVolume, "fill volume %s must be positive", volume)
	}
	if !price.IsPositive() {
		return fmt.Errorf("exposure: fill price %s must be positive", price)
	}
	return nil
}
