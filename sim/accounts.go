package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/journal"
	"github.com/rustyeddy/dealer/market"
)

var ErrUnknownAccount = errors.New("sim: unknown account")

type posKey struct {
	book market.Book
	sym  market.Symbol
}

type account struct {
	currency  string
	balance   decimal.Decimal
	positions map[posKey]market.Position
}

// Accounts is an in-memory account service. It implements broker.Accounts
// for the coordinator and journal.Journal so that it can be fed the trade
// postings directly. Hedge postings are ignored; they belong to the house.
//
// OpenPositions only reports A-Book positions. B-Book positions are held in
// the exposure ledger, and the coordinator reads those from there. Equity
// includes both.
type Accounts struct {
	quotes market.QuoteSource
	cfg    *config.Store
	log    *zap.Logger

	mu    sync.Mutex
	accts map[string]*account
}

func NewAccounts(quotes market.QuoteSource, cfg *config.Store, log *zap.Logger) *Accounts {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Accounts{
		quotes: quotes,
		cfg:    cfg,
		log:    log,
		accts:  make(map[string]*account),
	}
	c := cfg.Load()
	for _, ac := range c.Accounts {
		cur := ac.Currency
		if cur == "" {
			cur = c.Currency
		}
		a.Open(ac.ID, cur, ac.Balance)
	}
	return a
}

// Open creates or resets an account.
func (a *Accounts) Open(accountID, currency string, balance decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accts[accountID] = &account{
		currency:  strings.ToUpper(currency),
		balance:   balance,
		positions: make(map[posKey]market.Position),
	}
}

func (a *Accounts) Balance(accountID string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return acct.balance, nil
}

// Equity is balance plus the unrealized P/L of every open position.
// Positions without a quote count at entry.
func (a *Accounts) Equity(_ context.Context, accountID string) (decimal.Decimal, error) {
	cfg := a.cfg.Load()
	a.mu.Lock()
	defer a.mu.Unlock()

	acct, ok := a.accts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	equity := acct.balance
	for k, p := range acct.positions {
		inst, err := cfg.Instrument(k.sym)
		if err != nil {
			return decimal.Zero, err
		}
		q, err := a.quotes.Get(k.sym)
		if err != nil {
			continue
		}
		rate, err := market.QuoteToAccountRate(inst, acct.currency, q)
		if err != nil {
			return decimal.Zero, err
		}
		equity = equity.Add(UnrealizedPL(inst, p, q).Mul(rate))
	}
	return equity, nil
}

// OpenPositions returns the account's A-Book positions.
func (a *Accounts) OpenPositions(_ context.Context, accountID string) ([]market.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acct, ok := a.accts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	var out []market.Position
	for k, p := range acct.positions {
		if k.book == market.ABook {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// PostEntry books a trade posting: the position moves and any P/L realized
// by reducing it goes to the balance.
func (a *Accounts) PostEntry(e journal.Entry) error {
	if e.ReferenceType != journal.RefTrade {
		return nil
	}
	cfg := a.cfg.Load()
	inst, err := cfg.Instrument(e.Symbol)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accts[e.AccountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, e.AccountID)
	}

	k := posKey{book: e.Book, sym: e.Symbol}
	old, ok := acct.positions[k]
	if !ok {
		old = market.Position{AccountID: e.AccountID, Symbol: e.Symbol}
	}
	next, realized := applyFill(inst, old, e.Side, e.Volume, e.Price)
	if !realized.IsZero() {
		rate, err := market.QuoteToAccountRate(inst, acct.currency, market.Quote{Symbol: e.Symbol, Bid: e.Price, Ask: e.Price})
		if err != nil {
			return err
		}
		acct.balance = acct.balance.Add(realized.Mul(rate))
	}
	if next.Flat() {
		delete(acct.positions, k)
	} else {
		acct.positions[k] = next
	}

	a.log.Debug("posting booked",
		zap.String("account_id", e.AccountID),
		zap.String("reference_id", e.ReferenceID),
		zap.String("book", string(e.Book)),
		zap.String("net_volume", next.NetVolume.String()),
		zap.String("balance", acct.balance.String()),
	)
	return nil
}

func (a *Accounts) RecordExposure(journal.ExposureRecord) error { return nil }

func (a *Accounts) RecordHedge(journal.HedgeRecord) error { return nil }

func (a *Accounts) Close() error { return nil }
