// journal/journal.go
package journal

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/dealer/market"
)

type RefType string

const (
	RefTrade RefType = "trade"
	RefHedge RefType = "hedge"
)

// Entry is a posting to the accounting service. Amount is the notional of
// the fill in the account currency; the accounting side books it by Side.
type Entry struct {
	ID            string
	AccountID     string
	Amount        decimal.Decimal
	ReferenceType RefType
	ReferenceID   string
	Symbol        market.Symbol
	Side          market.Side
	Volume        decimal.Decimal
	Price         decimal.Decimal
	Book          market.Book
	Time          time.Time
}

// ExposureRecord is a committed exposure snapshot of one symbol.
type ExposureRecord struct {
	Symbol    market.Symbol
	NetVolume decimal.Decimal
	Long      decimal.Decimal
	Short     decimal.Decimal
	Seq       uint64
	Time      time.Time
}

// HedgeRecord is the latest state of a hedge order. Recording the same
// HedgeID again replaces the previous row.
type HedgeRecord struct {
	HedgeID   string
	Symbol    market.Symbol
	Side      market.Side
	Target    decimal.Decimal
	Volume    decimal.Decimal
	Filled    decimal.Decimal
	Price     decimal.Decimal
	State     string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Journal interface {
	PostEntry(Entry) error
	RecordExposure(ExposureRecord) error
	RecordHedge(HedgeRecord) error
	Close() error
}

type multi []Journal

// Multi writes every record to all js. Errors are joined; a failing journal
// does not stop the others.
func Multi(js ...Journal) Journal {
	return multi(js)
}

func (m multi) PostEntry(e Entry) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.PostEntry(e))
	}
	return errors.Join(errs...)
}

func (m multi) RecordExposure(r ExposureRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordExposure(r))
	}
	return errors.Join(errs...)
}

func (m multi) RecordHedge(r HedgeRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordHedge(r))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
