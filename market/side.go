package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown side %q (want buy|sell)", s)
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// Signed returns +volume for buys and -volume for sells.
func (s Side) Signed(volume decimal.Decimal) decimal.Decimal {
	if s == Sell {
		return volume.Neg()
	}
	return volume
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SideOf returns the side that produced a signed volume. Zero is Buy.
func SideOf(signed decimal.Decimal) Side {
	if signed.IsNegative() {
		return Sell
	}
	return Buy
}
