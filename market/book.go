package market

import (
	"fmt"
	"strings"
)

// Book says who carries the risk of an order. A-Book orders are passed to a
// liquidity provider; B-Book orders are filled against the broker.
type Book string

const (
	ABook Book = "A"
	BBook Book = "B"
)

func (b Book) Valid() bool { return b == ABook || b == BBook }

func ParseBook(s string) (Book, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "A-BOOK", "ABOOK":
		return ABook, nil
	case "B", "B-BOOK", "BBOOK":
		return BBook, nil
	}
	return "", fmt.Errorf("unknown book %q", s)
}

// UnmarshalText accepts "A", "a-book", "B", ...
func (b *Book) UnmarshalText(text []byte) error {
	v, err := ParseBook(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Book) MarshalText() ([]byte, error) { return []byte(b), nil }
