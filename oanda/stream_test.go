package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/market"
)

func testClient(url string) *Client {
	c := NewClient("test-token", true, nil)
	c.baseURL = url
	return c
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StreamPracticeURL, NewClient("tok", true, nil).baseURL)
	assert.Equal(t, StreamLiveURL, NewClient("tok", false, nil).baseURL)
}

func TestSymbolConversion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "EUR_USD", Instrument("EURUSD"))
	assert.Equal(t, "EUR_USD", Instrument("EUR_USD"))
	assert.Equal(t, "XAUUSD2", Instrument("XAUUSD2"))
	assert.Equal(t, market.Symbol("USDJPY"), Symbol("USD_JPY"))
}

const stream = `{"type":"HEARTBEAT","time":"2024-01-01T10:00:00Z"}
{"type":"PRICE","time":"2024-01-01T10:00:01.5Z","instrument":"EUR_USD","tradeable":true,"bids":[{"price":"1.08400","liquidity":1000000}],"asks":[{"price":"1.08420","liquidity":1000000}]}

{"type":"PRICE","time":"2024-01-01T10:00:02Z","instrument":"USD_JPY","tradeable":false,"bids":[{"price":"150.00"}],"asks":[{"price":"150.02"}]}
{"type":"PRICE","time":"2024-01-01T10:00:03Z","instrument":"EUR_USD","bids":[{"price":"1.0850"}],"asks":[{"price":"1.0840"}]}
{"type":"PRICE","time":"2024-01-01T10:00:04Z","instrument":"USD_JPY","bids":[{"price":"150.01"}],"asks":[{"price":"150.03"}]}
`

func TestStreamQuotes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v3/accounts/ACC/pricing/stream", r.URL.Path)
		assert.Equal(t, "EUR_USD,USD_JPY", r.URL.Query().Get("instruments"))
		fmt.Fprint(w, stream)
	}))
	defer server.Close()

	cache := market.NewQuoteCache()
	n, err := testClient(server.URL).StreamQuotes(context.Background(), StreamOptions{
		AccountID: "ACC",
		Symbols:   []market.Symbol{"EURUSD", "USDJPY"},
	}, cache)
	require.NoError(t, err)
	// heartbeat, untradeable and crossed prices are skipped
	assert.Equal(t, 2, n)

	q, err := cache.Get("EURUSD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.0840").Equal(q.Bid))
	assert.True(t, decimal.RequireFromString("1.0842").Equal(q.Ask))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 1, 500_000_000, time.UTC), q.Time)

	q, err = cache.Get("USDJPY")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150.01").Equal(q.Bid))
}

func TestStreamQuotesMax(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, stream)
	}))
	defer server.Close()

	n, err := testClient(server.URL).StreamQuotes(context.Background(), StreamOptions{
		AccountID: "ACC",
		Symbols:   []market.Symbol{"EURUSD"},
		MaxQuotes: 1,
	}, market.NewQuoteCache())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStreamQuotesErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/accounts/BAD/pricing/stream" {
			http.Error(w, `{"errorMessage":"Invalid value specified for 'accountID'"}`, http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"type":"PRICE",`)
	}))
	t.Cleanup(server.Close)

	c := testClient(server.URL)
	syms := []market.Symbol{"EURUSD"}

	tests := []struct {
		name string
		c    *Client
		opts StreamOptions
		msg  string
	}{
		{"no account", c, StreamOptions{Symbols: syms}, "missing account id"},
		{"no symbols", c, StreamOptions{AccountID: "ACC"}, "missing symbols"},
		{"no token", &Client{baseURL: server.URL, httpClient: http.DefaultClient}, StreamOptions{AccountID: "ACC", Symbols: syms}, "missing token"},
		{"http status", c, StreamOptions{AccountID: "BAD", Symbols: syms}, "oanda http 400"},
		{"bad json", c, StreamOptions{AccountID: "ACC", Symbols: syms}, "bad json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.c.StreamQuotes(context.Background(), tt.opts, market.NewQuoteCache())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
