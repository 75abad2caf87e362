// Package oanda feeds live OANDA v20 prices into the dealer's price cache.
package oanda

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/dealer/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
	// StreamPracticeURL and StreamLiveURL serve the streaming endpoints.
	StreamPracticeURL = "https://stream-fxpractice.oanda.com"
	StreamLiveURL     = "https://stream-fxtrade.oanda.com"
)

// Client is a minimal OANDA v20 REST client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a client for the streaming host of the chosen
// environment. The HTTP client has no timeout, streams stay open until
// their context ends.
func NewClient(token string, practice bool, log *zap.Logger) *Client {
	baseURL := StreamLiveURL
	if practice {
		baseURL = StreamPracticeURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (io.ReadCloser, error) {
	if c.token == "" {
		return nil, fmt.Errorf("oanda: missing token")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("oanda: base url: %w", err)
	}
	u.Path = path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("oanda http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

// Instrument converts "EURUSD" to OANDA's "EUR_USD". Symbols that are not
// six letters are passed through.
func Instrument(sym market.Symbol) string {
	s := string(sym)
	if len(s) != 6 || strings.Contains(s, "_") {
		return s
	}
	return s[:3] + "_" + s[3:]
}

// Symbol converts OANDA's "EUR_USD" to "EURUSD".
func Symbol(instrument string) market.Symbol {
	return market.Symbol(strings.ReplaceAll(instrument, "_", ""))
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
