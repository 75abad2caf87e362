package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/risk"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 2*time.Second, cfg.Staleness)
	assert.Len(t, cfg.Instruments, len(market.Majors))
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"missing currency", func(c *Config) { c.Currency = "" }, "currency is required"},
		{"zero staleness", func(c *Config) { c.Staleness = 0 }, "staleness must be positive"},
		{"no instruments", func(c *Config) { c.Instruments = nil }, "at least one instrument"},
		{
			"bad contract size",
			func(c *Config) {
				inst := c.Instruments["EURUSD"]
				inst.ContractSize = decimal.Zero
				c.Instruments["EURUSD"] = inst
			},
			"contract_size must be positive",
		},
		{"bad client book", func(c *Config) { c.Routing.Clients = map[string]market.Book{"A1": "C"} }, "routing.clients.A1"},
		{"symbol route unknown", func(c *Config) { c.Routing.Symbols = map[market.Symbol]market.Book{"XAUUSD": market.ABook} }, "unknown instrument XAUUSD"},
		{"zero leverage", func(c *Config) { c.Leverage.Default = decimal.Zero }, "leverage.default must be positive"},
		{"negative limit", func(c *Config) { c.Exposure.Limits["EURUSD"] = decimal.NewFromInt(-1) }, "exposure.limits.EURUSD"},
		{"hedge attempts", func(c *Config) { c.Hedging.MaxAttempts = 0 }, "hedging.max_attempts"},
		{"hedge backoff", func(c *Config) { c.Hedging.MaxBackoff = time.Millisecond }, "hedging backoff"},
		{"fill timeout", func(c *Config) { c.Execution.FillTimeout = 0 }, "execution.fill_timeout"},
		{"duplicate account", func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }, "duplicate id"},
		{"unknown journal", func(c *Config) { c.Journal.Type = "kafka" }, "journal.type must be"},
		{"sqlite without path", func(c *Config) { c.Journal.Type = "sqlite" }, "db_path required"},
		{
			"csv without files",
			func(c *Config) { c.Journal = JournalConfig{Type: "csv", EntriesFile: "e.csv"} },
			"entries_file and hedges_file required",
		},
		{
			"bad quote step",
			func(c *Config) {
				c.Simulation.Quotes = []QuoteStep{{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.2"), Ask: decimal.RequireFromString("1.1")}}
			},
			"simulation.quotes[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Routing.Clients = map[string]market.Book{"VIP-1": market.ABook}
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))

			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Currency, loaded.Currency)
			assert.Equal(t, cfg.Staleness, loaded.Staleness)
			assert.Equal(t, cfg.Hedging, loaded.Hedging)
			assert.Equal(t, cfg.Execution, loaded.Execution)

			lim, err := loaded.ExposureLimit("EURUSD")
			require.NoError(t, err)
			assert.True(t, lim.Equal(decimal.NewFromInt(5)))

			inst, err := loaded.Instrument("USDJPY")
			require.NoError(t, err)
			assert.Equal(t, "JPY", inst.QuoteCurrency)
			assert.True(t, inst.ContractSize.Equal(decimal.NewFromInt(100_000)))

			b, ok := loaded.ClientRoute("VIP-1")
			assert.True(t, ok)
			assert.Equal(t, market.ABook, b)
		})
	}
}

func TestParseFillsDefaults(t *testing.T) {
	doc := `
currency: eur
routing:
  clients:
    ACC-7: b-book
  symbols:
    USDTRY: A
exposure:
  limits:
    EURUSD: "2.5"
instruments:
  EURUSD:
    base_currency: EUR
    quote_currency: USD
    pip_location: -4
    contract_size: 100000
    min_lot: 0.01
    max_lot: 50
    lot_step: 0.01
  USDTRY:
    base_currency: USD
    quote_currency: TRY
    contract_size: 100000
    min_lot: 0.01
    max_lot: 10
    lot_step: 0.01
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, market.Symbol("EURUSD"), cfg.Instruments["EURUSD"].Symbol)
	assert.Equal(t, 3, cfg.Hedging.MaxAttempts)
	assert.Equal(t, "memory", cfg.Journal.Type)

	b, ok := cfg.ClientRoute("ACC-7")
	require.True(t, ok)
	assert.Equal(t, market.BBook, b)

	b, ok = cfg.SymbolRoute("USDTRY")
	require.True(t, ok)
	assert.Equal(t, market.ABook, b)

	_, ok = cfg.VolumeThreshold()
	assert.False(t, ok)

	lim, err := cfg.ExposureLimit("EURUSD")
	require.NoError(t, err)
	assert.True(t, lim.Equal(decimal.RequireFromString("2.5")))

	_, err = cfg.ExposureLimit("USDTRY")
	assert.ErrorIs(t, err, risk.ErrConfiguration)

	_, err = cfg.Instrument("GBPUSD")
	assert.ErrorIs(t, err, risk.ErrConfiguration)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("currency: [unterminated"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"staleness": -1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLeverageFor(t *testing.T) {
	cfg := Default()
	cfg.Leverage.Accounts = map[string]decimal.Decimal{
		"PRO":  decimal.NewFromInt(500),
		"SAFE": decimal.NewFromInt(10),
	}

	tests := []struct {
		account string
		symbol  market.Symbol
		want    int64
	}{
		{"ACC-1", "EURUSD", 100},
		{"PRO", "EURUSD", 500},
		{"PRO", "USDTRY", 20},
		{"SAFE", "USDTRY", 10},
		{"ACC-1", "USDTRY", 20},
	}
	for _, tt := range tests {
		got := cfg.LeverageFor(tt.account, tt.symbol)
		assert.True(t, got.Equal(decimal.NewFromInt(tt.want)), "%s/%s = %s", tt.account, tt.symbol, got)
	}
}

func TestAccountCurrency(t *testing.T) {
	cfg := Default()
	cfg.Accounts = append(cfg.Accounts, AccountConfig{ID: "JP-1", Currency: "jpy"})

	assert.Equal(t, "JPY", cfg.AccountCurrency("JP-1"))
	assert.Equal(t, "USD", cfg.AccountCurrency("ACC-1"))
	assert.Equal(t, "USD", cfg.AccountCurrency("unknown"))
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestQuoteStepParseDuration(t *testing.T) {
	tests := []struct {
		delay    string
		expected string
		wantErr  bool
	}{
		{"1h", "1h0m0s", false},
		{"250ms", "250ms", false},
		{"1s", "1s", false},
		{"", "0s", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.delay, func(t *testing.T) {
			qs := QuoteStep{Delay: tt.delay}
			d, err := qs.ParseDuration()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, d.String())
			}
		})
	}
}

func TestStoreSwapValidates(t *testing.T) {
	s := NewStore(nil)
	first := s.Load()
	require.NotNil(t, first)

	bad := Default()
	bad.Currency = ""
	_, err := s.Swap(bad)
	assert.Error(t, err)
	assert.Same(t, first, s.Load())

	next := Default()
	prev, err := s.Swap(next)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Same(t, next, s.Load())
}

func TestLoadAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealer.yaml")
	require.NoError(t, Default().SaveToFile(path))

	t.Setenv("DEALER_JOURNAL_TYPE", "sqlite")
	t.Setenv("DEALER_JOURNAL_DB_PATH", "/tmp/dealer.db")
	t.Setenv("DEALER_STALENESS", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Journal.Type)
	assert.Equal(t, "/tmp/dealer.db", cfg.Journal.DBPath)
	assert.Equal(t, 750*time.Millisecond, cfg.Staleness)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealer.yaml")
	cfg := Default()
	require.NoError(t, cfg.SaveToFile(path))

	store := NewStore(cfg)
	require.NoError(t, Watch(path, store, nil))

	next := Default()
	next.Exposure.Limits["EURUSD"] = decimal.NewFromInt(7)
	require.NoError(t, next.SaveToFile(path))

	require.Eventually(t, func() bool {
		lim, err := store.Load().ExposureLimit("EURUSD")
		return err == nil && lim.Equal(decimal.NewFromInt(7))
	}, 5*time.Second, 20*time.Millisecond)

	// an invalid file keeps the last good config
	require.NoError(t, os.WriteFile(path, []byte("currency: [broken"), 0644))
	time.Sleep(200 * time.Millisecond)
	lim, err := store.Load().ExposureLimit("EURUSD")
	require.NoError(t, err)
	assert.True(t, lim.Equal(decimal.NewFromInt(7)))
}
