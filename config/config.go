// Package config holds the routing, exposure, leverage and hedging parameters
// of the dealer. Components never cache a Config: they read the current one
// from a Store at decision time, so a reload takes effect on the next order.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/risk"
)

// Config represents the complete dealer configuration
type Config struct {
	// Currency is the account currency used when an account has no entry
	// in Accounts.
	Currency    string                              `json:"currency" yaml:"currency"`
	Staleness   time.Duration                       `json:"staleness" yaml:"staleness"`
	Instruments map[market.Symbol]market.Instrument `json:"instruments" yaml:"instruments"`
	Routing     RoutingConfig                       `json:"routing" yaml:"routing"`
	Leverage    LeverageConfig                      `json:"leverage" yaml:"leverage"`
	Exposure    ExposureConfig                      `json:"exposure" yaml:"exposure"`
	Hedging     HedgingConfig                       `json:"hedging" yaml:"hedging"`
	Execution   ExecutionConfig                     `json:"execution" yaml:"execution"`
	Accounts    []AccountConfig                     `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Journal     JournalConfig                       `json:"journal" yaml:"journal"`
	Metrics     MetricsConfig                       `json:"metrics" yaml:"metrics"`
	Simulation  SimulationConfig                    `json:"simulation" yaml:"simulation"`
}

// RoutingConfig contains the A/B-Book overrides. Client overrides win over
// symbol overrides, both win over the volume threshold. A nil threshold
// disables the volume rule.
type RoutingConfig struct {
	VolumeThreshold *decimal.Decimal              `json:"volume_threshold,omitempty" yaml:"volume_threshold,omitempty"`
	Clients         map[string]market.Book        `json:"clients,omitempty" yaml:"clients,omitempty"`
	Symbols         map[market.Symbol]market.Book `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

// LeverageConfig: an account override replaces Default, a symbol entry caps
// whatever the account gets.
type LeverageConfig struct {
	Default  decimal.Decimal                   `json:"default" yaml:"default"`
	Accounts map[string]decimal.Decimal        `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Symbols  map[market.Symbol]decimal.Decimal `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

// ExposureConfig holds the max |net| the broker retains per symbol.
// DefaultLimit applies to symbols without an entry; when nil such symbols
// are a configuration error.
type ExposureConfig struct {
	DefaultLimit *decimal.Decimal                  `json:"default_limit,omitempty" yaml:"default_limit,omitempty"`
	Limits       map[market.Symbol]decimal.Decimal `json:"limits,omitempty" yaml:"limits,omitempty"`
}

type HedgingConfig struct {
	Disabled      bool          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	SubmitTimeout time.Duration `json:"submit_timeout" yaml:"submit_timeout"`
	BaseBackoff   time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff    time.Duration `json:"max_backoff" yaml:"max_backoff"`
	// Interval is the tick of the hedging loop that retries due hedges and
	// times out submitted ones.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// ExecutionConfig governs A-Book dispatch of client orders.
type ExecutionConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	FillTimeout time.Duration `json:"fill_timeout" yaml:"fill_timeout"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// AccountConfig seeds the simulated account book and sets per account
// currency.
type AccountConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Currency string          `json:"currency" yaml:"currency"`
	Balance  decimal.Decimal `json:"balance" yaml:"balance"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type         string `json:"type" yaml:"type"` // "memory", "csv" or "sqlite"
	DBPath       string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	EntriesFile  string `json:"entries_file,omitempty" yaml:"entries_file,omitempty"`
	ExposureFile string `json:"exposure_file,omitempty" yaml:"exposure_file,omitempty"`
	HedgesFile   string `json:"hedges_file,omitempty" yaml:"hedges_file,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9108"; empty disables
}

// SimulationConfig drives the simulated liquidity provider and the scripted
// scenario of `dealer run`.
type SimulationConfig struct {
	Latency       time.Duration   `json:"latency" yaml:"latency"`
	RejectSymbols []market.Symbol `json:"reject_symbols,omitempty" yaml:"reject_symbols,omitempty"`
	// DropSymbols never get an execution report, the order times out.
	DropSymbols []market.Symbol `json:"drop_symbols,omitempty" yaml:"drop_symbols,omitempty"`
	Quotes      []QuoteStep     `json:"quotes,omitempty" yaml:"quotes,omitempty"`
	Orders      []OrderStep     `json:"orders,omitempty" yaml:"orders,omitempty"`
}

// QuoteStep represents a price update in the simulation
type QuoteStep struct {
	Symbol market.Symbol   `json:"symbol" yaml:"symbol"`
	Bid    decimal.Decimal `json:"bid" yaml:"bid"`
	Ask    decimal.Decimal `json:"ask" yaml:"ask"`
	Delay  string          `json:"delay,omitempty" yaml:"delay,omitempty"` // e.g., "1s", "250ms"
}

// OrderStep is a client order submitted by the scripted scenario.
type OrderStep struct {
	Account string          `json:"account" yaml:"account"`
	Symbol  market.Symbol   `json:"symbol" yaml:"symbol"`
	Side    market.Side     `json:"side" yaml:"side"`
	Volume  decimal.Decimal `json:"volume" yaml:"volume"`
	Delay   string          `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ParseDuration converts the delay string to time.Duration
func (qs QuoteStep) ParseDuration() (time.Duration, error) { return parseDelay(qs.Delay) }

func (o OrderStep) ParseDuration() (time.Duration, error) { return parseDelay(o.Delay) }

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a fallback)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document. Zero scalars take
// their Default values; maps and limits are used as written.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parse config: empty document")
	}
	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = &Config{}
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// normalize fills defaults for zero scalars and instrument symbols from
// their map keys.
func (c *Config) normalize() {
	def := Default()
	if c.Currency == "" {
		c.Currency = def.Currency
	}
	if c.Staleness == 0 {
		c.Staleness = def.Staleness
	}
	if len(c.Instruments) == 0 {
		c.Instruments = def.Instruments
	}
	if c.Leverage.Default.IsZero() {
		c.Leverage.Default = def.Leverage.Default
	}
	h := &c.Hedging
	if h.MaxAttempts == 0 {
		h.MaxAttempts = def.Hedging.MaxAttempts
	}
	if h.SubmitTimeout == 0 {
		h.SubmitTimeout = def.Hedging.SubmitTimeout
	}
	if h.Interval == 0 {
		h.Interval = def.Hedging.Interval
	}
	if h.BaseBackoff == 0 && h.MaxBackoff == 0 {
		h.BaseBackoff, h.MaxBackoff = def.Hedging.BaseBackoff, def.Hedging.MaxBackoff
	}
	e := &c.Execution
	if e.MaxAttempts == 0 {
		e.MaxAttempts = def.Execution.MaxAttempts
	}
	if e.FillTimeout == 0 {
		e.FillTimeout = def.Execution.FillTimeout
	}
	if e.BaseBackoff == 0 && e.MaxBackoff == 0 {
		e.BaseBackoff, e.MaxBackoff = def.Execution.BaseBackoff, def.Execution.MaxBackoff
	}
	if c.Journal.Type == "" {
		c.Journal.Type = def.Journal.Type
	}

	for sym, inst := range c.Instruments {
		if inst.Symbol == "" {
			inst.Symbol = sym
			c.Instruments[sym] = inst
		}
	}
	c.Currency = strings.ToUpper(c.Currency)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if c.Staleness <= 0 {
		return fmt.Errorf("staleness must be positive")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	for sym, inst := range c.Instruments {
		if inst.Symbol != sym {
			return fmt.Errorf("instrument %s: symbol field %q does not match key", sym, inst.Symbol)
		}
		if inst.BaseCurrency == "" || inst.QuoteCurrency == "" {
			return fmt.Errorf("instrument %s: base_currency and quote_currency are required", sym)
		}
		if !inst.ContractSize.IsPositive() {
			return fmt.Errorf("instrument %s: contract_size must be positive", sym)
		}
		if !inst.MinLot.IsPositive() || !inst.LotStep.IsPositive() {
			return fmt.Errorf("instrument %s: min_lot and lot_step must be positive", sym)
		}
		if inst.MaxLot.LessThan(inst.MinLot) {
			return fmt.Errorf("instrument %s: max_lot must be >= min_lot", sym)
		}
	}

	if t := c.Routing.VolumeThreshold; t != nil && t.IsNegative() {
		return fmt.Errorf("routing.volume_threshold must not be negative")
	}
	for acct, b := range c.Routing.Clients {
		if !b.Valid() {
			return fmt.Errorf("routing.clients.%s: book must be A or B", acct)
		}
	}
	for sym, b := range c.Routing.Symbols {
		if !b.Valid() {
			return fmt.Errorf("routing.symbols.%s: book must be A or B", sym)
		}
		if _, ok := c.Instruments[sym]; !ok {
			return fmt.Errorf("routing.symbols: unknown instrument %s", sym)
		}
	}

	if !c.Leverage.Default.IsPositive() {
		return fmt.Errorf("leverage.default must be positive")
	}
	for acct, lev := range c.Leverage.Accounts {
		if !lev.IsPositive() {
			return fmt.Errorf("leverage.accounts.%s must be positive", acct)
		}
	}
	for sym, lev := range c.Leverage.Symbols {
		if !lev.IsPositive() {
			return fmt.Errorf("leverage.symbols.%s must be positive", sym)
		}
	}

	if d := c.Exposure.DefaultLimit; d != nil && d.IsNegative() {
		return fmt.Errorf("exposure.default_limit must not be negative")
	}
	for sym, lim := range c.Exposure.Limits {
		if lim.IsNegative() {
			return fmt.Errorf("exposure.limits.%s must not be negative", sym)
		}
	}

	if c.Hedging.MaxAttempts < 1 {
		return fmt.Errorf("hedging.max_attempts must be at least 1")
	}
	if c.Hedging.SubmitTimeout <= 0 || c.Hedging.Interval <= 0 {
		return fmt.Errorf("hedging.submit_timeout and hedging.interval must be positive")
	}
	if c.Hedging.BaseBackoff < 0 || c.Hedging.MaxBackoff < c.Hedging.BaseBackoff {
		return fmt.Errorf("hedging backoff must satisfy 0 <= base_backoff <= max_backoff")
	}

	if c.Execution.MaxAttempts < 1 {
		return fmt.Errorf("execution.max_attempts must be at least 1")
	}
	if c.Execution.FillTimeout <= 0 {
		return fmt.Errorf("execution.fill_timeout must be positive")
	}
	if c.Execution.BaseBackoff < 0 || c.Execution.MaxBackoff < c.Execution.BaseBackoff {
		return fmt.Errorf("execution backoff must satisfy 0 <= base_backoff <= max_backoff")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts: id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts: duplicate id %s", a.ID)
		}
		seen[a.ID] = true
		if a.Balance.IsNegative() {
			return fmt.Errorf("accounts.%s: balance must not be negative", a.ID)
		}
	}

	switch c.Journal.Type {
	case "memory":
	case "csv":
		if c.Journal.EntriesFile == "" || c.Journal.HedgesFile == "" {
			return fmt.Errorf("journal entries_file and hedges_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'memory', 'csv' or 'sqlite'")
	}

	for i, q := range c.Simulation.Quotes {
		if _, err := q.ParseDuration(); err != nil {
			return fmt.Errorf("simulation.quotes[%d]: invalid delay: %w", i, err)
		}
		if !q.Bid.IsPositive() || q.Ask.LessThan(q.Bid) {
			return fmt.Errorf("simulation.quotes[%d]: need 0 < bid <= ask", i)
		}
	}
	for i, o := range c.Simulation.Orders {
		if _, err := o.ParseDuration(); err != nil {
			return fmt.Errorf("simulation.orders[%d]: invalid delay: %w", i, err)
		}
		if !o.Side.Valid() {
			return fmt.Errorf("simulation.orders[%d]: side must be buy or sell", i)
		}
	}
	return nil
}

// Instrument returns the reference data for sym.
func (c *Config) Instrument(sym market.Symbol) (market.Instrument, error) {
	inst, ok := c.Instruments[sym]
	if !ok {
		return market.Instrument{}, risk.Errorf(risk.CodeConfigurationError, "unknown symbol %s", sym)
	}
	return inst, nil
}

// ExposureLimit returns the max |net| retained for sym.
func (c *Config) ExposureLimit(sym market.Symbol) (decimal.Decimal, error) {
	if lim, ok := c.Exposure.Limits[sym]; ok {
		return lim, nil
	}
	if c.Exposure.DefaultLimit != nil {
		return *c.Exposure.DefaultLimit, nil
	}
	return decimal.Zero, risk.Errorf(risk.CodeConfigurationError, "no exposure limit for %s", sym)
}

// VolumeThreshold returns the lot size above which orders go to the A-Book.
func (c *Config) VolumeThreshold() (decimal.Decimal, bool) {
	if c.Routing.VolumeThreshold == nil {
		return decimal.Zero, false
	}
	return *c.Routing.VolumeThreshold, true
}

// LeverageFor resolves the leverage applied to accountID trading sym.
func (c *Config) LeverageFor(accountID string, sym market.Symbol) decimal.Decimal {
	lev := c.Leverage.Default
	if v, ok := c.Leverage.Accounts[accountID]; ok {
		lev = v
	}
	if limit, ok := c.Leverage.Symbols[sym]; ok && limit.LessThan(lev) {
		lev = limit
	}
	return lev
}

func (c *Config) ClientRoute(accountID string) (market.Book, bool) {
	b, ok := c.Routing.Clients[accountID]
	return b, ok
}

func (c *Config) SymbolRoute(sym market.Symbol) (market.Book, bool) {
	b, ok := c.Routing.Symbols[sym]
	return b, ok
}

// AccountCurrency returns the currency of accountID, falling back to Currency.
func (c *Config) AccountCurrency(accountID string) string {
	for _, a := range c.Accounts {
		if a.ID == accountID && a.Currency != "" {
			return strings.ToUpper(a.Currency)
		}
	}
	return c.Currency
}

// Default returns a default configuration
func Default() *Config {
	instruments := make(map[market.Symbol]market.Instrument, len(market.Majors))
	for sym, inst := range market.Majors {
		instruments[sym] = inst
	}
	defLimit := decimal.NewFromInt(10)
	threshold := decimal.NewFromInt(10)

	return &Config{
		Currency:    "USD",
		Staleness:   2 * time.Second,
		Instruments: instruments,
		Routing: RoutingConfig{
			VolumeThreshold: &threshold,
		},
		Leverage: LeverageConfig{
			Default: decimal.NewFromInt(100),
			Symbols: map[market.Symbol]decimal.Decimal{
				"USDTRY": decimal.NewFromInt(20),
			},
		},
		Exposure: ExposureConfig{
			DefaultLimit: &defLimit,
			Limits: map[market.Symbol]decimal.Decimal{
				"EURUSD": decimal.NewFromInt(5),
			},
		},
		Hedging: HedgingConfig{
			MaxAttempts:   3,
			SubmitTimeout: 5 * time.Second,
			BaseBackoff:   250 * time.Millisecond,
			MaxBackoff:    5 * time.Second,
			Interval:      100 * time.Millisecond,
		},
		Execution: ExecutionConfig{
			MaxAttempts: 3,
			FillTimeout: 2 * time.Second,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  time.Second,
		},
		Accounts: []AccountConfig{
			{ID: "ACC-1", Currency: "USD", Balance: decimal.NewFromInt(10_000)},
		},
		Journal: JournalConfig{
			Type: "memory",
		},
		Simulation: SimulationConfig{
			Latency: 20 * time.Millisecond,
		},
	}
}
