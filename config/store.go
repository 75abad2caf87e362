package config

import "sync/atomic"

// Store holds the live configuration. A loaded *Config must be treated as
// read only; replace it with Swap.
type Store struct {
	cur atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

func (s *Store) Load() *Config { return s.cur.Load() }

// Swap installs cfg after validating it and returns the previous config.
func (s *Store) Swap(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s.cur.Swap(cfg), nil
}
