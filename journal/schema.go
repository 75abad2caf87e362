// journal/schema.go
package journal

// Decimals are stored as TEXT so postings round trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	reference_type TEXT NOT NULL,
	reference_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume TEXT NOT NULL,
	price TEXT NOT NULL,
	book TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_time ON entries(time);
CREATE INDEX IF NOT EXISTS idx_entries_account ON entries(account_id);

CREATE TABLE IF NOT EXISTS exposure (
	symbol TEXT NOT NULL,
	seq INTEGER NOT NULL,
	net_volume TEXT NOT NULL,
	long_volume TEXT NOT NULL,
	short_volume TEXT NOT NULL,
	time DATETIME NOT NULL,
	PRIMARY KEY (symbol, seq)
);

CREATE TABLE IF NOT EXISTS hedges (
	hedge_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	target TEXT NOT NULL,
	volume TEXT NOT NULL,
	filled TEXT NOT NULL,
	price TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	last_error TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hedges_symbol ON hedges(symbol);
`
