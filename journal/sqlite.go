package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) PostEntry(e Entry) error {
	_, err := j.db.Exec(`
		INSERT INTO entries
		(id, account_id, amount, reference_type, reference_id, symbol, side, volume, price, book, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Amount.String(), string(e.ReferenceType), e.ReferenceID,
		string(e.Symbol), string(e.Side), e.Volume.String(), e.Price.String(), string(e.Book), e.Time.UTC(),
	)
	return err
}

func (j *SQLite) RecordExposure(r ExposureRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO exposure
		(symbol, seq, net_volume, long_volume, short_volume, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.Symbol), int64(r.Seq), r.NetVolume.String(), r.Long.String(), r.Short.String(), r.Time.UTC(),
	)
	return err
}

func (j *SQLite) RecordHedge(h HedgeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO hedges
		(hedge_id, symbol, side, target, volume, filled, price, state, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hedge_id) DO UPDATE SET
			target = excluded.target,
			volume = excluded.volume,
			filled = excluded.filled,
			price = excluded.price,
			state = excluded.state,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		h.HedgeID, string(h.Symbol), string(h.Side), h.Target.String(), h.Volume.String(), h.Filled.String(),
		h.Price.String(), h.State, h.Attempts, h.LastError, h.CreatedAt.UTC(), h.UpdatedAt.UTC(),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
