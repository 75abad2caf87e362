package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `id, account_id, amount, reference_type, reference_id, symbol, side, volume, price, book, time`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(
		&e.ID,
		&e.AccountID,
		&e.Amount,
		&e.ReferenceType,
		&e.ReferenceID,
		&e.Symbol,
		&e.Side,
		&e.Volume,
		&e.Price,
		&e.Book,
		&e.Time,
	)
	return e, err
}

// GetEntry returns a single posting by ID.
func (j *SQLite) GetEntry(id string) (Entry, error) {
	row := j.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("entry %q not found", id)
		}
		return Entry{}, err
	}
	return e, nil
}

// ListEntries returns postings with time in [start, end), oldest first. An
// empty refType matches both trade and hedge postings.
func (j *SQLite) ListEntries(refType RefType, start, end time.Time) ([]Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM entries WHERE time >= ? AND time < ?`
	args := []any{start.UTC(), end.UTC()}
	if refType != "" {
		q += ` AND reference_type = ?`
		args = append(args, string(refType))
	}
	q += ` ORDER BY time ASC, id ASC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListHedges returns hedge rows, newest first. states filters by state name
// when given.
func (j *SQLite) ListHedges(states ...string) ([]HedgeRecord, error) {
	q := `SELECT hedge_id, symbol, side, target, volume, filled, price, state, attempts, last_error, created_at, updated_at FROM hedges`
	var args []any
	if len(states) > 0 {
		q += ` WHERE state IN (?` + strings.Repeat(", ?", len(states)-1) + `)`
		for _, s := range states {
			args = append(args, s)
		}
	}
	q += ` ORDER BY created_at DESC, hedge_id DESC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HedgeRecord
	for rows.Next() {
		var h HedgeRecord
		if err := rows.Scan(
			&h.HedgeID,
			&h.Symbol,
			&h.Side,
			&h.Target,
			&h.Volume,
			&h.Filled,
			&h.Price,
			&h.State,
			&h.Attempts,
			&h.LastError,
			&h.CreatedAt,
			&h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestExposure returns the last recorded snapshot of every symbol.
func (j *SQLite) LatestExposure() ([]ExposureRecord, error) {
	rows, err := j.db.Query(`
		SELECT e.symbol, e.seq, e.net_volume, e.long_volume, e.short_volume, e.time
		FROM exposure e
		JOIN (SELECT symbol, MAX(seq) AS seq FROM exposure GROUP BY symbol) m
			ON e.symbol = m.symbol AND e.seq = m.seq
		ORDER BY e.symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExposureRecord
	for rows.Next() {
		var (
			r   ExposureRecord
			seq int64
		)
		if err := rows.Scan(&r.Symbol, &seq, &r.NetVolume, &r.Long, &r.Short, &r.Time); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
