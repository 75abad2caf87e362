// pkg/journal/csv.go
package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	entryHeader    = []string{"id", "account_id", "amount", "reference_type", "reference_id", "symbol", "side", "volume", "price", "book", "time"}
	hedgeHeader    = []string{"hedge_id", "symbol", "side", "target", "volume", "filled", "price", "state", "attempts", "last_error", "created_at", "updated_at"}
	exposureHeader = []string{"symbol", "seq", "net_volume", "long_volume", "short_volume", "time"}
)

// CSVJournal appends rows to one file per record kind. Hedges are written
// once per state change, so a hedge appears on several rows.
type CSVJournal struct {
	mu       sync.Mutex
	entries  *csv.Writer
	hedges   *csv.Writer
	exposure *csv.Writer // nil when no exposure file was given
	files    []*os.File
}

func NewCSV(entriesPath, hedgesPath, exposurePath string) (*CSVJournal, error) {
	j := &CSVJournal{}

	open := func(path string, header []string) (*csv.Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.entries, err = open(entriesPath, entryHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.hedges, err = open(hedgesPath, hedgeHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if exposurePath != "" {
		if j.exposure, err = open(exposurePath, exposureHeader); err != nil {
			return nil, errors.Join(err, j.closeFiles())
		}
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) PostEntry(e Entry) error {
	return j.write(j.entries, []string{
		e.ID,
		e.AccountID,
		e.Amount.String(),
		string(e.ReferenceType),
		e.ReferenceID,
		string(e.Symbol),
		string(e.Side),
		e.Volume.String(),
		e.Price.String(),
		string(e.Book),
		ts(e.Time),
	})
}

func (j *CSVJournal) RecordHedge(h HedgeRecord) error {
	return j.write(j.hedges, []string{
		h.HedgeID,
		string(h.Symbol),
		string(h.Side),
		h.Target.String(),
		h.Volume.String(),
		h.Filled.String(),
		h.Price.String(),
		h.State,
		strconv.Itoa(h.Attempts),
		h.LastError,
		ts(h.CreatedAt),
		ts(h.UpdatedAt),
	})
}

func (j *CSVJournal) RecordExposure(r ExposureRecord) error {
	if j.exposure == nil {
		return nil
	}
	return j.write(j.exposure, []string{
		string(r.Symbol),
		strconv.FormatUint(r.Seq, 10),
		r.NetVolume.String(),
		r.Long.String(),
		r.Short.String(),
		ts(r.Time),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for _, w := range []*csv.Writer{j.entries, j.hedges, j.exposure} {
		if w == nil {
			continue
		}
		w.Flush()
		errs = append(errs, w.Error())
	}
	errs = append(errs, j.closeFiles())
	return errors.Join(errs...)
}

func (j *CSVJournal) closeFiles() error {
	var errs []error
	for _, f := range j.files {
		errs = append(errs, f.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
