package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/config"
)

type failingJournal struct{ err error }

func (f failingJournal) PostEntry(Entry) error               { return f.err }
func (f failingJournal) RecordExposure(ExposureRecord) error { return f.err }
func (f failingJournal) RecordHedge(HedgeRecord) error       { return f.err }
func (f failingJournal) Close() error                        { return nil }

func TestMemoryJournal(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.PostEntry(sampleEntry("E1", time.Now())))
	require.NoError(t, m.PostEntry(sampleEntry("E2", time.Now())))
	require.NoError(t, m.RecordHedge(HedgeRecord{HedgeID: "H1"}))
	require.NoError(t, m.RecordExposure(ExposureRecord{Symbol: "EURUSD", Seq: 1}))

	assert.Len(t, m.Entries(), 2)
	require.Len(t, m.EntriesFor("ORD-E2"), 1)
	assert.Equal(t, "E2", m.EntriesFor("ORD-E2")[0].ID)
	assert.Len(t, m.Hedges(), 1)
	assert.Len(t, m.Exposure(), 1)

	// returned slices are copies
	got := m.Entries()
	got[0].ID = "changed"
	assert.Equal(t, "E1", m.Entries()[0].ID)
}

func TestMultiWritesToAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	a, b := NewMemory(), NewMemory()
	j := Multi(a, failingJournal{err: boom}, b)

	err := j.PostEntry(sampleEntry("E1", time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 1)

	assert.NoError(t, Multi(a, b).RecordHedge(HedgeRecord{HedgeID: "H1"}))
	assert.NoError(t, j.Close())
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	j, err := Open(config.JournalConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, j)

	j, err = Open(config.JournalConfig{Type: "sqlite", DBPath: filepath.Join(dir, "j.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, j)
	assert.NoError(t, j.Close())

	j, err = Open(config.JournalConfig{
		Type:        "csv",
		EntriesFile: filepath.Join(dir, "e.csv"),
		HedgesFile:  filepath.Join(dir, "h.csv"),
	})
	require.NoError(t, err)
	assert.IsType(t, &CSVJournal{}, j)
	assert.NoError(t, j.Close())

	_, err = Open(config.JournalConfig{Type: "kafka"})
	assert.Error(t, err)
}
