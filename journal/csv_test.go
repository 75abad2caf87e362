package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/dealer/market"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entries := filepath.Join(dir, "entries.csv")
	hedges := filepath.Join(dir, "hedges.csv")
	exposure := filepath.Join(dir, "exposure.csv")

	j, err := NewCSV(entries, hedges, exposure)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{entryHeader}, readCSV(t, entries))
	assert.Equal(t, [][]string{hedgeHeader}, readCSV(t, hedges))
	assert.Equal(t, [][]string{exposureHeader}, readCSV(t, exposure))
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entries := filepath.Join(dir, "entries.csv")
	hedges := filepath.Join(dir, "hedges.csv")

	j, err := NewCSV(entries, hedges, "")
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.PostEntry(sampleEntry("E1", at)))
	require.NoError(t, j.RecordHedge(HedgeRecord{
		HedgeID:   "HDG-1",
		Symbol:    "EURUSD",
		Side:      market.Sell,
		Target:    d("0.25"),
		Volume:    d("0.25"),
		State:     "Pending",
		CreatedAt: at,
		UpdatedAt: at,
	}))
	// no exposure file configured
	require.NoError(t, j.RecordExposure(ExposureRecord{Symbol: "EURUSD", Seq: 1}))
	require.NoError(t, j.Close())

	rows := readCSV(t, entries)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"E1", "ACC-1", "10842", "trade", "ORD-E1", "EURUSD", "buy", "0.1", "1.0842", "B", "2024-01-02T03:04:05Z",
	}, rows[1])

	rows = readCSV(t, hedges)
	require.Len(t, rows, 2)
	assert.Equal(t, "HDG-1", rows[1][0])
	assert.Equal(t, "0.25", rows[1][3])
	assert.Equal(t, "Pending", rows[1][7])
	assert.Equal(t, "0", rows[1][8])
}

func TestCSVJournalBadPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewCSV(filepath.Join(dir, "ok.csv"), filepath.Join(dir, "missing", "hedges.csv"), "")
	assert.Error(t, err)
}
