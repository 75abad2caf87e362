package journal

import (
	"fmt"

	"github.com/rustyeddy/dealer/config"
)

// Open builds the journal described by c.
func Open(c config.JournalConfig) (Journal, error) {
	switch c.Type {
	case "", "memory":
		return NewMemory(), nil
	case "csv":
		return NewCSV(c.EntriesFile, c.HedgesFile, c.ExposureFile)
	case "sqlite":
		return NewSQLite(c.DBPath)
	default:
		return nil, fmt.Errorf("unknown journal type %q", c.Type)
	}
}
