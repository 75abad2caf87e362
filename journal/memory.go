package journal

import "sync"

// Memory keeps every record in process. Used by tests and `dealer run`
// when no persistent journal is configured.
type Memory struct {
	mu       sync.Mutex
	entries  []Entry
	hedges   []HedgeRecord
	exposure []ExposureRecord
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) PostEntry(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) RecordExposure(r ExposureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure = append(m.exposure, r)
	return nil
}

func (m *Memory) RecordHedge(h HedgeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hedges = append(m.hedges, h)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// EntriesFor returns the postings referencing refID.
func (m *Memory) EntriesFor(refID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out
}

// Hedges returns every recorded hedge state change in order.
func (m *Memory) Hedges() []HedgeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HedgeRecord(nil), m.hedges...)
}

func (m *Memory) Exposure() []ExposureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExposureRecord(nil), m.exposure...)
}
