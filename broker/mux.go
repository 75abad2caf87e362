package broker

import "sync"

// Mux fans execution reports out to one listener per Origin, so the order
// coordinator and the hedging controller can share a gateway.
type Mux struct {
	mu        sync.RWMutex
	listeners map[Origin]Listener
	unrouted  func(origin Origin, ref string)
}

func NewMux() *Mux {
	return &Mux{listeners: make(map[Origin]Listener)}
}

func (m *Mux) Handle(o Origin, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[o] = l
}

// OnUnrouted is called for reports whose origin has no listener.
func (m *Mux) OnUnrouted(fn func(origin Origin, ref string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrouted = fn
}

func (m *Mux) listener(o Origin) (Listener, func(Origin, string)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listeners[o], m.unrouted
}

func (m *Mux) OnFill(f Fill) {
	l, miss := m.listener(f.Origin)
	if l == nil {
		if miss != nil {
			miss(f.Origin, f.ClientRef)
		}
		return
	}
	l.OnFill(f)
}

func (m *Mux) OnReject(r Reject) {
	l, miss := m.listener(r.Origin)
	if l == nil {
		if miss != nil {
			miss(r.Origin, r.ClientRef)
		}
		return
	}
	l.OnReject(r)
}

// Recorder is a Listener that keeps every report. Useful in tests and the
// CLI.
type Recorder struct {
	mu      sync.Mutex
	Fills   []Fill
	Rejects []Reject
}

func (r *Recorder) OnFill(f Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fills = append(r.Fills, f)
}

func (r *Recorder) OnReject(rej Reject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rejects = append(r.Rejects, rej)
}

// Counts returns the number of fills and rejects seen so far.
func (r *Recorder) Counts() (fills, rejects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Fills), len(r.Rejects)
}
