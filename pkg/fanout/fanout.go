// Package fanout is a small keyed publish/subscribe primitive.
//
// A Topic never blocks its publisher. Each Subscription keeps only the latest
// value per key, so a slow consumer sees every key that changed but not every
// intermediate value. Consumers wait on Ready() and then Drain().
package fanout

import "sync"

type Topic[K comparable, V any] struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*Subscription[K, V]
}

func NewTopic[K comparable, V any]() *Topic[K, V] {
	return &Topic[K, V]{subs: make(map[uint64]*Subscription[K, V])}
}

// Subscribe registers a new subscriber. The returned token must be released
// with Unsubscribe.
func (t *Topic[K, V]) Subscribe() *Subscription[K, V] {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	s := &Subscription[K, V]{
		topic:  t,
		id:     t.next,
		latest: make(map[K]V),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.subs[s.id] = s
	return s
}

// Publish offers v under key k to every subscriber.
func (t *Topic[K, V]) Publish(k K, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.offer(k, v)
	}
}

// Len reports the number of live subscriptions.
func (t *Topic[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic[K, V]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

type Subscription[K comparable, V any] struct {
	topic *Topic[K, V]
	id    uint64

	mu     sync.Mutex
	latest map[K]V
	order  []K
	closed bool

	ready chan struct{}
	done  chan struct{}
}

func (s *Subscription[K, V]) offer(k K, v V) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.latest[k]; !ok {
		s.order = append(s.order, k)
	}
	s.latest[k] = v
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever at least one key has a pending value.
func (s *Subscription[K, V]) Ready() <-chan struct{} { return s.ready }

// Done is closed by Unsubscribe.
func (s *Subscription[K, V]) Done() <-chan struct{} { return s.done }

// Drain returns the pending values in first-changed order and clears them.
func (s *Subscription[K, V]) Drain() []V {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}
	out := make([]V, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.latest[k])
		delete(s.latest, k)
	}
	s.order = s.order[:0]
	return out
}

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription[K, V]) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.latest = nil
	s.order = nil
	close(s.done)
	s.mu.Unlock()

	s.topic.remove(s.id)
}
