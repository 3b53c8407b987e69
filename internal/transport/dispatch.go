package transport

import (
	"sync"

	"datalayer/internal/domain"
	"datalayer/internal/service"
)

// Subscription delivers events for one handler on its own goroutine, in the
// order they were pushed. Pushing never blocks.
type Subscription struct {
	stream   domain.Stream
	handler  service.EventHandler
	registry *Registry

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.InboundEvent
	closed bool
	done   chan struct{}
}

func newSubscription(stream domain.Stream, handler service.EventHandler, registry *Registry) *Subscription {
	s := &Subscription{
		stream:   stream,
		handler:  handler,
		registry: registry,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Stream returns the stream this subscription is registered on
func (s *Subscription) Stream() domain.Stream {
	return s.stream
}

func (s *Subscription) push(event domain.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, event)
	s.cond.Signal()
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		event := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(event)
	}
}

// Unsubscribe stops delivery and waits for an in-flight handler call to
// return. It must not be called from the handler itself.
func (s *Subscription) Unsubscribe() error {
	if !s.stop() {
		return nil
	}
	<-s.done
	return s.registry.remove(s)
}

// stop closes the queue; it reports false if already stopped
func (s *Subscription) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	return true
}

// Registry tracks local subscriptions per stream and tells the owner when a
// stream gains its first or loses its last subscriber
type Registry struct {
	// opMu serializes Add and remove so OnFirst/OnLast run in order without
	// holding mu, which Dispatch needs
	opMu sync.Mutex
	mu   sync.Mutex
	subs map[domain.Stream][]*Subscription

	// OnFirst is called when a stream gets its first subscriber. An error
	// aborts the subscription.
	OnFirst func(stream domain.Stream) error
	// OnLast is called when a stream loses its last subscriber
	OnLast func(stream domain.Stream) error
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{subs: make(map[domain.Stream][]*Subscription)}
}

// Add registers handler on stream. The subscription is live before OnFirst
// runs so no event pushed in between is lost.
func (r *Registry) Add(stream domain.Stream, handler service.EventHandler) (*Subscription, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sub := newSubscription(stream, handler, r)
	r.mu.Lock()
	first := len(r.subs[stream]) == 0
	r.subs[stream] = append(r.subs[stream], sub)
	r.mu.Unlock()

	if first && r.OnFirst != nil {
		if err := r.OnFirst(stream); err != nil {
			r.mu.Lock()
			delete(r.subs, stream)
			r.mu.Unlock()
			sub.stop()
			<-sub.done
			return nil, err
		}
	}
	return sub, nil
}

func (r *Registry) remove(sub *Subscription) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	subs := r.subs[sub.stream]
	for i, s := range subs {
		if s == sub {
			r.subs[sub.stream] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	last := len(r.subs[sub.stream]) == 0
	if last {
		delete(r.subs, sub.stream)
	}
	r.mu.Unlock()

	if last && r.OnLast != nil {
		return r.OnLast(sub.stream)
	}
	return nil
}

// Dispatch queues event for every subscriber of stream
func (r *Registry) Dispatch(stream domain.Stream, event domain.InboundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs[stream] {
		sub.push(event)
	}
}

// Count returns the number of live subscriptions on stream
func (r *Registry) Count(stream domain.Stream) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[stream])
}

// Close stops every subscription without calling OnLast
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[domain.Stream][]*Subscription)
	r.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			if s.stop() {
				<-s.done
			}
		}
	}
}
