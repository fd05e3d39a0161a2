package bridge

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is a subject-based publish/subscribe connection to the backend.
// Handlers for one subscription are called one at a time, in publish order.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}

// MemoryTransport delivers within the process. Every subscription owns an
// unbounded queue and a goroutine so publishers never block.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   map[string][]*memorySub
	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memorySub)}
}

func (t *MemoryTransport) Publish(_ context.Context, subject string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	for _, s := range t.subs[subject] {
		s.push(append([]byte(nil), data...))
	}
	return nil
}

func (t *MemoryTransport) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	s := &memorySub{transport: t, subject: subject, handler: handler}
	s.cond = sync.NewCond(&s.mu)
	t.subs[subject] = append(t.subs[subject], s)
	go s.run()
	return s, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, subs := range t.subs {
		for _, s := range subs {
			s.stop()
		}
	}
	t.subs = make(map[string][]*memorySub)
	return nil
}

func (t *MemoryTransport) remove(s *memorySub) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[s.subject]
	for i, candidate := range subs {
		if candidate == s {
			t.subs[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

type memorySub struct {
	transport *MemoryTransport
	subject   string
	handler   func([]byte)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	stopped bool
}

func (s *memorySub) push(data []byte) {
	s.mu.Lock()
	if !s.stopped {
		s.queue = append(s.queue, data)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memorySub) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *memorySub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		data := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(data)
	}
}

func (s *memorySub) Unsubscribe() error {
	s.transport.remove(s)
	s.stop()
	return nil
}
