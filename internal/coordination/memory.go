package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a single-process coordination store. Flags expire lazily;
// queues wake blocked readers through a per-queue broadcast channel.
type MemoryStore struct {
	mu     sync.Mutex
	flags  map[string]time.Time
	queues map[string]*queue
	now    func() time.Time
}

type queue struct {
	items   []string
	notify  chan struct{}
	waiters int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:  make(map[string]time.Time),
		queues: make(map[string]*queue),
		now:    time.Now,
	}
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %s: ttl must be positive", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.flags {
		if !now.Before(exp) {
			delete(s.flags, k)
		}
	}
	s.flags[key] = now.Add(ttl)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flagAlive(key) {
		return true, nil
	}
	q, ok := s.queues[key]
	return ok && len(q.items) > 0, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.flagAlive(key)
	delete(s.flags, key)

	if q, ok := s.queues[key]; ok {
		if len(q.items) > 0 {
			removed = true
		}
		q.items = nil
		s.release(key, q)
	}
	return removed, nil
}

func (s *MemoryStore) Push(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(key)
	q.items = append(q.items, value)
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// BlockingPop waits for a value on key. A non-positive timeout waits until
// ctx is done.
func (s *MemoryStore) BlockingPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	s.mu.Lock()
	q := s.queue(key)
	q.waiters++
	for {
		if len(q.items) > 0 {
			value := q.items[0]
			q.items = q.items[1:]
			q.waiters--
			s.release(key, q)
			s.mu.Unlock()
			return value, true, nil
		}
		notify := q.notify
		s.mu.Unlock()

		select {
		case <-notify:
			s.mu.Lock()
		case <-expired:
			s.mu.Lock()
			q.waiters--
			s.release(key, q)
			s.mu.Unlock()
			return "", false, nil
		case <-ctx.Done():
			s.mu.Lock()
			q.waiters--
			s.release(key, q)
			s.mu.Unlock()
			return "", false, ctx.Err()
		}
	}
}

// Ping always succeeds; it mirrors RedisStore for health checks.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// flagAlive reports whether key holds an unexpired flag. Callers hold mu.
func (s *MemoryStore) flagAlive(key string) bool {
	exp, ok := s.flags[key]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.flags, key)
		return false
	}
	return true
}

// queue returns the queue for key, creating it. Callers hold mu.
func (s *MemoryStore) queue(key string) *queue {
	q, ok := s.queues[key]
	if !ok {
		q = &queue{notify: make(chan struct{})}
		s.queues[key] = q
	}
	return q
}

// release drops an empty queue nobody waits on. Callers hold mu.
func (s *MemoryStore) release(key string, q *queue) {
	if len(q.items) == 0 && q.waiters == 0 {
		delete(s.queues, key)
	}
}
