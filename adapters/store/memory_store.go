package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/layer-3/otpgate/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-memory implementation of the ChallengeStore interface.
// Expired entries are dropped lazily on access.
type MemoryStore struct {
	data map[string]memoryEntry
	mu   sync.Mutex
	now  func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, used to simulate TTL expiry in tests
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return "", ports.ErrNotFound
	}
	return e.value, nil
}

// SetWithTTL stores a key with a value and expiration time
func (s *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(key, value, ttl)
	return nil
}

// SetIfAbsent stores a key only when it does not exist yet
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.set(key, value, ttl)
	return true, nil
}

// Delete removes the given keys
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// TTL returns the remaining lifetime of a key
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, ports.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Increment bumps a counter and sets its lock while holding the store mutex
func (s *MemoryStore) Increment(ctx context.Context, counter ports.Counter) (ports.CounterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counter.LockKey != "" {
		if _, ok := s.lookup(counter.LockKey); ok {
			return ports.CounterResult{AlreadyLocked: true}, nil
		}
	}

	var n int64
	if e, ok := s.lookup(counter.Key); ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
		n++
		if counter.SlidingTTL {
			s.set(counter.Key, strconv.FormatInt(n, 10), counter.TTL)
		} else {
			s.data[counter.Key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
		}
	} else {
		n = 1
		s.set(counter.Key, "1", counter.TTL)
	}

	if counter.LockKey != "" && counter.Limit > 0 && n >= counter.Limit {
		s.set(counter.LockKey, "1", counter.LockTTL)
		if counter.ResetOnLock {
			delete(s.data, counter.Key)
		}
		return ports.CounterResult{Count: n, Locked: true}, nil
	}

	return ports.CounterResult{Count: n}, nil
}

// Consume compares a stored value and deletes it on match
func (s *MemoryStore) Consume(ctx context.Context, req ports.ConsumeRequest) (ports.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.GuardKey != "" {
		if _, ok := s.lookup(req.GuardKey); ok {
			return ports.ConsumeGuarded, nil
		}
	}

	e, ok := s.lookup(req.Key)
	if !ok {
		return ports.ConsumeMissing, nil
	}
	if e.value != req.Value {
		return ports.ConsumeMismatch, nil
	}

	delete(s.data, req.Key)
	for _, k := range req.Clear {
		delete(s.data, k)
	}
	return ports.ConsumeMatched, nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]memoryEntry)
}

// lookup must be called with mu held
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

// set must be called with mu held
func (s *MemoryStore) set(key, value string, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
}
