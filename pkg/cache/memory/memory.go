package memory

import (
	"context"
	"sync"
	tm "time"

	"github.com/pixperk/roomkey/pkg/cache"
	"github.com/pixperk/roomkey/pkg/time"
)

type item struct {
	value     string
	hash      map[string]string
	expiresAt tm.Duration // on the clock's Elapsed scale, zero = never
}

// Store is a thread-safe in-memory cache for tests and single-process runs.
// Expiry is evaluated lazily against the injected clock.
type Store struct {
	mu    sync.Mutex
	items map[string]*item
	clock time.Source
	stats Stats
}

// operation counters
type Stats struct {
	Writes    int // hash field writes, direct or pipelined
	Pipelines int // pipelined flushes
	Keys      int // live keys
}

var _ cache.Client = (*Store)(nil)

func New() *Store {
	return NewWithClock(time.NewClock())
}

func NewWithClock(clock time.Source) *Store {
	return &Store{
		items: make(map[string]*item),
		clock: clock,
	}
}

// returns the live item at key, dropping it if it has expired
// caller holds s.mu
func (s *Store) live(key string) (*item, bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if it.expiresAt != 0 && s.clock.Elapsed() >= it.expiresAt {
		delete(s.items, key)
		return nil, false
	}
	return it, true
}

func (s *Store) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok || it.hash == nil {
		return nil, false, nil
	}

	entry := make(cache.Entry, len(it.hash))
	for k, v := range it.hash {
		entry[k] = v
	}
	return entry, true, nil
}

func (s *Store) SetField(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setField(key, field, value)
	return nil
}

// caller holds s.mu
func (s *Store) setField(key, field, value string) {
	it, ok := s.live(key)
	if !ok || it.hash == nil {
		it = &item{hash: make(map[string]string)}
		s.items[key] = it
	}
	it.hash[field] = value
	s.stats.Writes++
}

func (s *Store) Value(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok || it.hash != nil {
		return "", false, nil
	}
	return it.value, true, nil
}

func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl tm.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}

	it := &item{value: value}
	if ttl > 0 {
		it.expiresAt = time.ExpiresAt(s.clock, ttl)
	}
	s.items[key] = it
	return true, nil
}

func (s *Store) DeleteIfEquals(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok || it.hash != nil || it.value != expected {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

func (s *Store) Pipeline(_ context.Context, ops []cache.Op) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]error, len(ops))
	for _, op := range ops {
		s.setField(op.Key, op.Field, op.Value)
	}
	s.stats.Pipelines++
	return results, nil
}

// copy of every live hash entry, keyed by cache key
func (s *Store) Snapshot() map[string]cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]cache.Entry)
	for key := range s.items {
		it, ok := s.live(key)
		if !ok || it.hash == nil {
			continue
		}
		entry := make(cache.Entry, len(it.hash))
		for k, v := range it.hash {
			entry[k] = v
		}
		out[key] = entry
	}
	return out
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Keys = len(s.items)
	return stats
}

func (s *Store) Close() error {
	return nil
}
