package cache

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

type options struct {
	shards          int
	now             func() time.Time
	janitorInterval time.Duration
}

// Option customizes a Store or MemoryCounter at construction.
type Option func(*options)

// WithShards overrides the shard count. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock injects the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithJanitor starts a background goroutine that drops expired entries every
// interval. Without it, expired entries are dropped lazily on access.
func WithJanitor(interval time.Duration) Option {
	return func(o *options) {
		o.janitorInterval = interval
	}
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
}

// Stats reports cumulative lookup results.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Store is a concurrent key/value map whose entries expire a fixed TTL after
// their last write.
type Store[V any] struct {
	ttl    time.Duration
	now    func() time.Time
	shards []*shard[V]

	hits   atomic.Uint64
	misses atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Store with the given time-to-live. The shard count defaults to
// runtime.GOMAXPROCS(0).
func New[V any](ttl time.Duration, opts ...Option) *Store[V] {
	o := options{
		shards: runtime.GOMAXPROCS(0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards < 1 {
		o.shards = 1
	}

	s := &Store[V]{
		ttl:    ttl,
		now:    o.now,
		shards: make([]*shard[V], o.shards),
		stop:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}

	if o.janitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor(o.janitorInterval)
	}

	return s
}

// TTL returns the configured time-to-live.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get returns the live value stored under key.
func (s *Store[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	e, ok := sh.items[key]
	if ok && !now.Before(e.expiresAt) {
		delete(sh.items, key)
		ok = false
	}
	sh.mu.Unlock()

	if !ok {
		s.misses.Add(1)
		var zero V
		return zero, false
	}
	s.hits.Add(1)
	return e.value, true
}

// CreatedAt reports when the live entry under key was first written.
func (s *Store[V]) CreatedAt(key string) (time.Time, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.items[key]
	if !ok || !now.Before(e.expiresAt) {
		return time.Time{}, false
	}
	return e.createdAt, true
}

// Put stores value under key and resets its TTL.
func (s *Store[V]) Put(key string, value V) {
	s.Update(key, func(V, bool) V { return value })
}

// Update atomically replaces the value under key with fn(current, present) and
// resets its TTL. An expired entry is reported to fn as absent.
func (s *Store[V]) Update(key string, fn func(current V, ok bool) V) V {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if ok && !now.Before(e.expiresAt) {
		ok = false
	}
	if !ok {
		var zero V
		e = entry[V]{value: zero, createdAt: now}
	}

	e.value = fn(e.value, ok)
	e.expiresAt = now.Add(s.ttl)
	sh.items[key] = e
	return e.value
}

// Compute atomically replaces or removes the value under key. fn returns the
// next value and whether to keep it. Unlike Update, a live entry keeps its
// expiry; only a newly created entry gets a fresh TTL.
func (s *Store[V]) Compute(key string, fn func(current V, ok bool) (V, bool)) (V, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if ok && !now.Before(e.expiresAt) {
		delete(sh.items, key)
		e, ok = entry[V]{}, false
	}

	next, keep := fn(e.value, ok)
	if !keep {
		delete(sh.items, key)
		var zero V
		return zero, false
	}
	if !ok {
		e = entry[V]{createdAt: now, expiresAt: now.Add(s.ttl)}
	}
	e.value = next
	sh.items[key] = e
	return next, true
}

// Evict removes key. Evicting an absent key is a no-op.
func (s *Store[V]) Evict(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Len counts live entries.
func (s *Store[V]) Len() int {
	now := s.now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.items {
			if now.Before(e.expiresAt) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of hit/miss counters and the live entry count.
func (s *Store[V]) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: s.Len(),
	}
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (s *Store[V]) PurgeExpired() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if !now.Before(e.expiresAt) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store[V]) janitor(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PurgeExpired()
		case <-s.stop:
			return
		}
	}
}

// Close stops the janitor, if any. The store stays usable afterwards.
func (s *Store[V]) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}
