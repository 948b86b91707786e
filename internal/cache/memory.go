package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type entry struct {
	answer    string
	createdAt time.Time
}

// MemoryStore is the process-wide in-memory answer cache. go-cache runs the
// periodic background sweep; the injected clock enforces TTL at read time so
// expiry is testable without sleeping.
type MemoryStore struct {
	// storeMu makes the capacity check and insert one step.
	storeMu    sync.Mutex
	items      *gocache.Cache
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for lazy expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(ttl time.Duration, maxEntries int, sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	s := &MemoryStore{
		items:      gocache.New(ttl, sweepInterval),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Lookup(_ context.Context, fingerprint string) (string, bool) {
	v, ok := s.items.Get(fingerprint)
	if !ok {
		return "", false
	}
	e := v.(entry)
	if s.expired(e) {
		s.items.Delete(fingerprint)
		return "", false
	}
	return e.answer, true
}

func (s *MemoryStore) Store(_ context.Context, fingerprint, answer string) {
	if fingerprint == "" || answer == "" {
		return
	}
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if _, exists := s.items.Get(fingerprint); !exists && s.items.ItemCount() >= s.maxEntries {
		s.evictOne()
	}
	s.items.Set(fingerprint, entry{answer: answer, createdAt: s.now()}, gocache.DefaultExpiration)
}

// Sweep purges entries that are expired according to the injected clock.
func (s *MemoryStore) Sweep() int {
	s.items.DeleteExpired()
	removed := 0
	for k, it := range s.items.Items() {
		if e, ok := it.Object.(entry); ok && s.expired(e) {
			s.items.Delete(k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

func (s *MemoryStore) expired(e entry) bool {
	return s.now().Sub(e.createdAt) >= s.ttl
}

// evictOne drops an arbitrary entry, preferring one that is already expired.
func (s *MemoryStore) evictOne() {
	var victim string
	for k, it := range s.items.Items() {
		if e, ok := it.Object.(entry); ok && s.expired(e) {
			s.items.Delete(k)
			return
		}
		if victim == "" {
			victim = k
		}
	}
	if victim != "" {
		s.items.Delete(victim)
	}
}
