package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"joingate/internal/captcha/models"
)

// InMemoryStore keeps challenge records in process memory with lazy expiry.
// It is the default for single-instance deployments and tests.
type InMemoryStore struct {
	mu        sync.Mutex
	records   map[string]memoryEntry
	namespace string
	now       func() time.Time
}

type memoryEntry struct {
	rec       models.ChallengeRecord
	expiresAt time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryNamespace overrides the key namespace.
func WithMemoryNamespace(ns string) MemoryOption {
	return func(s *InMemoryStore) {
		s.namespace = ns
	}
}

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records:   make(map[string]memoryEntry),
		namespace: DefaultNamespace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a copy of rec; later mutation of rec by the caller is not visible.
func (s *InMemoryStore) Put(_ context.Context, key string, rec *models.ChallengeRecord, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("put %s: nil record", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[namespaced(s.namespace, key)] = memoryEntry{
		rec:       *rec,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*models.ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(namespaced(s.namespace, key))
	if !ok {
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

// Take removes and returns the record under the store lock, so concurrent
// callers cannot both observe it.
func (s *InMemoryStore) Take(_ context.Context, key string) (*models.ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := namespaced(s.namespace, key)
	entry, ok := s.live(k)
	if !ok {
		return nil, nil
	}
	delete(s.records, k)
	rec := entry.rec
	return &rec, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, namespaced(s.namespace, key))
	return nil
}

// Len returns the number of unexpired records.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}

// live returns the entry for k, evicting it if expired. Caller holds s.mu.
func (s *InMemoryStore) live(k string) (memoryEntry, bool) {
	entry, ok := s.records[k]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, k)
		return memoryEntry{}, false
	}
	return entry, true
}
