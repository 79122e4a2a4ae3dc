// package progress stores TTL-bound progress records polled by clients.
//
// Writes replace the whole record. Use a [Tracker] to read-modify-write so counters survive status changes.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// DefaultTTL is how long a record lives after its last write.
const DefaultTTL = time.Hour

// Store is a key-value store of progress records with expiry.
//
// Get returns [shared.ErrProgressNotFound] for absent and expired keys alike.
type Store interface {
	Put(ctx context.Context, key string, rec models.ProgressRecord, ttl time.Duration) error
	Get(ctx context.Context, key string) (models.ProgressRecord, error)
	Purge(ctx context.Context) (int, error)
}

type entry struct {
	rec     models.ProgressRecord
	expires time.Time
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty store reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry), now: now}
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec models.ProgressRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{rec: clone(rec), expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (models.ProgressRecord, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !s.now().Before(e.expires) {
		return models.ProgressRecord{}, shared.ErrProgressNotFound
	}
	return clone(e.rec), nil
}

// Purge drops expired records and returns how many were removed.
func (s *MemoryStore) Purge(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of records held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(rec models.ProgressRecord) models.ProgressRecord {
	if rec.Error != nil {
		e := *rec.Error
		rec.Error = &e
	}
	return rec
}
