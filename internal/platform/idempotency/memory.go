package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many reservations pass between scans for expired keys.
const sweepEvery = 64

// MemoryStore keeps keys in process. The API falls back to it when Redis is not configured,
// which is only safe with a single replica.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]Record
	sinceScan int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Record{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweep(now)

	if existing, live := s.lookup(key, now); live {
		switch {
		case existing.Fingerprint != fingerprint:
			return Reservation{}, ErrFingerprintMismatch
		case existing.Status == StatusCompleted:
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		default:
			return Reservation{State: ReservationStatePending, Record: existing}, nil
		}
	}
	rec := pendingRecord(key, fingerprint, now, effectiveTTL(ttl))
	s.entries[hashedKey(key)] = rec
	return Reservation{State: ReservationStateNew, Record: rec}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.lookup(key, now)
	rec, err := completeRecord(existing, key, fingerprint, resp, now, effectiveTTL(ttl))
	if err != nil {
		return err
	}
	s.entries[hashedKey(key)] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, hashedKey(key))
	s.mu.Unlock()
	return nil
}

// Len counts stored keys, expired ones included until the next sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// lookup returns the record for key and whether it is still live. Caller holds mu.
func (s *MemoryStore) lookup(key string, now time.Time) (Record, bool) {
	rec, ok := s.entries[hashedKey(key)]
	if !ok || !now.Before(rec.ExpiresAt) {
		return Record{}, false
	}
	return rec, true
}

// maybeSweep drops expired keys every sweepEvery reservations. Caller holds mu.
func (s *MemoryStore) maybeSweep(now time.Time) {
	s.sinceScan++
	if s.sinceScan < sweepEvery {
		return
	}
	s.sinceScan = 0
	for id, rec := range s.entries {
		if !now.Before(rec.ExpiresAt) {
			delete(s.entries, id)
		}
	}
}
