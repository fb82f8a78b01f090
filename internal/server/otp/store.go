// Package otp implements the one-time-passcode workflow gating registration:
// an ephemeral email→code store with TTL semantics and the request/verify/
// consume operations on top of it.
package otp

import (
	"sync"
	"time"
)

// Store is the ephemeral key/value service holding at most one live code per
// email. A new Set overwrites the prior entry and resets its expiry.
type Store interface {
	Set(email, code string, ttl time.Duration)
	// Get returns the live code for email, or ok=false when none was ever
	// stored or the entry expired.
	Get(email string) (code string, ok bool)
	Delete(email string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are invisible to Get
// immediately; Sweep reclaims their memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Set(email, code string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[email] = entry{code: code, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) Get(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, email)
		return "", false
	}
	return e.code, true
}

func (s *MemoryStore) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, email)
}

// Sweep drops expired entries and returns how many were removed. The server
// runs this on a ticker.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for email, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, email)
			removed++
		}
	}
	return removed
}
