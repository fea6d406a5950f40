package scheduler

import (
	"sync"
	"time"
)

// CooldownStore tracks per-IP cooldowns that begin when a scan from that IP
// reaches a terminal state. Queued jobs from a cooling-down IP are skipped,
// not discarded: they keep their queue standing and become eligible again
// once the window expires. Expired entries are reaped lazily on access.
type CooldownStore struct {
	mu      sync.Mutex
	until   map[string]time.Time
	window  time.Duration
	nowFunc func() time.Time
}

// NewCooldownStore creates a store with the given cooldown window. A zero
// window disables cooldowns entirely.
func NewCooldownStore(window time.Duration) *CooldownStore {
	return &CooldownStore{
		until:   make(map[string]time.Time),
		window:  window,
		nowFunc: time.Now,
	}
}

// Start opens a cooldown window for an IP, replacing any earlier window.
func (s *CooldownStore) Start(ip string) {
	if s.window <= 0 || ip == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[ip] = s.nowFunc().Add(s.window)
}

// Active reports whether an IP is currently cooling down.
func (s *CooldownStore) Active(ip string) bool {
	if s.window <= 0 || ip == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.until[ip]
	if !ok {
		return false
	}
	if s.nowFunc().After(expiry) {
		delete(s.until, ip)
		return false
	}
	return true
}
