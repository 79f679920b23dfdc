// Package nonce implements the mutex-guarded, TTL-swept nonce manager
// used for both A2A message_id anti-replay and mandate nonce uniqueness.
package nonce

import (
	"sync"
	"time"
)

const DefaultTTL = 300 * time.Second

// Manager tracks nonces that have been accepted, rejecting any nonce
// seen again before its TTL elapses.
type Manager struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	stop    chan struct{}
}

// New creates a Manager with the given TTL (DefaultTTL if ttl <= 0) and
// starts its background sweep goroutine.
func New(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// CheckAndRecord is atomic: if nonce is present and unexpired, it returns
// false (rejected, replay); otherwise it records nonce with an expiry of
// now+ttl and returns true (accepted). Exactly one caller succeeds per
// nonce under concurrent access.
func (m *Manager) CheckAndRecord(n string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.entries[n]; ok && now.Before(expiry) {
		return false
	}
	m.entries[n] = now.Add(m.ttl)
	return true
}

// Close stops the background sweep goroutine.
func (m *Manager) Close() {
	close(m.stop)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, expiry := range m.entries {
		if now.After(expiry) {
			delete(m.entries, n)
		}
	}
}
