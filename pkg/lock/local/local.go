// Package local provides an in-process lock manager. It honors the full
// Manager contract (TTL expiry, re-entrancy, at-most-one holder) and is the
// single-process deployment story; a networked manager slots in behind the
// same port for clusters.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/clock"
	"github.com/papercomputeco/engram/pkg/lock"
)

type claim struct {
	holder  string
	count   int
	expires time.Time
}

// Manager implements lock.Manager using in-process data structures.
type Manager struct {
	mu     sync.Mutex
	claims map[string]claim
	clock  clock.Clock
}

// NewManager creates a local lock manager.
func NewManager(clk clock.Clock) *Manager {
	return &Manager{
		claims: make(map[string]claim),
		clock:  clk,
	}
}

// TryAcquire takes the lock if it is free, expired, or already held by the
// same holder (re-entrant; the TTL is extended and the hold count bumped).
func (m *Manager) TryAcquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	c, ok := m.claims[key]
	if ok && c.holder != holder && now.Before(c.expires) {
		return false, nil
	}

	if ok && c.holder == holder && now.Before(c.expires) {
		c.count++
		c.expires = now.Add(ttl)
		m.claims[key] = c
		return true, nil
	}

	m.claims[key] = claim{holder: holder, count: 1, expires: now.Add(ttl)}
	return true, nil
}

// Release drops one hold; the lock frees when the count reaches zero.
func (m *Manager) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[key]
	if !ok || c.holder != holder || m.clock.Now().After(c.expires) {
		return lock.ErrNotHeld
	}

	c.count--
	if c.count <= 0 {
		delete(m.claims, key)
		return nil
	}
	m.claims[key] = c
	return nil
}

// Close is a no-op.
func (m *Manager) Close() error {
	return nil
}
