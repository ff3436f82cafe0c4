// Package memory provides in-process implementations of the cache, lock and
// signal bus interfaces for single-node deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// Cache is a TTL map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns a copy of the value under key if it has not expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value for ttl and drops expired entries.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{value: append([]byte(nil), value...), expiresAt: now.Add(ttl)}
	return nil
}

// Locks is a process-local LockManager.
type Locks struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocks returns a Locks with nothing held.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld. The release
// func is idempotent and leaves a lock re-taken after expiry alone.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.held[key]; ok && l.now().Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := l.now().Add(ttl)
	l.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == exp {
				delete(l.held, key)
			}
		})
	}, nil
}

// Bus fans published payloads out to every live subscriber of a channel.
// Slow subscribers miss messages rather than block publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBus returns a Bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers payload to the current subscribers of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a buffered stream of channel's payloads, closed when
// ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

var (
	_ domain.ResponseCache = (*Cache)(nil)
	_ domain.LockManager   = (*Locks)(nil)
	_ domain.SignalBus     = (*Bus)(nil)
)
