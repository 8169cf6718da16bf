package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryCache is an in-process core.CacheRepository with TTL support.
// Set Err before use, or call SetErr once goroutines share the cache, to make every call fail.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time

	Err error
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// SetClock overrides the clock used for expiry.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) live(key string) (memoryItem, bool) {
	it, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// Set stores a copy of value.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if key == "" {
		return errors.New("key cannot be empty")
	}
	c.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

// Get returns a copy of the stored value or nil when absent.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	it, ok := c.live(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), it.value...), nil
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	_, ok := c.live(key)
	delete(c.items, key)
	return ok, nil
}

// Exists reports whether key holds a live value.
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	_, ok := c.live(key)
	return ok, nil
}

// SetIfNotExists stores value only when key is absent.
func (c *MemoryCache) SetIfNotExists(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if _, ok := c.live(key); ok {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	c.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return true, nil
}

// SetUnlessGuarded stores value under key only while guard is absent.
func (c *MemoryCache) SetUnlessGuarded(_ context.Context, key, guard string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if _, ok := c.live(guard); ok {
		return false, nil
	}
	c.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return true, nil
}

// SetErr replaces Err while other goroutines may be using the cache.
func (c *MemoryCache) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// Health returns Err.
func (c *MemoryCache) Health(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

// Keys returns the live keys, for assertions.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		if _, ok := c.live(k); ok {
			out = append(out, k)
		}
	}
	return out
}

// MemoryPubSub is an in-process core.PubSub.
type MemoryPubSub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewMemoryPubSub creates an empty MemoryPubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers message to current subscribers without blocking.
func (p *MemoryPubSub) Publish(_ context.Context, channel string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs[channel] {
		select {
		case ch <- append([]byte(nil), message...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx ends or cancel is called.
func (p *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	if p.subs[channel] == nil {
		p.subs[channel] = make(map[chan []byte]struct{})
	}
	p.subs[channel][ch] = struct{}{}
	p.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			p.mu.Lock()
			delete(p.subs[channel], ch)
			if len(p.subs[channel]) == 0 {
				delete(p.subs, channel)
			}
			close(ch)
			p.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers returns the subscriber count for channel.
func (p *MemoryPubSub) Subscribers(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[channel])
}
