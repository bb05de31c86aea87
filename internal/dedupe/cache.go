// ABOUTME: Thread-safe TTL cache for deduplicating inbound channel events.
// ABOUTME: Platform webhooks redeliver on slow acks; the dispatcher must not relay twice.

package dedupe

import (
	"sync"
	"time"
)

// Key builds the dedupe key for a platform event: the originating channel
// plus the platform-assigned event id.
func Key(channel, eventID string) string {
	return channel + ":" + eventID
}

// Cache remembers event keys for a TTL, bounded by a maximum size.
// Eviction uses a FIFO queue of keys; a re-marked key leaves its old queue
// slot behind as a stale entry that eviction skips, which keeps Mark O(1)
// without tracking list nodes per key.
type Cache struct {
	mu      sync.RWMutex
	marked  map[string]time.Time
	queue   []string
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background expiry sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		marked:  make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Check reports whether the key was marked within the TTL. It never marks:
// the dispatcher marks only after the event was processed successfully, so
// a failed delivery stays eligible for the platform's redelivery.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	at, ok := c.marked[key]
	return ok && time.Since(at) < c.ttl
}

// Mark records the key as seen, evicting the oldest live entry at capacity.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, known := c.marked[key]
	if !known && len(c.marked) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.marked[key] = time.Now()
	// Re-marks append a second queue slot; the earlier one goes stale and
	// is skipped at eviction time.
	c.queue = append(c.queue, key)
}

func (c *Cache) evictOldestLocked() {
	for len(c.queue) > 0 {
		key := c.queue[0]
		c.queue = c.queue[1:]
		if _, live := c.marked[key]; !live {
			continue // stale slot from an earlier eviction or expiry
		}
		if c.queuedCount(key) > 0 {
			continue // re-marked later; a fresher slot is still queued
		}
		delete(c.marked, key)
		return
	}
}

func (c *Cache) queuedCount(key string) int {
	n := 0
	for _, q := range c.queue {
		if q == key {
			n++
		}
	}
	return n
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries and compacts the queue to live keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, at := range c.marked {
		if now.Sub(at) >= c.ttl {
			delete(c.marked, key)
		}
	}

	compacted := make([]string, 0, len(c.marked))
	newest := make(map[string]bool, len(c.marked))
	// Walk back to front so only the newest slot per live key survives.
	for i := len(c.queue) - 1; i >= 0; i-- {
		key := c.queue[i]
		if _, live := c.marked[key]; live && !newest[key] {
			newest[key] = true
			compacted = append(compacted, key)
		}
	}
	for i, j := 0, len(compacted)-1; i < j; i, j = i+1, j-1 {
		compacted[i], compacted[j] = compacted[j], compacted[i]
	}
	c.queue = compacted
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
