package inbound

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type seenEntry struct {
	at   time.Time
	elem *list.Element
}

// seenCache is a size-bounded TTL set of message ids. Expired entries are
// pruned from the oldest end on every mark, so it needs no goroutine.
type seenCache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	seen    map[string]*seenEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
}

func newSeenCache(clock clockwork.Clock, ttl time.Duration, maxSize int) *seenCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &seenCache{
		clock:   clock,
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// checkAndMark reports whether key was already seen within the TTL, and
// marks it otherwise.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.pruneLocked(now)

	if e, ok := c.seen[key]; ok {
		if now.Sub(e.at) < c.ttl {
			return true
		}
		c.order.Remove(e.elem)
		delete(c.seen, key)
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			k, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, k)
		}
	}
	c.seen[key] = &seenEntry{at: now, elem: c.order.PushBack(key)}
	return false
}

func (c *seenCache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		k, _ := front.Value.(string)
		e := c.seen[k]
		if e != nil && now.Sub(e.at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, k)
	}
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
