package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultMemoryEntries = 10000
	sweepInterval        = time.Minute
)

// MemoryClient is a process-local Client for development and single-replica
// serving. When full it drops expired entries first, then the least recently
// used one.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List // front is most recently used
	limit   int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero never expires
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryClient creates a client holding at most maxEntries values and
// starts its background sweeper; call Close to stop it.
func NewMemoryClient(maxEntries int) *MemoryClient {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	c := &MemoryClient{
		entries: make(map[string]*list.Element),
		recency: list.New(),
		limit:   maxEntries,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	e := el.Value.(*memoryEntry)
	if e.expired(c.now()) {
		c.remove(el)
		return nil, ErrCacheMiss
	}
	c.recency.MoveToFront(el)
	return e.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(el)
		return nil
	}

	if len(c.entries) >= c.limit {
		c.makeRoom()
	}
	c.entries[key] = c.recency.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	return nil
}

func (c *MemoryClient) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.entries = make(map[string]*list.Element)
		c.recency.Init()
		return nil
	}
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper. The client stays usable.
func (c *MemoryClient) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// makeRoom frees at least one slot. Caller holds mu.
func (c *MemoryClient) makeRoom() {
	if c.sweep() > 0 {
		return
	}
	if el := c.recency.Back(); el != nil {
		c.remove(el)
	}
}

// sweep drops expired entries and reports how many went. Caller holds mu.
func (c *MemoryClient) sweep() int {
	now := c.now()
	n := 0
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryEntry).expired(now) {
			c.remove(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *MemoryClient) remove(el *list.Element) {
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*memoryEntry).key)
}

func (c *MemoryClient) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweep()
			c.mu.Unlock()
		}
	}
}
