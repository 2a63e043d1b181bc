// Package cache implements the three-tier read-through/write-through cache
// the exchange client shell depends on: an in-process L1, an optional
// shared-kv L2, and an optional durable-disk L3.
//
// Reads check tiers in order and promote hits upward; writes land in L1
// immediately and persist to L2/L3 asynchronously. TTLs and invalidation
// classes are keyed by key prefix.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// entry is what L1 stores: value, expiry, and creation time for the
// oldest-20%-by-creation eviction rule.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	createdAt time.Time
	elem      *list.Element
}

// L2 is the optional shared key-value tier (network accessible).
type L2 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// L3 is the optional durable disk tier.
type L3 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	SweepExpired(ctx context.Context) (int, error)
}

// prefixTTL is the fixed default-TTL table keyed by key-prefix.
var prefixTTL = map[string]time.Duration{
	"stock_info":     3 * time.Second,
	"orderbook":      2 * time.Second,
	"daily_chart":    3600 * time.Second,
	"cash_balance":   30 * time.Second,
	"pending_orders": 5 * time.Second,
	"stock_list":     24 * time.Hour,
}

// longTTLPrefixes are persisted into L2/L3 on write (at ttl*10); all other
// prefixes are L1-only short-lived account keys.
var longTTLPrefixes = map[string]bool{
	"stock_info":  true,
	"daily_chart": true,
	"stock_list":  true,
}

// accountClassPrefixes are invalidated in full by InvalidateAccount after a
// successful order call.
var accountClassPrefixes = []string{"cash_balance", "account_balance", "pending_orders", "filled_orders"}

func prefixOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// DefaultTTL returns the table default for key, or fallback if its prefix
// is not in the table.
func DefaultTTL(key string, fallback time.Duration) time.Duration {
	if ttl, ok := prefixTTL[prefixOf(key)]; ok {
		return ttl
	}
	return fallback
}

// Stats is the hit-rate/size-by-tier observability surface.
type Stats struct {
	L1Size   int
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	L3Hits   int64
	L3Misses int64
}

// Cache is the three-tier cache. L2 and L3 are optional; a nil value for
// either disables that tier and Cache behaves as an L1-only cache.
type Cache struct {
	maxSize int
	l2      L2
	l3      L3
	log     zerolog.Logger

	mu    sync.Mutex
	items map[string]*entry
	order *list.List // front = oldest

	stats Stats
}

// New constructs a Cache. maxSize bounds L1 entries (default 1000 per
// the cache.l1_max_size config field). l2/l3 may be nil.
func New(maxSize int, l2 L2, l3 L3, log zerolog.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		maxSize: maxSize,
		l2:      l2,
		l3:      l3,
		log:     log.With().Str("component", "cache").Logger(),
		items:   make(map[string]*entry),
		order:   list.New(),
	}
}

// Get implements the read path: L1, then L2, then L3, promoting hits
// upward at the key's default TTL. An expired entry is treated as a miss
// and deleted lazily; Get never returns a value past its expiry.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if now.Before(e.expiresAt) {
			c.stats.L1Hits++
			v := e.value
			c.mu.Unlock()
			return v, true
		}
		c.removeLocked(e)
	}
	c.stats.L1Misses++
	c.mu.Unlock()

	if c.l2 != nil {
		if v, ok, err := c.l2.Get(ctx, key); err == nil && ok {
			c.mu.Lock()
			c.stats.L2Hits++
			c.mu.Unlock()
			c.setL1(key, v, DefaultTTL(key, 30*time.Second))
			return v, true
		}
		c.mu.Lock()
		c.stats.L2Misses++
		c.mu.Unlock()
	}

	if c.l3 != nil {
		if v, ok, err := c.l3.Get(ctx, key); err == nil && ok {
			c.mu.Lock()
			c.stats.L3Hits++
			c.mu.Unlock()
			ttl := DefaultTTL(key, 30*time.Second)
			c.setL1(key, v, ttl)
			if c.l2 != nil {
				_ = c.l2.Set(ctx, key, v, ttl)
			}
			return v, true
		}
		c.mu.Lock()
		c.stats.L3Misses++
		c.mu.Unlock()
	}

	return nil, false
}

// Set implements the write path: L1 at ttl always; asynchronously L2/L3 at
// ttl*10 if key's prefix is in the long-TTL set.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.setL1(key, value, ttl)

	if !longTTLPrefixes[prefixOf(key)] {
		return
	}
	longTTL := ttl * 10
	go func() {
		// Detached from the caller's ctx: the async persistence write
		// should outlive the request that triggered it.
		bg := context.Background()
		if c.l2 != nil {
			if err := c.l2.Set(bg, key, value, longTTL); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("L2 async write failed")
			}
		}
		if c.l3 != nil {
			if err := c.l3.Set(bg, key, value, longTTL); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("L3 async write failed")
			}
		}
	}()
}

func (c *Cache) setL1(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		return
	}

	e := &entry{key: key, value: value, expiresAt: now.Add(ttl), createdAt: now}
	e.elem = c.order.PushBack(e)
	c.items[key] = e

	if len(c.items) > c.maxSize {
		c.evictLocked()
	}
}

// evictLocked drops expired entries first; if still over capacity, drops
// the oldest 20% by creation time. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	now := time.Now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			c.removeLocked(e)
		}
		el = next
	}

	if len(c.items) <= c.maxSize {
		return
	}
	toDrop := len(c.items) / 5
	if toDrop == 0 {
		toDrop = 1
	}
	for i := 0; i < toDrop; i++ {
		el := c.order.Front()
		if el == nil {
			break
		}
		c.removeLocked(el.Value.(*entry))
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

// InvalidateAccount deletes every key whose prefix is in the account-class
// set across all tiers. Invoked by ExchangeClient after any successful
// order call.
func (c *Cache) InvalidateAccount(ctx context.Context) {
	c.mu.Lock()
	for _, prefix := range accountClassPrefixes {
		for key, e := range c.items {
			if prefixOf(key) == prefix {
				c.removeLocked(e)
			}
		}
	}
	c.mu.Unlock()

	for _, prefix := range accountClassPrefixes {
		if c.l2 != nil {
			_ = c.l2.DeletePrefix(ctx, prefix)
		}
		if c.l3 != nil {
			_ = c.l3.DeletePrefix(ctx, prefix)
		}
	}
}

// Stats returns the current hit-rate/size snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.L1Size = len(c.items)
	return s
}

// StartSweeper launches the background task that purges expired L1 and L3
// entries every interval (default 5 minutes). Returns a stop
// function; call it on shutdown to join the task.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				c.sweepL1()
				if c.l3 != nil {
					if n, err := c.l3.SweepExpired(ctx); err != nil {
						c.log.Warn().Err(err).Msg("L3 sweep failed")
					} else if n > 0 {
						c.log.Debug().Int("removed", n).Msg("L3 sweep removed expired entries")
					}
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (c *Cache) sweepL1() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
		el = next
	}
	if removed > 0 {
		c.log.Debug().Int("removed", removed).Msg("L1 sweep removed expired entries")
	}
}
