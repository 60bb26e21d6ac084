// Package cache implements the adaptive, sharded, policy-driven cache
// described in spec.md §4.4: LRU/LFU/FIFO/TLRU/ARC eviction policies,
// lazy expiration, a background capacity resizer, and per-shard locking
// with no cross-shard atomicity.
package cache

import (
	"container/list"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	minShardCount = 1

	// cleanupThreshold and cleanupTarget are defaults; both are also
	// exposed as Config fields so internal/config can override them from
	// spec.md §6's `cleanup_threshold`/`cleanup_target` keys.
	defaultCleanupThreshold = 0.9
	defaultCleanupTarget    = 0.75
)

// Config configures a new Cache.
type Config struct {
	Policy          string // lru|lfu|fifo|tlru|arc
	ShardCount      int
	Capacity        int64
	MinCapacity     int64
	MaxCapacity     int64
	CleanupThreshold float64
	CleanupTarget    float64

	AdaptiveSizing     bool
	AdjustmentInterval time.Duration

	PolicyOptions []PolicyOption
}

// DefaultConfig returns sensible defaults, matching the shape of
// spec.md §6's `adaptive cache` configuration group.
func DefaultConfig() Config {
	return Config{
		Policy:             "lru",
		ShardCount:         16,
		Capacity:           10000,
		MinCapacity:        1000,
		MaxCapacity:        1000000,
		CleanupThreshold:   defaultCleanupThreshold,
		CleanupTarget:      defaultCleanupTarget,
		AdaptiveSizing:     true,
		AdjustmentInterval: 30 * time.Second,
	}
}

// Cache is a sharded, policy-driven, adaptively-sized cache.
type Cache struct {
	policy Policy
	seed   uint32

	shards []*shard

	capacity atomic.Int64
	size     atomic.Int64

	// minCapacity, maxCapacity, cleanupThresholdBits, cleanupTargetBits and
	// adjustIntervalNanos hold the subset of Config that confloader's
	// Watcher may re-apply at runtime (see ApplyTunables); Policy,
	// ShardCount and AdaptiveSizing are set once from Config and never
	// revisited.
	minCapacity          atomic.Int64
	maxCapacity          atomic.Int64
	cleanupThresholdBits atomic.Uint64
	cleanupTargetBits    atomic.Uint64
	adjustIntervalNanos  atomic.Int64
	intervalChanged      chan struct{}

	hits, misses, evictions, expirations atomic.Uint64

	startedAt time.Time

	stopResize chan struct{}
	resizeDone chan struct{}
}

type shard struct {
	mu    sync.RWMutex
	order *list.List // front = most-recently-relevant, per policy semantics
	items map[string]*list.Element
}

func newShard() *shard {
	return &shard{
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// New creates a Cache and, if cfg.AdaptiveSizing is set, starts its
// background resizer goroutine. Call Close to stop it.
func New(cfg Config) *Cache {
	if cfg.ShardCount < minShardCount {
		cfg.ShardCount = minShardCount
	}
	if cfg.CleanupThreshold <= 0 {
		cfg.CleanupThreshold = defaultCleanupThreshold
	}
	if cfg.CleanupTarget <= 0 {
		cfg.CleanupTarget = defaultCleanupTarget
	}

	c := &Cache{
		policy:          NewPolicy(cfg.Policy, cfg.PolicyOptions...),
		seed:            0x9e3779b9,
		startedAt:       time.Now(),
		stopResize:      make(chan struct{}),
		resizeDone:      make(chan struct{}),
		intervalChanged: make(chan struct{}, 1),
	}
	c.minCapacity.Store(cfg.MinCapacity)
	c.maxCapacity.Store(cfg.MaxCapacity)
	c.cleanupThresholdBits.Store(math.Float64bits(cfg.CleanupThreshold))
	c.cleanupTargetBits.Store(math.Float64bits(cfg.CleanupTarget))
	c.adjustIntervalNanos.Store(int64(cfg.AdjustmentInterval))
	c.capacity.Store(clampCapacity(cfg.Capacity, cfg.MinCapacity, cfg.MaxCapacity))
	c.shards = make([]*shard, cfg.ShardCount)
	for i := range c.shards {
		c.shards[i] = newShard()
	}

	if cfg.AdaptiveSizing {
		go c.runResizer()
	} else {
		close(c.resizeDone)
	}

	return c
}

// Close stops the background resizer, if running.
func (c *Cache) Close() {
	select {
	case <-c.stopResize:
	default:
		close(c.stopResize)
	}
	<-c.resizeDone
}

// ApplyTunables re-applies the whitelisted subset of Config that
// confloader's Watcher hot-reloads: MinCapacity, MaxCapacity,
// CleanupThreshold, CleanupTarget and AdjustmentInterval. Policy,
// ShardCount and AdaptiveSizing are fixed at construction and are not
// touched here. Safe to call concurrently with Get/Put from any goroutine.
func (c *Cache) ApplyTunables(minCap, maxCap int64, cleanupThreshold, cleanupTarget float64, adjustInterval time.Duration) {
	c.minCapacity.Store(minCap)
	c.maxCapacity.Store(maxCap)
	c.cleanupThresholdBits.Store(math.Float64bits(cleanupThreshold))
	c.cleanupTargetBits.Store(math.Float64bits(cleanupTarget))

	if adjustInterval > 0 && adjustInterval != time.Duration(c.adjustIntervalNanos.Swap(int64(adjustInterval))) {
		select {
		case c.intervalChanged <- struct{}{}:
		default:
		}
	}

	c.SetCapacity(c.capacity.Load())
}

func (c *Cache) cleanupThreshold() float64 {
	return math.Float64frombits(c.cleanupThresholdBits.Load())
}

func (c *Cache) cleanupTarget() float64 {
	return math.Float64frombits(c.cleanupTargetBits.Load())
}

func clampCapacity(v, min, max int64) int64 {
	if max > 0 && v > max {
		v = max
	}
	if v < min {
		v = min
	}
	return v
}

func (c *Cache) shardFor(key string) (*shard, int) {
	idx := int(murmur3.Sum32WithSeed([]byte(key), c.seed)) % len(c.shards)
	if idx < 0 {
		idx += len(c.shards)
	}
	return c.shards[idx], idx
}

// Put inserts or replaces key's value.
func (c *Cache) Put(key string, value []byte) {
	sh, shardID := c.shardFor(key)

	sh.mu.Lock()
	if elem, ok := sh.items[key]; ok {
		item := elem.Value.(*Item)
		item.Value = value
		c.policy.OnAccess(item)
		if _, isLRU := c.policy.(*lruPolicy); isLRU {
			sh.order.MoveToFront(elem)
		}
		sh.mu.Unlock()
		return
	}

	if c.size.Load() >= c.capacity.Load() {
		sh.mu.Unlock()
		c.evictFromShard(sh, shardID, 1)
		sh.mu.Lock()
	}

	item := newItem(key, value)
	c.policy.OnAdd(item)
	elem := sh.order.PushFront(item)
	item.elem = elem
	sh.items[key] = elem
	fillRatio := float64(len(sh.items)) / c.perShardTarget()
	sh.mu.Unlock()

	c.size.Add(1)

	if fillRatio > c.cleanupThreshold() {
		c.sweepExpired(sh, shardID)
	}
}

// Get looks up key. The second return reports whether it was present and
// not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	sh, shardID := c.shardFor(key)

	sh.mu.RLock()
	elem, ok := sh.items[key]
	if !ok {
		sh.mu.RUnlock()
		if arc, isARC := c.policy.(*arcPolicy); isARC {
			arc.GhostHit(shardID, key)
		}
		c.misses.Add(1)
		return nil, false
	}
	item := elem.Value.(*Item)

	if c.policy.ShouldEvict(item) {
		sh.mu.RUnlock()
		c.expireOne(sh, shardID, key)
		c.misses.Add(1)
		return nil, false
	}

	if _, isLRU := c.policy.(*lruPolicy); isLRU {
		sh.mu.RUnlock()
		sh.mu.Lock()
		elem, ok = sh.items[key]
		if !ok {
			sh.mu.Unlock()
			c.misses.Add(1)
			return nil, false
		}
		item = elem.Value.(*Item)
		c.policy.OnAccess(item)
		sh.order.MoveToFront(elem)
		value := item.Value
		sh.mu.Unlock()
		c.hits.Add(1)
		return value, true
	}

	c.policy.OnAccess(item)
	value := item.Value
	sh.mu.RUnlock()
	c.hits.Add(1)
	return value, true
}

// Remove deletes key if present.
func (c *Cache) Remove(key string) {
	sh, _ := c.shardFor(key)
	sh.mu.Lock()
	elem, ok := sh.items[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	sh.order.Remove(elem)
	delete(sh.items, key)
	sh.mu.Unlock()
	c.size.Add(-1)
}

// Clear empties every shard, locking them in order.
func (c *Cache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		n := len(sh.items)
		sh.order.Init()
		sh.items = make(map[string]*list.Element)
		sh.mu.Unlock()
		c.size.Add(-int64(n))
	}
}

// SetCapacity clamps newCap to [MinCapacity,MaxCapacity] and, if the new
// capacity is below the current size, distributes the required eviction
// count proportionally across shards.
func (c *Cache) SetCapacity(newCap int64) {
	newCap = clampCapacity(newCap, c.minCapacity.Load(), c.maxCapacity.Load())
	c.capacity.Store(newCap)

	overflow := c.size.Load() - newCap
	if overflow <= 0 {
		return
	}

	// Each shard's share is overflow * (shard size / total size); shares are
	// taken from running totals so they add up to overflow exactly.
	total := c.size.Load()
	var cum, done int64
	for i, sh := range c.shards {
		sh.mu.RLock()
		cum += int64(len(sh.items))
		sh.mu.RUnlock()
		target := overflow * cum / total
		if target > overflow {
			target = overflow
		}
		if n := int(target - done); n > 0 {
			c.evictFromShard(sh, i, n)
		}
		done = target
	}
}

func (c *Cache) perShardTarget() float64 {
	cap := c.capacity.Load()
	return float64(cap) / float64(len(c.shards))
}

// evictFromShard collects every item's (key, priority) under the shard's
// write lock, sorts by priority descending (should-evict items get +Inf),
// and evicts the top n.
func (c *Cache) evictFromShard(sh *shard, shardID int, n int) {
	type candidate struct {
		key      string
		priority float64
		listPos  int
		expired  bool
	}

	sh.mu.Lock()
	if n > len(sh.items) {
		n = len(sh.items)
	}
	if n <= 0 {
		sh.mu.Unlock()
		return
	}

	candidates := make([]candidate, 0, len(sh.items))
	pos := 0
	for e := sh.order.Front(); e != nil; e = e.Next() {
		item := e.Value.(*Item)
		expired := c.policy.ShouldEvict(item)
		prio := c.policy.Priority(item)
		if expired {
			prio = math.Inf(1)
		}
		candidates = append(candidates, candidate{key: item.Key, priority: prio, listPos: pos, expired: expired})
		pos++
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		if candidates[i].expired != candidates[j].expired {
			return candidates[i].expired
		}
		return candidates[i].listPos < candidates[j].listPos
	})

	var expiredCount int
	for i := 0; i < n; i++ {
		key := candidates[i].key
		elem, ok := sh.items[key]
		if !ok {
			continue
		}
		item := elem.Value.(*Item)
		sh.order.Remove(elem)
		delete(sh.items, key)
		c.policy.OnEviction(item, shardID)
		if candidates[i].expired {
			expiredCount++
		}
	}
	sh.mu.Unlock()

	c.size.Add(-int64(n))
	if expiredCount > 0 {
		c.expirations.Add(uint64(expiredCount))
	}
	if n-expiredCount > 0 {
		c.evictions.Add(uint64(n - expiredCount))
	}
}

func (c *Cache) expireOne(sh *shard, shardID int, key string) {
	sh.mu.Lock()
	elem, ok := sh.items[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	item := elem.Value.(*Item)
	if !c.policy.ShouldEvict(item) {
		sh.mu.Unlock()
		return
	}
	sh.order.Remove(elem)
	delete(sh.items, key)
	c.policy.OnEviction(item, shardID)
	sh.mu.Unlock()

	c.size.Add(-1)
	c.expirations.Add(1)
}

// sweepExpired scans a shard and drops every item the policy marks
// should-evict, per spec.md's expiration-sweep rule.
func (c *Cache) sweepExpired(sh *shard, shardID int) {
	sh.mu.Lock()
	var toRemove []*list.Element
	for e := sh.order.Front(); e != nil; e = e.Next() {
		item := e.Value.(*Item)
		if c.policy.ShouldEvict(item) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		item := e.Value.(*Item)
		sh.order.Remove(e)
		delete(sh.items, item.Key)
		c.policy.OnEviction(item, shardID)
	}
	sh.mu.Unlock()

	if n := len(toRemove); n > 0 {
		c.size.Add(-int64(n))
		c.expirations.Add(uint64(n))
	}
}

func (c *Cache) runResizer() {
	defer close(c.resizeDone)
	ticker := time.NewTicker(time.Duration(c.adjustIntervalNanos.Load()))
	defer ticker.Stop()

	for {
		select {
		case <-c.stopResize:
			return
		case <-c.intervalChanged:
			ticker.Reset(time.Duration(c.adjustIntervalNanos.Load()))
		case <-ticker.C:
			pct := c.policy.SizeAdjustment(c.snapshotStats())
			if pct == 0 {
				continue
			}
			cur := c.capacity.Load()
			next := int64(float64(cur) * (1 + float64(pct)/100.0))
			c.SetCapacity(next)
		}
	}
}

func (c *Cache) snapshotStats() PolicyStats {
	return PolicyStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.size.Load(),
		Capacity:    c.capacity.Load(),
	}
}

// Stats is a point-in-time snapshot of the cache's statistics, per
// spec.md §4.4's exposed statistics list.
type Stats struct {
	Size, Capacity              int64
	Hits, Misses                uint64
	HitRatio                    float64
	Evictions, Expirations      uint64
	EstimatedMemoryBytes        int64
	UptimeSeconds               float64
	PolicyName                  string
}

// Stats returns a snapshot of the cache's current statistics.
func (c *Cache) Stats() Stats {
	s := PolicyStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.size.Load(),
		Capacity:    c.capacity.Load(),
	}

	var mem int64
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k, e := range sh.items {
			item := e.Value.(*Item)
			mem += int64(len(k)) + int64(len(item.Value)) + fixedItemOverhead
		}
		sh.mu.RUnlock()
	}

	return Stats{
		Size:                 s.Size,
		Capacity:             s.Capacity,
		Hits:                 s.Hits,
		Misses:               s.Misses,
		HitRatio:             s.HitRatio(),
		Evictions:            s.Evictions,
		Expirations:          s.Expirations,
		EstimatedMemoryBytes: mem,
		UptimeSeconds:        time.Since(c.startedAt).Seconds(),
		PolicyName:           c.policy.Name(),
	}
}

// fixedItemOverhead approximates the per-item bookkeeping cost (metrics
// struct, map entry, list node) for the EstimatedMemoryBytes statistic.
const fixedItemOverhead = 64
