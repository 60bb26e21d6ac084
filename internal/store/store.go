// Package store implements the sharded, bucketed key/value store described
// in spec.md §4.5: shard → bucket → sub-map (fixed 8), independent H1/H2
// shard/bucket hashes, write-through/read-through the adaptive cache, and
// batch APIs that group keys by their (shard, bucket, sub-map) location so
// each lock is acquired exactly once per batch.
package store

import (
	"hash/fnv"
	"hash/maphash"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/respkv/respkv-go/internal/cache"
)

const subMapCount = 8

// h1Seed and h2Seed must differ so H1 (shard selection) and H2 (bucket
// selection) cannot be correlated by construction — the murmur3 seed for
// H1, and an independently generated maphash.Seed for H2.
const h1Seed uint32 = 0x1234abcd

// Config configures a new Store.
type Config struct {
	ShardCount      int
	BucketsPerShard int
	EnableCompression bool
	Cache           *cache.Cache
}

// Store is a sharded key/value map fronted by an adaptive cache.
type Store struct {
	shards   []*shard
	cache    *cache.Cache
	compress bool

	h2Seed maphash.Seed
	sf     singleflight.Group
}

type shard struct {
	buckets []*bucket
}

type bucket struct {
	submaps [subMapCount]*submap
}

type submap struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newSubmap() *submap {
	return &submap{data: make(map[string][]byte)}
}

// New builds a Store per cfg. cfg.Cache must be non-nil: the store never
// operates without a cache front-end, per spec.md §4.5's write/read-through
// contract.
func New(cfg Config) *Store {
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.BucketsPerShard < 1 {
		cfg.BucketsPerShard = 1
	}

	s := &Store{
		cache:    cfg.Cache,
		compress: cfg.EnableCompression,
		h2Seed:   maphash.MakeSeed(),
	}
	s.shards = make([]*shard, cfg.ShardCount)
	for i := range s.shards {
		sh := &shard{buckets: make([]*bucket, cfg.BucketsPerShard)}
		for j := range sh.buckets {
			b := &bucket{}
			for k := range b.submaps {
				b.submaps[k] = newSubmap()
			}
			sh.buckets[j] = b
		}
		s.shards[i] = sh
	}
	return s
}

type location struct {
	shardIdx, bucketIdx, submapIdx int
}

func (s *Store) locate(key string) location {
	h1 := murmur3.Sum32WithSeed([]byte(key), h1Seed)
	h2 := maphash.String(s.h2Seed, key)

	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	h3 := f.Sum32()

	return location{
		shardIdx:  int(h1) % len(s.shards),
		bucketIdx: int(h2 % uint64(len(s.shards[0].buckets))),
		submapIdx: int(h3) % subMapCount,
	}
}

func (s *Store) submapAt(loc location) *submap {
	return s.shards[loc.shardIdx].buckets[loc.bucketIdx].submaps[loc.submapIdx]
}

func (s *Store) encode(value []byte) []byte {
	if !s.compress {
		return value
	}
	return s2.Encode(nil, value)
}

func (s *Store) decode(stored []byte) ([]byte, error) {
	if !s.compress {
		return stored, nil
	}
	return s2.Decode(nil, stored)
}

// Set writes key/value write-through: the cache first (always uncompressed),
// then the sub-map (compressed if enabled).
func (s *Store) Set(key string, value []byte) {
	s.cache.Put(key, value)

	loc := s.locate(key)
	sm := s.submapAt(loc)
	encoded := s.encode(value)

	sm.mu.Lock()
	sm.data[key] = encoded
	sm.mu.Unlock()
}

// Get reads read-through: the cache first; on miss, the sub-map, with
// concurrent same-key misses collapsed onto a single sub-map read via
// singleflight.
func (s *Store) Get(key string) ([]byte, bool) {
	if v, ok := s.cache.Get(key); ok {
		return v, true
	}

	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		loc := s.locate(key)
		sm := s.submapAt(loc)

		sm.mu.RLock()
		stored, ok := sm.data[key]
		sm.mu.RUnlock()
		if !ok {
			return nil, errMiss
		}

		decoded, err := s.decode(stored)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, decoded)
		return decoded, nil
	})
	if err != nil {
		return nil, false
	}
	return v.([]byte), true
}

var errMiss = sentinelErr("store: key not found")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

// Del invalidates the cache entry and erases key from its sub-map,
// reporting whether the sub-map had it.
func (s *Store) Del(key string) bool {
	s.cache.Remove(key)

	loc := s.locate(key)
	sm := s.submapAt(loc)

	sm.mu.Lock()
	_, existed := sm.data[key]
	delete(sm.data, key)
	sm.mu.Unlock()

	return existed
}

// keyGroup accumulates every (key, value) pair that maps to one sub-map.
type keyGroup struct {
	sm     *submap
	keys   []string
	values [][]byte // nil for read-only groupings
}

func (s *Store) groupByLocation(keys []string, values [][]byte) map[location]*keyGroup {
	groups := make(map[location]*keyGroup)
	for i, k := range keys {
		loc := s.locate(k)
		g, ok := groups[loc]
		if !ok {
			g = &keyGroup{sm: s.submapAt(loc)}
			groups[loc] = g
		}
		g.keys = append(g.keys, k)
		if values != nil {
			g.values = append(g.values, values[i])
		}
	}
	return groups
}

// MSet writes every key/value pair write-through, acquiring each sub-map's
// lock exactly once regardless of how many of the batch's keys land there.
func (s *Store) MSet(keys []string, values [][]byte) {
	for i, k := range keys {
		s.cache.Put(k, values[i])
	}

	groups := s.groupByLocation(keys, values)
	for _, g := range groups {
		g.sm.mu.Lock()
		for i, k := range g.keys {
			g.sm.data[k] = s.encode(g.values[i])
		}
		g.sm.mu.Unlock()
	}
}

// MGet reads every key read-through, grouping sub-map-lock acquisitions by
// location for the keys that miss the cache.
func (s *Store) MGet(keys []string) [][]byte {
	results := make([][]byte, len(keys))
	missIdx := make([]int, 0, len(keys))
	missKeys := make([]string, 0, len(keys))

	for i, k := range keys {
		if v, ok := s.cache.Get(k); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, k)
	}
	if len(missKeys) == 0 {
		return results
	}

	groups := s.groupByLocation(missKeys, nil)
	fetched := make(map[string][]byte, len(missKeys))
	for _, g := range groups {
		g.sm.mu.RLock()
		for _, k := range g.keys {
			if stored, ok := g.sm.data[k]; ok {
				if decoded, err := s.decode(stored); err == nil {
					fetched[k] = decoded
				}
			}
		}
		g.sm.mu.RUnlock()
	}

	for n, idx := range missIdx {
		k := missKeys[n]
		if v, ok := fetched[k]; ok {
			results[idx] = v
			s.cache.Put(k, v)
		}
	}
	return results
}

// MDel invalidates and erases every key, returning how many existed in
// their sub-maps.
func (s *Store) MDel(keys []string) int {
	for _, k := range keys {
		s.cache.Remove(k)
	}

	groups := s.groupByLocation(keys, nil)
	var deleted int
	for _, g := range groups {
		g.sm.mu.Lock()
		for _, k := range g.keys {
			if _, ok := g.sm.data[k]; ok {
				delete(g.sm.data, k)
				deleted++
			}
		}
		g.sm.mu.Unlock()
	}
	return deleted
}

// Prefetch populates the cache for keys without returning values, grouping
// sub-map reads by location.
func (s *Store) Prefetch(keys []string) {
	var toFetch []string
	for _, k := range keys {
		if _, ok := s.cache.Get(k); !ok {
			toFetch = append(toFetch, k)
		}
	}
	if len(toFetch) == 0 {
		return
	}

	groups := s.groupByLocation(toFetch, nil)
	for _, g := range groups {
		g.sm.mu.RLock()
		for _, k := range g.keys {
			if stored, ok := g.sm.data[k]; ok {
				if decoded, err := s.decode(stored); err == nil {
					s.cache.Put(k, decoded)
				}
			}
		}
		g.sm.mu.RUnlock()
	}
}

// ShardCount reports the number of shards, for the persistence collaborator
// to iterate over.
func (s *Store) ShardCount() int {
	return len(s.shards)
}

// RawRecord is one (key, stored-value) pair as it sits in a sub-map,
// already compressed if the store has compression enabled — exactly the
// form the persistence collaborator writes to disk.
type RawRecord struct {
	Key   string
	Value []byte
}

// ShardRecords returns every record owned by shard i, across all of its
// buckets and sub-maps, for internal/persist's PersistShard.
func (s *Store) ShardRecords(i int) []RawRecord {
	sh := s.shards[i]
	var out []RawRecord
	for _, b := range sh.buckets {
		for _, sm := range b.submaps {
			sm.mu.RLock()
			for k, v := range sm.data {
				out = append(out, RawRecord{Key: k, Value: append([]byte(nil), v...)})
			}
			sm.mu.RUnlock()
		}
	}
	return out
}

// LoadShardRecords installs raw (already-encoded) records into shard i's
// sub-maps, for internal/persist's LoadShard. It does not populate the
// cache; callers that want warm keys should Prefetch afterward.
func (s *Store) LoadShardRecords(i int, records []RawRecord) {
	for _, r := range records {
		loc := s.locate(r.Key)
		loc.shardIdx = i // records belong to the shard being loaded by definition
		sm := s.submapAt(loc)
		sm.mu.Lock()
		sm.data[r.Key] = r.Value
		sm.mu.Unlock()
	}
}
