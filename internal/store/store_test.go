package store

import (
	"testing"

	"github.com/respkv/respkv-go/internal/cache"
)

func newTestStore(t *testing.T, compress bool) *Store {
	t.Helper()
	c := cache.New(cache.Config{Policy: "lru", ShardCount: 4, Capacity: 1000, MinCapacity: 1, MaxCapacity: 10000})
	t.Cleanup(c.Close)
	return New(Config{ShardCount: 4, BucketsPerShard: 4, EnableCompression: compress, Cache: c})
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t, false)
	s.Set("foo", []byte("bar"))

	v, ok := s.Get("foo")
	if !ok || string(v) != "bar" {
		t.Fatalf("Get(foo) = (%q, %v), want (bar, true)", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t, false)
	if _, ok := s.Get("nope"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestGetServesFromSubMapAfterCacheEviction(t *testing.T) {
	s := newTestStore(t, false)
	s.Set("k", []byte("v"))
	s.cache.Remove("k") // simulate the cache evicting this entry

	v, ok := s.Get("k")
	if !ok || string(v) != "v" {
		t.Fatalf("Get(k) after cache eviction = (%q, %v), want (v, true)", v, ok)
	}
}

func TestDelReportsPriorExistence(t *testing.T) {
	s := newTestStore(t, false)
	if s.Del("absent") {
		t.Fatalf("Del(absent) = true, want false")
	}

	s.Set("present", []byte("v"))
	if !s.Del("present") {
		t.Fatalf("Del(present) = false, want true")
	}
	if _, ok := s.Get("present"); ok {
		t.Fatalf("expected key gone after Del")
	}
}

func TestMSetMGetRoundTrip(t *testing.T) {
	s := newTestStore(t, false)
	keys := []string{"a", "b", "c"}
	values := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	s.MSet(keys, values)

	got := s.MGet(keys)
	for i, v := range got {
		if string(v) != string(values[i]) {
			t.Fatalf("MGet[%d] = %q, want %q", i, v, values[i])
		}
	}
}

func TestMGetMixedHitsAndMisses(t *testing.T) {
	s := newTestStore(t, false)
	s.Set("present", []byte("v"))

	got := s.MGet([]string{"present", "absent"})
	if string(got[0]) != "v" {
		t.Fatalf("got[0] = %q, want v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("got[1] = %q, want nil", got[1])
	}
}

func TestMDelCountsExisting(t *testing.T) {
	s := newTestStore(t, false)
	s.MSet([]string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")})

	n := s.MDel([]string{"a", "b", "c"})
	if n != 2 {
		t.Fatalf("MDel count = %d, want 2", n)
	}
}

func TestPrefetchWarmsCacheWithoutReturning(t *testing.T) {
	s := newTestStore(t, false)
	s.Set("k", []byte("v"))
	s.cache.Remove("k")

	s.Prefetch([]string{"k"})
	if _, ok := s.cache.Get("k"); !ok {
		t.Fatalf("expected Prefetch to install k into the cache")
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	s := newTestStore(t, true)
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	s.Set("blob", payload)
	s.cache.Remove("blob") // force a sub-map read, exercising decode()

	v, ok := s.Get("blob")
	if !ok {
		t.Fatalf("expected hit")
	}
	if len(v) != len(payload) {
		t.Fatalf("len(v) = %d, want %d", len(v), len(payload))
	}
	for i := range v {
		if v[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, v[i], payload[i])
		}
	}
}

func TestShardRecordsAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, false)
	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))

	var all []RawRecord
	for i := 0; i < s.ShardCount(); i++ {
		all = append(all, s.ShardRecords(i)...)
	}
	if len(all) != 2 {
		t.Fatalf("collected %d records, want 2", len(all))
	}

	fresh := newTestStore(t, false)
	byShard := make(map[int][]RawRecord)
	for i := 0; i < fresh.ShardCount(); i++ {
		byShard[i] = nil
	}
	for _, r := range all {
		loc := fresh.locate(r.Key)
		byShard[loc.shardIdx] = append(byShard[loc.shardIdx], r)
	}
	for i, recs := range byShard {
		fresh.LoadShardRecords(i, recs)
	}

	v, ok := fresh.Get("a")
	if !ok || string(v) != "1" {
		t.Fatalf("Get(a) after load = (%q, %v), want (1, true)", v, ok)
	}
}
