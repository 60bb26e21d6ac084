package connpool

import (
	"testing"

	"github.com/respkv/respkv-go/internal/bufpool"
)

func TestAcquireResetsState(t *testing.T) {
	p := New(bufpool.New())
	c := p.Acquire(5)
	if c.FD != 5 {
		t.Fatalf("FD = %d, want 5", c.FD)
	}
	if c.Read.Len() != 0 || len(c.Write.Pending()) != 0 {
		t.Fatalf("expected fresh buffers")
	}
	if c.Parser.Pending() != 0 {
		t.Fatalf("expected fresh parser")
	}
}

func TestReleaseThenAcquireReuses(t *testing.T) {
	p := NewWithShards(bufpool.New(), 4, 8)
	c := p.Acquire(1)
	p.Release(c, 1)

	c2 := p.Acquire(1)
	if c2 != c {
		t.Fatalf("expected the same context to be reused")
	}
}

func TestReleaseBoundedPerShard(t *testing.T) {
	p := NewWithShards(bufpool.New(), 1, 2)
	var conns []*Conn
	for i := 0; i < 5; i++ {
		conns = append(conns, p.Acquire(0))
	}
	for _, c := range conns {
		p.Release(c, 0)
	}
	if got := len(p.shards[0].free); got != 2 {
		t.Fatalf("free list len = %d, want 2 (bounded)", got)
	}
}

func TestShardSelectionStableAndHandlesNegativeFD(t *testing.T) {
	p := NewWithShards(bufpool.New(), 8, 8)
	if p.shardFor(3) != p.shardFor(3) {
		t.Fatalf("shard selection must be stable for the same fd")
	}
	// Negative fds must not panic or index out of range.
	_ = p.shardFor(-7)
}

func TestReadBufferReserveAndCompact(t *testing.T) {
	pool := bufpool.New()
	rb := newReadBuffer(pool)

	if !rb.Reserve(100, pool) {
		t.Fatalf("Reserve(100) failed")
	}
	copy(rb.WriteSlice(100), make([]byte, 100))
	rb.Advance(100)

	rb.Consume(90)
	if rb.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", rb.Len())
	}

	rb.Compact()
	if rb.readPos != 0 {
		t.Fatalf("readPos after compact = %d, want 0", rb.readPos)
	}
	if rb.Len() != 10 {
		t.Fatalf("Len() after compact = %d, want 10", rb.Len())
	}
}

func TestReadBufferUpgradeViaPool(t *testing.T) {
	pool := bufpool.New()
	rb := newReadBuffer(pool)

	required := upgradeThreshold*InitialBufferSize + 1
	if !rb.Reserve(required, pool) {
		t.Fatalf("Reserve(%d) failed", required)
	}
	if !rb.oversize {
		t.Fatalf("expected buffer to be marked oversize")
	}
	if rb.Cap() < required {
		t.Fatalf("Cap() = %d, want >= %d", rb.Cap(), required)
	}
}

func TestReadBufferReserveRejectsPastMax(t *testing.T) {
	pool := bufpool.New()
	rb := newReadBuffer(pool)
	if rb.Reserve(MaxBufferSize+1, pool) {
		t.Fatalf("Reserve past MaxBufferSize should fail")
	}
}

func TestWriteBufferAdvanceDrainsAndShifts(t *testing.T) {
	pool := bufpool.New()
	wb := newWriteBuffer(pool)
	wb.Append([]byte("hello world"), pool)

	wb.Advance(6)
	if string(wb.Pending()) != "world" {
		t.Fatalf("Pending() = %q, want %q", wb.Pending(), "world")
	}

	wb.Advance(5)
	if !wb.Empty() {
		t.Fatalf("expected buffer to be empty after full drain")
	}
}
