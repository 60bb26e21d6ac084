// Package connpool provides a sharded free list of per-connection
// contexts, so accepting and dropping connections under load doesn't
// churn the allocator.
//
// Shard selection is fd mod N, mirroring the mask-based shard indexing
// idiom used for the store and cache: spreading contexts across
// independent free lists keeps acquire/release contention low under many
// concurrent accepts/closes.
package connpool

import (
	"sync"

	"github.com/respkv/respkv-go/internal/bufpool"
	"github.com/respkv/respkv-go/internal/resp"
)

// InitialBufferSize is the size new read/write buffers start at.
const InitialBufferSize = 4 * 1024

// MaxBufferSize is the hard ceiling read/write buffers may grow to.
const MaxBufferSize = 4 * 1024 * 1024

// growthFactor is the minimum multiplier applied when a buffer must grow.
const growthFactor = 1.5

// upgradeThreshold: once a required capacity exceeds this multiple of the
// initial size, growth is satisfied via the Buffer Pool instead of a
// local append-driven grow, since the resulting buffer is large enough to
// be worth pooling across connections.
const upgradeThreshold = 4

// shrinkThreshold: a buffer whose capacity exceeds this multiple of the
// initial size is treated as oversize on reset/compaction.
const shrinkThreshold = 4

// oversizeReturnThreshold: on WriteBuffer reset, a buffer whose capacity
// is beyond this multiple of the initial size is dropped and replaced by
// a fresh InitialBufferSize buffer rather than kept, per the data model's
// buffer-reset invariant.
const oversizeReturnThreshold = 2

// defaultShardCount is the number of context-pool shards.
const defaultShardCount = 16

// Conn carries everything one connection needs across its lifetime:
// read/write buffers, incremental parser state, and bookkeeping.
type Conn struct {
	FD int

	Read  *ReadBuffer
	Write *WriteBuffer

	Parser *resp.Parser

	// WriterMu guards Write: the owning worker is the sole reader/writer,
	// but a command handler running synchronously inside that same worker
	// may still need to interleave appends with an in-progress flush from
	// a re-entrant call path, so the lock exists per spec.md's stated
	// invariant even though there is normally no cross-goroutine access.
	WriterMu sync.Mutex

	LastActive int64 // UnixNano, updated by the owning worker
}

func newConn(pool *bufpool.Pool) *Conn {
	return &Conn{
		Read:   newReadBuffer(pool),
		Write:  newWriteBuffer(pool),
		Parser: resp.NewParser(),
	}
}

func (c *Conn) reset(fd int) {
	c.FD = fd
	c.Read.reset()
	c.Write.reset()
	c.Parser.Reset()
	c.LastActive = 0
}

// Pool is a sharded free list of *Conn, backed by a shared bufpool.Pool
// for oversize buffer recycling.
type Pool struct {
	bufs   *bufpool.Pool
	shards []*poolShard
	mask   int
}

type poolShard struct {
	mu   sync.Mutex
	free []*Conn
	cap  int
}

// New creates a Pool with the default shard count and a fresh buffer pool.
func New(bufs *bufpool.Pool) *Pool {
	return NewWithShards(bufs, defaultShardCount, 64)
}

// NewWithShards creates a Pool with shardCount shards (rounded up to a
// power of two) each holding up to perShardCap contexts.
func NewWithShards(bufs *bufpool.Pool, shardCount, perShardCap int) *Pool {
	shardCount = nextPowerOfTwo(shardCount)
	p := &Pool{
		bufs:   bufs,
		shards: make([]*poolShard, shardCount),
		mask:   shardCount - 1,
	}
	for i := range p.shards {
		p.shards[i] = &poolShard{cap: perShardCap}
	}
	return p
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (p *Pool) shardFor(fd int) *poolShard {
	idx := fd
	if idx < 0 {
		idx = -idx
	}
	return p.shards[idx&p.mask]
}

// Acquire returns a *Conn reset to its initial state for fd.
func (p *Pool) Acquire(fd int) *Conn {
	shard := p.shardFor(fd)

	shard.mu.Lock()
	n := len(shard.free)
	if n > 0 {
		c := shard.free[n-1]
		shard.free = shard.free[:n-1]
		shard.mu.Unlock()
		c.reset(fd)
		return c
	}
	shard.mu.Unlock()

	c := newConn(p.bufs)
	c.reset(fd)
	return c
}

// Stats reports the pool's shard count and the total number of free
// contexts currently held across all shards, for internal/telemetry/metric
// to expose pool reuse alongside bufpool's per-class free lists.
func (p *Pool) Stats() (shardCount, totalFree int) {
	for _, sh := range p.shards {
		sh.mu.Lock()
		totalFree += len(sh.free)
		sh.mu.Unlock()
	}
	return len(p.shards), totalFree
}

// Release returns any oversize buffers to the Buffer Pool, then pushes ctx
// into the shard for fd. If that shard is already at capacity, ctx is
// dropped instead of retained.
func (p *Pool) Release(ctx *Conn, fd int) {
	ctx.Read.releaseOversize(p.bufs)
	ctx.Write.releaseOversize(p.bufs)

	shard := p.shardFor(fd)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if len(shard.free) >= shard.cap {
		return
	}
	shard.free = append(shard.free, ctx)
}
