package connpool

import "github.com/respkv/respkv-go/internal/bufpool"

// ReadBuffer is a growable byte sequence holding unread bytes in
// [readPos, fillPos). It grows by at least 1.5x up to MaxBufferSize, and
// compacts or shrinks under the policy described in spec.md §4.2.
type ReadBuffer struct {
	buf      []byte
	fillPos  int
	readPos  int
	oversize bool // true once this buffer was upgraded via the Buffer Pool
}

func newReadBuffer(pool *bufpool.Pool) *ReadBuffer {
	return &ReadBuffer{buf: make([]byte, InitialBufferSize)}
}

func (b *ReadBuffer) reset() {
	if cap(b.buf) <= shrinkThreshold*InitialBufferSize {
		b.buf = b.buf[:cap(b.buf)]
		b.fillPos = 0
		b.readPos = 0
		return
	}
	// Oversize: free and reallocate at the initial size, per §4.2.
	b.buf = make([]byte, InitialBufferSize)
	b.fillPos = 0
	b.readPos = 0
	b.oversize = false
}

// Unread returns the currently unread bytes, [readPos, fillPos).
func (b *ReadBuffer) Unread() []byte {
	return b.buf[b.readPos:b.fillPos]
}

// Consume advances readPos by n, marking n bytes as read.
func (b *ReadBuffer) Consume(n int) {
	b.readPos += n
	if b.readPos > b.fillPos {
		b.readPos = b.fillPos
	}
}

// Reserve ensures at least n free bytes are available after fillPos,
// growing (and, past a threshold, upgrading via the Buffer Pool) as
// needed. It returns false if satisfying the request would exceed
// MaxBufferSize.
func (b *ReadBuffer) Reserve(n int, pool *bufpool.Pool) bool {
	if b.fillPos+n <= cap(b.buf) {
		return true
	}

	required := b.fillPos + n
	if required > MaxBufferSize {
		return false
	}

	if required > upgradeThreshold*InitialBufferSize {
		class := bufpool.ClassFor(required)
		fresh := pool.Acquire(class)
		fresh = fresh[:cap(fresh)]
		if len(fresh) < required {
			// Class ceiling is still short of what's needed; fall back to
			// a direct allocation sized exactly to the requirement,
			// clamped to MaxBufferSize.
			fresh = make([]byte, required)
		}
		copy(fresh, b.buf[:b.fillPos])
		if b.oversize {
			pool.Release(b.buf)
		}
		b.buf = fresh
		b.oversize = true
		return true
	}

	newCap := int(float64(cap(b.buf)) * growthFactor)
	if newCap < required {
		newCap = required
	}
	if newCap > MaxBufferSize {
		newCap = MaxBufferSize
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[:b.fillPos])
	b.buf = grown
	return true
}

// WriteSlice returns the writable tail of the buffer after fillPos, sized
// exactly n (caller must have Reserve'd n first).
func (b *ReadBuffer) WriteSlice(n int) []byte {
	return b.buf[b.fillPos : b.fillPos+n]
}

// Advance marks n freshly written bytes as filled.
func (b *ReadBuffer) Advance(n int) {
	b.fillPos += n
}

// Len returns the number of unread bytes.
func (b *ReadBuffer) Len() int {
	return b.fillPos - b.readPos
}

// Cap returns the buffer's current capacity.
func (b *ReadBuffer) Cap() int {
	return cap(b.buf)
}

// Compact applies the read-buffer compaction policy from spec.md §4.2:
// when there's a nonzero read position, capacity is more than 4x initial,
// and the fill ratio is under 25%, shrink to max(initial, 2*readPos);
// otherwise just move unread bytes to the front.
func (b *ReadBuffer) Compact() {
	if b.readPos == 0 {
		return
	}

	fillRatio := float64(b.Len()) / float64(cap(b.buf))
	if cap(b.buf) > shrinkThreshold*InitialBufferSize && fillRatio < 0.25 {
		newCap := 2 * b.readPos
		if newCap < InitialBufferSize {
			newCap = InitialBufferSize
		}
		shrunk := make([]byte, newCap)
		n := copy(shrunk, b.Unread())
		b.buf = shrunk
		b.fillPos = n
		b.readPos = 0
		b.oversize = false
		return
	}

	n := copy(b.buf, b.Unread())
	b.fillPos = n
	b.readPos = 0
}

func (b *ReadBuffer) releaseOversize(pool *bufpool.Pool) {
	if b.oversize {
		pool.Release(b.buf)
		b.buf = make([]byte, InitialBufferSize)
		b.oversize = false
	}
	b.fillPos = 0
	b.readPos = 0
}

// WriteBuffer is a growable outbound byte sequence. Replies are appended
// at pos; Drain removes bytes the socket has accepted from the front.
type WriteBuffer struct {
	buf      []byte
	pos      int
	oversize bool
}

func newWriteBuffer(pool *bufpool.Pool) *WriteBuffer {
	return &WriteBuffer{buf: make([]byte, 0, InitialBufferSize)}
}

func (w *WriteBuffer) reset() {
	if cap(w.buf) <= oversizeReturnThreshold*InitialBufferSize {
		w.buf = w.buf[:0]
		w.pos = 0
		return
	}
	w.buf = make([]byte, 0, InitialBufferSize)
	w.pos = 0
	w.oversize = false
}

// Append queues b for writing, growing the underlying buffer as needed.
func (w *WriteBuffer) Append(b []byte, pool *bufpool.Pool) {
	required := len(w.buf) + len(b)
	if required > cap(w.buf) && required > upgradeThreshold*InitialBufferSize {
		class := bufpool.ClassFor(required)
		fresh := pool.Acquire(class)
		if cap(fresh) < required {
			fresh = make([]byte, 0, required)
		}
		fresh = append(fresh[:0], w.buf...)
		if w.oversize {
			pool.Release(w.buf)
		}
		w.buf = fresh
		w.oversize = true
	}
	w.buf = append(w.buf, b...)
}

// Pending returns the unsent bytes, [pos, len(buf)).
func (w *WriteBuffer) Pending() []byte {
	return w.buf[w.pos:]
}

// Advance marks n bytes as sent. A fully drained buffer is emptied;
// otherwise the remaining unsent bytes are shifted to the front.
func (w *WriteBuffer) Advance(n int) {
	w.pos += n
	if w.pos >= len(w.buf) {
		w.buf = w.buf[:0]
		w.pos = 0
		return
	}
	if w.pos > 0 {
		remaining := copy(w.buf, w.buf[w.pos:])
		w.buf = w.buf[:remaining]
		w.pos = 0
	}
}

// Empty reports whether every queued byte has been sent.
func (w *WriteBuffer) Empty() bool {
	return w.pos >= len(w.buf)
}

func (w *WriteBuffer) releaseOversize(pool *bufpool.Pool) {
	if w.oversize {
		pool.Release(w.buf)
		w.buf = make([]byte, 0, InitialBufferSize)
		w.oversize = false
	}
	w.buf = w.buf[:0]
	w.pos = 0
}
