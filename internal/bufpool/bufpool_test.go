package bufpool

import "testing"

func TestClassFor(t *testing.T) {
	tests := []struct {
		n    int
		want Class
	}{
		{0, Class4K},
		{4096, Class4K},
		{4097, Class16K},
		{16 * 1024, Class16K},
		{64*1024 - 1, Class64K},
		{256 * 1024, Class256K},
		{1024 * 1024, Class256K}, // beyond largest class still returns largest
	}

	for _, tt := range tests {
		if got := ClassFor(tt.n); got != tt.want {
			t.Errorf("ClassFor(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestAcquireReturnsZeroLength(t *testing.T) {
	p := New()
	buf := p.Acquire(Class4K)
	if len(buf) != 0 {
		t.Fatalf("len(buf) = %d, want 0", len(buf))
	}
	if cap(buf) < Size(Class4K) {
		t.Fatalf("cap(buf) = %d, want >= %d", cap(buf), Size(Class4K))
	}
}

func TestReleaseThenAcquireReuses(t *testing.T) {
	p := New()
	buf := p.Acquire(Class16K)
	buf = append(buf, []byte("hello")...)
	p.Release(buf)

	if got := p.Stats(Class16K); got != 1 {
		t.Fatalf("free list len = %d, want 1", got)
	}

	buf2 := p.Acquire(Class16K)
	if len(buf2) != 0 {
		t.Fatalf("reused buffer len = %d, want 0", len(buf2))
	}
	if got := p.Stats(Class16K); got != 0 {
		t.Fatalf("free list len after acquire = %d, want 0", got)
	}
}

func TestReleaseInfersClassFromCapacity(t *testing.T) {
	p := New()
	// A buffer not sourced from the pool at all, sized like a 64K class.
	buf := make([]byte, 0, Size(Class64K))
	p.Release(buf)

	if got := p.Stats(Class64K); got != 1 {
		t.Fatalf("free list len = %d, want 1 (class64K)", got)
	}
	if got := p.Stats(Class16K); got != 0 {
		t.Fatalf("free list len for class16K = %d, want 0", got)
	}
}

func TestReleaseBoundedFreeList(t *testing.T) {
	p := New()
	for i := 0; i < maxFreeListLen+10; i++ {
		p.Release(make([]byte, 0, Size(Class4K)))
	}
	if got := p.Stats(Class4K); got != maxFreeListLen {
		t.Fatalf("free list len = %d, want %d", got, maxFreeListLen)
	}
}

func TestReleaseNilIsNoop(t *testing.T) {
	p := New()
	p.Release(nil)
	if got := p.Stats(Class4K); got != 0 {
		t.Fatalf("free list len = %d, want 0", got)
	}
}
