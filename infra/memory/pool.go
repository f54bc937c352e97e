package memory

import "sync"

// BufferPool hands out byte slices of a requested length. Buffers that
// grew past max are dropped on Put instead of pinning memory.
type BufferPool struct {
	p   sync.Pool
	max int
}

func NewBufferPool(size, max int) *BufferPool {
	bp := &BufferPool{max: max}
	bp.p.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return bp
}

// Get returns a buffer of length n. Its contents are undefined.
func (p *BufferPool) Get(n int) *[]byte {
	b := p.p.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// Put returns b to the pool. The caller must not touch it afterwards.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || (p.max > 0 && cap(*b) > p.max) {
		return
	}
	*b = (*b)[:0]
	p.p.Put(b)
}
