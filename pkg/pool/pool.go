// Package pool provides reusable byte buffers for file I/O. The diff walker's
// content comparison and the apply phase's copies both run a tight read loop
// per file; pooling the buffers keeps per-file allocations off the GC.
package pool

import "sync"

// FixedBufferPool hands out byte slices of a single fixed size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool of buffers of exactly 'size' bytes.
func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Get retrieves a pointer to a buffer. The slice length always equals the
// pool's configured size.
func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

// Put returns the buffer to the pool. Buffers whose capacity does not match
// the pool size (someone re-sliced or swapped the backing array) are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
