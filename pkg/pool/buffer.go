package pool

import "sync"

// DefaultBufferSizeKB is used when a caller asks for a non-positive size.
const DefaultBufferSizeKB = 256

// FixedBufferPool hands out byte slices of a single fixed size.
type FixedBufferPool struct {
	size int
	pool sync.Pool
}

// NewFixedBufferPool creates a pool of sizeKB kilobyte buffers.
func NewFixedBufferPool(sizeKB int) *FixedBufferPool {
	if sizeKB <= 0 {
		sizeKB = DefaultBufferSizeKB
	}
	size := sizeKB * 1024
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size returns the length of the buffers handed out by the pool.
func (fp *FixedBufferPool) Size() int {
	return fp.size
}

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	// Only put it back if it's the right size.
	if b == nil || cap(*b) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
