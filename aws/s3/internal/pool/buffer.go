// Package pool provides reusable part buffers for multipart uploads.
//
// A streamed upload holds at most threshold + concurrency × part size bytes
// at once. Reusing part buffers keeps that working set from turning into
// garbage on every part.
package pool

import (
	"sync"
)

// PartPool hands out fixed-size byte slices for upload parts.
type PartPool struct {
	size int
	pool sync.Pool
}

// NewPartPool creates a pool of buffers with the given capacity.
func NewPartPool(size int) *PartPool {
	p := &PartPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the capacity of the buffers in this pool.
func (p *PartPool) Size() int {
	return p.size
}

// Get returns a buffer of length Size. The contents are unspecified.
// The caller is responsible for calling Put to return the buffer to the pool.
func (p *PartPool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool. Buffers of a different capacity are
// dropped. The buffer must not be used after calling Put.
func (p *PartPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

var (
	poolsMu sync.Mutex
	pools   = map[int]*PartPool{}
)

// ForSize returns the shared pool for the given part size, creating it on
// first use.
func ForSize(size int) *PartPool {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	p, ok := pools[size]
	if !ok {
		p = NewPartPool(size)
		pools[size] = p
	}
	return p
}
