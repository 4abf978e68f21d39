package pools

import (
	"sync"
	"sync/atomic"
)

// Buffer tiers for serialized responses.
const (
	SmallBufferSize  = 2 * 1024  // simple JSON bodies
	MediumBufferSize = 8 * 1024  // typical pages
	LargeBufferSize  = 32 * 1024 // listings, static files
)

// BufferPool hands out response serialization buffers in three size tiers
// so each connection performs a single write per response without
// reallocating.
type BufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool

	totalGets atomic.Uint64
}

// NewBufferPool creates a buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, SmallBufferSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, MediumBufferSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, LargeBufferSize)
				return &buf
			},
		},
	}
}

// Get acquires a buffer with at least estimatedSize capacity in mind.
func (bp *BufferPool) Get(estimatedSize int) *[]byte {
	bp.totalGets.Add(1)
	switch {
	case estimatedSize <= SmallBufferSize:
		return bp.small.Get().(*[]byte)
	case estimatedSize <= MediumBufferSize:
		return bp.medium.Get().(*[]byte)
	default:
		return bp.large.Get().(*[]byte)
	}
}

// Put returns a buffer to its tier. Oversized buffers are left to the GC.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:0]
	switch c := cap(*buf); {
	case c <= SmallBufferSize:
		bp.small.Put(buf)
	case c <= MediumBufferSize:
		bp.medium.Put(buf)
	case c <= LargeBufferSize:
		bp.large.Put(buf)
	}
}
