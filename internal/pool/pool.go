package pool

import (
	"bytes"
	"sync"
)

const (
	// DefaultBufSize is 64KB, matching the largest single read the event loop issues
	DefaultBufSize = 64 * 1024

	// maxRetainedSize keeps a buffer that grew for one huge response from
	// pinning that memory in the pool forever
	maxRetainedSize = 4 * DefaultBufSize
)

// BufferPool manages reusable byte buffers for connection I/O.
// Connections come and go far more often than their buffers need to be
// reallocated, so I recycle them through sync.Pool.
type BufferPool struct {
	buffers sync.Pool
}

// NewBufferPool creates a new buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		buffers: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, DefaultBufSize))
			},
		},
	}
}

// Get acquires an empty buffer from the pool
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool. Oversized buffers are dropped.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxRetainedSize {
		return
	}
	buf.Reset()
	p.buffers.Put(buf)
}
