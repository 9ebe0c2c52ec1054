// Package bufpool provides a sync.Pool-backed buffer pool for response
// body reads. Probing fires thousands of requests per engagement, so the
// read path avoids a fresh allocation per body.
package bufpool

import (
	"bytes"
	"sync"
)

// maxPooledSize is the largest buffer returned to the pool. Block pages
// are small; a rare huge body should not pin memory for the whole run.
const maxPooledSize = 64 * 1024

var pool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Get returns an empty buffer from the pool.
func Get() *bytes.Buffer {
	buf := pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// GetSized returns an empty buffer with at least the given capacity.
func GetSized(size int) *bytes.Buffer {
	buf := Get()
	if buf.Cap() < size {
		buf.Grow(size)
	}
	return buf
}

// Put returns a buffer to the pool. Nil and oversized buffers are dropped.
func Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledSize {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
