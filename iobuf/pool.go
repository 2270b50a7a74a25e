// Package iobuf pools the byte buffers handed to iocb implementations
// for reads, wrapping valyala/bytebufferpool.
package iobuf

import "github.com/valyala/bytebufferpool"

var pool bytebufferpool.Pool

// Get returns a buffer from the pool, reset and ready to Write into.
func Get() *bytebufferpool.ByteBuffer {
	return pool.Get()
}

// Put returns buf to the pool for reuse. Callers must not touch buf
// again afterwards.
func Put(buf *bytebufferpool.ByteBuffer) {
	pool.Put(buf)
}
