// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out fixed-size receive buffers.
type BytePool struct {
	pool sync.Pool
	size int

	gets atomic.Int64
	puts atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = 2048
	}
	b := &BytePool{size: size}
	b.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the buffer size handed out by Get.
func (b *BytePool) Size() int { return b.size }

// Get returns a buffer of Size bytes.
func (b *BytePool) Get() []byte {
	b.gets.Add(1)
	return (*b.pool.Get().(*[]byte))[:b.size]
}

// Put returns a buffer to the pool. Foreign-sized buffers are dropped.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) < b.size {
		return
	}
	b.puts.Add(1)
	buf = buf[:b.size]
	b.pool.Put(&buf)
}

// InUse returns the number of buffers handed out and not yet returned.
func (b *BytePool) InUse() int64 {
	return b.gets.Load() - b.puts.Load()
}
