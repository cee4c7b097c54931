package tcp

import (
	"sync/atomic"

	"github.com/momentics/hioload-tcp/pool"
)

// chain is a received buffer chain backed by pooled read buffers.
type chain struct {
	bufs     *pool.BytePool
	segs     [][]byte
	n        int
	released atomic.Bool
}

func newChain(bufs *pool.BytePool, seg []byte) *chain {
	return &chain{bufs: bufs, segs: [][]byte{seg}, n: len(seg)}
}

func (c *chain) Segments() [][]byte { return c.segs }

func (c *chain) Len() int { return c.n }

// Release hands the buffers back to the pool; later calls are no-ops.
func (c *chain) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	for _, s := range c.segs {
		c.bufs.Put(s)
	}
	c.segs = nil
}
