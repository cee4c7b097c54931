// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory and object reuse for hioload-tcp.
// FreeList is the lock-free stack behind the connection pool; BytePool recycles
// receive buffers between the transport reader and the event post-handlers.
package pool
