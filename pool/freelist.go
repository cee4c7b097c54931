// File: pool/freelist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free LIFO free-list (Treiber stack).
//
// Each Push links a freshly allocated node. A node is never relinked after it
// has been popped, and the garbage collector keeps it alive while any
// goroutine still holds its address for a CompareAndSwap, so a stale head can
// never compare equal to a live one. That removes the ABA window of an
// intrusive stack without tagged pointers.

package pool

import "sync/atomic"

type flNode[T any] struct {
	val  T
	next *flNode[T]
}

// FreeList is a concurrent stack safe for any number of pushers and poppers.
// The zero value is an empty list.
type FreeList[T any] struct {
	head atomic.Pointer[flNode[T]]
	size atomic.Int64
}

// Push links v at the head.
func (f *FreeList[T]) Push(v T) {
	n := &flNode[T]{val: v}
	for {
		old := f.head.Load()
		n.next = old
		if f.head.CompareAndSwap(old, n) {
			f.size.Add(1)
			return
		}
	}
}

// Pop unlinks the head. ok is false when the list is empty.
func (f *FreeList[T]) Pop() (v T, ok bool) {
	for {
		old := f.head.Load()
		if old == nil {
			return v, false
		}
		if f.head.CompareAndSwap(old, old.next) {
			f.size.Add(-1)
			return old.val, true
		}
	}
}

// PopAll atomically detaches the whole list and returns its values, head first.
func (f *FreeList[T]) PopAll() []T {
	n := f.head.Swap(nil)
	var out []T
	for ; n != nil; n = n.next {
		out = append(out, n.val)
	}
	f.size.Add(-int64(len(out)))
	return out
}

// Len returns the approximate number of linked values.
func (f *FreeList[T]) Len() int {
	if n := f.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}
