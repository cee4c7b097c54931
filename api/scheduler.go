// Package api
// Author: momentics
//
// Scheduler contract for deferred, two-phase event dispatch.

package api

// Task is one deferred dispatch. Pre and Post both run exactly once, in that
// order, on a worker goroutine.
type Task struct {
	// Tag names the task for diagnostics.
	Tag string
	// Key selects the worker; tasks with equal non-zero keys run in
	// submission order.
	Key uint64
	// Pre runs the application-facing part. May be nil.
	Pre func()
	// Post runs bookkeeping. It runs even if Pre panicked.
	Post func()
}

// Scheduler runs tasks off the submitting goroutine.
type Scheduler interface {
	// Submit enqueues t without blocking. It returns false when the task was
	// rejected, in which case neither Pre nor Post will run.
	Submit(t Task) bool
}
