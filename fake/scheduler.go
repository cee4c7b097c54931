// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var _ api.Scheduler = (*Scheduler)(nil)

// Scheduler queues tasks until Drain runs them on the calling goroutine.
type Scheduler struct {
	mu       sync.Mutex
	tasks    []api.Task
	reject   bool
	accepted int
	rejected int
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Submit implements api.Scheduler.
func (s *Scheduler) Submit(t api.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		s.rejected++
		return false
	}
	s.accepted++
	s.tasks = append(s.tasks, t)
	return true
}

// Reject makes every submission fail while on is set.
func (s *Scheduler) Reject(on bool) {
	s.mu.Lock()
	s.reject = on
	s.mu.Unlock()
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tags returns the tags of queued tasks in submission order.
func (s *Scheduler) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		tags[i] = t.Tag
	}
	return tags
}

// Counts returns accepted and rejected submission totals.
func (s *Scheduler) Counts() (accepted, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted, s.rejected
}

// Step runs the oldest queued task. It reports false when none was queued.
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.mu.Unlock()

	func() {
		defer func() { _ = recover() }()
		if t.Pre != nil {
			t.Pre()
		}
	}()
	if t.Post != nil {
		t.Post()
	}
	return true
}

// Drain runs queued tasks, including ones submitted while draining, until
// the queue is empty. It returns the number of tasks run.
func (s *Scheduler) Drain() int {
	n := 0
	for s.Step() {
		n++
	}
	return n
}
