// Copyright 2026 The ExpressOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package kernel

import (
	"time"

	"github.com/ExpressOS/expressos/pkg/ilist"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// TimerNode is a thread waiting for a deadline.
type TimerNode struct {
	ilist.Entry[*TimerNode]

	// Deadline is the absolute expiry in kernel milliseconds.
	Deadline int64
	Thread   *Thread

	q *TimerQueue
}

// Cancel removes n from its queue. It is a no-op if n has expired or was
// already cancelled.
func (n *TimerNode) Cancel() {
	if n == nil || n.q == nil {
		return
	}
	n.q.list.Remove(n)
	if n.Thread != nil && n.Thread.timer == n {
		n.Thread.timer = nil
	}
	n.q = nil
}

// Queued returns true if n is still waiting.
func (n *TimerNode) Queued() bool {
	return n != nil && n.q != nil
}

// TimerQueue orders timer nodes by deadline. Nodes with equal deadlines
// expire in the order they were enqueued.
type TimerQueue struct {
	list ilist.List[*TimerNode]

	// now returns the current time in milliseconds.
	now func() int64
}

// NewTimerQueue returns an empty queue reading the time from now.
func NewTimerQueue(now func() int64) *TimerQueue {
	return &TimerQueue{now: now}
}

// Enqueue arms a timer for t expiring timeoutMs milliseconds from now. It
// replaces any timer t already has.
func (q *TimerQueue) Enqueue(timeoutMs int64, t *Thread) *TimerNode {
	deadline := q.now() + timeoutMs
	if t != nil {
		t.timer.Cancel()
	}
	n := &TimerNode{Deadline: deadline, Thread: t, q: q}
	// Scan from the back: new deadlines are usually the latest.
	e := q.list.Back()
	for e != nil && e.Deadline > deadline {
		e = e.Prev()
	}
	if e == nil {
		q.list.PushFront(n)
	} else {
		q.list.InsertAfter(e, n)
	}
	if t != nil {
		t.timer = n
	}
	return n
}

// Empty returns true if no timer is armed.
func (q *TimerQueue) Empty() bool {
	return q.list.Empty()
}

// Len returns the number of armed timers.
func (q *TimerQueue) Len() int {
	return q.list.Len()
}

// NextTimeout returns how long the loop may wait at time now before the
// earliest timer expires: platform.Never with no timers, zero once the head
// has expired.
func (q *TimerQueue) NextTimeout(now int64) time.Duration {
	head := q.list.Front()
	if head == nil {
		return platform.Never
	}
	if head.Deadline <= now {
		return 0
	}
	return time.Duration(head.Deadline-now) * time.Millisecond
}

// Take pops the earliest timer and returns its thread.
func (q *TimerQueue) Take() *Thread {
	head := q.list.Front()
	if head == nil {
		return nil
	}
	head.Cancel()
	return head.Thread
}
