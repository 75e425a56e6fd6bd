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

// CompletionQueue holds the outstanding completions of a kernel. Lookups
// run newest first; a handle is normally pending at most once.
type CompletionQueue struct {
	// pending is ordered oldest first.
	pending []Completion

	// lastHandle is the last minted free-standing handle.
	lastHandle uint32
}

// Len returns the number of outstanding completions.
func (q *CompletionQueue) Len() int {
	return len(q.pending)
}

// Enqueue adds c at the head of the queue.
func (q *CompletionQueue) Enqueue(c Completion) {
	q.pending = append(q.pending, c)
}

// Take removes and returns the newest completion with the given handle, or
// nil.
func (q *CompletionQueue) Take(handle uint32) Completion {
	for i := len(q.pending) - 1; i >= 0; i-- {
		if c := q.pending[i]; c.Handle() == handle {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return c
		}
	}
	return nil
}

// Contains returns true if a completion with the given handle is pending.
func (q *CompletionQueue) Contains(handle uint32) bool {
	for _, c := range q.pending {
		if c.Handle() == handle {
			return true
		}
	}
	return false
}

// ClearAllPending removes every completion with the given handle and
// returns them newest first.
func (q *CompletionQueue) ClearAllPending(handle uint32) []Completion {
	var taken []Completion
	kept := q.pending[:0]
	for _, c := range q.pending {
		if c.Handle() == handle {
			taken = append([]Completion{c}, taken...)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
	return taken
}

// NextFreeHandle mints a handle for a completion that no thread waits on.
// Minted handles are even and never collide with a thread's odd handle or
// with another pending minted handle.
func (q *CompletionQueue) NextFreeHandle() uint32 {
	for {
		q.lastHandle += 2
		if q.lastHandle == 0 {
			q.lastHandle = 2
		}
		if !q.Contains(q.lastHandle) {
			return q.lastHandle
		}
	}
}
