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
	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/ilist"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/mm"
)

// futexWaiter is a thread blocked on a private futex word.
type futexWaiter struct {
	ilist.Entry[*futexWaiter]

	t      *Thread
	as     *mm.AddressSpace
	addr   hostarch.Addr
	bitset uint32
	queued bool
}

// futexQueue holds the private futex waiters of all processes in wait
// order.
type futexQueue struct {
	list ilist.List[*futexWaiter]
}

func (q *futexQueue) enqueue(w *futexWaiter) {
	q.list.PushBack(w)
	w.queued = true
}

// unlink removes w. It is a no-op for nil or already removed waiters.
func (q *futexQueue) unlink(w *futexWaiter) {
	if w == nil || !w.queued {
		return
	}
	q.list.Remove(w)
	w.queued = false
}

// Len returns the number of queued waiters.
func (q *futexQueue) Len() int {
	return q.list.Len()
}

// FutexWaiters returns the number of threads blocked on private futexes.
func (k *Kernel) FutexWaiters() int {
	return k.futexes.Len()
}

// FutexWait blocks t on the private futex word at addr while it holds val.
// A timeout below zero waits forever.
func (t *Thread) FutexWait(addr hostarch.Addr, val, bitset uint32, timeoutMs int64) error {
	if bitset == 0 {
		return linuxerr.EINVAL
	}
	cur, err := t.CopyInUint32(addr)
	if err != nil {
		return err
	}
	if cur != val {
		return linuxerr.EWOULDBLOCK
	}
	w := &futexWaiter{t: t, as: t.p.as, addr: addr, bitset: bitset}
	t.k.futexes.enqueue(w)
	c := &FutexCompletion{completionBase: newThreadCompletion(t, nil), waiter: w}
	if timeoutMs >= 0 {
		return t.SuspendWithTimeout(c, timeoutMs)
	}
	return t.Suspend(c)
}

// FutexWake wakes up to n threads of t's process waiting on the private
// futex word at addr with a bitset intersecting bitset. It returns the
// number woken.
func (t *Thread) FutexWake(addr hostarch.Addr, n int32, bitset uint32) (int32, error) {
	if bitset == 0 {
		return 0, linuxerr.EINVAL
	}
	q := &t.k.futexes
	var woken int32
	for w := q.list.Front(); w != nil && woken < n; {
		next := w.Next()
		if w.as == t.p.as && w.addr == addr && w.bitset&bitset != 0 {
			q.unlink(w)
			t.k.completions.Take(uint32(w.t.handle))
			w.t.ReturnFromCompletion(0)
			woken++
		}
		w = next
	}
	return woken, nil
}

// futexShadow returns where the helper maps the futex word at addr, if it
// lies in memory shared with the helper.
func (t *Thread) futexShadow(addr hostarch.Addr) (hostarch.Addr, bool) {
	r := t.p.as.Find(addr)
	if r == nil {
		return 0, false
	}
	return r.AlienShadow(addr)
}

// FutexWaitShared forwards a wait on a shared futex word to the helper. It
// returns 0 without blocking if the word is not in shared memory.
func (t *Thread) FutexWaitShared(op int32, addr hostarch.Addr, val, bitset uint32, ts linux.Timespec) (int32, error) {
	cur, err := t.CopyInUint32(addr)
	if err != nil {
		return 0, err
	}
	if cur != val {
		return 0, linuxerr.EWOULDBLOCK
	}
	shadow, ok := t.futexShadow(addr)
	if !ok {
		log.Warningf("%v: shared futex wait at %v outside shared memory", t, addr)
		return 0, nil
	}
	c := &FutexCompletion{completionBase: newThreadCompletion(t, nil)}
	if err := t.k.helper.FutexWait(t, t.p.HelperPID, c.handle, op, shadow, val, ts, bitset); err != nil {
		return 0, linuxerr.EIO
	}
	return 0, t.Suspend(c)
}

// FutexWakeShared forwards a wake of a shared futex word to the helper. It
// returns 0 if the word is not in shared memory.
func (t *Thread) FutexWakeShared(op int32, addr hostarch.Addr, bitset uint32) (int32, error) {
	if bitset == 0 {
		return 0, linuxerr.EINVAL
	}
	shadow, ok := t.futexShadow(addr)
	if !ok {
		log.Warningf("%v: shared futex wake at %v outside shared memory", t, addr)
		return 0, nil
	}
	c := NewBridgeCompletion(t, nil)
	if err := t.k.helper.FutexWake(t, t.p.HelperPID, c.handle, op, shadow, bitset); err != nil {
		return 0, linuxerr.EIO
	}
	return 0, t.Suspend(c)
}
