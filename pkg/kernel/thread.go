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
	"context"
	"fmt"
	"time"

	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/mm"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// Thread is a user thread. A thread is either running in the microkernel,
// trapped in the kernel loop, or suspended on exactly one completion.
//
// Thread implements context.Context for the duration of a loop iteration so
// that it can be passed to anything that takes a context.
type Thread struct {
	k      *Kernel
	p      *Process
	handle platform.ThreadHandle

	// regs are the registers saved at the last trap.
	regs arch.Registers

	// timer is the armed timer, if any.
	timer *TimerNode

	// vbinder is the thread's vbinder endpoint.
	vbinder vbinderState

	exited bool
}

var _ context.Context = (*Thread)(nil)

// Deadline implements context.Context.Deadline.
func (t *Thread) Deadline() (time.Time, bool) {
	return t.k.context().Deadline()
}

// Done implements context.Context.Done.
func (t *Thread) Done() <-chan struct{} {
	return t.k.context().Done()
}

// Err implements context.Context.Err.
func (t *Thread) Err() error {
	return t.k.context().Err()
}

// Value implements context.Context.Value.
func (t *Thread) Value(key any) any {
	return t.k.context().Value(key)
}

// Kernel returns the kernel.
func (t *Thread) Kernel() *Kernel {
	return t.k
}

// Process returns the owning process.
func (t *Thread) Process() *Process {
	return t.p
}

// Handle returns the microkernel handle of t.
func (t *Thread) Handle() platform.ThreadHandle {
	return t.handle
}

// Tid returns the thread id seen by the application.
func (t *Thread) Tid() int32 {
	return int32(t.handle >> 1)
}

// Regs returns the registers saved at the last trap.
func (t *Thread) Regs() *arch.Registers {
	return &t.regs
}

// Exited returns true once the thread has exited.
func (t *Thread) Exited() bool {
	return t.exited
}

// String implements fmt.Stringer.String.
func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (%#x) of %s", t.Tid(), t.handle, t.p.Name)
}

// MemoryManager returns the memory of the owning process.
func (t *Thread) MemoryManager() *mm.MemoryManager {
	return t.p.mm
}

// FDTable returns the descriptor table of the owning process.
func (t *Thread) FDTable() *fs.FDTable {
	return t.p.fds
}

// GetFile returns the file at fd, or nil.
func (t *Thread) GetFile(fd int32) *fs.File {
	return t.p.fds.Get(fd)
}

// CopyInBytes copies len(dst) bytes from addr. A short copy is EFAULT.
func (t *Thread) CopyInBytes(addr hostarch.Addr, dst []byte) error {
	if n, err := t.p.mm.CopyIn(t, addr, dst); err != nil || n != len(dst) {
		return linuxerr.EFAULT
	}
	return nil
}

// CopyOutBytes copies src to addr. A short copy is EFAULT.
func (t *Thread) CopyOutBytes(addr hostarch.Addr, src []byte) error {
	if n, err := t.p.mm.CopyOut(t, addr, src); err != nil || n != len(src) {
		return linuxerr.EFAULT
	}
	return nil
}

// CopyInString copies a NUL-terminated string of at most maxLen bytes.
func (t *Thread) CopyInString(addr hostarch.Addr, maxLen int) (string, error) {
	return t.p.mm.CopyInString(t, addr, maxLen)
}

// CopyInUint32 reads a word at addr.
func (t *Thread) CopyInUint32(addr hostarch.Addr) (uint32, error) {
	v, err := t.p.mm.CopyInUint32(t, addr)
	if err != nil {
		return 0, linuxerr.EFAULT
	}
	return v, nil
}

// CopyOutUint32 writes a word at addr.
func (t *Thread) CopyOutUint32(addr hostarch.Addr, v uint32) error {
	if err := t.p.mm.CopyOutUint32(t, addr, v); err != nil {
		return linuxerr.EFAULT
	}
	return nil
}

// Start starts t at ip with stack pointer sp.
func (t *Thread) Start(ctx context.Context, ip, sp hostarch.Addr) error {
	return t.k.platform.StartThread(ctx, t.handle, ip, sp)
}

// Suspend parks t on c. The caller returns the result, linuxerr.ErrPending,
// from the syscall.
func (t *Thread) Suspend(c Completion) error {
	if c.Thread() != t {
		panic(fmt.Sprintf("%v suspending on a completion of %v", t, c.Thread()))
	}
	t.k.completions.Enqueue(c)
	return linuxerr.ErrPending
}

// SuspendWithTimeout parks t on c and arms a timer expiring in timeoutMs
// milliseconds.
func (t *Thread) SuspendWithTimeout(c Completion, timeoutMs int64) error {
	t.k.timers.Enqueue(timeoutMs, t)
	return t.Suspend(c)
}

// ReturnFromCompletion resumes a suspended thread with ret in eax.
func (t *Thread) ReturnFromCompletion(ret int32) {
	t.timer.Cancel()
	t.returnFromSyscall(ret)
}

// returnFromSyscall sets the syscall result and queues the reply that
// resumes t.
func (t *Thread) returnFromSyscall(ret int32) {
	t.regs.SetReturn(ret)
	regs := t.regs
	t.k.queueReply(platform.Reply{To: t.handle, Regs: &regs})
}

// ResumeFromTimeout handles the expiry of t's timer.
func (t *Thread) ResumeFromTimeout() {
	c := t.k.completions.Take(uint32(t.handle))
	if c == nil {
		log.Warningf("Timer expired for %v with no pending completion", t)
		return
	}
	switch c := c.(type) {
	case *SleepCompletion:
		t.returnFromSyscall(0)
	case *FutexCompletion:
		t.k.futexes.unlink(c.waiter)
		t.returnFromSyscall(linuxerr.ToReturn(linuxerr.ETIMEDOUT))
	default:
		log.Warningf("Timer expired for %v waiting on %v", t, c.Kind())
		t.k.completions.Enqueue(c)
	}
}

// resumeFromCompletion delivers the helper's results r to the completion c.
func (t *Thread) resumeFromCompletion(c Completion, r [5]int32) {
	switch c := c.(type) {
	case *BinderCompletion:
		t.ReturnFromCompletion(t.resumeBinder(c, r))
	case *PollCompletion:
		t.ReturnFromCompletion(t.resumePoll(c, r[0]))
	case *SelectCompletion:
		t.ReturnFromCompletion(t.resumeSelect(c, r[0]))
	case *FutexCompletion:
		t.k.futexes.unlink(c.waiter)
		t.ReturnFromCompletion(r[0])
	case *IOCompletion:
		t.ReturnFromCompletion(t.resumeIO(c, r[0], r[1]))
	case *BridgeCompletion:
		c.Dispose()
		t.ReturnFromCompletion(r[0])
	case *SocketCompletion:
		t.ReturnFromCompletion(t.resumeSocket(c, r[0]))
	case *GetSocketParamCompletion:
		t.ReturnFromCompletion(t.resumeGetSocketParam(c, r[0], r[1]))
	case *OpenFileCompletion:
		t.ReturnFromCompletion(t.resumeOpenFile(c, r[0], r[1]))
	case *SleepCompletion, *VBinderCompletion, *SFSFlushCompletion:
		// Not resolved by the helper.
		t.k.drops.Warningf("Dropping helper reply for %v waiting on %v", t, c.Kind())
		t.k.completions.Enqueue(c)
	default:
		panic(fmt.Sprintf("unknown completion kind %v for %v", c.Kind(), t))
	}
}

// Exit tears t down. The last thread of a process releases the process.
func (t *Thread) Exit(ctx context.Context) {
	if t.exited {
		return
	}
	t.exited = true
	for _, c := range t.k.completions.ClearAllPending(uint32(t.handle)) {
		if fc, ok := c.(*FutexCompletion); ok {
			t.k.futexes.unlink(fc.waiter)
		}
		c.Dispose()
	}
	t.timer.Cancel()
	t.vbinder.release()
	if err := t.k.platform.DestroyThread(ctx, t.handle); err != nil {
		log.Warningf("Destroying %v: %v", t, err)
	}
	delete(t.k.threads, t.handle)
	t.p.removeThread(t)
	if len(t.p.threads) == 0 {
		t.p.release(ctx)
	}
}
