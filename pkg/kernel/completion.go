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
	"fmt"

	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// CompletionKind identifies the variant of a Completion.
type CompletionKind int

// Completion kinds.
const (
	CompletionBinder CompletionKind = iota
	CompletionPoll
	CompletionIO
	CompletionSelect
	CompletionSleep
	CompletionFutex
	CompletionVBinder
	CompletionBridge
	CompletionSocket
	CompletionGetSocketParam
	CompletionOpenFile
	CompletionSFSFlush
)

var completionKindNames = [...]string{
	CompletionBinder:         "Binder",
	CompletionPoll:           "Poll",
	CompletionIO:             "IO",
	CompletionSelect:         "Select",
	CompletionSleep:          "Sleep",
	CompletionFutex:          "Futex",
	CompletionVBinder:        "VBinder",
	CompletionBridge:         "Bridge",
	CompletionSocket:         "Socket",
	CompletionGetSocketParam: "GetSocketParam",
	CompletionOpenFile:       "OpenFile",
	CompletionSFSFlush:       "SFSFlush",
}

// String implements fmt.Stringer.String.
func (k CompletionKind) String() string {
	if k >= 0 && int(k) < len(completionKindNames) {
		return completionKindNames[k]
	}
	return fmt.Sprintf("CompletionKind(%d)", int(k))
}

// Completion is an outstanding asynchronous request. The set of
// implementations is closed; they are the *XxxCompletion types of this
// package.
//
// Completions owned by a thread carry the thread's handle, so a thread has
// at most one outstanding completion. Free-standing completions carry a
// handle from CompletionQueue.NextFreeHandle.
type Completion interface {
	// Kind returns the variant.
	Kind() CompletionKind

	// Handle returns the handle the helper names in its reply.
	Handle() uint32

	// Thread returns the suspended thread, or nil for free-standing
	// completions.
	Thread() *Thread

	// Dispose returns the scratch buffer, if any. It may be called more
	// than once.
	Dispose()

	completion() *completionBase
}

type completionBase struct {
	handle uint32
	thread *Thread
	buf    *pgalloc.Buffer
}

func newThreadCompletion(t *Thread, buf *pgalloc.Buffer) completionBase {
	return completionBase{handle: uint32(t.handle), thread: t, buf: buf}
}

// Handle implements Completion.Handle.
func (c *completionBase) Handle() uint32 { return c.handle }

// Thread implements Completion.Thread.
func (c *completionBase) Thread() *Thread { return c.thread }

// Buffer returns the scratch buffer, or nil.
func (c *completionBase) Buffer() *pgalloc.Buffer { return c.buf }

// Dispose implements Completion.Dispose.
func (c *completionBase) Dispose() {
	if c.buf != nil {
		c.buf.Dispose()
		c.buf = nil
	}
}

func (c *completionBase) completion() *completionBase { return c }

// IOCompletion is a read or write of an Arch or Socket file through the
// helper. The data travels in the scratch buffer.
type IOCompletion struct {
	completionBase

	// Write is true for writes.
	Write bool
	File  *fs.File

	// Addr is the user buffer of a read.
	Addr hostarch.Addr
}

// NewIOCompletion returns an IO completion for t.
func NewIOCompletion(t *Thread, buf *pgalloc.Buffer, write bool, f *fs.File, addr hostarch.Addr) *IOCompletion {
	return &IOCompletion{completionBase: newThreadCompletion(t, buf), Write: write, File: f, Addr: addr}
}

// Kind implements Completion.Kind.
func (*IOCompletion) Kind() CompletionKind { return CompletionIO }

// OpenFileCompletion is an open(2) of a regular or secure file.
type OpenFileCompletion struct {
	completionBase

	// Kind of inode to build: fs.KindArch or fs.KindSecureFS.
	InodeKind fs.Kind
	Flags     uint32
	Mode      uint32

	// Start is when the open was issued, in kernel milliseconds.
	Start int64
}

// NewOpenFileCompletion returns an open completion for t.
func NewOpenFileCompletion(t *Thread, buf *pgalloc.Buffer, kind fs.Kind, flags, mode uint32) *OpenFileCompletion {
	return &OpenFileCompletion{
		completionBase: newThreadCompletion(t, buf),
		InodeKind:      kind,
		Flags:          flags,
		Mode:           mode,
		Start:          t.k.nowMillis(),
	}
}

// Kind implements Completion.Kind.
func (*OpenFileCompletion) Kind() CompletionKind { return CompletionOpenFile }

// PollCompletion is a poll(2) forwarded to the helper.
type PollCompletion struct {
	completionBase

	// Fds is the caller's pollfd array.
	Fds hostarch.Addr

	// FdMaps maps helper descriptors back to the caller's.
	FdMaps map[int32]int32
}

// NewPollCompletion returns a poll completion for t.
func NewPollCompletion(t *Thread, buf *pgalloc.Buffer, fds hostarch.Addr, fdMaps map[int32]int32) *PollCompletion {
	return &PollCompletion{completionBase: newThreadCompletion(t, buf), Fds: fds, FdMaps: fdMaps}
}

// Kind implements Completion.Kind.
func (*PollCompletion) Kind() CompletionKind { return CompletionPoll }

// SelectCompletion is a select(2) forwarded to the helper as a poll.
type SelectCompletion struct {
	completionBase

	Set          *SelectSet
	NFds         int32
	In, Out, Exc hostarch.Addr
}

// NewSelectCompletion returns a select completion for t.
func NewSelectCompletion(t *Thread, buf *pgalloc.Buffer, set *SelectSet, nfds int32, in, out, exc hostarch.Addr) *SelectCompletion {
	return &SelectCompletion{completionBase: newThreadCompletion(t, buf), Set: set, NFds: nfds, In: in, Out: out, Exc: exc}
}

// Kind implements Completion.Kind.
func (*SelectCompletion) Kind() CompletionKind { return CompletionSelect }

// SleepCompletion is a nanosleep(2). It is resolved by its timer.
type SleepCompletion struct {
	completionBase
}

// NewSleepCompletion returns a sleep completion for t.
func NewSleepCompletion(t *Thread) *SleepCompletion {
	return &SleepCompletion{completionBase: newThreadCompletion(t, nil)}
}

// Kind implements Completion.Kind.
func (*SleepCompletion) Kind() CompletionKind { return CompletionSleep }

// FutexCompletion is a futex wait. Private waits are resolved by a wake or
// their timer; shared waits are forwarded to the helper.
type FutexCompletion struct {
	completionBase

	// waiter is the queued waiter of a private wait.
	waiter *futexWaiter
}

// Kind implements Completion.Kind.
func (*FutexCompletion) Kind() CompletionKind { return CompletionFutex }

// VBinderCompletion is a vbinder receive waiting for a message.
type VBinderCompletion struct {
	completionBase

	LabelAddr hostarch.Addr
	Addr      hostarch.Addr
	Size      uint32
}

// Kind implements Completion.Kind.
func (*VBinderCompletion) Kind() CompletionKind { return CompletionVBinder }

// BridgeCompletion is a helper request whose first result is the return
// value.
type BridgeCompletion struct {
	completionBase
}

// NewBridgeCompletion returns a bridge completion for t. buf may be nil.
func NewBridgeCompletion(t *Thread, buf *pgalloc.Buffer) *BridgeCompletion {
	return &BridgeCompletion{completionBase: newThreadCompletion(t, buf)}
}

// Kind implements Completion.Kind.
func (*BridgeCompletion) Kind() CompletionKind { return CompletionBridge }

// SocketCompletion is a socket(2). The result is the helper's descriptor.
type SocketCompletion struct {
	completionBase
}

// NewSocketCompletion returns a socket completion for t.
func NewSocketCompletion(t *Thread) *SocketCompletion {
	return &SocketCompletion{completionBase: newThreadCompletion(t, nil)}
}

// Kind implements Completion.Kind.
func (*SocketCompletion) Kind() CompletionKind { return CompletionSocket }

// GetSocketParamCompletion is a getsockopt(2) or getsockname(2). The
// helper returns a payload in the scratch buffer and its length.
type GetSocketParamCompletion struct {
	completionBase

	// Addr receives the payload and LenAddr its length.
	Addr    hostarch.Addr
	LenAddr hostarch.Addr
}

// NewGetSocketParamCompletion returns a socket parameter completion for t.
func NewGetSocketParamCompletion(t *Thread, buf *pgalloc.Buffer, addr, lenAddr hostarch.Addr) *GetSocketParamCompletion {
	return &GetSocketParamCompletion{completionBase: newThreadCompletion(t, buf), Addr: addr, LenAddr: lenAddr}
}

// Kind implements Completion.Kind.
func (*GetSocketParamCompletion) Kind() CompletionKind { return CompletionGetSocketParam }

// BinderCompletion is a BINDER_WRITE_READ forwarded to the helper.
type BinderCompletion struct {
	completionBase

	// BWR is the caller's struct binder_write_read.
	BWR  hostarch.Addr
	Desc helper.BinderWriteDesc
}

// Kind implements Completion.Kind.
func (*BinderCompletion) Kind() CompletionKind { return CompletionBinder }

// SFSFlushCompletion owns the buffer of a secure file flush until the helper
// has written it.
type SFSFlushCompletion struct {
	completionBase
}

// Kind implements Completion.Kind.
func (*SFSFlushCompletion) Kind() CompletionKind { return CompletionSFSFlush }
