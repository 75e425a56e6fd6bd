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


// Package platform provides the interfaces to the microkernel beneath the
// personality layer: message delivery from trapped threads, page grants,
// thread management and the synchronous channel to the helper process.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// Label identifies the kind of a message delivered to the kernel.
type Label uint32

// Message labels. Page faults and exceptions carry the negative protocol
// numbers of the microkernel; the others are chosen by the helper.
const (
	LabelPageFault    Label = 0xfffffffe
	LabelException    Label = 0xfffffffb
	LabelIPC          Label = 2
	LabelFlushReplies Label = 3
	LabelCommand      Label = 4

	// LabelAsyncReply tags the reply to an asynchronous helper request.
	// Requests and their replies share a tag.
	LabelAsyncReply = LabelIPC
)

// String implements fmt.Stringer.String.
func (l Label) String() string {
	switch l {
	case LabelPageFault:
		return "PageFault"
	case LabelException:
		return "Exception"
	case LabelAsyncReply:
		return "AsyncReply"
	case LabelFlushReplies:
		return "FlushReplies"
	case LabelCommand:
		return "Command"
	default:
		return fmt.Sprintf("Label(%d)", uint32(l))
	}
}

// ThreadHandle names a microkernel thread. Handles of user threads are odd.
type ThreadHandle uint32

// Never is a timeout that never expires.
const Never time.Duration = -1

// ErrTimeout is returned by Wait when no message arrived in time.
var ErrTimeout = errors.New("ipc timeout")

// ErrClosed is returned once the transport has shut down.
var ErrClosed = errors.New("transport closed")

// AsyncReplyWords is the number of words in an async reply: the completion
// type, the handle and five results.
const AsyncReplyWords = 7

// Message is one event delivered to the kernel loop.
type Message struct {
	Label Label

	// From is the sender. For faults and exceptions this is the trapped
	// thread.
	From ThreadHandle

	// Regs is valid for LabelException.
	Regs arch.Registers

	// FaultAddr, FaultIP and FaultType are valid for LabelPageFault.
	FaultAddr hostarch.Addr
	FaultIP   hostarch.Addr
	FaultType hostarch.AccessType

	// Words holds the payload of the remaining labels.
	Words []uint32
}

// IsSyscall returns true if m is a Linux syscall trap.
func (m *Message) IsSyscall() bool {
	return m.Label == LabelException && m.Regs.IsSyscall()
}

// AsyncReply decodes the payload of a LabelAsyncReply message.
func (m *Message) AsyncReply() (handle int32, results [5]int32, ok bool) {
	if m.Label != LabelAsyncReply || len(m.Words) < AsyncReplyWords {
		return 0, results, false
	}
	for i := range results {
		results[i] = int32(m.Words[2+i])
	}
	return int32(m.Words[1]), results, true
}

// Command decodes the payload of a LabelCommand message.
func (m *Message) Command() (uint32, bool) {
	if m.Label != LabelCommand || len(m.Words) < 1 {
		return 0, false
	}
	return m.Words[0], true
}

// String implements fmt.Stringer.String.
func (m *Message) String() string {
	switch m.Label {
	case LabelPageFault:
		return fmt.Sprintf("%v from %#x: addr=%v ip=%v %v", m.Label, m.From, m.FaultAddr, m.FaultIP, m.FaultType)
	case LabelException:
		return fmt.Sprintf("%v from %#x: %v", m.Label, m.From, &m.Regs)
	default:
		return fmt.Sprintf("%v from %#x: %v", m.Label, m.From, m.Words)
	}
}

// Grant maps one page into the faulting thread's address space.
type Grant struct {
	Addr  hostarch.Addr
	Frame pgalloc.Frame
	Perm  hostarch.AccessType
}

// Reply resumes a thread. Exactly one of Grant and Regs is set.
type Reply struct {
	To    ThreadHandle
	Grant *Grant
	Regs  *arch.Registers
}

// String implements fmt.Stringer.String.
func (r Reply) String() string {
	if r.Grant != nil {
		return fmt.Sprintf("grant to %#x: %v -> %v %v", r.To, r.Grant.Addr, r.Grant.Frame, r.Grant.Perm)
	}
	if r.Regs != nil {
		return fmt.Sprintf("resume %#x: %v", r.To, r.Regs)
	}
	return fmt.Sprintf("empty reply to %#x", r.To)
}

// Endpoint is the kernel's receive side.
type Endpoint interface {
	// Wait blocks until a message arrives or timeout expires, in which case
	// it returns ErrTimeout. A timeout of Never blocks indefinitely and a
	// timeout of zero polls.
	Wait(ctx context.Context, timeout time.Duration) (Message, error)

	// ReplyAndWait sends r and then waits as Wait does.
	ReplyAndWait(ctx context.Context, r Reply, timeout time.Duration) (Message, error)

	// Reply sends r without waiting.
	Reply(ctx context.Context, r Reply) error
}

// Caller is the synchronous channel to the helper process. Words are
// positional arguments; the reply words are returned as sent.
type Caller interface {
	// Call sends words and blocks for the reply.
	Call(ctx context.Context, label Label, words []uint32) ([]uint32, error)

	// Send sends words without waiting for a reply.
	Send(ctx context.Context, label Label, words []uint32) error
}

// AddressSpace is a microkernel task.
type AddressSpace interface {
	// FlushRegions revokes the given access from every page mapped in
	// [start, end).
	FlushRegions(start, end hostarch.Addr, revoked hostarch.AccessType)

	// Release destroys the task.
	Release(ctx context.Context)
}

// Threads manages tasks and their threads.
type Threads interface {
	// NewAddressSpace creates an empty task.
	NewAddressSpace(ctx context.Context, name string) (AddressSpace, error)

	// CreateThread creates a stopped thread in as.
	CreateThread(ctx context.Context, as AddressSpace) (ThreadHandle, error)

	// StartThread starts t at ip with stack pointer sp.
	StartThread(ctx context.Context, t ThreadHandle, ip, sp hostarch.Addr) error

	// DestroyThread destroys t.
	DestroyThread(ctx context.Context, t ThreadHandle) error

	// SetThreadArea installs a TLS descriptor for t. desc.EntryNumber is
	// updated with the slot chosen.
	SetThreadArea(ctx context.Context, t ThreadHandle, desc *linux.UserDesc) error
}

// Platform is the complete microkernel interface.
type Platform interface {
	Endpoint
	Caller
	Threads

	// Close shuts the transport down.
	Close() error
}
