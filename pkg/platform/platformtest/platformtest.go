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


// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// Request is a recorded Call or Send.
type Request struct {
	Label platform.Label
	Words []uint32
}

// Op returns the helper op of the request, which is its first word.
func (r Request) Op() uint32 {
	if len(r.Words) == 0 {
		return 0
	}
	return r.Words[0]
}

// Flush is a recorded FlushRegions.
type Flush struct {
	Task    int
	Range   hostarch.AddrRange
	Revoked hostarch.AccessType
}

// ThreadState is the recorded state of a fake thread.
type ThreadState struct {
	Task      int
	Started   bool
	Destroyed bool
	IP, SP    hostarch.Addr
	TLS       []linux.UserDesc
}

// HelperFunc answers a helper call. words[0] is the op.
type HelperFunc func(words []uint32) ([]uint32, error)

// Helper is a fake helper process. Each op has a handler; calls to ops
// without a handler fail.
type Helper struct {
	Handlers map[uint32]HelperFunc
}

// NewHelper returns a Helper with no handlers.
func NewHelper() *Helper {
	return &Helper{Handlers: make(map[uint32]HelperFunc)}
}

// Handle registers fn for op.
func (h *Helper) Handle(op uint32, fn HelperFunc) {
	h.Handlers[op] = fn
}

// Reply registers a handler for op that always returns words.
func (h *Helper) Reply(op uint32, words ...uint32) {
	h.Handle(op, func([]uint32) ([]uint32, error) {
		return append([]uint32(nil), words...), nil
	})
}

func (h *Helper) call(words []uint32) ([]uint32, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("empty helper call")
	}
	fn, ok := h.Handlers[words[0]]
	if !ok {
		return nil, fmt.Errorf("no handler for helper op %d", words[0])
	}
	return fn(words)
}

// Platform is an in-memory platform.Platform. Messages queued in Inbox are
// delivered in order by Wait; everything sent by the kernel is recorded.
//
// When the inbox is empty a Wait with a finite timeout returns
// platform.ErrTimeout and a Wait with platform.Never returns
// platform.ErrClosed, which stops a kernel loop under test.
type Platform struct {
	Inbox   []platform.Message
	Replies []platform.Reply
	Calls   []Request
	Sends   []Request
	Flushes []Flush
	Threads map[platform.ThreadHandle]*ThreadState
	Helper  *Helper

	// Timeouts records the timeout of every Wait.
	Timeouts []time.Duration

	// OnWait, if set, is called at the start of every Wait. It may append
	// to Inbox.
	OnWait func(p *Platform)

	tasks      int
	nextThread platform.ThreadHandle
	nextTLS    uint32
	closed     bool
}

var _ platform.Platform = (*Platform)(nil)

// New returns an empty Platform answering helper calls with h.
func New(h *Helper) *Platform {
	if h == nil {
		h = NewHelper()
	}
	return &Platform{
		Threads:    make(map[platform.ThreadHandle]*ThreadState),
		Helper:     h,
		nextThread: 1,
		nextTLS:    6,
	}
}

// Post queues m for delivery.
func (p *Platform) Post(m platform.Message) {
	p.Inbox = append(p.Inbox, m)
}

// Close implements platform.Platform.Close.
func (p *Platform) Close() error {
	p.closed = true
	return nil
}

// Wait implements platform.Endpoint.Wait.
func (p *Platform) Wait(ctx context.Context, timeout time.Duration) (platform.Message, error) {
	p.Timeouts = append(p.Timeouts, timeout)
	if p.OnWait != nil {
		p.OnWait(p)
	}
	if p.closed {
		return platform.Message{}, platform.ErrClosed
	}
	if len(p.Inbox) == 0 {
		if timeout == platform.Never {
			return platform.Message{}, platform.ErrClosed
		}
		return platform.Message{}, platform.ErrTimeout
	}
	m := p.Inbox[0]
	p.Inbox = p.Inbox[1:]
	return m, nil
}

// ReplyAndWait implements platform.Endpoint.ReplyAndWait.
func (p *Platform) ReplyAndWait(ctx context.Context, r platform.Reply, timeout time.Duration) (platform.Message, error) {
	if err := p.Reply(ctx, r); err != nil {
		return platform.Message{}, err
	}
	return p.Wait(ctx, timeout)
}

// Reply implements platform.Endpoint.Reply.
func (p *Platform) Reply(ctx context.Context, r platform.Reply) error {
	p.Replies = append(p.Replies, r)
	return nil
}

// LastReply returns the most recent reply to t.
func (p *Platform) LastReply(t platform.ThreadHandle) (platform.Reply, bool) {
	for i := len(p.Replies) - 1; i >= 0; i-- {
		if p.Replies[i].To == t {
			return p.Replies[i], true
		}
	}
	return platform.Reply{}, false
}

// Call implements platform.Caller.Call.
func (p *Platform) Call(ctx context.Context, label platform.Label, words []uint32) ([]uint32, error) {
	p.Calls = append(p.Calls, Request{Label: label, Words: append([]uint32(nil), words...)})
	return p.Helper.call(words)
}

// Send implements platform.Caller.Send.
func (p *Platform) Send(ctx context.Context, label platform.Label, words []uint32) error {
	p.Sends = append(p.Sends, Request{Label: label, Words: append([]uint32(nil), words...)})
	return nil
}

// CallsTo returns the recorded calls of helper op.
func (p *Platform) CallsTo(op uint32) []Request {
	var rs []Request
	for _, r := range p.Calls {
		if r.Op() == op {
			rs = append(rs, r)
		}
	}
	return rs
}

// addressSpace is a fake task.
type addressSpace struct {
	p  *Platform
	id int
}

// FlushRegions implements platform.AddressSpace.FlushRegions.
func (as *addressSpace) FlushRegions(start, end hostarch.Addr, revoked hostarch.AccessType) {
	as.p.Flushes = append(as.p.Flushes, Flush{Task: as.id, Range: hostarch.AddrRange{Start: start, End: end}, Revoked: revoked})
}

// Release implements platform.AddressSpace.Release.
func (as *addressSpace) Release(context.Context) {}

// NewAddressSpace implements platform.Threads.NewAddressSpace.
func (p *Platform) NewAddressSpace(ctx context.Context, name string) (platform.AddressSpace, error) {
	p.tasks++
	return &addressSpace{p: p, id: p.tasks}, nil
}

// CreateThread implements platform.Threads.CreateThread. Handles are odd,
// starting at 3.
func (p *Platform) CreateThread(ctx context.Context, as platform.AddressSpace) (platform.ThreadHandle, error) {
	task, ok := as.(*addressSpace)
	if !ok {
		return 0, fmt.Errorf("foreign address space %v", as)
	}
	p.nextThread += 2
	p.Threads[p.nextThread] = &ThreadState{Task: task.id}
	return p.nextThread, nil
}

func (p *Platform) thread(t platform.ThreadHandle) (*ThreadState, error) {
	ts, ok := p.Threads[t]
	if !ok || ts.Destroyed {
		return nil, fmt.Errorf("no thread %#x", t)
	}
	return ts, nil
}

// StartThread implements platform.Threads.StartThread.
func (p *Platform) StartThread(ctx context.Context, t platform.ThreadHandle, ip, sp hostarch.Addr) error {
	ts, err := p.thread(t)
	if err != nil {
		return err
	}
	ts.Started, ts.IP, ts.SP = true, ip, sp
	return nil
}

// DestroyThread implements platform.Threads.DestroyThread.
func (p *Platform) DestroyThread(ctx context.Context, t platform.ThreadHandle) error {
	ts, err := p.thread(t)
	if err != nil {
		return err
	}
	ts.Destroyed = true
	return nil
}

// SetThreadArea implements platform.Threads.SetThreadArea. An entry of -1
// picks the next free slot.
func (p *Platform) SetThreadArea(ctx context.Context, t platform.ThreadHandle, desc *linux.UserDesc) error {
	ts, err := p.thread(t)
	if err != nil {
		return err
	}
	if desc.EntryNumber == 0xffffffff {
		desc.EntryNumber = p.nextTLS
		p.nextTLS++
	}
	ts.TLS = append(ts.TLS, *desc)
	return nil
}
