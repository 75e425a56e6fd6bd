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


// Package unixsock implements platform.Platform over a SOCK_SEQPACKET
// connection to a monitor process. The monitor owns the microkernel
// capabilities: it forwards faults and traps of user threads, applies
// grants and register replies, manages tasks and threads, and relays calls
// to the helper.
//
// The connection is used by the kernel loop only and is not safe for
// concurrent use.
package unixsock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// pollSlice bounds a single blocking read so that context cancellation is
// noticed.
const pollSlice = 250 * time.Millisecond

// dropLogPeriod rate-limits diagnostics for discarded packets.
const dropLogPeriod = time.Second

// Platform is a platform.Platform over a monitor connection.
type Platform struct {
	sock *Socket

	// queued holds messages that arrived while a call waited for its reply.
	queued []platform.Message

	seq   uint32
	drops log.Logger
}

var _ platform.Platform = (*Platform)(nil)

// New returns a Platform using sock. The Platform takes ownership of sock.
func New(sock *Socket) *Platform {
	return &Platform{
		sock:  sock,
		drops: log.BasicRateLimitedLogger(dropLogPeriod),
	}
}

// Close implements platform.Platform.Close.
func (p *Platform) Close() error {
	return p.sock.Close()
}

// Wait implements platform.Endpoint.Wait.
func (p *Platform) Wait(ctx context.Context, timeout time.Duration) (platform.Message, error) {
	if len(p.queued) > 0 {
		m := p.queued[0]
		p.queued = p.queued[1:]
		return m, nil
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		pkt, err := p.read(ctx, deadline, timeout < 0)
		if err != nil {
			return platform.Message{}, err
		}
		if pkt.op != opMessage {
			p.drops.Warningf("Dropping unexpected packet op %d while waiting for a message", pkt.op)
			continue
		}
		m, err := decodeMessage(pkt)
		if err != nil {
			p.drops.Warningf("Dropping malformed message: %v", err)
			continue
		}
		return m, nil
	}
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
	pkt, err := encodeReply(&r)
	if err != nil {
		return err
	}
	return writeTo(p.sock, pkt)
}

// Call implements platform.Caller.Call.
func (p *Platform) Call(ctx context.Context, label platform.Label, words []uint32) ([]uint32, error) {
	p.seq++
	seq := p.seq
	if err := writeTo(p.sock, &packet{op: opCall, a: seq, b: uint32(label), words: words}); err != nil {
		return nil, err
	}
	for {
		pkt, err := p.read(ctx, time.Time{}, true)
		if err != nil {
			return nil, err
		}
		switch pkt.op {
		case opCallReply:
			if pkt.a == seq {
				return pkt.words, nil
			}
			p.drops.Warningf("Dropping stale reply %d while waiting for %d", pkt.a, seq)
		case opMessage:
			m, err := decodeMessage(pkt)
			if err != nil {
				p.drops.Warningf("Dropping malformed message: %v", err)
				continue
			}
			p.queued = append(p.queued, m)
		default:
			p.drops.Warningf("Dropping unexpected packet op %d during call", pkt.op)
		}
	}
}

// Send implements platform.Caller.Send.
func (p *Platform) Send(ctx context.Context, label platform.Label, words []uint32) error {
	return writeTo(p.sock, &packet{op: opSend, b: uint32(label), words: words})
}

// ShareMemory hands the backing files of pools to the monitor so that it
// can map their frames into user tasks. Each pool is described by its base
// frame and size in pages, in the order of the attached files.
func (p *Platform) ShareMemory(ctx context.Context, pools ...*pgalloc.Pool) error {
	words := make([]uint32, 0, 2*len(pools))
	files := make([]*os.File, 0, len(pools))
	for _, pool := range pools {
		if pool.File() == nil {
			return fmt.Errorf("pool %s has no backing file", pool.Name())
		}
		words = append(words, uint32(pool.Base()), pool.Size())
		files = append(files, pool.File())
	}
	b, err := (&packet{op: opSend, b: uint32(controlShareMemory), words: words}).marshal()
	if err != nil {
		return err
	}
	if err := p.sock.WritePacketWithFiles(b, files...); err != nil {
		return fmt.Errorf("sharing %d pools: %w", len(pools), err)
	}
	return nil
}

// read returns the next packet. With forever set it ignores deadline.
func (p *Platform) read(ctx context.Context, deadline time.Time, forever bool) (*packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slice := pollSlice
		if !forever {
			left := time.Until(deadline)
			if left < 0 {
				left = 0
			}
			if left < slice {
				slice = left
			}
		}
		pkt, err := readFrom(p.sock, slice)
		if err == platform.ErrTimeout {
			if !forever && !time.Now().Before(deadline) {
				return nil, platform.ErrTimeout
			}
			continue
		}
		return pkt, err
	}
}

// control issues a control call and checks its status word.
func (p *Platform) control(ctx context.Context, label platform.Label, words []uint32, want int) ([]uint32, error) {
	rep, err := p.Call(ctx, label, words)
	if err != nil {
		return nil, err
	}
	if len(rep) < want || len(rep) == 0 {
		return nil, fmt.Errorf("control %#x: reply of %d words, want %d", uint32(label), len(rep), want)
	}
	if status := int32(rep[0]); status != 0 {
		return nil, fmt.Errorf("control %#x: status %d", uint32(label), status)
	}
	return rep, nil
}

// addressSpace is a task owned by the monitor.
type addressSpace struct {
	p  *Platform
	id uint32
}

// FlushRegions implements platform.AddressSpace.FlushRegions.
func (as *addressSpace) FlushRegions(start, end hostarch.Addr, revoked hostarch.AccessType) {
	if err := as.p.Send(context.Background(), controlFlushRegions, []uint32{as.id, uint32(start), uint32(end), revoked.Bits()}); err != nil {
		log.Warningf("Flushing [%v, %v) of task %d: %v", start, end, as.id, err)
	}
}

// Release implements platform.AddressSpace.Release.
func (as *addressSpace) Release(ctx context.Context) {
	if err := as.p.Send(ctx, controlReleaseTask, []uint32{as.id}); err != nil {
		log.Warningf("Releasing task %d: %v", as.id, err)
	}
}

// NewAddressSpace implements platform.Threads.NewAddressSpace.
func (p *Platform) NewAddressSpace(ctx context.Context, name string) (platform.AddressSpace, error) {
	rep, err := p.control(ctx, controlNewTask, nil, 2)
	if err != nil {
		return nil, fmt.Errorf("creating task %q: %w", name, err)
	}
	log.Debugf("Created task %d for %q", rep[1], name)
	return &addressSpace{p: p, id: rep[1]}, nil
}

// CreateThread implements platform.Threads.CreateThread.
func (p *Platform) CreateThread(ctx context.Context, as platform.AddressSpace) (platform.ThreadHandle, error) {
	task, ok := as.(*addressSpace)
	if !ok || task.p != p {
		return 0, fmt.Errorf("address space %v does not belong to this platform", as)
	}
	rep, err := p.control(ctx, controlCreateThread, []uint32{task.id}, 2)
	if err != nil {
		return 0, err
	}
	return platform.ThreadHandle(rep[1]), nil
}

// StartThread implements platform.Threads.StartThread.
func (p *Platform) StartThread(ctx context.Context, t platform.ThreadHandle, ip, sp hostarch.Addr) error {
	_, err := p.control(ctx, controlStartThread, []uint32{uint32(t), uint32(ip), uint32(sp)}, 1)
	return err
}

// DestroyThread implements platform.Threads.DestroyThread.
func (p *Platform) DestroyThread(ctx context.Context, t platform.ThreadHandle) error {
	_, err := p.control(ctx, controlDestroyThread, []uint32{uint32(t)}, 1)
	return err
}

// SetThreadArea implements platform.Threads.SetThreadArea.
func (p *Platform) SetThreadArea(ctx context.Context, t platform.ThreadHandle, desc *linux.UserDesc) error {
	rep, err := p.control(ctx, controlSetThreadArea, []uint32{uint32(t), desc.EntryNumber, desc.BaseAddr, desc.Limit, desc.Flags}, 2)
	if err != nil {
		return err
	}
	desc.EntryNumber = rep[1]
	return nil
}
