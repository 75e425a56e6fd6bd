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


package unixsock

import (
	"context"
	"testing"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func newPair(t *testing.T) (*Platform, *Socket) {
	t.Helper()
	a, b, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	p := New(a)
	t.Cleanup(func() {
		p.Close()
		b.Close()
	})
	return p, b
}

func mustWrite(t *testing.T, s *Socket, p *packet) {
	t.Helper()
	if err := writeTo(s, p); err != nil {
		t.Fatalf("writeTo: %v", err)
	}
}

func mustRead(t *testing.T, s *Socket) *packet {
	t.Helper()
	p, err := readFrom(s, time.Second)
	if err != nil {
		t.Fatalf("readFrom: %v", err)
	}
	return p
}

func TestPacketRoundTrip(t *testing.T) {
	in := packet{op: opCall, a: 7, b: 9, words: []uint32{1, 2, 0xffffffff}}
	b, err := in.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out packet
	if err := out.unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out, cmp.AllowUnexported(packet{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if err := out.unmarshal(b[:len(b)-1]); err == nil {
		t.Errorf("unmarshal of truncated packet succeeded")
	}
}

func TestWaitTimeout(t *testing.T) {
	p, _ := newPair(t)
	start := time.Now()
	if _, err := p.Wait(context.Background(), 20*time.Millisecond); err != platform.ErrTimeout {
		t.Fatalf("Wait: got %v, want %v", err, platform.ErrTimeout)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, before the timeout", d)
	}
}

func TestWaitDecodesMessages(t *testing.T) {
	p, peer := newPair(t)
	regs := arch.Registers{Eax: 4, Ebx: 1, TrapNo: 0xd, Err: 0x402, IP: 0x8048000}
	msgs := []platform.Message{
		{Label: platform.LabelPageFault, From: 3, FaultAddr: 0x1234, FaultIP: 0x8048010, FaultType: hostarch.Write},
		{Label: platform.LabelException, From: 5, Regs: regs},
		{Label: platform.LabelAsyncReply, From: 1, Words: []uint32{8, 5, 10, 0, 0, 0, 0}},
		{Label: platform.LabelCommand, From: 1, Words: []uint32{4}},
	}
	for i := range msgs {
		mustWrite(t, peer, encodeMessage(&msgs[i]))
	}
	for _, want := range msgs {
		got, err := p.Wait(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	}
	if m := msgs[1]; !m.IsSyscall() {
		t.Errorf("%v: IsSyscall got false, want true", &m)
	}
}

func TestCallQueuesInterleavedMessages(t *testing.T) {
	p, peer := newPair(t)
	fault := platform.Message{Label: platform.LabelPageFault, From: 3, FaultAddr: 0x5000, FaultType: hostarch.Read}

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := readFrom(peer, time.Second)
		if err != nil {
			t.Errorf("monitor read: %v", err)
			return
		}
		if req.op != opCall || platform.Label(req.b) != 42 {
			t.Errorf("monitor got op %d label %d, want call 42", req.op, req.b)
		}
		writeTo(peer, encodeMessage(&fault))
		writeTo(peer, &packet{op: opCallReply, a: req.a + 100})
		writeTo(peer, &packet{op: opCallReply, a: req.a, words: []uint32{req.words[0] + 1}})
	}()

	rep, err := p.Call(context.Background(), 42, []uint32{41})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if want := []uint32{42}; !cmp.Equal(rep, want) {
		t.Errorf("Call: got %v, want %v", rep, want)
	}
	<-done

	got, err := p.Wait(context.Background(), 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if diff := cmp.Diff(fault, got); diff != "" {
		t.Errorf("queued message mismatch (-want +got):\n%s", diff)
	}
}

func TestReplyEncoding(t *testing.T) {
	p, peer := newPair(t)
	ctx := context.Background()

	grant := platform.Reply{To: 3, Grant: &platform.Grant{Addr: 0x5000, Frame: pgalloc.Frame(0x1001000), Perm: hostarch.ReadWrite}}
	if err := p.Reply(ctx, grant); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	got := mustRead(t, peer)
	want := &packet{op: opReply, a: 3, b: uint32(replyGrant), words: []uint32{0x5000, 0x1001000, hostarch.ReadWrite.Bits()}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(packet{})); diff != "" {
		t.Errorf("grant mismatch (-want +got):\n%s", diff)
	}

	regs := arch.Registers{Eax: 0xfffffff2, IP: 0x8048002}
	if err := p.Reply(ctx, platform.Reply{To: 5, Regs: &regs}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	got = mustRead(t, peer)
	var back arch.Registers
	if err := wordsRegisters(got.words, &back); err != nil {
		t.Fatalf("wordsRegisters: %v", err)
	}
	if got.b != uint32(replyResume) || back != regs {
		t.Errorf("resume: got kind %d regs %v, want kind %d regs %v", got.b, &back, replyResume, &regs)
	}

	if err := p.Reply(ctx, platform.Reply{To: 5}); err == nil {
		t.Errorf("empty Reply succeeded")
	}
}

func TestThreadControl(t *testing.T) {
	p, peer := newPair(t)
	ctx := context.Background()

	go func() {
		for {
			req, err := readFrom(peer, time.Second)
			if err != nil {
				return
			}
			var rep []uint32
			switch platform.Label(req.b) {
			case controlNewTask:
				rep = []uint32{0, 77}
			case controlCreateThread:
				rep = []uint32{0, req.words[0]*2 + 1}
			case controlSetThreadArea:
				rep = []uint32{0, 6}
			case controlStartThread:
				rep = []uint32{uint32(0xffffffea)}
			default:
				continue
			}
			writeTo(peer, &packet{op: opCallReply, a: req.a, words: rep})
		}
	}()

	as, err := p.NewAddressSpace(ctx, "init")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	th, err := p.CreateThread(ctx, as)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th != 155 {
		t.Errorf("CreateThread: got %#x, want %#x", th, 155)
	}
	desc := linux.UserDesc{EntryNumber: 0xffffffff}
	if err := p.SetThreadArea(ctx, th, &desc); err != nil {
		t.Fatalf("SetThreadArea: %v", err)
	}
	if desc.EntryNumber != 6 {
		t.Errorf("SetThreadArea: got entry %d, want 6", desc.EntryNumber)
	}
	if err := p.StartThread(ctx, th, 0x8048000, 0xbfff0000); err == nil {
		t.Errorf("StartThread with failing status succeeded")
	}
}

func TestShareMemory(t *testing.T) {
	p, peer := newPair(t)
	a, err := pgalloc.NewMemfdPool("a", 0x10000, 4*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewMemfdPool: %v", err)
	}
	defer a.Close()
	b, err := pgalloc.NewMemfdPool("b", 0x20000, 2*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewMemfdPool: %v", err)
	}
	defer b.Close()

	if err := p.ShareMemory(context.Background(), a, b); err != nil {
		t.Fatalf("ShareMemory: %v", err)
	}

	buf := make([]byte, 256)
	oob := make([]byte, unix.CmsgSpace(2*4))
	n, oobn, _, _, err := unix.Recvmsg(peer.FD(), buf, oob, 0)
	if err != nil {
		t.Fatalf("Recvmsg: %v", err)
	}
	var pkt packet
	if err := pkt.unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pkt.op != opSend || platform.Label(pkt.b) != controlShareMemory {
		t.Errorf("packet: got op %d label %#x, want op %d label %#x", pkt.op, pkt.b, opSend, uint32(controlShareMemory))
	}
	want := []uint32{0x10000, 4 * hostarch.PageSize, 0x20000, 2 * hostarch.PageSize}
	if diff := cmp.Diff(want, pkt.words); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) != 1 {
		t.Fatalf("ParseSocketControlMessage: got %d messages, err %v", len(msgs), err)
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		t.Fatalf("ParseUnixRights: %v", err)
	}
	if len(fds) != 2 {
		t.Fatalf("got %d fds, want 2", len(fds))
	}
	for i, fd := range fds {
		defer unix.Close(fd)
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			t.Fatalf("Fstat(fd %d): %v", i, err)
		}
		if want := int64(want[2*i+1]); st.Size != want {
			t.Errorf("fd %d: got size %d, want %d", i, st.Size, want)
		}
	}
}
