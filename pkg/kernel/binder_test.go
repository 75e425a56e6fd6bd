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
	"testing"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/google/go-cmp/cmp"
)

const (
	bwrAddr      = userBase
	writeBufAddr = userBase + 0x100
	dataAddr     = userBase + 0x300
	offsetsAddr  = userBase + 0x380
	readBufAddr  = userBase + 0x400

	// binderVMStart is where the tests pretend the binder window is.
	binderVMStart = userBase + 0x8000
)

func (e *testEnv) writeBWR(t *Thread, bwr linux.BinderWriteRead) {
	e.t.Helper()
	b := make([]byte, 24)
	bwr.MarshalBytes(b)
	e.write(t, bwrAddr, b)
}

func (e *testEnv) readBWR(t *Thread) linux.BinderWriteRead {
	e.t.Helper()
	var bwr linux.BinderWriteRead
	bwr.UnmarshalBytes(e.read(t, bwrAddr, 24))
	return bwr
}

func words(ws ...uint32) []byte {
	b := make([]byte, 0, 4*len(ws))
	for _, w := range ws {
		b = hostarch.ByteOrder.AppendUint32(b, w)
	}
	return b
}

func transactionBytes(tr linux.BinderTransactionData) []byte {
	b := make([]byte, linux.SizeOfBinderTransactionData)
	tr.MarshalBytes(b)
	return b
}

// writeTransaction stores a write buffer freeing a buffer, sending a
// transaction with an 8 byte parcel holding one object, and entering the
// looper. It returns the size of the write buffer.
func (e *testEnv) writeTransaction(t *Thread) uint32 {
	var b []byte
	b = append(b, words(linux.BC_FREE_BUFFER, uint32(binderVMStart)+0x40)...)
	b = append(b, words(linux.BC_TRANSACTION)...)
	b = append(b, transactionBytes(linux.BinderTransactionData{
		Code:        1,
		DataSize:    8,
		OffsetsSize: 4,
		DataBuffer:  uint32(dataAddr),
		DataOffsets: uint32(offsetsAddr),
	})...)
	b = append(b, words(linux.BC_ENTER_LOOPER)...)
	e.write(t, writeBufAddr, b)
	e.write(t, dataAddr, []byte("parcel!!"))
	e.writeWords(t, offsetsAddr, 0)
	return uint32(len(b))
}

func pendingBinder(t *testing.T, e *testEnv) *BinderCompletion {
	t.Helper()
	if e.k.completions.Len() != 1 {
		t.Fatalf("got %d pending completions, want 1", e.k.completions.Len())
	}
	c, ok := e.k.completions.pending[0].(*BinderCompletion)
	if !ok {
		t.Fatalf("pending completion is a %v, want a binder completion", e.k.completions.pending[0].Kind())
	}
	return c
}

func TestBinderMarshal(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	th.Process().BinderVMStart = binderVMStart
	size := e.writeTransaction(th)
	e.writeBWR(th, linux.BinderWriteRead{WriteSize: size, WriteBuffer: uint32(writeBufAddr), ReadSize: 256, ReadBuffer: uint32(readBufAddr)})

	if _, err := th.BinderIoctl(linux.BINDER_WRITE_READ, uint32(bwrAddr)); err != linuxerr.ErrPending {
		t.Fatalf("BINDER_WRITE_READ: got %v, want ErrPending", err)
	}
	c := pendingBinder(t, e)
	want := helper.BinderWriteDesc{BufferSize: 80, WriteSize: 56, PatchEntries: 2, PatchOffset: 72}
	if diff := cmp.Diff(want, c.Desc); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}

	b := c.Buffer().Bytes()
	le := hostarch.ByteOrder
	for _, w := range []struct {
		name string
		off  int
		want uint32
	}{
		{"freed buffer", 4, testShadowBinder + 0x40},
		{"data buffer", 12 + linux.BinderDataBufferOffset, 56},
		{"data offsets", 12 + linux.BinderDataOffsetsOffset, 64},
		{"offset entry", 64, 0},
		{"patch count", 68, 2},
		{"first patch", 72, 12 + linux.BinderDataBufferOffset},
		{"second patch", 76, 12 + linux.BinderDataOffsetsOffset},
	} {
		if got := le.Uint32(b[w.off:]); got != w.want {
			t.Errorf("%s at %d: got %#x, want %#x", w.name, w.off, got, w.want)
		}
	}
	if got, want := string(b[56:64]), "parcel!!"; got != want {
		t.Errorf("marshalled parcel: got %q, want %q", got, want)
	}

	var sent []uint32
	for _, r := range e.platform.Sends {
		if r.Op() == uint32(helper.OpBinderWriteRead) {
			sent = r.Words
		}
	}
	wantSent := []uint32{uint32(helper.OpBinderWriteRead), testHelperPID, uint32(th.Handle()), c.Buffer().Offset(), 80, 56, 2, 72}
	if diff := cmp.Diff(wantSent, sent); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestBinderCompletion(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	th.Process().BinderVMStart = binderVMStart
	size := e.writeTransaction(th)
	e.writeBWR(th, linux.BinderWriteRead{WriteSize: size, WriteBuffer: uint32(writeBufAddr), ReadSize: 256, ReadBuffer: uint32(readBufAddr)})
	avail := e.k.helper.Window().Available()
	if _, err := th.BinderIoctl(linux.BINDER_WRITE_READ, uint32(bwrAddr)); err != linuxerr.ErrPending {
		t.Fatalf("BINDER_WRITE_READ: got %v, want ErrPending", err)
	}

	// The helper answers with two returns followed by one data entry.
	c := pendingBinder(t, e)
	reply := words(linux.BR_NOOP, linux.BR_TRANSACTION_COMPLETE, 0x10, 4)
	reply = append(reply, "abcd"...)
	copy(c.Buffer().Bytes(), reply)
	e.postAsyncReply(uint32(th.Handle()), 0, int32(size), 8, int32(len(reply)), 1)
	e.run()

	if diff := cmp.Diff([]int32{0}, e.returns(th)); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	bwr := e.readBWR(th)
	if bwr.WriteConsumed != size || bwr.ReadConsumed != 8 {
		t.Errorf("consumed: got (%d, %d), want (%d, 8)", bwr.WriteConsumed, bwr.ReadConsumed, size)
	}
	if diff := cmp.Diff(words(linux.BR_NOOP, linux.BR_TRANSACTION_COMPLETE), e.read(th, readBufAddr, 8)); diff != "" {
		t.Errorf("read buffer mismatch (-want +got):\n%s", diff)
	}
	if got, want := string(e.read(th, binderVMStart+0x10, 4)), "abcd"; got != want {
		t.Errorf("data entry: got %q, want %q", got, want)
	}
	if got := e.k.helper.Window().Available(); got != avail {
		t.Errorf("window pages after completion: got %d, want %d", got, avail)
	}
}

func TestBinderCompletionErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		vmStart hostarch.Addr
		ret     int32
		want    int32
	}{
		{name: "helper failure", vmStart: binderVMStart, ret: -22, want: -22},
		{name: "window not mapped", vmStart: 0, ret: 0, want: linuxerr.ToReturn(linuxerr.EFAULT)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			th := e.newThread()
			th.Process().BinderVMStart = tc.vmStart
			e.writeWords(th, writeBufAddr, linux.BC_ENTER_LOOPER)
			e.writeBWR(th, linux.BinderWriteRead{WriteSize: 4, WriteBuffer: uint32(writeBufAddr), ReadSize: 64, ReadBuffer: uint32(readBufAddr)})
			if _, err := th.BinderIoctl(linux.BINDER_WRITE_READ, uint32(bwrAddr)); err != linuxerr.ErrPending {
				t.Fatalf("BINDER_WRITE_READ: got %v, want ErrPending", err)
			}
			e.postAsyncReply(uint32(th.Handle()), tc.ret, 4, 0, 0, 0)
			e.run()
			if diff := cmp.Diff([]int32{tc.want}, e.returns(th)); diff != "" {
				t.Errorf("results mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBinderWriteReadErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		write []byte
		bwr   linux.BinderWriteRead
		want  error
	}{
		{
			name: "empty",
			bwr:  linux.BinderWriteRead{ReadConsumed: 3},
			want: nil,
		},
		{
			name:  "partially consumed",
			write: words(linux.BC_ENTER_LOOPER),
			bwr:   linux.BinderWriteRead{WriteSize: 4, WriteConsumed: 4, WriteBuffer: uint32(writeBufAddr), ReadConsumed: 3},
			want:  linuxerr.EINVAL,
		},
		{
			name:  "unsupported command",
			write: words(0x1234),
			bwr:   linux.BinderWriteRead{WriteSize: 4, WriteBuffer: uint32(writeBufAddr), ReadConsumed: 3},
			want:  linuxerr.EINVAL,
		},
		{
			name:  "oversized write",
			write: words(linux.BC_ENTER_LOOPER),
			bwr:   linux.BinderWriteRead{WriteSize: 3 * hostarch.PageSize, WriteBuffer: uint32(writeBufAddr), ReadConsumed: 3},
			want:  linuxerr.EINVAL,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			th := e.newThread()
			if tc.write != nil {
				e.write(th, writeBufAddr, tc.write)
			}
			e.writeBWR(th, tc.bwr)
			avail := e.k.helper.Window().Available()
			if _, err := th.BinderIoctl(linux.BINDER_WRITE_READ, uint32(bwrAddr)); err != tc.want {
				t.Errorf("BINDER_WRITE_READ: got %v, want %v", err, tc.want)
			}
			wantRead := tc.bwr.ReadConsumed
			if tc.want != nil {
				wantRead = 0
			}
			if got := e.readBWR(th).ReadConsumed; got != wantRead {
				t.Errorf("read_consumed: got %d, want %d", got, wantRead)
			}
			if got := e.k.helper.Window().Available(); got != avail {
				t.Errorf("window pages: got %d, want %d", got, avail)
			}
			if e.k.completions.Len() != 0 {
				t.Errorf("failed write-read left a completion")
			}
		})
	}
}

func TestBinderIoctl(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	if _, err := th.BinderIoctl(linux.BINDER_VERSION, uint32(userBase)); err != nil {
		t.Errorf("BINDER_VERSION: %v", err)
	}
	if got := e.word(th, userBase); got != linux.BinderCurrentProtocolVersion {
		t.Errorf("version: got %d, want %d", got, linux.BinderCurrentProtocolVersion)
	}
	if _, err := th.BinderIoctl(linux.BINDER_VERSION, uint32(userBase+userSize)); err != linuxerr.EINVAL {
		t.Errorf("BINDER_VERSION to unmapped memory: got %v, want EINVAL", err)
	}
	for _, cmd := range []uint32{linux.BINDER_SET_MAX_THREADS, linux.BINDER_SET_CONTEXT_MGR, linux.BINDER_THREAD_EXIT} {
		if _, err := th.BinderIoctl(cmd, 0); err != nil {
			t.Errorf("ioctl %#x: %v", cmd, err)
		}
	}
	if _, err := th.BinderIoctl(0x1234, 0); err != linuxerr.EINVAL {
		t.Errorf("unknown ioctl: got %v, want EINVAL", err)
	}
}

// focusTransaction stores a windowFocusChanged parcel in th's binder window.
func (e *testEnv) focusTransaction(th *Thread, hasFocus uint32) linux.BinderTransactionData {
	parcel := make([]byte, windowFocusChangedSize)
	copy(parcel, windowFocusChangedHeader)
	hostarch.ByteOrder.PutUint32(parcel[len(windowFocusChangedHeader):], hasFocus)
	e.write(th, binderVMStart+0x100, parcel)
	return linux.BinderTransactionData{Code: opWindowFocusChanged, DataSize: windowFocusChangedSize, DataBuffer: 0x100}
}

func TestWindowFocusMovesScreen(t *testing.T) {
	e := newTestEnv(t, nil)
	first, second := e.newThread(), e.newThread()
	for _, th := range []*Thread{first, second} {
		th.Process().BinderVMStart = binderVMStart
	}

	tr := e.focusTransaction(first, 0)
	if err := first.patchReadTransaction(&tr); err != nil {
		t.Fatalf("patchReadTransaction: %v", err)
	}
	if got := e.k.Security().ActiveProcess(); got != nil {
		t.Errorf("losing focus made %v active", got)
	}
	if got, want := tr.DataBuffer, uint32(binderVMStart)+0x100; got != want {
		t.Errorf("rebased data buffer: got %#x, want %#x", got, want)
	}

	for _, th := range []*Thread{first, second} {
		tr := e.focusTransaction(th, 1)
		if err := th.patchReadTransaction(&tr); err != nil {
			t.Fatalf("patchReadTransaction: %v", err)
		}
		if got := e.k.Security().ActiveProcess(); got != th.Process() {
			t.Errorf("active process: got %v, want %v", got, th.Process())
		}
	}
	if first.Process().ScreenEnabled || !second.Process().ScreenEnabled {
		t.Errorf("screen enabled: first %t, second %t; want false, true", first.Process().ScreenEnabled, second.Process().ScreenEnabled)
	}
}

func TestBinderFDInstall(t *testing.T) {
	for _, tc := range []struct {
		name string
		euid uint32
		want fs.Kind
	}{
		{name: "screen buffer from the system server", euid: systemEUID, want: fs.KindScreenBuffer},
		{name: "other sender", euid: systemEUID + 1, want: fs.KindBinderShared},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			th := e.newThread()
			th.Process().BinderVMStart = binderVMStart
			data := binderVMStart + 0x200
			e.writeWords(th, data, graphicBufferFlatSize, 1, graphicBufferMagic)
			e.writeWords(th, data+0x40, linux.BINDER_TYPE_FD, 0, 33, 0)
			e.writeWords(th, binderVMStart+0x300, 0x40)
			tr := linux.BinderTransactionData{
				SenderEUID:  tc.euid,
				DataSize:    screenBufferSize,
				OffsetsSize: 4,
				DataBuffer:  0x200,
				DataOffsets: 0x300,
			}
			if err := th.patchReadTransaction(&tr); err != nil {
				t.Fatalf("patchReadTransaction: %v", err)
			}
			f := th.GetFile(3)
			if f == nil {
				t.Fatalf("no file installed")
			}
			if f.Inode.Kind() != tc.want || f.Inode.LinuxFd != 33 {
				t.Errorf("installed %v with helper fd %d, want a %v with helper fd 33", f.Inode.Kind(), f.Inode.LinuxFd, tc.want)
			}
			if got := e.word(th, data+0x40+linux.FlatBinderHandleOffset); got != 3 {
				t.Errorf("object handle: got %d, want 3", got)
			}
		})
	}
}
