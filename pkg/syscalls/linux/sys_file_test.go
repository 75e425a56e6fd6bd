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


package linux

import (
	"bytes"
	"testing"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/kernel/kerneltest"
	"github.com/google/go-cmp/cmp"
)

func TestDescriptors(t *testing.T) {
	_, th := newTestThread(t)
	stdout := th.GetFile(kernel.StdoutFD)

	type call struct {
		name string
		fn   kernel.SyscallFn
		args []uint32
		want uintptr
		err  error
	}
	for _, c := range []call{
		{name: "dup", fn: Dup, args: []uint32{kernel.StdoutFD}, want: 3},
		{name: "close", fn: Close, args: []uint32{3}},
		{name: "close again", fn: Close, args: []uint32{3}, err: linuxerr.EBADF},
		{name: "dup2", fn: Dup2, args: []uint32{kernel.StdoutFD, 5}, want: 5},
		{name: "dup2 onto itself", fn: Dup2, args: []uint32{kernel.StdoutFD, kernel.StdoutFD}, want: kernel.StdoutFD},
		{name: "dup2 of a closed fd", fn: Dup2, args: []uint32{9, 4}, err: linuxerr.EBADF},
		{name: "dup of a closed fd", fn: Dup, args: []uint32{9}, err: linuxerr.EBADF},
	} {
		got, _, err := c.fn(th, kerneltest.Args(c.args...))
		if got != c.want || err != c.err {
			t.Errorf("%s: got (%d, %v), want (%d, %v)", c.name, got, err, c.want, c.err)
		}
	}
	if f := th.GetFile(5); f == nil || f.Inode != stdout.Inode {
		t.Errorf("fd 5 after dup2: got %v, want %v", f, stdout)
	}
	if got := stdout.Inode.ReadRefs(); got != 2 {
		t.Errorf("stdout refs: got %d, want 2", got)
	}
}

func TestWriteConsole(t *testing.T) {
	e, th := newTestThread(t)
	e.Write(th, kerneltest.UserBase, []byte("hello, world\n"))
	iov := kerneltest.UserBase + 0x100
	e.WriteWords(th, iov, uint32(kerneltest.UserBase), 5, uint32(kerneltest.UserBase)+12, 1)

	if got, _, err := Write(th, kerneltest.Args(kernel.StdoutFD, uint32(kerneltest.UserBase), 13)); err != nil || got != 13 {
		t.Errorf("write: got (%d, %v), want (13, nil)", got, err)
	}
	if got, _, err := Writev(th, kerneltest.Args(kernel.StderrFD, uint32(iov), 2)); err != nil || got != 6 {
		t.Errorf("writev: got (%d, %v), want (6, nil)", got, err)
	}
	if err := e.Kernel.FlushConsole(e.Ctx); err != nil {
		t.Fatalf("FlushConsole failed: %v", err)
	}
	if diff := cmp.Diff("hello, world\nhello\n", e.Console.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestReadWriteErrors(t *testing.T) {
	_, th := newTestThread(t)
	buf := uint32(kerneltest.UserBase)
	for _, tc := range []struct {
		name string
		fn   kernel.SyscallFn
		args []uint32
		want error
	}{
		{name: "read of nothing", fn: Read, args: []uint32{9, buf, 0}},
		{name: "read of write-only", fn: Read, args: []uint32{kernel.StdoutFD, buf, 4}, want: linuxerr.EPERM},
		{name: "read of negative length", fn: Read, args: []uint32{kernel.StdoutFD, buf, 0xffffffff}, want: linuxerr.EINVAL},
		{name: "pread64 of closed fd", fn: Pread64, args: []uint32{9, buf, 4, 0}, want: linuxerr.EBADF},
		{name: "write of closed fd", fn: Write, args: []uint32{9, buf, 4}, want: linuxerr.EBADF},
		{name: "write of negative length", fn: Write, args: []uint32{kernel.StdoutFD, buf, 0xffffffff}, want: linuxerr.EINVAL},
		{name: "write from unmapped memory", fn: Write, args: []uint32{kernel.StdoutFD, 0, 4}, want: linuxerr.EFAULT},
		{name: "writev of negative count", fn: Writev, args: []uint32{kernel.StdoutFD, buf, 0xffffffff}, want: linuxerr.EINVAL},
		{name: "writev of nothing", fn: Writev, args: []uint32{kernel.StdoutFD, buf, 0}},
	} {
		if _, _, err := tc.fn(th, kerneltest.Args(tc.args...)); err != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestGetcwd(t *testing.T) {
	e, th := newTestThread(t)
	got, _, err := Getcwd(th, kerneltest.Args(uint32(kerneltest.UserBase), 64))
	if err != nil || got != 2 {
		t.Fatalf("getcwd: got (%d, %v), want (2, nil)", got, err)
	}
	if b := e.Read(th, kerneltest.UserBase, 2); !bytes.Equal(b, []byte("/\x00")) {
		t.Errorf("getcwd wrote %q, want %q", b, "/\x00")
	}
	if _, _, err := Getcwd(th, kerneltest.Args(uint32(kerneltest.UserBase), 1)); err != linuxerr.ERANGE {
		t.Errorf("getcwd into one byte: got %v, want %v", err, linuxerr.ERANGE)
	}
}

func TestStat64(t *testing.T) {
	e, th := newTestThread(t)
	path := kerneltest.UserBase
	statbuf := kerneltest.UserBase + 0x400
	e.WriteString(th, path, "/data/app.apk")

	var gotPath string
	e.Helper.Handle(uint32(helper.OpStatCombined), func(words []uint32) ([]uint32, error) {
		sync := e.Client.SyncBuffer()
		gotPath = string(sync[:bytes.IndexByte(sync, 0)])
		for i := 0; i < linux.SizeOfStat64; i++ {
			sync[i] = 0xab
		}
		return []uint32{words[0], 0, linux.SizeOfStat64}, nil
	})
	if _, _, err := Stat64(th, kerneltest.Args(uint32(path), uint32(statbuf))); err != nil {
		t.Fatalf("stat64 failed: %v", err)
	}
	if gotPath != "/data/app.apk" {
		t.Errorf("helper saw path %q, want %q", gotPath, "/data/app.apk")
	}
	if got := e.Read(th, statbuf, linux.SizeOfStat64); !bytes.Equal(got, bytes.Repeat([]byte{0xab}, linux.SizeOfStat64)) {
		t.Errorf("stat64 buffer: got %x", got)
	}

	e.Helper.Reply(uint32(helper.OpStatCombined), uint32(helper.OpStatCombined), errnoWord(linuxerr.ENOENT), linux.SizeOfStat64)
	if _, _, err := Lstat64(th, kerneltest.Args(uint32(path), uint32(statbuf))); err != linuxerr.ENOENT {
		t.Errorf("lstat64 of a missing file: got %v, want %v", err, linuxerr.ENOENT)
	}
	if _, _, err := Stat64(th, kerneltest.Args(0, uint32(statbuf))); err != linuxerr.EFAULT {
		t.Errorf("stat64(NULL): got %v, want %v", err, linuxerr.EFAULT)
	}
}

func TestMkdirUnlink(t *testing.T) {
	e, th := newTestThread(t)
	path := uint32(kerneltest.UserBase)
	e.WriteString(th, kerneltest.UserBase, "/data/dir")
	e.Helper.Reply(uint32(helper.OpMkdir), uint32(helper.OpMkdir), 0)
	e.Helper.Reply(uint32(helper.OpUnlink), uint32(helper.OpUnlink), errnoWord(linuxerr.ENOENT))

	if _, _, err := Mkdir(th, kerneltest.Args(path, 0755)); err != nil {
		t.Errorf("mkdir failed: %v", err)
	}
	calls := e.Platform.CallsTo(uint32(helper.OpMkdir))
	if want := []uint32{uint32(helper.OpMkdir), kerneltest.HelperPID, 0755}; len(calls) != 1 || !cmp.Equal(calls[0].Words, want) {
		t.Errorf("mkdir requests: got %+v, want one of %v", calls, want)
	}
	if _, _, err := Unlink(th, kerneltest.Args(path)); err != linuxerr.ENOENT {
		t.Errorf("unlink: got %v, want %v", err, linuxerr.ENOENT)
	}
}

func TestPipe(t *testing.T) {
	e, th := newTestThread(t)
	e.Helper.Reply(uint32(helper.OpPipe), uint32(helper.OpPipe), 0, 10, 11)
	addr := kerneltest.UserBase

	if _, _, err := Pipe(th, kerneltest.Args(uint32(addr))); err != nil {
		t.Fatalf("pipe failed: %v", err)
	}
	fds := []uint32{e.Word(th, addr), e.Word(th, addr+4)}
	if want := []uint32{3, 4}; !cmp.Equal(fds, want) {
		t.Errorf("pipe fds: got %v, want %v", fds, want)
	}
	for i, linuxFD := range []int32{10, 11} {
		f := th.GetFile(int32(fds[i]))
		if f == nil || f.Inode.Kind() != fs.KindArch || f.Inode.LinuxFd != linuxFD {
			t.Errorf("fd %d: got %v, want an Arch inode on helper fd %d", fds[i], f, linuxFD)
		}
	}

	// A failed copy-out leaves no descriptors behind.
	e.Helper.Reply(uint32(helper.OpPipe), uint32(helper.OpPipe), 0, 12, 13)
	if _, _, err := Pipe(th, kerneltest.Args(0)); err != linuxerr.EFAULT {
		t.Errorf("pipe(NULL): got %v, want %v", err, linuxerr.EFAULT)
	}
	if f := th.GetFile(5); f != nil {
		t.Errorf("fd 5 after failed pipe: got %v, want nil", f)
	}
}

func TestFcntl64(t *testing.T) {
	e, th := newTestThread(t)
	e.Helper.Reply(uint32(helper.OpPipe), uint32(helper.OpPipe), 0, 10, 11)
	e.Helper.Reply(uint32(helper.OpFcntl64), uint32(helper.OpFcntl64), 2)
	if _, _, err := Pipe(th, kerneltest.Args(uint32(kerneltest.UserBase))); err != nil {
		t.Fatalf("pipe failed: %v", err)
	}

	for _, tc := range []struct {
		name string
		args []uint32
		want uintptr
		err  error
	}{
		{name: "setfd", args: []uint32{3, linux.F_SETFD, 1}},
		{name: "setlk", args: []uint32{3, linux.F_SETLK, 0}},
		{name: "getfl", args: []uint32{3, linux.F_GETFL, 0}, want: 2},
		{name: "console", args: []uint32{kernel.StdoutFD, linux.F_GETFL, 0}, err: linuxerr.EBADF},
		{name: "closed", args: []uint32{9, linux.F_GETFL, 0}, err: linuxerr.EBADF},
	} {
		got, _, err := Fcntl64(th, kerneltest.Args(tc.args...))
		if got != tc.want || err != tc.err {
			t.Errorf("%s: got (%d, %v), want (%d, %v)", tc.name, got, err, tc.want, tc.err)
		}
	}
	if got := len(e.Platform.CallsTo(uint32(helper.OpFcntl64))); got != 1 {
		t.Errorf("fcntl64 requests: got %d, want 1", got)
	}
}

func TestOpen(t *testing.T) {
	e, th := newTestThread(t)
	e.WriteString(th, kerneltest.UserBase, "/system/lib/libc.so")
	e.WriteString(th, kerneltest.UserBase+0x100, kernel.BinderPath)

	if _, _, err := Open(th, kerneltest.Args(uint32(kerneltest.UserBase), linux.O_RDONLY, 0)); err != linuxerr.ErrPending {
		t.Fatalf("open: got %v, want %v", err, linuxerr.ErrPending)
	}
	if got := len(e.SendsTo(helper.OpOpenAndGetSizeAsync)); got != 1 {
		t.Errorf("OPEN_AND_GET_SIZE_ASYNC requests: got %d, want 1", got)
	}
	if got := e.Kernel.Completions().Len(); got != 1 {
		t.Errorf("pending completions: got %d, want 1", got)
	}

	fd, _, err := Open(th, kerneltest.Args(uint32(kerneltest.UserBase+0x100), linux.O_RDWR, 0))
	if err != nil {
		t.Fatalf("open(%s) failed: %v", kernel.BinderPath, err)
	}
	if f := th.GetFile(int32(fd)); f == nil || f.Inode != e.Kernel.BinderInode() {
		t.Errorf("fd %d: got %v, want the binder device", fd, f)
	}
	if _, _, err := Open(th, kerneltest.Args(0, linux.O_RDONLY, 0)); err != linuxerr.EFAULT {
		t.Errorf("open(NULL): got %v, want %v", err, linuxerr.EFAULT)
	}
}

func TestIoctl(t *testing.T) {
	_, th := newTestThread(t)
	if _, _, err := Ioctl(th, kerneltest.Args(9, linux.FIONREAD, 0)); err != linuxerr.EBADF {
		t.Errorf("ioctl of a closed fd: got %v, want %v", err, linuxerr.EBADF)
	}
	if _, _, err := Ioctl(th, kerneltest.Args(kernel.StdoutFD, linux.FIONREAD, 0)); err != linuxerr.EINVAL {
		t.Errorf("ioctl of the console: got %v, want %v", err, linuxerr.EINVAL)
	}
}

func TestFutex(t *testing.T) {
	e, th := newTestThread(t)
	waker := e.NewThreadIn(th.Process())
	word := uint32(kerneltest.UserBase)
	e.WriteWords(th, kerneltest.UserBase, 5)
	const private = linux.FUTEX_PRIVATE_FLAG

	for _, tc := range []struct {
		name string
		args []uint32
		want error
	}{
		{name: "stale value", args: []uint32{word, linux.FUTEX_WAIT | private, 4, 0, 0, 0}, want: linuxerr.EWOULDBLOCK},
		{name: "realtime wait", args: []uint32{word, linux.FUTEX_WAIT | private | linux.FUTEX_CLOCK_REALTIME, 5, 0, 0, 0}, want: linuxerr.ENOSYS},
		{name: "requeue", args: []uint32{word, 3 | private, 1, 0, 0, 0}, want: linuxerr.ENOSYS},
		{name: "empty bitset", args: []uint32{word, linux.FUTEX_WAIT_BITSET | private, 5, 0, 0, 0}, want: linuxerr.EINVAL},
		{name: "bad timeout", args: []uint32{word, linux.FUTEX_WAIT | private, 5, 0x100, 0, 0}, want: linuxerr.EFAULT},
	} {
		if _, _, err := Futex(th, kerneltest.Args(tc.args...)); err != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	if _, _, err := Futex(th, kerneltest.Args(word, linux.FUTEX_WAIT|private, 5, 0, 0, 0)); err != linuxerr.ErrPending {
		t.Fatalf("wait: got %v, want %v", err, linuxerr.ErrPending)
	}
	if got := e.Kernel.FutexWaiters(); got != 1 {
		t.Errorf("waiters: got %d, want 1", got)
	}
	n, _, err := Futex(waker, kerneltest.Args(word, linux.FUTEX_WAKE|private, 10, 0, 0, 0))
	if err != nil || n != 1 {
		t.Errorf("wake: got (%d, %v), want (1, nil)", n, err)
	}
	if got := e.Kernel.FutexWaiters(); got != 0 {
		t.Errorf("waiters after wake: got %d, want 0", got)
	}
}

func TestSocketcall(t *testing.T) {
	e, th := newTestThread(t)
	argp := kerneltest.UserBase + 0x200

	if _, _, err := Socketcall(th, kerneltest.Args(20, uint32(argp))); err != linuxerr.EINVAL {
		t.Errorf("sendmmsg: got %v, want %v", err, linuxerr.EINVAL)
	}
	if _, _, err := Socketcall(th, kerneltest.Args(linux.SYS_SOCKET, 0)); err != linuxerr.EFAULT {
		t.Errorf("socket with unmapped arguments: got %v, want %v", err, linuxerr.EFAULT)
	}

	e.WriteWords(th, argp, 2, 1, 0)
	if _, _, err := Socketcall(th, kerneltest.Args(linux.SYS_SOCKET, uint32(argp))); err != linuxerr.ErrPending {
		t.Fatalf("socket: got %v, want %v", err, linuxerr.ErrPending)
	}
	sends := e.SendsTo(helper.OpSocketAsync)
	if len(sends) != 1 {
		t.Fatalf("SOCKET_ASYNC requests: got %d, want 1", len(sends))
	}
	if got, want := sends[0].Words[3:], []uint32{2, 1, 0}; !cmp.Equal(got, want) {
		t.Errorf("socket arguments: got %v, want %v", got, want)
	}

	for _, tc := range []struct {
		name string
		args []uint32
		want error
	}{
		{name: "bind of the console", args: []uint32{kernel.StdoutFD, uint32(kerneltest.UserBase), 16}, want: linuxerr.ENOTSOCK},
		{name: "bind of a closed fd", args: []uint32{9, uint32(kerneltest.UserBase), 16}, want: linuxerr.EBADF},
	} {
		e.WriteWords(th, argp, tc.args...)
		if _, _, err := Socketcall(th, kerneltest.Args(linux.SYS_BIND, uint32(argp))); err != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestMmapSharedAshmem(t *testing.T) {
	e, th := newTestThread(t)
	if err := th.Process().AddressSpace().AddStackMapping(e.Ctx, testStack, hostarch.PageSize); err != nil {
		t.Fatalf("AddStackMapping failed: %v", err)
	}
	inode := fs.NewAshmemInode(e.Kernel, kerneltest.HelperPID, 20)
	fd := th.FDTable().AllocFD(fs.NewFile(inode, linux.O_RDWR, 0))
	e.Helper.Reply(uint32(helper.OpAlienMmap2), uint32(helper.OpAlienMmap2), 0x60000000)
	const prot = linux.PROT_READ | linux.PROT_WRITE

	if _, _, err := Mmap2(th, kerneltest.Args(uint32(kerneltest.UserBase), hostarch.PageSize, prot, linux.MAP_SHARED, uint32(fd), 0)); err != linuxerr.EINVAL {
		t.Errorf("shared mapping at a hint: got %v, want %v", err, linuxerr.EINVAL)
	}
	addr, _, err := Mmap2(th, kerneltest.Args(0, hostarch.PageSize, prot, linux.MAP_SHARED, uint32(fd), 0))
	if err != nil {
		t.Fatalf("mmap2 failed: %v", err)
	}
	if base, ok := inode.AlienShadowBase(); !ok || base != 0x60000000 {
		t.Errorf("shadow: got (%v, %t), want (0x60000000, true)", base, ok)
	}
	r := th.Process().AddressSpace().Find(hostarch.Addr(addr))
	if r == nil || !r.Shared() {
		t.Errorf("region at %#x: got %v, want a shared mapping", addr, r)
	}
}
