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

package fs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs/sfs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform/platformtest"
	"github.com/google/go-cmp/cmp"
)

const testPID = 7

var testKey = []byte("0123456789abcdef")

// diskWriter grows a byte slice on WriteAt.
type diskWriter struct {
	b *[]byte
}

func (d diskWriter) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(*d.b) {
		*d.b = append(*d.b, make([]byte, end-len(*d.b))...)
	}
	return copy((*d.b)[off:], p), nil
}

// testEnv is an Env over a fake helper serving one file from disk.
type testEnv struct {
	client  *helper.Client
	p       *platformtest.Platform
	h       *platformtest.Helper
	console bytes.Buffer
	disk    []byte
	flushes int
}

var _ Env = (*testEnv)(nil)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{h: platformtest.NewHelper()}
	e.p = platformtest.New(e.h)
	window := pgalloc.NewPool("completion", 0x2000000, make([]byte, 64*hostarch.PageSize))
	c, err := helper.NewClient(e.p, window, 0x70000000, 0x100000)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	e.client = c
	e.h.Reply(uint32(helper.OpClose), 0, 0)
	e.h.Handle(uint32(helper.OpVFSRead), func(w []uint32) ([]uint32, error) {
		count, pos := w[3], w[4]
		if pos >= uint32(len(e.disk)) {
			return []uint32{0, 0, pos}, nil
		}
		n := copy(e.c().SyncBuffer()[:count], e.disk[pos:])
		return []uint32{0, uint32(n), pos + uint32(n)}, nil
	})
	e.h.Handle(uint32(helper.OpFtruncate), func(w []uint32) ([]uint32, error) {
		size := int(w[3])
		if size < len(e.disk) {
			e.disk = e.disk[:size]
		} else {
			e.disk = append(e.disk, make([]byte, size-len(e.disk))...)
		}
		return []uint32{0, 0}, nil
	})
	e.h.Handle(uint32(helper.OpFstatCombined), func(w []uint32) ([]uint32, error) {
		st := linux.Stat64(e.c().SyncBuffer()[:linux.SizeOfStat64])
		clear(st)
		hostarch.ByteOrder.PutUint32(st[16:], linux.S_IFREG|0600)
		st.SetSize(int64(len(e.disk)))
		return []uint32{0, 0, linux.SizeOfStat64}, nil
	})
	return e
}

func (e *testEnv) c() *helper.Client { return e.client }

func (e *testEnv) Helper() *helper.Client { return e.client }

func (e *testEnv) Console() io.Writer { return &e.console }

func (e *testEnv) FlushSecureFS(_ context.Context, _, _ int32, buf *pgalloc.Buffer, pageCount uint32) error {
	defer buf.Dispose()
	e.flushes++
	return sfs.ApplyFlush(diskWriter{&e.disk}, buf.Bytes(), pageCount)
}

func (e *testEnv) closes() int {
	return len(e.p.CallsTo(uint32(helper.OpClose)))
}

// userMemory is a flat user address space starting at userBase.
type userMemory struct {
	b []byte
}

const userBase = 0x10000

func (m *userMemory) slice(addr hostarch.Addr, n int) ([]byte, error) {
	if addr < userBase || int(addr-userBase)+n > len(m.b) {
		return nil, linuxerr.EFAULT
	}
	return m.b[addr-userBase : int(addr-userBase)+n], nil
}

func (m *userMemory) CopyIn(_ context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	s, err := m.slice(addr, len(dst))
	if err != nil {
		return 0, err
	}
	return copy(dst, s), nil
}

func (m *userMemory) CopyOut(_ context.Context, addr hostarch.Addr, src []byte) (int, error) {
	s, err := m.slice(addr, len(src))
	if err != nil {
		return 0, err
	}
	return copy(s, src), nil
}

func (m *userMemory) CopyInString(_ context.Context, addr hostarch.Addr, maxLen int) (string, error) {
	if addr < userBase || int(addr-userBase) >= len(m.b) {
		return "", linuxerr.EFAULT
	}
	rest := m.b[addr-userBase:]
	n := bytes.IndexByte(rest, 0)
	if n < 0 {
		return "", linuxerr.EFAULT
	}
	if n > maxLen {
		return "", linuxerr.ENAMETOOLONG
	}
	return string(rest[:n]), nil
}

func TestKinds(t *testing.T) {
	for _, tc := range []struct {
		kind    Kind
		name    string
		linuxFd bool
		alien   bool
	}{
		{KindArch, "Arch", true, false},
		{KindConsole, "Console", false, false},
		{KindBinder, "Binder", false, false},
		{KindBinderShared, "BinderShared", true, true},
		{KindAshmem, "Ashmem", true, true},
		{KindScreenBuffer, "ScreenBuffer", true, true},
		{KindSecureFS, "SecureFS", true, false},
		{KindSocket, "Socket", true, false},
	} {
		if got := tc.kind.String(); got != tc.name {
			t.Errorf("String(%d): got %q, want %q", int(tc.kind), got, tc.name)
		}
		if got := tc.kind.HasLinuxFd(); got != tc.linuxFd {
			t.Errorf("%v.HasLinuxFd(): got %t, want %t", tc.kind, got, tc.linuxFd)
		}
		if got := tc.kind.Alien(); got != tc.alien {
			t.Errorf("%v.Alien(): got %t, want %t", tc.kind, got, tc.alien)
		}
	}
	if got, want := NumKinds, 8; got != want {
		t.Errorf("NumKinds: got %d, want %d", got, want)
	}
}

func TestCloseAtZeroReferences(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	i := NewArchInode(e, testPID, 12, 100)
	f := NewFile(i, linux.O_RDONLY, 0)
	// A memory region maps the file too.
	i.IncRef()
	f.Close(ctx)
	if i.Closed() || e.closes() != 0 {
		t.Fatalf("inode closed with a region still mapping it")
	}
	i.DecRef(ctx)
	if !i.Closed() {
		t.Errorf("inode still open after the last reference")
	}
	calls := e.p.CallsTo(uint32(helper.OpClose))
	if diff := cmp.Diff([]uint32{uint32(helper.OpClose), testPID, 12}, calls[0].Words); diff != "" || len(calls) != 1 {
		t.Errorf("CLOSE calls: got %d, words mismatch (-want +got):\n%s", len(calls), diff)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("DecRef below zero did not panic")
		}
	}()
	i.DecRef(ctx)
}

func TestConsoleAndBinderCloseLocally(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	for _, i := range []*Inode{NewConsoleInode(e), NewBinderInode(e)} {
		i.IncRef()
		i.DecRef(ctx)
		if !i.Closed() {
			t.Errorf("%v not closed", i)
		}
	}
	if got := e.closes(); got != 0 {
		t.Errorf("CLOSE calls: got %d, want 0", got)
	}
}

func TestStdout(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	f := NewStdout(e)
	if f.Readable() || !f.Writable() {
		t.Errorf("stdout: readable %t, writable %t", f.Readable(), f.Writable())
	}
	if n, err := f.Inode.WriteAt(ctx, []byte("hello\n"), 0); err != nil || n != 6 {
		t.Errorf("WriteAt: got (%d, %v), want (6, nil)", n, err)
	}
	if got := e.console.String(); got != "hello\n" {
		t.Errorf("console: got %q, want %q", got, "hello\n")
	}
	if _, err := f.Inode.ReadAt(ctx, make([]byte, 1), 0); err != linuxerr.EINVAL {
		t.Errorf("ReadAt on the console: got %v, want %v", err, linuxerr.EINVAL)
	}
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	for _, tc := range []struct {
		name     string
		start    uint32
		offset   int64
		whence   int32
		want     uint32
		wantSize uint32
		err      error
	}{
		{name: "set", offset: 40, whence: linux.SEEK_SET, want: 40, wantSize: 100},
		{name: "set past end grows", offset: 150, whence: linux.SEEK_SET, want: 150, wantSize: 150},
		{name: "cur", start: 10, offset: 5, whence: linux.SEEK_CUR, want: 15, wantSize: 100},
		{name: "cur past end clamps", start: 10, offset: 500, whence: linux.SEEK_CUR, want: 100, wantSize: 100},
		{name: "end", offset: -30, whence: linux.SEEK_END, want: 70, wantSize: 100},
		{name: "negative rewinds", start: 10, offset: -50, whence: linux.SEEK_CUR, want: 0, wantSize: 100},
		{name: "bad whence", start: 10, whence: 7, want: 10, wantSize: 100, err: linuxerr.EINVAL},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFile(NewArchInode(e, testPID, 3, 100), linux.O_RDWR, 0)
			f.Position = tc.start
			got, err := f.Seek(ctx, tc.offset, tc.whence)
			if err != tc.err {
				t.Fatalf("Seek: got error %v, want %v", err, tc.err)
			}
			if err == nil && got != tc.want {
				t.Errorf("Seek: got %d, want %d", got, tc.want)
			}
			if f.Position != tc.want {
				t.Errorf("Position: got %d, want %d", f.Position, tc.want)
			}
			if size := f.Inode.Size(); size != tc.wantSize {
				t.Errorf("Size: got %d, want %d", size, tc.wantSize)
			}
		})
	}
}

func TestFDTable(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	tbl := NewFDTable()
	if got := tbl.GetUnusedFD(); got != 3 {
		t.Errorf("first free fd: got %d, want 3", got)
	}
	if tbl.Get(0) != nil || tbl.Get(-1) != nil || tbl.Get(DefaultTableSize) != nil {
		t.Errorf("Get of an invalid fd returned a file")
	}

	files := make(map[int32]*File)
	for fd := int32(3); fd < DefaultTableSize; fd++ {
		f := NewFile(NewConsoleInode(e), linux.O_WRONLY, 0)
		if got := tbl.AllocFD(f); got != fd {
			t.Fatalf("AllocFD: got %d, want %d", got, fd)
		}
		files[fd] = f
	}
	// A full table doubles and keeps its contents.
	if got := tbl.GetUnusedFD(); got != DefaultTableSize {
		t.Errorf("fd after growth: got %d, want %d", got, DefaultTableSize)
	}
	if got := tbl.Size(); got != 2*DefaultTableSize {
		t.Errorf("Size after growth: got %d, want %d", got, 2*DefaultTableSize)
	}
	for fd, f := range files {
		if tbl.Get(fd) != f {
			t.Fatalf("fd %d lost on growth", fd)
		}
	}

	if got := tbl.Remove(10); got != files[10] {
		t.Errorf("Remove(10): got %v, want %v", got, files[10])
	}
	if got := tbl.GetUnusedFD(); got != 10 {
		t.Errorf("fd after Remove(10): got %d, want 10", got)
	}
	files[10].Close(ctx)

	tbl.Release(ctx)
	for fd, f := range files {
		if !f.Inode.Closed() {
			t.Errorf("fd %d not closed by Release", fd)
		}
	}
}

func TestFDTableAddOverOpenPanics(t *testing.T) {
	e := newTestEnv(t)
	tbl := NewFDTable()
	tbl.Add(1, NewStdout(e))
	defer func() {
		if recover() == nil {
			t.Errorf("Add over an open fd did not panic")
		}
	}()
	tbl.Add(1, NewStdout(e))
}

func TestArchTruncateAndStat(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.disk = make([]byte, 300)
	i := NewArchInode(e, testPID, 5, 300)
	if err := i.Truncate(ctx, -1); err != linuxerr.EINVAL {
		t.Errorf("Truncate(-1): got %v, want %v", err, linuxerr.EINVAL)
	}
	if err := i.Truncate(ctx, 120); err != nil {
		t.Fatalf("Truncate(120): %v", err)
	}
	if got := i.Size(); got != 120 {
		t.Errorf("Size: got %d, want 120", got)
	}
	st, err := i.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size() != 120 || st.IsDir() {
		t.Errorf("Stat: got size %d dir %t, want 120 false", st.Size(), st.IsDir())
	}
	if _, err := NewSocketInode(e, testPID, 6).Stat(ctx); err != linuxerr.EINVAL {
		t.Errorf("Stat of a socket: got %v, want %v", err, linuxerr.EINVAL)
	}
	buf := make([]byte, 10)
	e.disk[50] = 'x'
	if n, err := i.ReadPage(ctx, buf, 50); err != nil || n != 10 || buf[0] != 'x' {
		t.Errorf("ReadPage: got (%d, %v, %q)", n, err, buf[0])
	}
}

func TestSecureFSInode(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	window := e.client.Window().Available()

	i, err := NewSecureFSInode(e, testPID, 9, testKey, sfs.DefaultMACKey, nil, 0)
	if err != nil {
		t.Fatalf("NewSecureFSInode: %v", err)
	}
	f := NewFile(i, linux.O_RDWR, 0)
	data := bytes.Repeat([]byte("secret "), 1000)
	if n, err := f.Inode.WriteAt(ctx, data, 0); err != nil || n != len(data) {
		t.Fatalf("WriteAt: got (%d, %v)", n, err)
	}
	if got := f.Inode.Size(); got != uint32(len(data)) {
		t.Errorf("Size: got %d, want %d", got, len(data))
	}
	f.Close(ctx)
	if e.flushes != 1 || e.closes() != 1 {
		t.Errorf("after close: %d flushes and %d CLOSE calls, want 1 and 1", e.flushes, e.closes())
	}
	if got := e.client.Window().Available(); got != window {
		t.Errorf("free window pages: got %d, want %d", got, window)
	}
	if bytes.Contains(e.disk, []byte("secret")) {
		t.Errorf("plaintext on disk")
	}

	i, err = NewSecureFSInode(e, testPID, 10, testKey, sfs.DefaultMACKey, e.disk[:hostarch.PageSize], uint32(len(e.disk)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := make([]byte, len(data))
	if n, err := i.ReadAt(ctx, got, 0); err != nil || n != len(data) {
		t.Fatalf("ReadAt: got (%d, %v)", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("contents differ after reopen")
	}
	st, err := i.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size() != int64(len(data)) {
		t.Errorf("Stat size: got %d, want %d", st.Size(), len(data))
	}

	e.disk[hostarch.PageSize+hostarch.PageSize/2] ^= 1
	i, err = NewSecureFSInode(e, testPID, 11, testKey, sfs.DefaultMACKey, e.disk[:hostarch.PageSize], uint32(len(e.disk)))
	if err != nil {
		t.Fatalf("reopen after corruption: %v", err)
	}
	if _, err := i.ReadPage(ctx, got[:hostarch.PageSize], 0); err != linuxerr.EIO {
		t.Errorf("ReadPage of a corrupted page: got %v, want %v", err, linuxerr.EIO)
	}
}

func TestAshmemIoctl(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	mem := &userMemory{b: make([]byte, 2*hostarch.PageSize)}
	copy(mem.b, "dalvik-heap\x00")
	i := NewAshmemInode(e, testPID, 4)

	var gotName string
	e.h.Handle(uint32(helper.OpAshmemIoctl), func(w []uint32) ([]uint32, error) {
		sync := e.client.SyncBuffer()
		switch w[3] {
		case linux.ASHMEM_SET_NAME:
			gotName = string(sync[:bytes.IndexByte(sync, 0)])
		case linux.ASHMEM_GET_NAME:
			copy(sync, "region\x00")
		case linux.ASHMEM_GET_SIZE:
			return []uint32{0, 8192}, nil
		}
		return []uint32{0, 0}, nil
	})
	e.h.Handle(uint32(helper.OpLinuxIoctl), func(w []uint32) ([]uint32, error) {
		hostarch.ByteOrder.PutUint32(e.client.SyncBuffer(), 42)
		return []uint32{0, 0}, nil
	})

	if _, err := i.Ioctl(ctx, mem, linux.ASHMEM_SET_NAME, userBase); err != nil {
		t.Fatalf("ASHMEM_SET_NAME: %v", err)
	}
	if gotName != "dalvik-heap" {
		t.Errorf("name seen by the helper: got %q, want %q", gotName, "dalvik-heap")
	}
	if _, err := i.Ioctl(ctx, mem, linux.ASHMEM_GET_NAME, userBase+0x100); err != nil {
		t.Fatalf("ASHMEM_GET_NAME: %v", err)
	}
	if got := string(mem.b[0x100:0x107]); got != "region\x00" {
		t.Errorf("name copied out: got %q", got)
	}
	if ret, err := i.Ioctl(ctx, mem, linux.ASHMEM_GET_SIZE, 0); err != nil || ret != 8192 {
		t.Errorf("ASHMEM_GET_SIZE: got (%d, %v), want (8192, nil)", ret, err)
	}
	if _, err := i.Ioctl(ctx, mem, linux.ASHMEM_PIN, 0x5); err != linuxerr.EFAULT {
		t.Errorf("ASHMEM_PIN with a bad pointer: got %v, want %v", err, linuxerr.EFAULT)
	}
	if _, err := i.Ioctl(ctx, mem, 0x77ff, 0); err != linuxerr.ENOSYS {
		t.Errorf("unknown ashmem ioctl: got %v, want %v", err, linuxerr.ENOSYS)
	}
	if _, err := i.Ioctl(ctx, mem, linux.FIONREAD, userBase+0x200); err != nil {
		t.Fatalf("FIONREAD: %v", err)
	}
	if got := hostarch.ByteOrder.Uint32(mem.b[0x200:]); got != 42 {
		t.Errorf("FIONREAD result: got %d, want 42", got)
	}
	if _, err := NewConsoleInode(e).Ioctl(ctx, mem, linux.FIONREAD, userBase); err != linuxerr.ENOTTY {
		t.Errorf("ioctl on the console: got %v, want %v", err, linuxerr.ENOTTY)
	}
}

func TestAlienShadow(t *testing.T) {
	e := newTestEnv(t)
	a := NewAshmemInode(e, testPID, 4)
	if _, ok := a.AlienShadowBase(); ok {
		t.Errorf("ashmem inode has a shadow before mmap")
	}
	a.SetAlienShadow(0x40000000)
	if got, ok := a.AlienShadowBase(); !ok || got != 0x40000000 {
		t.Errorf("AlienShadowBase: got (%v, %t), want (0x40000000, true)", got, ok)
	}
	b := NewBinderSharedInode(e, testPID, 5)
	b.SetAlienShadow(0x50000000)
	if got, ok := b.AlienShadowBase(); !ok || got != 0x50000000 {
		t.Errorf("binder shared AlienShadowBase: got (%v, %t)", got, ok)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("SetAlienShadow on an Arch inode did not panic")
		}
	}()
	NewArchInode(e, testPID, 6, 0).SetAlienShadow(0x1000)
}
