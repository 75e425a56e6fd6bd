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
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/google/go-cmp/cmp"
)

func (e *testEnv) allocBuffer(data string) *pgalloc.Buffer {
	e.t.Helper()
	buf, ok := e.k.helper.Window().AllocBuffer(uint32(max(len(data), 1)))
	if !ok {
		e.t.Fatalf("AllocBuffer failed")
	}
	copy(buf.Bytes(), data)
	return buf
}

func TestResumeIO(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	f := fs.NewFile(fs.NewArchInode(e.k, testHelperPID, 9, 100), linux.O_RDWR, 0)
	avail := e.k.helper.Window().Available()

	if got := th.resumeIO(NewIOCompletion(th, e.allocBuffer("data"), false, f, userBase), 4, 10); got != 4 {
		t.Errorf("read: got %d, want 4", got)
	}
	if got := string(e.read(th, userBase, 4)); got != "data" {
		t.Errorf("read data: got %q, want %q", got, "data")
	}
	if f.Position != 10 {
		t.Errorf("position after read: got %d, want 10", f.Position)
	}

	if got := th.resumeIO(NewIOCompletion(th, e.allocBuffer("xxxxxx"), true, f, 0), 6, 106); got != 6 {
		t.Errorf("write: got %d, want 6", got)
	}
	if f.Position != 106 || f.Inode.Size() != 106 {
		t.Errorf("after write: position %d, size %d; want 106, 106", f.Position, f.Inode.Size())
	}

	// Positional transfers leave the cursor alone.
	if got := th.resumeIO(NewIOCompletion(th, e.allocBuffer("ab"), false, nil, userBase), 2, 50); got != 2 {
		t.Errorf("pread: got %d, want 2", got)
	}
	if f.Position != 106 {
		t.Errorf("position after pread: got %d, want 106", f.Position)
	}

	if got := th.resumeIO(NewIOCompletion(th, e.allocBuffer(""), false, f, userBase), -5, 0); got != -5 {
		t.Errorf("failed read: got %d, want -5", got)
	}
	if got, want := th.resumeIO(NewIOCompletion(th, e.allocBuffer(""), false, f, userBase), 1<<20, 0), linuxerr.ToReturn(linuxerr.EIO); got != want {
		t.Errorf("oversized read: got %d, want %d", got, want)
	}
	if got := e.k.helper.Window().Available(); got != avail {
		t.Errorf("window pages: got %d, want %d", got, avail)
	}
}

func TestResumeShortRead(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	f := fs.NewFile(fs.NewArchInode(e.k, testHelperPID, 9, 100), linux.O_RDONLY, 0)
	// Only the last two bytes of the read fit in the mapping.
	addr := userBase + userSize - 2
	if got := th.resumeIO(NewIOCompletion(th, e.allocBuffer("abcd"), false, f, addr), 4, 20); got != 4 {
		t.Errorf("read: got %d, want 4", got)
	}
	if f.Position != 18 {
		t.Errorf("position: got %d, want 18", f.Position)
	}
}

func TestResumeOpenFile(t *testing.T) {
	e := newTestEnv(t, nil)
	th := e.newThread()
	if got := th.resumeOpenFile(NewOpenFileCompletion(th, nil, fs.KindArch, linux.O_RDONLY, 0), 9, 1234); got != 3 {
		t.Fatalf("open: got fd %d, want 3", got)
	}
	f := th.GetFile(3)
	if f.Inode.Kind() != fs.KindArch || f.Inode.LinuxFd != 9 || f.Inode.Size() != 1234 {
		t.Errorf("opened %v with helper fd %d and size %d", f.Inode.Kind(), f.Inode.LinuxFd, f.Inode.Size())
	}
	if got := th.resumeOpenFile(NewOpenFileCompletion(th, nil, fs.KindArch, linux.O_RDONLY, 0), -2, 0); got != -2 {
		t.Errorf("failed open: got %d, want -2", got)
	}
}

// denyAll is a policy refusing everything.
type denyAll struct{}

func (denyAll) CanAccessFile(*Thread, []byte) bool               { return false }
func (denyAll) CanCreateVBinderChannel(*Thread, int32, int32) bool { return false }

func TestSecureFileAccessDenied(t *testing.T) {
	e := newTestEnv(t, nil)
	e.k.security = NewSecurityManager(denyAll{})
	th := e.newThread()
	c := NewOpenFileCompletion(th, e.allocBuffer("header"), fs.KindSecureFS, linux.O_RDWR, 0)
	if got, want := th.resumeOpenFile(c, 12, 4096), linuxerr.ToReturn(linuxerr.EACCES); got != want {
		t.Errorf("open: got %d, want %d", got, want)
	}
	var closed [][]uint32
	for _, r := range e.platform.CallsTo(uint32(helper.OpClose)) {
		closed = append(closed, r.Words)
	}
	if diff := cmp.Diff([][]uint32{{uint32(helper.OpClose), testHelperPID, 12}}, closed); diff != "" {
		t.Errorf("close requests mismatch (-want +got):\n%s", diff)
	}
	if th.GetFile(3) != nil {
		t.Errorf("denied file was installed")
	}
}

func TestVBinderRegisterDenied(t *testing.T) {
	e := newTestEnv(t, nil)
	e.k.security = NewSecurityManager(denyAll{})
	th := e.newThread()
	if _, err := th.VBinder(VBinderRegisterChannel, testLabel, 0, 0); err != linuxerr.EPERM {
		t.Errorf("register: got %v, want EPERM", err)
	}
}
