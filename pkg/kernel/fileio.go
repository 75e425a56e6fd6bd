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
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/fs/sfs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// Device paths served by the kernel rather than the helper's file system.
const (
	BinderPath = "/dev/binder"
	AshmemPath = "/dev/ashmem"
)

// secureReadAheadPages is the number of leading pages of a secure file read
// by its open. They hold the header.
const secureReadAheadPages = sfs.DefaultDataPageOffset

// allocScratch allocates a completion buffer of n bytes from the scratch
// window.
func (t *Thread) allocScratch(n uint32) (*pgalloc.Buffer, error) {
	buf, ok := t.k.helper.Window().AllocBuffer(max(n, 1))
	if !ok {
		return nil, linuxerr.ENOMEM
	}
	return buf, nil
}

// pathBuffer returns a scratch buffer of size bytes holding path and its
// terminator.
func (t *Thread) pathBuffer(path string, size uint32) (*pgalloc.Buffer, error) {
	if uint32(len(path)) >= size {
		return nil, linuxerr.ENAMETOOLONG
	}
	buf, err := t.allocScratch(size)
	if err != nil {
		return nil, err
	}
	b := buf.Bytes()
	n := copy(b, path)
	b[n] = 0
	return buf, nil
}

// issue suspends t on c once send succeeds. A transport failure disposes of
// c and fails the call with EIO.
func (t *Thread) issue(c Completion, send func() error) error {
	if err := send(); err != nil {
		log.Warningf("%v: %v request failed: %v", t, c.Kind(), err)
		c.Dispose()
		return linuxerr.EIO
	}
	return t.Suspend(c)
}

// Open implements open(2). The binder and ashmem devices are opened in
// place; other files are opened by the helper and t suspends.
func (t *Thread) Open(path string, flags, mode uint32) (int32, error) {
	start := t.k.nowMillis()
	var inode *fs.Inode
	switch {
	case path == BinderPath:
		inode = t.k.binder
	case path == AshmemPath:
		fd, err := t.k.helper.Open(t, t.p.HelperPID, path, flags, mode)
		if err != nil {
			return 0, linuxerr.EIO
		}
		if fd < 0 {
			return 0, linuxerr.FromReturn(fd)
		}
		inode = fs.NewAshmemInode(t.k, t.p.HelperPID, fd)
	case t.isSecureFile(path):
		buf, err := t.pathBuffer(path, secureReadAheadPages*hostarch.PageSize)
		if err != nil {
			return 0, err
		}
		c := NewOpenFileCompletion(t, buf, fs.KindSecureFS, flags, mode)
		return 0, t.issue(c, func() error {
			return t.k.helper.OpenAndReadPagesAsync(t, t.p.HelperPID, c.handle, buf, secureReadAheadPages, flags, mode)
		})
	default:
		buf, err := t.pathBuffer(path, linux.PATH_MAX)
		if err != nil {
			return 0, err
		}
		c := NewOpenFileCompletion(t, buf, fs.KindArch, flags, mode)
		return 0, t.issue(c, func() error {
			return t.k.helper.OpenAndGetSizeAsync(t, t.p.HelperPID, c.handle, buf, flags, mode)
		})
	}
	fd := t.p.fds.AllocFD(fs.NewFile(inode, flags, mode))
	t.k.profiler.AccountOpen(int(inode.Kind()), time.Duration(t.k.nowMillis()-start)*time.Millisecond)
	return fd, nil
}

// isSecureFile returns true if path names a secure file: it lies under the
// process's secure prefix and is not a directory.
func (t *Thread) isSecureFile(path string) bool {
	if !t.p.IsSecureFSPath(path) {
		return false
	}
	ret, st, err := t.k.helper.Stat64(t, t.p.HelperPID, path)
	return err != nil || ret != 0 || !st.IsDir()
}

// Access implements access(2) through the helper.
func (t *Thread) Access(path string, mode uint32) error {
	buf, err := t.pathBuffer(path, linux.PATH_MAX)
	if err != nil {
		return err
	}
	c := NewBridgeCompletion(t, buf)
	return t.issue(c, func() error {
		return t.k.helper.AccessAsync(t, t.p.HelperPID, c.handle, buf, mode)
	})
}

// ReadFile reads up to n bytes of f at pos into addr. If advance is set the
// file cursor moves past the data read. Helper-backed files suspend t.
func (t *Thread) ReadFile(f *fs.File, addr hostarch.Addr, n, pos uint32, advance bool) (int32, error) {
	switch f.Inode.Kind() {
	case fs.KindArch, fs.KindSocket:
		buf, err := t.allocScratch(n)
		if err != nil {
			return 0, err
		}
		cursor := f
		if !advance {
			cursor = nil
		}
		c := NewIOCompletion(t, buf, false, cursor, addr)
		return 0, t.issue(c, func() error {
			return t.k.helper.ReadAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, n, pos)
		})
	case fs.KindSecureFS:
		data := make([]byte, n)
		got, err := f.Inode.ReadAt(t, data, pos)
		if err != nil {
			return 0, err
		}
		if err := t.CopyOutBytes(addr, data[:got]); err != nil {
			return 0, err
		}
		if advance && got > 0 {
			f.Position = pos + uint32(got)
		}
		return int32(got), nil
	default:
		return 0, linuxerr.EINVAL
	}
}

// WriteFile writes src to f at its cursor. Helper-backed files suspend t.
func (t *Thread) WriteFile(f *fs.File, src []byte) (int32, error) {
	pos := f.Position
	switch f.Inode.Kind() {
	case fs.KindConsole:
		n, err := f.Inode.WriteAt(t, src, pos)
		return int32(n), err
	case fs.KindArch, fs.KindSocket:
		buf, err := t.allocScratch(uint32(len(src)))
		if err != nil {
			return 0, err
		}
		copy(buf.Bytes(), src)
		c := NewIOCompletion(t, buf, true, f, 0)
		return 0, t.issue(c, func() error {
			return t.k.helper.WriteAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, uint32(len(src)), pos)
		})
	case fs.KindSecureFS:
		n, err := f.Inode.WriteAt(t, src, pos)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			f.Position = pos + uint32(n)
		}
		return int32(n), nil
	default:
		return 0, linuxerr.EINVAL
	}
}

// SetThreadArea installs the TLS descriptor desc for t.
func (t *Thread) SetThreadArea(desc *linux.UserDesc) error {
	return t.k.platform.SetThreadArea(t, t.handle, desc)
}
