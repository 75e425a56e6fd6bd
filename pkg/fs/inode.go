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
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs/sfs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/memmap"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// Kind identifies the variant of an inode.
type Kind int

// Inode kinds.
const (
	// KindArch is a regular file, pipe or device opened by the helper.
	KindArch Kind = iota
	KindConsole
	KindBinder
	KindBinderShared
	KindAshmem
	KindScreenBuffer
	KindSecureFS
	KindSocket

	numKinds
)

// NumKinds is the number of inode kinds.
const NumKinds = int(numKinds)

var kindNames = [...]string{
	KindArch:         "Arch",
	KindConsole:      "Console",
	KindBinder:       "Binder",
	KindBinderShared: "BinderShared",
	KindAshmem:       "Ashmem",
	KindScreenBuffer: "ScreenBuffer",
	KindSecureFS:     "SecureFS",
	KindSocket:       "Socket",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HasLinuxFd returns true if inodes of kind k front a helper fd.
func (k Kind) HasLinuxFd() bool {
	switch k {
	case KindArch, KindBinderShared, KindAshmem, KindScreenBuffer, KindSecureFS, KindSocket:
		return true
	default:
		return false
	}
}

// Alien returns true if the pages of inodes of kind k are owned by the
// helper and mapped through a shadow address.
func (k Kind) Alien() bool {
	switch k {
	case KindAshmem, KindBinderShared, KindScreenBuffer:
		return true
	default:
		return false
	}
}

var lastID atomic.Uint64

// Inode is a kind-tagged file object. Inodes are reference counted by files
// and memory regions and closed when the last reference goes away.
type Inode struct {
	kind Kind
	env  Env
	id   uint64

	// pid is the helper process holding LinuxFd.
	pid int32

	// LinuxFd is the helper's descriptor, if the kind has one.
	LinuxFd int32

	refs   int64
	closed bool

	// size is the file size of an Arch inode.
	size uint32

	// shadow is the helper address of an alien inode's memory, valid
	// once hasShadow is set.
	shadow    hostarch.Addr
	hasShadow bool

	// secure is the SecureFS state of a KindSecureFS inode.
	secure *sfs.File
}

var _ memmap.Mappable = (*Inode)(nil)

func newInode(env Env, kind Kind, pid, fd int32) *Inode {
	return &Inode{
		kind:    kind,
		env:     env,
		id:      lastID.Add(1),
		pid:     pid,
		LinuxFd: fd,
	}
}

// NewArchInode returns an inode for helper fd of the given size.
func NewArchInode(env Env, pid, fd int32, size uint32) *Inode {
	i := newInode(env, KindArch, pid, fd)
	i.size = size
	return i
}

// NewConsoleInode returns the console inode.
func NewConsoleInode(env Env) *Inode {
	return newInode(env, KindConsole, 0, -1)
}

// NewBinderInode returns the binder device inode. There is one per kernel.
func NewBinderInode(env Env) *Inode {
	return newInode(env, KindBinder, 0, -1)
}

// NewBinderSharedInode returns the inode of a descriptor another process
// passed over binder. Its memory lives in the helper once mapped.
func NewBinderSharedInode(env Env, pid, fd int32) *Inode {
	return newInode(env, KindBinderShared, pid, fd)
}

// NewAshmemInode returns an inode for an ashmem region opened by the helper.
func NewAshmemInode(env Env, pid, fd int32) *Inode {
	return newInode(env, KindAshmem, pid, fd)
}

// NewScreenBufferInode returns an inode for a frame buffer passed over
// binder by the window manager.
func NewScreenBufferInode(env Env, pid, fd int32) *Inode {
	return newInode(env, KindScreenBuffer, pid, fd)
}

// NewSocketInode returns an inode for a helper socket.
func NewSocketInode(env Env, pid, fd int32) *Inode {
	return newInode(env, KindSocket, pid, fd)
}

// NewSecureFSInode returns an inode for a secure file opened by the helper
// as fd. meta holds the file's leading pages as read by the open and
// sizeOnDisk its raw size. key is the owner's credential key.
func NewSecureFSInode(env Env, pid, fd int32, key, macKey, meta []byte, sizeOnDisk uint32) (*Inode, error) {
	i := newInode(env, KindSecureFS, pid, fd)
	f, err := sfs.Open(secureBackend{i}, env.Helper().Window(), key, macKey, meta, sizeOnDisk)
	if err != nil {
		return nil, err
	}
	i.secure = f
	return i, nil
}

// Kind returns the inode variant.
func (i *Inode) Kind() Kind {
	return i.kind
}

// PID returns the helper process holding LinuxFd.
func (i *Inode) PID() int32 {
	return i.pid
}

// Secure returns the SecureFS file of a KindSecureFS inode, or nil.
func (i *Inode) Secure() *sfs.File {
	return i.secure
}

// SetAlienShadow records where the helper maps the inode's memory.
func (i *Inode) SetAlienShadow(addr hostarch.Addr) {
	if !i.kind.Alien() {
		panic(fmt.Sprintf("%v inode has no alien memory", i.kind))
	}
	i.shadow = addr
	i.hasShadow = true
}

// String implements fmt.Stringer.String.
func (i *Inode) String() string {
	return fmt.Sprintf("%v inode %d (fd %d, refs %d)", i.kind, i.id, i.LinuxFd, i.refs)
}

// ID implements memmap.Mappable.ID.
func (i *Inode) ID() uint64 {
	return i.id
}

// AlienShadowBase implements memmap.Mappable.AlienShadowBase.
func (i *Inode) AlienShadowBase() (hostarch.Addr, bool) {
	return i.shadow, i.hasShadow
}

// ReadPage implements memmap.Mappable.ReadPage.
func (i *Inode) ReadPage(ctx context.Context, dst []byte, off uint32) (int, error) {
	switch i.kind {
	case KindArch:
		n, _, err := i.env.Helper().Read(ctx, i.pid, i.LinuxFd, dst, off)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, linuxerr.FromReturn(n)
		}
		return int(n), nil
	case KindSecureFS:
		return i.secure.Read(ctx, dst, off)
	default:
		return 0, linuxerr.EINVAL
	}
}

// IncRef implements memmap.Mappable.IncRef.
func (i *Inode) IncRef() {
	if i.closed {
		panic(fmt.Sprintf("IncRef on closed %v", i))
	}
	i.refs++
}

// DecRef implements memmap.Mappable.DecRef. Dropping the last reference
// closes the inode.
func (i *Inode) DecRef(ctx context.Context) {
	i.refs--
	switch {
	case i.refs < 0:
		panic(fmt.Sprintf("negative reference count on %v", i))
	case i.refs == 0:
		i.close(ctx)
	}
}

// ReadRefs returns the current reference count.
func (i *Inode) ReadRefs() int64 {
	return i.refs
}

// Closed returns true once the last reference has been dropped.
func (i *Inode) Closed() bool {
	return i.closed
}

func (i *Inode) close(ctx context.Context) {
	if i.closed {
		panic(fmt.Sprintf("%v closed twice", i))
	}
	i.closed = true
	switch i.kind {
	case KindArch, KindBinderShared, KindAshmem, KindScreenBuffer, KindSocket:
		if ret, err := i.env.Helper().Close(ctx, i.pid, i.LinuxFd); err != nil || ret < 0 {
			log.Debugf("Closing %v: %d, %v", i, ret, err)
		}
	case KindSecureFS:
		if err := i.secure.Flush(ctx); err != nil {
			log.Warningf("Flushing %v: %v", i, err)
		}
	case KindConsole, KindBinder:
	default:
		panic(fmt.Sprintf("unknown inode kind %v", i.kind))
	}
}

// Size returns the file size as seen by lseek and the page cache.
func (i *Inode) Size() uint32 {
	switch i.kind {
	case KindArch:
		return i.size
	case KindSecureFS:
		return i.secure.Size()
	default:
		return 0
	}
}

// Grow raises the recorded size of an Arch inode after a write past its end.
func (i *Inode) Grow(size uint32) {
	if i.kind == KindArch && size > i.size {
		i.size = size
	}
}

// Extend records a new size after a seek past the end of the file. A secure
// file is grown right away; the helper grows other files on the next write.
func (i *Inode) Extend(ctx context.Context, size uint32) error {
	switch i.kind {
	case KindArch:
		i.size = size
	case KindSecureFS:
		return i.secure.Truncate(ctx, int64(size))
	}
	return nil
}

// Truncate implements ftruncate(2).
func (i *Inode) Truncate(ctx context.Context, length int64) error {
	switch i.kind {
	case KindArch:
		if length < 0 || length > int64(^uint32(0)) {
			return linuxerr.EINVAL
		}
		ret, err := i.env.Helper().Ftruncate(ctx, i.pid, i.LinuxFd, uint32(length))
		if err != nil {
			return linuxerr.EIO
		}
		if ret < 0 {
			return linuxerr.FromReturn(ret)
		}
		i.size = uint32(length)
		return nil
	case KindSecureFS:
		return i.secure.Truncate(ctx, length)
	default:
		return linuxerr.EINVAL
	}
}

// Stat returns the stat64 of the inode.
func (i *Inode) Stat(ctx context.Context) (linux.Stat64, error) {
	switch i.kind {
	case KindArch, KindSecureFS:
		ret, st, err := i.env.Helper().Fstat64(ctx, i.pid, i.LinuxFd)
		if err != nil {
			return nil, linuxerr.EIO
		}
		if ret < 0 {
			return nil, linuxerr.FromReturn(ret)
		}
		if i.kind == KindSecureFS {
			st.SetSize(int64(i.secure.Size()))
		}
		return st, nil
	default:
		return nil, linuxerr.EINVAL
	}
}

// ReadAt reads synchronously. Only secure files support it; other readable
// kinds go through the helper asynchronously.
func (i *Inode) ReadAt(ctx context.Context, dst []byte, pos uint32) (int, error) {
	if i.kind != KindSecureFS {
		return 0, linuxerr.EINVAL
	}
	return i.secure.Read(ctx, dst, pos)
}

// WriteAt writes synchronously to the console or a secure file.
func (i *Inode) WriteAt(ctx context.Context, src []byte, pos uint32) (int, error) {
	switch i.kind {
	case KindConsole:
		return i.env.Console().Write(src)
	case KindSecureFS:
		return i.secure.Write(ctx, src, pos)
	default:
		return 0, linuxerr.EINVAL
	}
}

// secureBackend stores a secure file through the helper.
type secureBackend struct {
	i *Inode
}

// ReadAt implements sfs.Backend.ReadAt.
func (b secureBackend) ReadAt(ctx context.Context, dst []byte, off uint32) (int, error) {
	n, _, err := b.i.env.Helper().Read(ctx, b.i.pid, b.i.LinuxFd, dst, off)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, linuxerr.FromReturn(n)
	}
	return int(n), nil
}

// Truncate implements sfs.Backend.Truncate.
func (b secureBackend) Truncate(ctx context.Context, size uint32) error {
	ret, err := b.i.env.Helper().Ftruncate(ctx, b.i.pid, b.i.LinuxFd, size)
	if err != nil {
		return linuxerr.EIO
	}
	if ret < 0 {
		return linuxerr.FromReturn(ret)
	}
	return nil
}

// Flush implements sfs.Backend.Flush.
func (b secureBackend) Flush(ctx context.Context, buf *pgalloc.Buffer, pageCount uint32) error {
	err := b.i.env.FlushSecureFS(ctx, b.i.pid, b.i.LinuxFd, buf, pageCount)
	if ret, cerr := b.i.env.Helper().Close(ctx, b.i.pid, b.i.LinuxFd); cerr != nil || ret < 0 {
		log.Debugf("Closing %v after flush: %d, %v", b.i, ret, cerr)
	}
	return err
}
