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
	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
)

// helperResult converts the result of a synchronous helper call.
func helperResult(ret int32, err error) (uintptr, *kernel.SyscallControl, error) {
	ret = helper.Return(ret, err)
	if ret < 0 {
		return 0, nil, linuxerr.FromReturn(ret)
	}
	return uintptr(ret), nil, nil
}

// copyInPath reads a path argument.
func copyInPath(t *kernel.Thread, addr hostarch.Addr) (string, error) {
	path, err := t.CopyInString(addr, linux.PATH_MAX)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Open implements linux syscall open(2).
func Open(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	fd, err := t.Open(path, args[1].Uint(), args[2].ModeT())
	return uintptr(fd), nil, err
}

// Close implements linux syscall close(2).
func Close(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.FDTable().Remove(args[0].Int())
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	f.Close(t)
	return 0, nil, nil
}

// Access implements linux syscall access(2).
func Access(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, t.Access(path, args[1].ModeT())
}

// Dup implements linux syscall dup(2).
func Dup(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.GetFile(args[0].Int())
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	f.Inode.IncRef()
	return uintptr(t.FDTable().AllocFD(f)), nil, nil
}

// Dup2 implements linux syscall dup2(2). A file open at newfd is closed
// first. newfd must lie within the current table.
func Dup2(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldfd := args[0].Int()
	newfd := args[1].Int()
	fds := t.FDTable()
	f := fds.Get(oldfd)
	if f == nil || newfd <= 0 || newfd >= fds.Size() {
		return 0, nil, linuxerr.EBADF
	}
	if oldfd == newfd {
		return uintptr(newfd), nil, nil
	}
	if old := fds.Remove(newfd); old != nil {
		old.Close(t)
	}
	f.Inode.IncRef()
	fds.Add(newfd, f)
	return uintptr(newfd), nil, nil
}

// Lseek implements linux syscall lseek(2).
func Lseek(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.GetFile(args[0].Int())
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	pos, err := f.Seek(t, int64(args[1].Int()), args[2].Int())
	return uintptr(pos), nil, err
}

// copyOutStat writes a stat64 buffer to addr.
func copyOutStat(t *kernel.Thread, addr hostarch.Addr, st linux.Stat64) error {
	return t.CopyOutBytes(addr, st[:linux.SizeOfStat64])
}

// Fstat64 implements linux syscall fstat64(2).
func Fstat64(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.GetFile(args[0].Int())
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	st, err := f.Inode.Stat(t)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, copyOutStat(t, args[1].Pointer(), st)
}

// Stat64 implements linux syscall stat64(2).
func Stat64(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return stat(t, args, false)
}

// Lstat64 implements linux syscall lstat64(2).
func Lstat64(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return stat(t, args, true)
}

func stat(t *kernel.Thread, args arch.SyscallArguments, nofollow bool) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	h := t.Kernel().Helper()
	pid := t.Process().HelperPID
	var (
		ret int32
		st  linux.Stat64
	)
	if nofollow {
		ret, st, err = h.Lstat64(t, pid, path)
	} else {
		ret, st, err = h.Stat64(t, pid, path)
	}
	if ret = helper.Return(ret, err); ret < 0 {
		return 0, nil, linuxerr.FromReturn(ret)
	}
	return 0, nil, copyOutStat(t, args[1].Pointer(), st)
}

// Pipe implements linux syscall pipe(2). Both ends are helper descriptors
// opened read-write.
func Pipe(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	p := t.Process()
	ret, r, w, err := t.Kernel().Helper().Pipe(t, p.HelperPID)
	if ret = helper.Return(ret, err); ret < 0 {
		return 0, nil, linuxerr.FromReturn(ret)
	}
	fds := t.FDTable()
	rfd := fds.AllocFD(fs.NewFile(fs.NewArchInode(t.Kernel(), p.HelperPID, r, 0), linux.O_RDWR, 0))
	wfd := fds.AllocFD(fs.NewFile(fs.NewArchInode(t.Kernel(), p.HelperPID, w, 0), linux.O_RDWR, 0))
	var b [8]byte
	hostarch.ByteOrder.PutUint32(b[0:], uint32(rfd))
	hostarch.ByteOrder.PutUint32(b[4:], uint32(wfd))
	if err := t.CopyOutBytes(addr, b[:]); err != nil {
		fds.Remove(rfd).Close(t)
		fds.Remove(wfd).Close(t)
		return 0, nil, err
	}
	return 0, nil, nil
}

// rootDir is the only working directory.
const rootDir = "/"

// Getcwd implements linux syscall getcwd(2). Every process runs in the
// root directory.
func Getcwd(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()
	b := append([]byte(rootDir), 0)
	if size < uint32(len(b)) {
		return 0, nil, linuxerr.ERANGE
	}
	if err := t.CopyOutBytes(addr, b); err != nil {
		return 0, nil, err
	}
	return uintptr(len(b)), nil, nil
}

// Mkdir implements linux syscall mkdir(2).
func Mkdir(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return helperResult(t.Kernel().Helper().Mkdir(t, t.Process().HelperPID, path, args[1].ModeT()))
}

// Unlink implements linux syscall unlink(2).
func Unlink(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPath(t, args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	return helperResult(t.Kernel().Helper().Unlink(t, t.Process().HelperPID, path))
}

// helperFile returns the helper-backed file at fd.
func helperFile(t *kernel.Thread, fd int32) (*fs.File, error) {
	f := t.GetFile(fd)
	if f == nil || f.Inode.LinuxFd < 0 || !f.Inode.Kind().HasLinuxFd() {
		return nil, linuxerr.EBADF
	}
	return f, nil
}

// Fcntl64 implements linux syscall fcntl64(2). Locks and descriptor flags
// are accepted and ignored; other commands are forwarded to the helper.
func Fcntl64(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f, err := helperFile(t, args[0].Int())
	if err != nil {
		return 0, nil, err
	}
	cmd := args[1].Uint()
	switch cmd {
	case linux.F_GETLK, linux.F_SETLK, linux.F_SETLKW, linux.F_GETFD, linux.F_SETFD:
		return 0, nil, nil
	}
	return helperResult(t.Kernel().Helper().Fcntl64(t, t.Process().HelperPID, f.Inode.LinuxFd, cmd, args[2].Uint()))
}

// Ftruncate implements linux syscall ftruncate(2).
func Ftruncate(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.GetFile(args[0].Int())
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	if f.Inode.LinuxFd < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	return 0, nil, f.Inode.Truncate(t, int64(args[1].Int()))
}

// Ioctl implements linux syscall ioctl(2).
func Ioctl(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	cmd := args[1].Uint()
	arg := args[2].Uint()
	f := t.GetFile(fd)
	if f == nil {
		return 0, nil, linuxerr.EBADF
	}
	var (
		ret int32
		err error
	)
	switch f.Inode.Kind() {
	case fs.KindBinder:
		ret, err = t.BinderIoctl(cmd, arg)
	case fs.KindArch, fs.KindAshmem, fs.KindBinderShared, fs.KindSocket:
		ret, err = f.Inode.Ioctl(t, t.MemoryManager(), cmd, arg)
	default:
		log.Debugf("ioctl(%d, %#x) on %v in %v", fd, cmd, f.Inode, t)
		return 0, nil, linuxerr.EINVAL
	}
	return uintptr(ret), nil, err
}
