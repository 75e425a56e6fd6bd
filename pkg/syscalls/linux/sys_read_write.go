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
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
)

const (
	// maxIOVecs bounds the number of segments accepted by writev(2).
	maxIOVecs = 1024

	// maxRWCount bounds the bytes moved by one write.
	maxRWCount = 1 << 20
)

// readableFile returns the file at fd if it may be read.
func readableFile(t *kernel.Thread, fd int32) (*fs.File, error) {
	f := t.GetFile(fd)
	if f == nil {
		return nil, linuxerr.EBADF
	}
	if !f.Readable() {
		return nil, linuxerr.EPERM
	}
	return f, nil
}

// writableFile returns the file at fd if it may be written.
func writableFile(t *kernel.Thread, fd int32) (*fs.File, error) {
	f := t.GetFile(fd)
	if f == nil {
		return nil, linuxerr.EBADF
	}
	if !f.Writable() {
		return nil, linuxerr.EPERM
	}
	return f, nil
}

// Read implements linux syscall read(2).
func Read(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Int()

	if size == 0 {
		return 0, nil, nil
	}
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	f, err := readableFile(t, fd)
	if err != nil {
		return 0, nil, err
	}
	n, err := t.ReadFile(f, addr, uint32(size), f.Position, true)
	return uintptr(n), nil, err
}

// Pread64 implements linux syscall pread64(2). Only the low word of the
// offset is used.
func Pread64(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Int()
	offset := args[3].Uint()

	if size == 0 {
		return 0, nil, nil
	}
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	f, err := readableFile(t, fd)
	if err != nil {
		return 0, nil, err
	}
	n, err := t.ReadFile(f, addr, uint32(size), offset, false)
	return uintptr(n), nil, err
}

// Write implements linux syscall write(2). If only a prefix of the source
// buffer is readable, only that prefix is written.
func Write(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Int()

	if size == 0 {
		return 0, nil, nil
	}
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	f, err := writableFile(t, fd)
	if err != nil {
		return 0, nil, err
	}
	if uint32(size) > maxRWCount {
		size = maxRWCount
	}
	src := make([]byte, size)
	n, _ := t.MemoryManager().CopyIn(t, addr, src)
	if n == 0 {
		return 0, nil, linuxerr.EFAULT
	}
	ret, err := t.WriteFile(f, src[:n])
	return uintptr(ret), nil, err
}

// Writev implements linux syscall writev(2). The segments are gathered and
// written in one request.
func Writev(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := args[2].Int()

	if iovcnt < 0 || iovcnt > maxIOVecs {
		return 0, nil, linuxerr.EINVAL
	}
	if iovcnt == 0 {
		return 0, nil, nil
	}
	f, err := writableFile(t, fd)
	if err != nil {
		return 0, nil, err
	}
	b := make([]byte, int(iovcnt)*linux.SizeOfIOVec)
	if err := t.CopyInBytes(addr, b); err != nil {
		return 0, nil, err
	}
	iovs := make([]linux.IOVec, iovcnt)
	var total uint64
	for i := range iovs {
		b = iovs[i].UnmarshalBytes(b)
		total += uint64(iovs[i].Len)
	}
	if total > maxRWCount {
		return 0, nil, linuxerr.EINVAL
	}
	src := make([]byte, 0, total)
	for _, iov := range iovs {
		seg := make([]byte, iov.Len)
		if err := t.CopyInBytes(hostarch.Addr(iov.Base), seg); err != nil {
			return 0, nil, err
		}
		src = append(src, seg...)
	}
	if len(src) == 0 {
		return 0, nil, nil
	}
	ret, err := t.WriteFile(f, src)
	return uintptr(ret), nil, err
}
