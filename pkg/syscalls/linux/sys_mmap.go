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
	"fmt"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/memmap"
)

// Brk implements linux syscall brk(2). Requests that do not grow the heap
// within bounds return the current break unchanged.
func Brk(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	as := t.Process().AddressSpace()
	old := as.Brk
	brk, ok := args[0].Pointer().RoundUp()
	if !ok || brk < as.StartBrk || brk > hostarch.KernelOffset || brk <= old {
		return uintptr(old), nil, nil
	}
	if err := as.AddHeapMapping(t, brk); err != nil {
		log.Debugf("brk(%v) in %v: %v", brk, t, err)
		return uintptr(old), nil, nil
	}
	return uintptr(brk), nil, nil
}

// Mmap2 implements linux syscall mmap2(2). Shared mappings of binder,
// ashmem and screen buffers are established by the helper first; their
// pages are then reached through the helper's shadow address.
func Mmap2(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].SizeT()
	prot := args[2].Uint()
	flags := args[3].Uint()
	fd := args[4].Int()
	pgoff := args[5].Uint()

	p := t.Process()
	as := p.AddressSpace()

	target, ok := addr.RoundUp()
	if !ok {
		return 0, nil, linuxerr.EINVAL
	}
	if flags&linux.MAP_FIXED == 0 {
		if target == 0 || as.ContainRegion(target, length) {
			target = as.FindFreeRegion(length)
		}
	} else if !addr.IsPageAligned() {
		return 0, nil, linuxerr.EINVAL
	}
	if target == 0 || length == 0 {
		return 0, nil, linuxerr.EINVAL
	}
	memorySize, ok := hostarch.PageRoundUp(length)
	if !ok {
		return 0, nil, linuxerr.ENOMEM
	}

	var file *fs.File
	if flags&linux.MAP_ANONYMOUS == 0 {
		if file = t.GetFile(fd); file == nil {
			return 0, nil, linuxerr.EBADF
		}
	}
	var m memmap.Mappable
	fileSize := length
	if file == nil {
		pgoff = 0
		fileSize = 0
	} else {
		inode := file.Inode
		m = inode
		if flags&linux.MAP_SHARED != 0 && inode.Kind().Alien() {
			if addr != 0 {
				return 0, nil, linuxerr.EINVAL
			}
			if err := mapAlien(t, inode, length, prot, flags, pgoff); err != nil {
				return 0, nil, err
			}
		}
	}

	access := hostarch.AccessTypeFromProt(prot)
	if err := as.AddMapping(t, access, flags, m, pgoff*hostarch.PageSize, fileSize, target, memorySize); err != nil {
		return 0, nil, err
	}
	if file != nil && file.Inode.Kind() == fs.KindBinder {
		p.BinderVMStart = target
		p.BinderVMSize = fileSize
	}
	return uintptr(target), nil, nil
}

// mapAlien asks the helper to map inode and records where it did so.
func mapAlien(t *kernel.Thread, inode *fs.Inode, length, prot, flags, pgoff uint32) error {
	p := t.Process()
	vaddr, err := t.Kernel().Helper().AlienMmap2(t, p.HelperPID, 0, length, prot, flags, inode.LinuxFd, pgoff)
	if err != nil {
		log.Warningf("Mapping %v in the helper of %v: %v", inode, p, err)
		return linuxerr.EIO
	}
	if hostarch.Addr(vaddr) > hostarch.KernelOffset {
		return linuxerr.EINVAL
	}
	inode.SetAlienShadow(hostarch.Addr(vaddr))
	return nil
}

// Mprotect implements linux syscall mprotect(2).
func Mprotect(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Int()
	prot := args[2].Uint()

	if length < 0 || !addr.IsPageAligned() {
		return 0, nil, linuxerr.EINVAL
	}
	size, ok := hostarch.PageRoundUp(uint32(length))
	if !ok {
		return 0, nil, linuxerr.ENOMEM
	}
	as := t.Process().AddressSpace()
	if !as.UpdateAccessRightRange(t, addr, size, hostarch.AccessTypeFromProt(prot)) {
		return 0, nil, linuxerr.EINVAL
	}
	if err := as.SanityCheck(); err != nil {
		panic(fmt.Sprintf("mprotect(%v, %#x) corrupted %v: %v", addr, size, t.Process(), err))
	}
	return 0, nil, nil
}

// Munmap implements linux syscall munmap(2).
func Munmap(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Int()
	if length <= 0 {
		return 0, nil, linuxerr.EINVAL
	}
	size, ok := hostarch.PageRoundUp(uint32(length))
	if !ok {
		return 0, nil, linuxerr.EINVAL
	}
	return 0, nil, t.Process().AddressSpace().RemoveMapping(t, addr, size)
}

// Madvise implements linux syscall madvise(2). Only MADV_DONTNEED has an
// effect; it drops the resident pages of the range.
func Madvise(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Int()
	adv := args[2].Int()

	switch adv {
	case linux.MADV_NORMAL, linux.MADV_RANDOM, linux.MADV_SEQUENTIAL, linux.MADV_WILLNEED,
		linux.MADV_REMOVE, linux.MADV_DONTFORK, linux.MADV_DOFORK, linux.MADV_HWPOISON,
		linux.MADV_SOFT_OFFLINE, linux.MADV_MERGEABLE, linux.MADV_UNMERGEABLE,
		linux.MADV_HUGEPAGE, linux.MADV_NOHUGEPAGE:
		return 0, nil, nil
	case linux.MADV_DONTNEED:
		if !addr.IsPageAligned() || length < 0 {
			return 0, nil, linuxerr.EINVAL
		}
		size, ok := hostarch.PageRoundUp(uint32(length))
		if !ok {
			return 0, nil, linuxerr.EINVAL
		}
		end, ok := addr.AddLength(size)
		if !ok {
			return 0, nil, linuxerr.EINVAL
		}
		t.Process().AddressSpace().WorkingSet().Remove(t, addr, end)
		return 0, nil, nil
	default:
		return 0, nil, linuxerr.EINVAL
	}
}
