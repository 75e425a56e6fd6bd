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
	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Protections for mmap(2) and mprotect(2).
const (
	PROT_NONE  = 0
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2
)

// Flags for mmap(2).
const (
	MAP_SHARED    = 1 << 0
	MAP_PRIVATE   = 1 << 1
	MAP_FIXED     = 1 << 4
	MAP_ANONYMOUS = 1 << 5
)

// Advice for madvise(2).
const (
	MADV_NORMAL       = 0
	MADV_RANDOM       = 1
	MADV_SEQUENTIAL   = 2
	MADV_WILLNEED     = 3
	MADV_DONTNEED     = 4
	MADV_REMOVE       = 9
	MADV_DONTFORK     = 10
	MADV_DOFORK       = 11
	MADV_MERGEABLE    = 12
	MADV_UNMERGEABLE  = 13
	MADV_HUGEPAGE     = 14
	MADV_NOHUGEPAGE   = 15
	MADV_HWPOISON     = 100
	MADV_SOFT_OFFLINE = 101
)

// Flags for clone(2).
const (
	CLONE_VM       = 0x100
	CLONE_FS       = 0x200
	CLONE_FILES    = 0x400
	CLONE_SIGHAND  = 0x800
	CLONE_THREAD   = 0x10000
	CLONE_SYSVSEM  = 0x40000
	CLONE_DETACHED = 0x400000

	// CloneThreadFlags are the only flags clone(2) accepts: the caller asks
	// for a new thread sharing everything with it.
	CloneThreadFlags = CLONE_FILES | CLONE_FS | CLONE_VM | CLONE_SIGHAND |
		CLONE_THREAD | CLONE_SYSVSEM | CLONE_DETACHED
)

// Socketcall(2) call numbers, from include/uapi/linux/net.h.
const (
	SYS_SOCKET      = 1
	SYS_BIND        = 2
	SYS_CONNECT     = 3
	SYS_GETSOCKNAME = 6
	SYS_SENDTO      = 11
	SYS_RECVFROM    = 12
	SYS_SHUTDOWN    = 13
	SYS_SETSOCKOPT  = 14
	SYS_GETSOCKOPT  = 15
)

// UserDesc is struct user_desc from asm/ldt.h, the argument of
// set_thread_area(2).
type UserDesc struct {
	EntryNumber uint32
	BaseAddr    uint32
	Limit       uint32
	Flags       uint32
}

// SizeOfUserDesc is the size of struct user_desc.
const SizeOfUserDesc = 16

// MarshalBytes serializes u into dst and returns the remainder of dst.
func (u *UserDesc) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], u.EntryNumber)
	hostarch.ByteOrder.PutUint32(dst[4:], u.BaseAddr)
	hostarch.ByteOrder.PutUint32(dst[8:], u.Limit)
	hostarch.ByteOrder.PutUint32(dst[12:], u.Flags)
	return dst[SizeOfUserDesc:]
}

// UnmarshalBytes deserializes u from src and returns the remainder of src.
func (u *UserDesc) UnmarshalBytes(src []byte) []byte {
	u.EntryNumber = hostarch.ByteOrder.Uint32(src[0:])
	u.BaseAddr = hostarch.ByteOrder.Uint32(src[4:])
	u.Limit = hostarch.ByteOrder.Uint32(src[8:])
	u.Flags = hostarch.ByteOrder.Uint32(src[12:])
	return src[SizeOfUserDesc:]
}
