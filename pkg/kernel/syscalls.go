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
	"fmt"
	"sort"

	"github.com/ExpressOS/expressos/pkg/arch"
)

// maxSyscallNum is the largest syscall number covered by the lookup array.
const maxSyscallNum = 1024

// SyscallFn is a syscall implementation. It returns the value placed in eax
// or an error. An error of linuxerr.ErrPending means the thread has
// suspended on a completion and must not be resumed now.
type SyscallFn func(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// SyscallControl is returned by syscalls to control the behavior of the
// loop after the call.
type SyscallControl struct {
	// next is the action the loop takes.
	next syscallAction
}

type syscallAction int

const (
	// actionReply resumes the thread with the syscall's return value.
	actionReply syscallAction = iota

	// actionExit drops the thread without a reply.
	actionExit
)

// CtrlDoExit is returned by the exit calls once the thread is gone.
var CtrlDoExit = &SyscallControl{next: actionExit}

// SupportLevel is the level of support of a syscall.
type SupportLevel int

// Support levels.
const (
	// SupportUnimplemented means the call fails with ENOSYS.
	SupportUnimplemented SupportLevel = iota

	// SupportPartial means some behavior is missing or mocked.
	SupportPartial

	// SupportFull means the call is fully supported.
	SupportFull
)

// String implements fmt.Stringer.String.
func (l SupportLevel) String() string {
	switch l {
	case SupportUnimplemented:
		return "Unimplemented"
	case SupportPartial:
		return "Partial Support"
	case SupportFull:
		return "Full Support"
	default:
		return fmt.Sprintf("SupportLevel(%d)", int(l))
	}
}

// Syscall describes one syscall.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation, or nil if the call is unimplemented.
	Fn SyscallFn

	// SupportLevel is the level of support implemented.
	SupportLevel SupportLevel

	// Note describes any limitations.
	Note string
}

// MissingFn is called for syscalls with no implementation.
type MissingFn func(t *Thread, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// Version is the application-visible system version.
type Version struct {
	// Sysname is the operating system name, "Linux".
	Sysname string

	// Release is the kernel release.
	Release string

	// Version is the "#BUILD TIMESTAMP" string.
	Version string

	// Machine is the hardware name, "i686".
	Machine string
}

// SyscallTable is the syscall table of a personality.
type SyscallTable struct {
	// Version is reported by uname.
	Version Version

	// Table maps syscall numbers to implementations.
	Table map[uintptr]Syscall

	// Missing handles numbers absent from Table or without Fn.
	Missing MissingFn

	lookup [maxSyscallNum + 1]SyscallFn
}

// Init builds the lookup array. It must be called before Lookup.
func (s *SyscallTable) Init() {
	if s.Table == nil {
		s.Table = make(map[uintptr]Syscall)
	}
	for num, sc := range s.Table {
		if num > maxSyscallNum {
			panic(fmt.Sprintf("syscall %d (%s) exceeds the table size %d", num, sc.Name, maxSyscallNum))
		}
		s.lookup[num] = sc.Fn
	}
}

// Lookup returns the implementation of sysno, or nil.
func (s *SyscallTable) Lookup(sysno uintptr) SyscallFn {
	if sysno <= maxSyscallNum {
		return s.lookup[sysno]
	}
	return nil
}

// Name returns the name of sysno.
func (s *SyscallTable) Name(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok && sc.Name != "" {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// Numbers returns the syscall numbers of the table in increasing order.
func (s *SyscallTable) Numbers() []uintptr {
	nums := make([]uintptr, 0, len(s.Table))
	for num := range s.Table {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}
