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
	"github.com/ExpressOS/expressos/pkg/kernel"
)

// Gettimeofday implements linux syscall gettimeofday(2). The time zone is
// ignored.
func Gettimeofday(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	if addr == 0 {
		return 0, nil, nil
	}
	tv := linux.NsecToTimeval(t.Kernel().Realtime().ToNsec())
	var b [linux.SizeOfTimeval]byte
	tv.MarshalBytes(b[:])
	return 0, nil, t.CopyOutBytes(addr, b[:])
}

// ClockGettime implements linux syscall clock_gettime(2). The CPU time
// clocks report the real time.
func ClockGettime(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clock := args[0].Int()
	addr := args[1].Pointer()

	var ts linux.Timespec
	switch clock {
	case linux.CLOCK_REALTIME, linux.CLOCK_PROCESS_CPUTIME_ID, linux.CLOCK_THREAD_CPUTIME_ID:
		ts = t.Kernel().Realtime()
	case linux.CLOCK_MONOTONIC:
		ts = t.Kernel().Monotonic()
	default:
		return 0, nil, linuxerr.ENOSYS
	}
	var b [linux.SizeOfTimespec]byte
	ts.MarshalBytes(b[:])
	return 0, nil, t.CopyOutBytes(addr, b[:])
}

// Nanosleep implements linux syscall nanosleep(2). Sleeps are never
// interrupted, so the remaining time is always zero.
func Nanosleep(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	rqtp := args[0].Pointer()
	rmtp := args[1].Pointer()

	var b [linux.SizeOfTimespec]byte
	if err := t.CopyInBytes(rqtp, b[:]); err != nil {
		return 0, nil, err
	}
	var ts linux.Timespec
	ts.UnmarshalBytes(b[:])
	if ts.Sec < 0 || ts.Nsec < 0 || ts.Nsec >= 1e9 {
		return 0, nil, linuxerr.EINVAL
	}
	if rmtp != 0 {
		var zero linux.Timespec
		zero.MarshalBytes(b[:])
		if err := t.CopyOutBytes(rmtp, b[:]); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, t.SuspendWithTimeout(kernel.NewSleepCompletion(t), ts.Milliseconds())
}

// nodename is reported for both the node and the domain name.
const nodename = "(none)"

// Uname implements linux syscall uname(2).
func Uname(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	v := t.Kernel().Syscalls().Version
	u := linux.NewUtsName(v.Sysname, nodename, v.Release, v.Version, v.Machine, nodename)
	var b [linux.SizeOfUtsName]byte
	u.MarshalBytes(b[:])
	return 0, nil, t.CopyOutBytes(args[0].Pointer(), b[:])
}
