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

// Futex implements linux syscall futex(2). Private futexes are queued in
// the kernel; shared futexes live in memory mapped from the helper and are
// forwarded to it.
func Futex(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	op := args[1].Int()
	val := args[2].Uint()
	timeout := args[3].Pointer()
	val3 := args[5].Uint()

	cmd := op &^ (linux.FUTEX_PRIVATE_FLAG | linux.FUTEX_CLOCK_REALTIME)
	private := op&linux.FUTEX_PRIVATE_FLAG != 0
	if op&linux.FUTEX_CLOCK_REALTIME != 0 && cmd != linux.FUTEX_WAIT_BITSET {
		return 0, nil, linuxerr.ENOSYS
	}

	switch cmd {
	case linux.FUTEX_WAIT, linux.FUTEX_WAIT_BITSET:
		bitset := uint32(linux.FUTEX_BITSET_MATCH_ANY)
		if cmd == linux.FUTEX_WAIT_BITSET {
			bitset = val3
		}
		var ts linux.Timespec
		timeoutMs := int64(-1)
		if timeout != 0 {
			var b [linux.SizeOfTimespec]byte
			if err := t.CopyInBytes(timeout, b[:]); err != nil {
				return 0, nil, err
			}
			ts.UnmarshalBytes(b[:])
			timeoutMs = ts.Milliseconds()
		}
		if !private {
			n, err := t.FutexWaitShared(op, addr, val, bitset, ts)
			return uintptr(n), nil, err
		}
		return 0, nil, t.FutexWait(addr, val, bitset, timeoutMs)

	case linux.FUTEX_WAKE, linux.FUTEX_WAKE_BITSET:
		bitset := uint32(linux.FUTEX_BITSET_MATCH_ANY)
		if cmd == linux.FUTEX_WAKE_BITSET {
			bitset = val3
		}
		var (
			n   int32
			err error
		)
		if private {
			n, err = t.FutexWake(addr, int32(val), bitset)
		} else {
			n, err = t.FutexWakeShared(op, addr, bitset)
		}
		return uintptr(n), nil, err

	default:
		return 0, nil, linuxerr.ENOSYS
	}
}
