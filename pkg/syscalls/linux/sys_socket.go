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
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
)

// socketcallArgs is the number of words read for each supported call.
var socketcallArgs = map[int32]int{
	linux.SYS_SOCKET:      3,
	linux.SYS_BIND:        3,
	linux.SYS_CONNECT:     3,
	linux.SYS_GETSOCKNAME: 3,
	linux.SYS_SENDTO:      6,
	linux.SYS_RECVFROM:    6,
	linux.SYS_SHUTDOWN:    2,
	linux.SYS_SETSOCKOPT:  5,
	linux.SYS_GETSOCKOPT:  5,
}

// Socketcall implements linux syscall socketcall(2), the i386 multiplexer
// of the socket calls.
func Socketcall(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	call := args[0].Int()
	argp := args[1].Pointer()

	n, ok := socketcallArgs[call]
	if !ok {
		log.Warningf("%v: unimplemented socketcall %d", t, call)
		return 0, nil, linuxerr.EINVAL
	}
	b := make([]byte, n*4)
	if err := t.CopyInBytes(argp, b); err != nil {
		return 0, nil, err
	}
	var a [6]uint32
	for i := 0; i < n; i++ {
		a[i] = hostarch.ByteOrder.Uint32(b[i*4:])
	}

	prof := t.Kernel().Profiler()
	prof.EnterSocketcall(int(call))
	defer prof.ExitSocketcall(int(call))

	var (
		ret int32
		err error
	)
	switch call {
	case linux.SYS_SOCKET:
		err = t.Socket(int32(a[0]), int32(a[1]), int32(a[2]))
	case linux.SYS_BIND:
		err = t.Bind(int32(a[0]), hostarch.Addr(a[1]), a[2])
	case linux.SYS_CONNECT:
		err = t.Connect(int32(a[0]), hostarch.Addr(a[1]), a[2])
	case linux.SYS_GETSOCKNAME:
		err = t.Getsockname(int32(a[0]), hostarch.Addr(a[1]), hostarch.Addr(a[2]))
	case linux.SYS_SENDTO:
		ret, err = t.Sendto(int32(a[0]), hostarch.Addr(a[1]), int32(a[2]), a[3], hostarch.Addr(a[4]), int32(a[5]))
	case linux.SYS_RECVFROM:
		ret, err = t.Recvfrom(int32(a[0]), hostarch.Addr(a[1]), int32(a[2]), a[3], hostarch.Addr(a[4]), hostarch.Addr(a[5]))
	case linux.SYS_SHUTDOWN:
		ret, err = t.Shutdown(int32(a[0]), int32(a[1]))
	case linux.SYS_SETSOCKOPT:
		err = t.Setsockopt(int32(a[0]), int32(a[1]), int32(a[2]), hostarch.Addr(a[3]), a[4])
	case linux.SYS_GETSOCKOPT:
		err = t.Getsockopt(int32(a[0]), int32(a[1]), int32(a[2]), hostarch.Addr(a[3]), hostarch.Addr(a[4]))
	}
	return uintptr(ret), nil, err
}
