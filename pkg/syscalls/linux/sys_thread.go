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

// defaultPriority is the nice value reported by getpriority(2).
const defaultPriority = 20

// Exit implements linux syscall exit(2).
func Exit(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	log.Debugf("%v exiting with status %d", t, args[0].Int())
	t.Exit(t)
	return 0, kernel.CtrlDoExit, nil
}

// ExitGroup implements linux syscall exit_group(2).
func ExitGroup(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	log.Infof("%v exiting with status %d", t.Process(), args[0].Int())
	t.Process().Exit(t)
	return 0, kernel.CtrlDoExit, nil
}

// Clone implements linux syscall clone(2). Only thread creation is
// supported: the new thread shares everything with the caller and resumes
// after the trap on stack newsp.
func Clone(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	flags := args[0].Uint()
	newsp := args[1].Pointer()
	if flags != linux.CloneThreadFlags {
		return 0, nil, linuxerr.EINVAL
	}
	nt, err := t.Process().NewThread(t)
	if err != nil {
		log.Warningf("clone in %v: %v", t, err)
		return 0, nil, linuxerr.EAGAIN
	}
	ip := hostarch.Addr(t.Regs().IP) + arch.SyscallTrapLength
	if err := nt.Start(t, ip, newsp); err != nil {
		log.Warningf("Starting %v: %v", nt, err)
		nt.Exit(t)
		return 0, nil, linuxerr.EAGAIN
	}
	return uintptr(nt.Tid()), nil, nil
}

// Gettid implements linux syscall gettid(2).
func Gettid(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Tid()), nil, nil
}

// Getpid implements linux syscall getpid(2). The process is identified by
// its helper.
func Getpid(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Process().HelperPID), nil, nil
}

// Getuid implements linux syscalls getuid32(2) and geteuid32(2).
func Getuid(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(t.Process().Credential.UID), nil, nil
}

// Getpriority implements linux syscall getpriority(2).
func Getpriority(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return defaultPriority, nil, nil
}

// SchedYield implements linux syscall sched_yield(2).
func SchedYield(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, nil
}

// SetThreadArea implements linux syscall set_thread_area(2). The entry
// chosen by the microkernel is written back to the descriptor.
func SetThreadArea(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	var b [linux.SizeOfUserDesc]byte
	if err := t.CopyInBytes(addr, b[:]); err != nil {
		return 0, nil, err
	}
	var desc linux.UserDesc
	desc.UnmarshalBytes(b[:])
	if err := t.SetThreadArea(&desc); err != nil {
		log.Warningf("set_thread_area in %v: %v", t, err)
		return 0, nil, linuxerr.EINVAL
	}
	desc.MarshalBytes(b[:])
	if err := t.CopyOutBytes(addr, b[:]); err != nil {
		return 0, nil, err
	}
	return 0, nil, nil
}
