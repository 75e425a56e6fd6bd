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

// Package arch describes the i386 register state the microkernel hands over
// when a thread traps, and the syscall calling convention layered on it.
package arch

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// SyscallTrapLength is the length of the "int $0x80" instruction. A thread
// resumes this many bytes past the trapping instruction.
const SyscallTrapLength = 2

// A trap raised by "int $0x80" reaches the kernel as a general protection
// fault with this error code.
const (
	syscallTrapNo  = 0xd
	syscallTrapErr = 0x402
)

// SizeOfRegisters is the size of Registers on the wire.
const SizeOfRegisters = 16 * 4

// Registers is the exception register frame of a trapped thread.
type Registers struct {
	Gs     uint32
	Fs     uint32
	Edi    uint32
	Esi    uint32
	Ebp    uint32
	Pfa    uint32
	Ebx    uint32
	Edx    uint32
	Ecx    uint32
	Eax    uint32
	TrapNo uint32
	Err    uint32
	IP     uint32
	Dummy  uint32
	Eflags uint32
	SP     uint32
}

func (r *Registers) fields() [16]*uint32 {
	return [16]*uint32{
		&r.Gs, &r.Fs, &r.Edi, &r.Esi, &r.Ebp, &r.Pfa, &r.Ebx, &r.Edx,
		&r.Ecx, &r.Eax, &r.TrapNo, &r.Err, &r.IP, &r.Dummy, &r.Eflags, &r.SP,
	}
}

// MarshalBytes encodes r into dst.
func (r *Registers) MarshalBytes(dst []byte) []byte {
	for _, f := range r.fields() {
		hostarch.ByteOrder.PutUint32(dst, *f)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes decodes r from src.
func (r *Registers) UnmarshalBytes(src []byte) []byte {
	for _, f := range r.fields() {
		*f = hostarch.ByteOrder.Uint32(src)
		src = src[4:]
	}
	return src
}

// IsSyscall returns true if the frame was produced by a Linux syscall trap.
func (r *Registers) IsSyscall() bool {
	return r.TrapNo == syscallTrapNo && r.Err == syscallTrapErr
}

// SyscallNo returns the syscall number.
func (r *Registers) SyscallNo() uintptr {
	return uintptr(r.Eax)
}

// SyscallArgs returns the syscall arguments in the i386 order: ebx, ecx,
// edx, esi, edi, ebp.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		{Value: uintptr(r.Ebx)},
		{Value: uintptr(r.Ecx)},
		{Value: uintptr(r.Edx)},
		{Value: uintptr(r.Esi)},
		{Value: uintptr(r.Edi)},
		{Value: uintptr(r.Ebp)},
	}
}

// SetReturn sets the syscall return value and moves the instruction pointer
// past the trap.
func (r *Registers) SetReturn(rv int32) {
	r.Eax = uint32(rv)
	r.IP += SyscallTrapLength
}

// String implements fmt.Stringer.String.
func (r *Registers) String() string {
	return fmt.Sprintf("eax=%#x ebx=%#x ecx=%#x edx=%#x esi=%#x edi=%#x ebp=%#x ip=%#x sp=%#x trap=%#x err=%#x",
		r.Eax, r.Ebx, r.Ecx, r.Edx, r.Esi, r.Edi, r.Ebp, r.IP, r.SP, r.TrapNo, r.Err)
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// SizeT returns the uint32 representation of a size_t argument.
func (a SyscallArgument) SizeT() uint32 {
	return uint32(a.Value)
}

// ModeT returns the int representation of a mode_t argument.
func (a SyscallArgument) ModeT() uint32 {
	return uint32(uint16(a.Value))
}
