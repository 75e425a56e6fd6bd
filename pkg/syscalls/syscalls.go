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

// Package syscalls is the interface from the application to the kernel.
//
// Note that the stubs in this package may merely provide the interface, not
// the actual implementation. It just makes writing syscall stubs
// straightforward.
package syscalls

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/eventchannel"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
	"google.golang.org/protobuf/types/known/structpb"
)

// Supported returns a syscall that is fully supported.
func Supported(name string, fn kernel.SyscallFn) kernel.Syscall {
	return kernel.Syscall{
		Name:         name,
		Fn:           fn,
		SupportLevel: kernel.SupportFull,
		Note:         "Fully Supported.",
	}
}

// PartiallySupported returns a syscall that has a partial implementation.
func PartiallySupported(name string, fn kernel.SyscallFn, note string) kernel.Syscall {
	return kernel.Syscall{
		Name:         name,
		Fn:           fn,
		SupportLevel: kernel.SupportPartial,
		Note:         note,
	}
}

// Error returns a syscall handler that will always give the passed error.
func Error(name string, err error, note string) kernel.Syscall {
	if note != "" {
		note = note + "; "
	}
	return kernel.Syscall{
		Name: name,
		Fn: func(*kernel.Thread, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			return 0, nil, err
		},
		SupportLevel: kernel.SupportUnimplemented,
		Note:         fmt.Sprintf("%sReturns %q.", note, err.Error()),
	}
}

// Mock returns a syscall that does nothing and succeeds.
func Mock(name string) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn: func(*kernel.Thread, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			return 0, nil, nil
		},
		SupportLevel: kernel.SupportPartial,
		Note:         "Accepted and ignored.",
	}
}

// UnimplementedEvent emits an event reporting the unimplemented syscall
// sysno via the event channel.
func UnimplementedEvent(t *kernel.Thread, sysno uintptr) {
	regs := t.Regs()
	ev, err := structpb.NewStruct(map[string]any{
		"tid":     float64(t.Tid()),
		"process": t.Process().Name,
		"sysno":   float64(sysno),
		"ip":      float64(regs.IP),
		"sp":      float64(regs.SP),
	})
	if err != nil {
		log.Warningf("Building unimplemented syscall event: %v", err)
		return
	}
	eventchannel.Emit(ev)
}
