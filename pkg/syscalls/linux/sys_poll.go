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
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/kernel"
)

// Poll implements linux syscall poll(2).
func Poll(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.Poll(args[0].Pointer(), args[1].Int(), args[2].Int())
}

// Select implements linux syscall _newselect(2).
func Select(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, t.Select(args[0].Int(), args[1].Pointer(), args[2].Pointer(), args[3].Pointer(), args[4].Pointer())
}

// VBinder implements the vbinder syscall, the kernel-mediated message
// channel between threads.
func VBinder(t *kernel.Thread, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ret, err := t.VBinder(args[0].Int(), args[1].Uint(), args[2].Uint(), args[3].Uint())
	return uintptr(ret), nil, err
}
