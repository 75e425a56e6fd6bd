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

package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistersWireRoundTrip(t *testing.T) {
	regs := Registers{Eax: 4, Ebx: 1, Ecx: 0x8000, Edx: 12, IP: 0x8048000, SP: 0xbfff0000, TrapNo: 0xd, Err: 0x402}
	buf := make([]byte, SizeOfRegisters)
	if rest := regs.MarshalBytes(buf); len(rest) != 0 {
		t.Fatalf("MarshalBytes left %d bytes", len(rest))
	}
	var got Registers
	got.UnmarshalBytes(buf)
	if diff := cmp.Diff(regs, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSyscallConvention(t *testing.T) {
	regs := Registers{Eax: 192, Ebx: 1, Ecx: 2, Edx: 3, Esi: 4, Edi: 5, Ebp: 6, IP: 0x1000, TrapNo: 0xd, Err: 0x402}
	if !regs.IsSyscall() {
		t.Fatalf("IsSyscall: got false, want true")
	}
	if got := regs.SyscallNo(); got != 192 {
		t.Errorf("SyscallNo: got %d, want 192", got)
	}
	args := regs.SyscallArgs()
	for i, a := range args {
		if got, want := a.Int(), int32(i+1); got != want {
			t.Errorf("arg %d: got %d, want %d", i, got, want)
		}
	}
	regs.SetReturn(-22)
	if got := int32(regs.Eax); got != -22 {
		t.Errorf("Eax after SetReturn: got %d, want -22", got)
	}
	if got := regs.IP; got != 0x1002 {
		t.Errorf("IP after SetReturn: got %#x, want 0x1002", got)
	}
	regs.TrapNo = 0xe
	if regs.IsSyscall() {
		t.Errorf("IsSyscall on a page fault frame: got true, want false")
	}
}
