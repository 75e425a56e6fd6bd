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


// Package kerneltest provides a kernel on a fake platform for tests of the
// packages built on it.
package kerneltest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
	"github.com/ExpressOS/expressos/pkg/platform/platformtest"
)

const (
	// HelperPID is the pid of the helper serving every process.
	HelperPID = 42

	// ShadowBinder is where the helper maps the binder window.
	ShadowBinder = 0x50000000

	// WorkspaceFD and WorkspaceSize describe the property workspace.
	WorkspaceFD   = 7
	WorkspaceSize = 0x10000

	// UserBase is where every process from NewProcess has anonymous
	// read-write memory.
	UserBase = hostarch.Addr(0x10000000)

	// UserSize is the size of that memory.
	UserSize = 16 * hostarch.PageSize

	// TrapIP is the address of the trapping instruction in frames built by
	// SyscallRegs.
	TrapIP = 0x8000
)

// Env is a kernel on a fake platform whose clock only moves when the loop
// waits with a timeout.
type Env struct {
	T        *testing.T
	Ctx      context.Context
	Platform *platformtest.Platform
	Helper   *platformtest.Helper
	Client   *helper.Client
	Console  bytes.Buffer
	NowMs    int64
	Kernel   *kernel.Kernel
}

// New returns an Env running table, which must be initialized.
func New(t *testing.T, table *kernel.SyscallTable) *Env {
	t.Helper()
	h := platformtest.NewHelper()
	h.Reply(uint32(helper.OpClockGettime), uint32(helper.OpClockGettime), 0)
	h.Reply(uint32(helper.OpTakeHelper), uint32(helper.OpTakeHelper), HelperPID, ShadowBinder, WorkspaceFD, WorkspaceSize)
	h.Reply(uint32(helper.OpClose), uint32(helper.OpClose), 0)
	e := &Env{T: t, Ctx: context.Background(), Platform: platformtest.New(h), Helper: h}
	e.Platform.OnWait = func(p *platformtest.Platform) {
		if d := p.Timeouts[len(p.Timeouts)-1]; d != platform.Never {
			e.NowMs += d.Milliseconds()
		}
	}

	general := pgalloc.NewPool("general", 0x1000000, make([]byte, 256*hostarch.PageSize))
	window := pgalloc.NewPool("completion", 0x2000000, make([]byte, 64*hostarch.PageSize))
	var err error
	if e.Client, err = helper.NewClient(e.Platform, window, 0x70000000, 0x1000000); err != nil {
		t.Fatalf("helper.NewClient failed: %v", err)
	}
	epoch := time.Unix(1700000000, 0)
	e.Kernel, err = kernel.New(e.Ctx, kernel.Config{
		Platform: e.Platform,
		Helper:   e.Client,
		Memory:   pgalloc.NewMemory(general, window),
		Console:  &e.Console,
		Syscalls: table,
		Now: func() time.Time {
			return epoch.Add(time.Duration(e.NowMs) * time.Millisecond)
		},
	})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	return e
}

// NewBareProcess returns a process with an empty address space.
func (e *Env) NewBareProcess() *kernel.Process {
	e.T.Helper()
	p, err := e.Kernel.NewProcess(e.Ctx, "com.example.app", kernel.DefaultCredential(), kernel.AppInfo{PackageName: "com.example.app"})
	if err != nil {
		e.T.Fatalf("NewProcess failed: %v", err)
	}
	return p
}

// NewProcess returns a process with anonymous memory at UserBase and the
// standard streams installed.
func (e *Env) NewProcess() *kernel.Process {
	e.T.Helper()
	p := e.NewBareProcess()
	if err := p.AddressSpace().AddMapping(e.Ctx, hostarch.ReadWrite, 0, nil, 0, 0, UserBase, UserSize); err != nil {
		e.T.Fatalf("AddMapping failed: %v", err)
	}
	p.InstallStdio()
	return p
}

// NewThreadIn returns a new stopped thread of p.
func (e *Env) NewThreadIn(p *kernel.Process) *kernel.Thread {
	e.T.Helper()
	t, err := p.NewThread(e.Ctx)
	if err != nil {
		e.T.Fatalf("NewThread failed: %v", err)
	}
	return t
}

// NewThread returns a thread of a new process.
func (e *Env) NewThread() *kernel.Thread {
	e.T.Helper()
	return e.NewThreadIn(e.NewProcess())
}

// Write copies b to addr in the memory of t.
func (e *Env) Write(t *kernel.Thread, addr hostarch.Addr, b []byte) {
	e.T.Helper()
	if err := t.CopyOutBytes(addr, b); err != nil {
		e.T.Fatalf("CopyOutBytes(%v) failed: %v", addr, err)
	}
}

// WriteWords copies words to addr in the memory of t.
func (e *Env) WriteWords(t *kernel.Thread, addr hostarch.Addr, words ...uint32) {
	e.T.Helper()
	b := make([]byte, 0, 4*len(words))
	for _, w := range words {
		b = hostarch.ByteOrder.AppendUint32(b, w)
	}
	e.Write(t, addr, b)
}

// WriteString copies s and a terminating NUL to addr.
func (e *Env) WriteString(t *kernel.Thread, addr hostarch.Addr, s string) {
	e.T.Helper()
	e.Write(t, addr, append([]byte(s), 0))
}

// Read returns n bytes at addr in the memory of t.
func (e *Env) Read(t *kernel.Thread, addr hostarch.Addr, n int) []byte {
	e.T.Helper()
	b := make([]byte, n)
	if err := t.CopyInBytes(addr, b); err != nil {
		e.T.Fatalf("CopyInBytes(%v) failed: %v", addr, err)
	}
	return b
}

// Word returns the word at addr in the memory of t.
func (e *Env) Word(t *kernel.Thread, addr hostarch.Addr) uint32 {
	e.T.Helper()
	return hostarch.ByteOrder.Uint32(e.Read(t, addr, 4))
}

// SendsTo returns the asynchronous helper requests of op.
func (e *Env) SendsTo(op helper.Op) []platformtest.Request {
	var rs []platformtest.Request
	for _, r := range e.Platform.Sends {
		if r.Op() == uint32(op) {
			rs = append(rs, r)
		}
	}
	return rs
}

// SyscallRegs returns the frame of an "int $0x80" trap at TrapIP.
func SyscallRegs(sysno uint32, args ...uint32) arch.Registers {
	r := arch.Registers{TrapNo: 0xd, Err: 0x402, Eax: sysno, IP: TrapIP}
	regs := []*uint32{&r.Ebx, &r.Ecx, &r.Edx, &r.Esi, &r.Edi, &r.Ebp}
	for i, a := range args {
		*regs[i] = a
	}
	return r
}

// Args returns syscall arguments holding args.
func Args(args ...uint32) arch.SyscallArguments {
	var a arch.SyscallArguments
	for i, v := range args {
		a[i].Value = uintptr(v)
	}
	return a
}
