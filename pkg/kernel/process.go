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
	"context"
	"fmt"
	"strings"

	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/mm"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// Standard descriptors installed for every process.
const (
	StdoutFD = 1
	StderrFD = 2
)

// Credential identifies the owner of a process.
type Credential struct {
	UID uint32

	// SFSKey is the AES-128 key sealing the owner's secure files.
	SFSKey []byte
}

// Process is an application process: an address space, a descriptor table
// and the threads running in them.
type Process struct {
	k *Kernel

	Name       string
	AppInfo    AppInfo
	Credential Credential

	// SFSPrefix is the path prefix under which files are secure.
	SFSPrefix string

	// HelperPID is the helper process serving this process.
	HelperPID int32

	// ShadowBinderVMStart is where the helper maps the binder window.
	ShadowBinderVMStart hostarch.Addr

	// BinderVMStart and BinderVMSize locate the binder window in this
	// process, once mapped.
	BinderVMStart hostarch.Addr
	BinderVMSize  uint32

	// ScreenEnabled is set while the process owns the screen.
	ScreenEnabled bool

	// EntryPoint is the address the main thread starts at.
	EntryPoint hostarch.Addr

	// WorkspaceFD and WorkspaceSize describe the Android property
	// workspace the helper shares with the process.
	WorkspaceFD   int32
	WorkspaceSize uint32

	task platform.AddressSpace
	as   *mm.AddressSpace
	mm   *mm.MemoryManager
	fds  *fs.FDTable

	threads  []*Thread
	released bool
}

// NewProcess claims a helper and creates an empty process. The process has
// no threads until NewThread is called.
func (k *Kernel) NewProcess(ctx context.Context, name string, cred Credential, info AppInfo) (*Process, error) {
	take, err := k.helper.TakeHelper(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking a helper for %s: %w", name, err)
	}
	task, err := k.platform.NewAddressSpace(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("creating the task of %s: %w", name, err)
	}
	as := mm.NewAddressSpace(k.memory, k.alien, task)
	as.HelperPID = take.PID
	p := &Process{
		k:                   k,
		Name:                name,
		AppInfo:             info,
		Credential:          cred,
		SFSPrefix:           info.DataDir,
		HelperPID:           take.PID,
		ShadowBinderVMStart: take.ShadowBinderVMStart,
		WorkspaceFD:         take.WorkspaceFD,
		WorkspaceSize:       take.WorkspaceSize,
		task:                task,
		as:                  as,
		mm:                  mm.NewMemoryManager(as, k.pager, k.memory),
		fds:                 fs.NewFDTable(),
	}
	k.processes = append(k.processes, p)
	log.Infof("Created process %s served by helper %d", name, take.PID)
	return p, nil
}

// NewThread creates a stopped thread in p.
func (p *Process) NewThread(ctx context.Context) (*Thread, error) {
	h, err := p.k.platform.CreateThread(ctx, p.task)
	if err != nil {
		return nil, fmt.Errorf("creating a thread in %s: %w", p.Name, err)
	}
	t := &Thread{k: p.k, p: p, handle: h}
	t.vbinder.init(t)
	p.threads = append(p.threads, t)
	p.k.threads[h] = t
	return t, nil
}

// Kernel returns the kernel.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// AddressSpace returns the address space.
func (p *Process) AddressSpace() *mm.AddressSpace {
	return p.as
}

// MemoryManager returns the user memory accessor.
func (p *Process) MemoryManager() *mm.MemoryManager {
	return p.mm
}

// FDTable returns the descriptor table.
func (p *Process) FDTable() *fs.FDTable {
	return p.fds
}

// Threads returns the live threads.
func (p *Process) Threads() []*Thread {
	return p.threads
}

// IsSecureFSPath returns true if files at path are stored in SecureFS.
func (p *Process) IsSecureFSPath(path string) bool {
	return p.SFSPrefix != "" && strings.HasPrefix(path, p.SFSPrefix)
}

// InstallStdio installs console files at the standard output descriptors.
func (p *Process) InstallStdio() {
	p.fds.Add(StdoutFD, fs.NewStdout(p.k))
	p.fds.Add(StderrFD, fs.NewStdout(p.k))
}

// Exit tears down every thread of p, releasing it.
func (p *Process) Exit(ctx context.Context) {
	for _, t := range append([]*Thread(nil), p.threads...) {
		t.Exit(ctx)
	}
}

func (p *Process) removeThread(t *Thread) {
	for i, o := range p.threads {
		if o == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

// release frees everything the process holds once its last thread is gone.
func (p *Process) release(ctx context.Context) {
	if p.released {
		return
	}
	p.released = true
	p.k.security.onProcessExit(p)
	p.fds.Release(ctx)
	p.as.Release(ctx)
	p.task.Release(ctx)
	for i, o := range p.k.processes {
		if o == p {
			p.k.processes = append(p.k.processes[:i], p.k.processes[i+1:]...)
			break
		}
	}
	log.Infof("Process %s exited", p.Name)
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("process %s (helper %d)", p.Name, p.HelperPID)
}
