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


// Package loader creates processes from ELF executables.
//
// The executable and its interpreter are opened through the helper and
// mapped directly from the helper's descriptors. The initial stack follows
// the i386 System V layout:
//
//	argc
//	argv[0..argc), NULL
//	envp[...], NULL
//	auxv pairs, AT_NULL
//	program headers
//	argument and environment strings
package loader

import (
	"context"
	"fmt"
	"path"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
)

const (
	// StackStart is the lowest address of the initial stack.
	StackStart = hostarch.Addr(0xb2000000)

	// StackSize is the size of the initial stack.
	StackSize = 128 << 10

	// WorkspaceEnv names the environment variable carrying the property
	// workspace descriptor and size.
	WorkspaceEnv = "ANDROID_PROPERTY_WORKSPACE"
)

// LoadArgs holds the arguments to Load.
type LoadArgs struct {
	// Filename is the executable, as seen by the helper.
	Filename string

	// Argv and Envv are the argument and environment vectors. Load
	// appends the property workspace to the environment.
	Argv []string
	Envv []string

	Credential kernel.Credential

	// AppInfo describes the Android application, if any. A non-empty
	// package name is forwarded to the helper.
	AppInfo kernel.AppInfo
}

// Load creates a process running args.Filename and starts its main thread.
func Load(ctx context.Context, k *kernel.Kernel, args LoadArgs) (*kernel.Process, error) {
	name := args.AppInfo.PackageName
	if name == "" {
		name = path.Base(args.Filename)
	}
	p, err := k.NewProcess(ctx, name, args.Credential, args.AppInfo)
	if err != nil {
		return nil, err
	}
	t, err := p.NewThread(ctx)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			t.Exit(ctx)
		}
	}()

	entry, sp, err := load(ctx, p, args)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", args.Filename, err)
	}

	p.InstallStdio()
	if args.AppInfo.PackageName != "" {
		if err := k.Helper().WriteAppInfo(ctx, p.HelperPID, args.AppInfo.Parcel()); err != nil {
			return nil, fmt.Errorf("writing the app info of %s: %w", name, err)
		}
	}
	if err := t.Start(ctx, entry, sp); err != nil {
		return nil, fmt.Errorf("starting %v: %w", t, err)
	}
	ok = true
	log.Infof("Started %s at %#x with stack %#x", name, entry, sp)
	return p, nil
}

// load maps the executable and builds the stack. It returns the initial
// instruction and stack pointers.
func load(ctx context.Context, p *kernel.Process, args LoadArgs) (entry, sp hostarch.Addr, err error) {
	as := p.AddressSpace()
	if err := as.AddStackMapping(ctx, StackStart, StackSize); err != nil {
		return 0, 0, err
	}
	s := &stack{ctx: ctx, p: p, top: StackStart + StackSize, bottom: StackStart}

	envv := append(append([]string(nil), args.Envv...), workspaceEnv(p))
	envp, err := s.pushStrings(envv)
	if err != nil {
		return 0, 0, err
	}
	argv, err := s.pushStrings(args.Argv)
	if err != nil {
		return 0, 0, err
	}

	exe, err := openELF(ctx, p, args.Filename)
	if err != nil {
		return 0, 0, err
	}
	defer exe.Close(ctx)
	info, err := parseHeader(exe)
	if err != nil {
		return 0, 0, err
	}

	var (
		base   hostarch.Addr
		interp loadedELF
	)
	entry = info.entry
	if info.interpreter != "" {
		interp, err = loadInterpreter(ctx, p, info.interpreter)
		if err != nil {
			return 0, 0, err
		}
		base, entry = interp.start, interp.entry
	}
	bin, err := mapSegments(ctx, as, exe, info)
	if err != nil {
		return 0, 0, err
	}
	brk := bin.end
	if interp.end > brk {
		brk = interp.end
	}
	as.InitializeBrk(brk)
	p.EntryPoint = entry

	phdrs, err := rawProgramHeaders(exe, info)
	if err != nil {
		return 0, 0, linuxerr.ENOEXEC
	}
	s.align(4)
	phdrAddr, err := s.push(phdrs)
	if err != nil {
		return 0, 0, err
	}
	s.align(16)
	auxv := []uint32{
		linux.AT_PHDR, uint32(phdrAddr),
		linux.AT_PHENT, info.phdrSize,
		linux.AT_PHNUM, info.phdrNum,
		linux.AT_PAGESZ, hostarch.PageSize,
		linux.AT_BASE, uint32(base),
		linux.AT_ENTRY, uint32(info.entry),
		linux.AT_NULL, 0,
	}
	if _, err := s.pushWords(auxv...); err != nil {
		return 0, 0, err
	}
	if _, err := s.pushPointers(envp); err != nil {
		return 0, 0, err
	}
	if _, err := s.pushPointers(argv); err != nil {
		return 0, 0, err
	}
	if _, err := s.pushWords(uint32(len(argv))); err != nil {
		return 0, 0, err
	}
	return entry, s.top, nil
}

// loadInterpreter maps the program interpreter at path.
func loadInterpreter(ctx context.Context, p *kernel.Process, path string) (loadedELF, error) {
	f, err := openELF(ctx, p, path)
	if err != nil {
		log.Infof("Opening interpreter %s: %v", path, err)
		return loadedELF{}, err
	}
	defer f.Close(ctx)
	info, err := parseHeader(f)
	if err != nil {
		return loadedELF{}, err
	}
	if info.interpreter != "" {
		log.Infof("Interpreter %s asks for interpreter %s", path, info.interpreter)
		return loadedELF{}, linuxerr.ENOEXEC
	}
	return mapSegments(ctx, p.AddressSpace(), f, info)
}

// workspaceEnv installs a descriptor for the property workspace the helper
// shares with p and returns the environment entry naming it.
func workspaceEnv(p *kernel.Process) string {
	inode := fs.NewArchInode(p.Kernel(), p.HelperPID, p.WorkspaceFD, p.WorkspaceSize)
	fd := p.FDTable().AllocFD(fs.NewFile(inode, linux.O_RDONLY, 0))
	return fmt.Sprintf("%s=%d,%d", WorkspaceEnv, fd, p.WorkspaceSize)
}

// stack builds the initial stack downwards from top.
type stack struct {
	ctx    context.Context
	p      *kernel.Process
	top    hostarch.Addr
	bottom hostarch.Addr
}

// push copies b below the top of the stack and returns its address.
func (s *stack) push(b []byte) (hostarch.Addr, error) {
	if uint32(s.top-s.bottom) < uint32(len(b)) {
		return 0, linuxerr.E2BIG
	}
	s.top -= hostarch.Addr(len(b))
	if n, err := s.p.MemoryManager().CopyOut(s.ctx, s.top, b); err != nil || n != len(b) {
		return 0, linuxerr.EFAULT
	}
	return s.top, nil
}

// pushWords pushes words so that the first ends up lowest.
func (s *stack) pushWords(words ...uint32) (hostarch.Addr, error) {
	b := make([]byte, 0, 4*len(words))
	for _, w := range words {
		b = hostarch.ByteOrder.AppendUint32(b, w)
	}
	return s.push(b)
}

// pushPointers pushes a NULL-terminated pointer array.
func (s *stack) pushPointers(addrs []hostarch.Addr) (hostarch.Addr, error) {
	words := make([]uint32, 0, len(addrs)+1)
	for _, a := range addrs {
		words = append(words, uint32(a))
	}
	return s.pushWords(append(words, 0)...)
}

// pushStrings pushes NUL-terminated copies of strs and returns their
// addresses.
func (s *stack) pushStrings(strs []string) ([]hostarch.Addr, error) {
	addrs := make([]hostarch.Addr, len(strs))
	for i, str := range strs {
		addr, err := s.push(append([]byte(str), 0))
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

// align rounds the top of the stack down to a multiple of n.
func (s *stack) align(n uint32) {
	s.top &^= hostarch.Addr(n - 1)
}
