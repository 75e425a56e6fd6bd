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


package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/kernel/kerneltest"
	"github.com/google/go-cmp/cmp"
)

const (
	exePath    = "/system/bin/app_process"
	linkerPath = "/system/bin/linker"

	exeBase    = 0x08048000
	linkerBase = 0xb0000000
)

// segment is a PT_LOAD segment of a test binary.
type segment struct {
	vaddr uint32
	memsz uint32
	flags elf.ProgFlag
	data  []byte
}

// binaryDesc describes a test ELF file.
type binaryDesc struct {
	typ    elf.Type
	entry  uint32
	interp string
	segs   []segment
}

// build lays out the file: header, program headers and the interpreter path
// in the first page, then each segment's data on its own page.
func (b binaryDesc) build() []byte {
	var phdrs []elf.Prog32
	var interp []byte
	nphdrs := len(b.segs)
	if b.interp != "" {
		nphdrs++
	}
	const ehsize, phsize = 52, 32
	if b.interp != "" {
		interp = append([]byte(b.interp), 0)
		phdrs = append(phdrs, elf.Prog32{
			Type:   uint32(elf.PT_INTERP),
			Off:    uint32(ehsize + phsize*nphdrs),
			Filesz: uint32(len(interp)),
			Memsz:  uint32(len(interp)),
			Flags:  uint32(elf.PF_R),
		})
	}
	for i, s := range b.segs {
		off := uint32(i+1)*hostarch.PageSize + s.vaddr%hostarch.PageSize
		phdrs = append(phdrs, elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: uint32(len(s.data)),
			Memsz:  s.memsz,
			Flags:  uint32(s.flags),
			Align:  hostarch.PageSize,
		})
	}
	hdr := elf.Header32{
		Type:      uint16(b.typ),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     uint16(nphdrs),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	binary.Write(&buf, hostarch.ByteOrder, &hdr)
	binary.Write(&buf, hostarch.ByteOrder, phdrs)
	buf.Write(interp)
	file := buf.Bytes()
	for i, s := range b.segs {
		off := (i+1)*hostarch.PageSize + int(s.vaddr%hostarch.PageSize)
		if grow := off + len(s.data) - len(file); grow > 0 {
			file = append(file, make([]byte, grow)...)
		}
		copy(file[off:], s.data)
	}
	return file
}

// files is a fake helper file system.
type files struct {
	paths map[string][]byte
	open  map[uint32][]byte
	next  uint32
}

// serve installs handlers for the synchronous file operations the loader
// uses.
func (fsys *files) serve(e *kerneltest.Env) {
	fsys.open = make(map[uint32][]byte)
	fsys.next = 20
	e.Helper.Handle(uint32(helper.OpOpen), func(words []uint32) ([]uint32, error) {
		sync := e.Client.SyncBuffer()
		path := string(sync[:bytes.IndexByte(sync, 0)])
		data, ok := fsys.paths[path]
		if !ok {
			return []uint32{words[0], uint32(linuxerr.ToReturn(linuxerr.ENOENT))}, nil
		}
		fd := fsys.next
		fsys.next++
		fsys.open[fd] = data
		return []uint32{words[0], fd}, nil
	})
	e.Helper.Handle(uint32(helper.OpFstatCombined), func(words []uint32) ([]uint32, error) {
		data, ok := fsys.open[words[3]]
		if !ok {
			return []uint32{words[0], uint32(linuxerr.ToReturn(linuxerr.EBADF)), linux.SizeOfStat64}, nil
		}
		st := linux.Stat64(e.Client.SyncBuffer()[:linux.SizeOfStat64])
		clear(st)
		st.SetSize(int64(len(data)))
		return []uint32{words[0], 0, linux.SizeOfStat64}, nil
	})
	e.Helper.Handle(uint32(helper.OpVFSRead), func(words []uint32) ([]uint32, error) {
		data, ok := fsys.open[words[2]]
		if !ok {
			return []uint32{words[0], uint32(linuxerr.ToReturn(linuxerr.EBADF)), 0}, nil
		}
		count, pos := words[3], words[4]
		if pos > uint32(len(data)) {
			pos = uint32(len(data))
		}
		n := copy(e.Client.SyncBuffer()[:count], data[pos:])
		return []uint32{words[0], uint32(n), pos + uint32(n)}, nil
	})
}

func newEnv(t *testing.T, paths map[string][]byte) *kerneltest.Env {
	t.Helper()
	table := &kernel.SyscallTable{}
	table.Init()
	e := kerneltest.New(t, table)
	fsys := &files{paths: paths}
	fsys.serve(e)
	return e
}

var (
	text = segment{vaddr: exeBase, memsz: 0x1000, flags: elf.PF_R | elf.PF_X, data: []byte("\x90\x90\xcd\x80")}
	data = segment{vaddr: exeBase + 0x2010, memsz: 0x3000, flags: elf.PF_R | elf.PF_W, data: []byte("initialized")}
)

func loadArgs() LoadArgs {
	return LoadArgs{
		Filename:   exePath,
		Argv:       []string{"app_process", "-Xzygote"},
		Envv:       []string{"PATH=/system/bin"},
		Credential: kernel.DefaultCredential(),
	}
}

// initialStack decodes the stack of a started thread.
type initialStack struct {
	argv []string
	envv []string
	auxv map[uint32]uint32
}

func readStack(t *testing.T, e *kerneltest.Env, th *kernel.Thread, sp hostarch.Addr) initialStack {
	t.Helper()
	var s initialStack
	readString := func(addr uint32) string {
		str, err := th.CopyInString(hostarch.Addr(addr), linux.PATH_MAX)
		if err != nil {
			t.Fatalf("CopyInString(%#x) failed: %v", addr, err)
		}
		return str
	}
	argc := e.Word(th, sp)
	addr := sp + 4
	for i := uint32(0); i < argc; i++ {
		s.argv = append(s.argv, readString(e.Word(th, addr)))
		addr += 4
	}
	if w := e.Word(th, addr); w != 0 {
		t.Fatalf("argv[argc] = %#x, want NULL", w)
	}
	for addr += 4; e.Word(th, addr) != 0; addr += 4 {
		s.envv = append(s.envv, readString(e.Word(th, addr)))
	}
	s.auxv = make(map[uint32]uint32)
	for addr += 4; ; addr += 8 {
		key, val := e.Word(th, addr), e.Word(th, addr+4)
		if key == linux.AT_NULL {
			break
		}
		s.auxv[key] = val
	}
	return s
}

func TestLoadStatic(t *testing.T) {
	exe := binaryDesc{typ: elf.ET_EXEC, entry: exeBase, segs: []segment{text, data}}.build()
	e := newEnv(t, map[string][]byte{exePath: exe})

	args := loadArgs()
	args.AppInfo = kernel.AppInfo{PackageName: "com.example.app", DataDir: "/data/data/com.example.app"}
	p, err := Load(e.Ctx, e.Kernel, args)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	threads := p.Threads()
	if len(threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(threads))
	}
	th := threads[0]
	ts := e.Platform.Threads[th.Handle()]
	if !ts.Started || ts.IP != exeBase {
		t.Fatalf("main thread: got started=%t ip=%#x, want started at %#x", ts.Started, ts.IP, exeBase)
	}
	if ts.SP < StackStart || ts.SP >= StackStart+StackSize || ts.SP%4 != 0 {
		t.Errorf("stack pointer %#x outside [%#x, %#x) or unaligned", ts.SP, StackStart, StackStart+StackSize)
	}

	s := readStack(t, e, th, ts.SP)
	if diff := cmp.Diff(args.Argv, s.argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	wantEnv := []string{"PATH=/system/bin", "ANDROID_PROPERTY_WORKSPACE=3,65536"}
	if diff := cmp.Diff(wantEnv, s.envv); diff != "" {
		t.Errorf("envv mismatch (-want +got):\n%s", diff)
	}
	wantAux := map[uint32]uint32{
		linux.AT_PHDR:   s.auxv[linux.AT_PHDR],
		linux.AT_PHENT:  32,
		linux.AT_PHNUM:  2,
		linux.AT_PAGESZ: hostarch.PageSize,
		linux.AT_BASE:   0,
		linux.AT_ENTRY:  exeBase,
	}
	if diff := cmp.Diff(wantAux, s.auxv); diff != "" {
		t.Errorf("auxv mismatch (-want +got):\n%s", diff)
	}
	var phdr elf.Prog32
	if err := binary.Read(bytes.NewReader(e.Read(th, hostarch.Addr(s.auxv[linux.AT_PHDR]), 32)), hostarch.ByteOrder, &phdr); err != nil {
		t.Fatalf("decoding AT_PHDR: %v", err)
	}
	if phdr.Type != uint32(elf.PT_LOAD) || phdr.Vaddr != exeBase {
		t.Errorf("first program header: got %+v, want the text segment", phdr)
	}

	// Segments are backed by the file, and zero-filled past it.
	if got := e.Read(th, exeBase, len(text.data)); !bytes.Equal(got, text.data) {
		t.Errorf("text: got %q, want %q", got, text.data)
	}
	if got := e.Read(th, hostarch.Addr(data.vaddr), len(data.data)); !bytes.Equal(got, data.data) {
		t.Errorf("data: got %q, want %q", got, data.data)
	}
	if got := e.Read(th, hostarch.Addr(data.vaddr)+hostarch.PageSize, 4); !bytes.Equal(got, make([]byte, 4)) {
		t.Errorf("bss: got %x, want zeroes", got)
	}
	as := p.AddressSpace()
	if r := as.Find(exeBase); r == nil || r.Access.Write || !r.Access.Execute {
		t.Errorf("text region: got %v, want r-x", r)
	}
	if want := hostarch.Addr(exeBase + 0x6000); as.Brk != want || as.StartBrk != want {
		t.Errorf("brk: got (%#x, %#x), want %#x", as.StartBrk, as.Brk, want)
	}

	// The workspace and the standard streams are installed.
	if f := p.FDTable().Get(3); f == nil || f.Inode.Kind() != fs.KindArch || f.Inode.LinuxFd != kerneltest.WorkspaceFD {
		t.Errorf("fd 3: got %v, want the property workspace", f)
	}
	for _, fd := range []int32{kernel.StdoutFD, kernel.StderrFD} {
		if f := p.FDTable().Get(fd); f == nil || f.Inode.Kind() != fs.KindConsole {
			t.Errorf("fd %d: got %v, want the console", fd, f)
		}
	}
	sends := e.SendsTo(helper.OpWriteAppInfo)
	if len(sends) != 1 {
		t.Fatalf("WRITE_APP_INFO requests: got %d, want 1", len(sends))
	}
	if got, want := sends[0].Words[2], uint32(len(args.AppInfo.Parcel())); got != want {
		t.Errorf("app info length: got %d, want %d", got, want)
	}
	if p.EntryPoint != exeBase {
		t.Errorf("EntryPoint: got %#x, want %#x", p.EntryPoint, exeBase)
	}
}

func TestLoadInterpreter(t *testing.T) {
	exe := binaryDesc{typ: elf.ET_EXEC, entry: exeBase, interp: linkerPath, segs: []segment{text, data}}.build()
	linker := binaryDesc{
		typ:   elf.ET_EXEC,
		entry: linkerBase + 0x10,
		segs:  []segment{{vaddr: linkerBase, memsz: 0x2000, flags: elf.PF_R | elf.PF_X, data: []byte("linker")}},
	}.build()
	e := newEnv(t, map[string][]byte{exePath: exe, linkerPath: linker})

	p, err := Load(e.Ctx, e.Kernel, loadArgs())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	th := p.Threads()[0]
	ts := e.Platform.Threads[th.Handle()]
	if ts.IP != linkerBase+0x10 {
		t.Errorf("entry: got %#x, want the interpreter's %#x", ts.IP, linkerBase+0x10)
	}
	s := readStack(t, e, th, ts.SP)
	if got := s.auxv[linux.AT_BASE]; got != linkerBase {
		t.Errorf("AT_BASE: got %#x, want %#x", got, linkerBase)
	}
	if got := s.auxv[linux.AT_ENTRY]; got != exeBase {
		t.Errorf("AT_ENTRY: got %#x, want %#x", got, exeBase)
	}
	if got := s.auxv[linux.AT_PHNUM]; got != 3 {
		t.Errorf("AT_PHNUM: got %d, want 3", got)
	}
	if got := e.Read(th, linkerBase, 6); string(got) != "linker" {
		t.Errorf("linker text: got %q, want %q", got, "linker")
	}
	if want := hostarch.Addr(linkerBase + 0x2000); p.AddressSpace().Brk != want {
		t.Errorf("brk: got %#x, want %#x", p.AddressSpace().Brk, want)
	}
	if e.SendsTo(helper.OpWriteAppInfo) != nil {
		t.Errorf("app info sent for a process without a package")
	}
}

func TestLoadErrors(t *testing.T) {
	static := binaryDesc{typ: elf.ET_EXEC, entry: exeBase, segs: []segment{text}}
	shared := static
	shared.typ = elf.ET_DYN
	needsLinker := static
	needsLinker.interp = linkerPath
	nested := static
	nested.interp = "/system/bin/other"
	overlap := binaryDesc{typ: elf.ET_EXEC, entry: exeBase, segs: []segment{{vaddr: 0xbffff000, memsz: 0x3000, flags: elf.PF_R, data: []byte("x")}}}

	for _, tc := range []struct {
		name  string
		paths map[string][]byte
		want  error
	}{
		{name: "missing", paths: map[string][]byte{}, want: linuxerr.ENOENT},
		{name: "not elf", paths: map[string][]byte{exePath: []byte("#!/system/bin/sh\n")}, want: linuxerr.ENOEXEC},
		{name: "shared object", paths: map[string][]byte{exePath: shared.build()}, want: linuxerr.ENOEXEC},
		{name: "missing interpreter", paths: map[string][]byte{exePath: needsLinker.build()}, want: linuxerr.ENOENT},
		{name: "nested interpreter", paths: map[string][]byte{exePath: needsLinker.build(), linkerPath: nested.build()}, want: linuxerr.ENOEXEC},
		{name: "kernel overlap", paths: map[string][]byte{exePath: overlap.build()}, want: linuxerr.ENOEXEC},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.paths)
			_, err := Load(e.Ctx, e.Kernel, loadArgs())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Load: got %v, want %v", err, tc.want)
			}
			if got := len(e.Kernel.Processes()); got != 0 {
				t.Errorf("processes after a failed load: got %d, want 0", got)
			}
			for h, ts := range e.Platform.Threads {
				if !ts.Destroyed {
					t.Errorf("thread %#x not destroyed", h)
				}
			}
		})
	}
}
