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
	"context"
	"debug/elf"
	"encoding/binary"
	"io"
	"math"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/mm"
)

// maxInterpreterPath bounds the PT_INTERP segment.
const maxInterpreterPath = linux.PATH_MAX

// helperReader reads a file held open by the helper. Reads are synchronous
// and split to fit the sync buffer.
type helperReader struct {
	ctx context.Context
	c   *helper.Client
	pid int32
	fd  int32
}

// ReadAt implements io.ReaderAt.ReadAt.
func (r helperReader) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(dst)) > math.MaxUint32 {
		return 0, linuxerr.EINVAL
	}
	done := 0
	for done < len(dst) {
		chunk := dst[done:]
		if limit := len(r.c.SyncBuffer()); len(chunk) > limit {
			chunk = chunk[:limit]
		}
		n, _, err := r.c.Read(r.ctx, r.pid, r.fd, chunk, uint32(off)+uint32(done))
		if err != nil {
			return done, err
		}
		if n < 0 {
			return done, linuxerr.FromReturn(n)
		}
		if n == 0 {
			return done, io.EOF
		}
		done += int(n)
	}
	return done, nil
}

// elfFile is an executable opened by the helper.
type elfFile struct {
	path string
	file *fs.File
	size uint32
	r    io.ReaderAt
}

// openELF opens path in the helper of p for reading.
func openELF(ctx context.Context, p *kernel.Process, path string) (*elfFile, error) {
	h := p.Kernel().Helper()
	fd, err := h.Open(ctx, p.HelperPID, path, linux.O_RDONLY, 0)
	if fd = helper.Return(fd, err); fd < 0 {
		return nil, linuxerr.FromReturn(fd)
	}
	ret, st, err := h.Fstat64(ctx, p.HelperPID, fd)
	if ret = helper.Return(ret, err); ret < 0 {
		if cret, err := h.Close(ctx, p.HelperPID, fd); err != nil || cret < 0 {
			log.Debugf("Closing %s after a failed stat: %d, %v", path, cret, err)
		}
		return nil, linuxerr.FromReturn(ret)
	}
	if st.Size() > math.MaxUint32 {
		h.Close(ctx, p.HelperPID, fd)
		return nil, linuxerr.EFBIG
	}
	size := uint32(st.Size())
	inode := fs.NewArchInode(p.Kernel(), p.HelperPID, fd, size)
	return &elfFile{
		path: path,
		file: fs.NewFile(inode, linux.O_RDONLY, 0),
		size: size,
		r:    helperReader{ctx: ctx, c: h, pid: p.HelperPID, fd: fd},
	}, nil
}

// Close drops the file's reference. Mappings keep the inode open.
func (f *elfFile) Close(ctx context.Context) {
	f.file.Close(ctx)
}

// elfInfo contains the metadata needed to load an ELF binary.
type elfInfo struct {
	entry hostarch.Addr

	// phdrs are the program headers.
	phdrs []elf.ProgHeader

	// phdrOff, phdrSize and phdrNum locate the raw program header table.
	phdrOff  uint32
	phdrSize uint32
	phdrNum  uint32

	// interpreter is the PT_INTERP path, if any.
	interpreter string
}

// parseHeader parses the ELF header of f. Only i386 executables are
// accepted.
func parseHeader(f *elfFile) (elfInfo, error) {
	var hdr elf.Header32
	if err := binary.Read(io.NewSectionReader(f.r, 0, int64(f.size)), hostarch.ByteOrder, &hdr); err != nil {
		log.Infof("%s: reading ELF header: %v", f.path, err)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if !bytes.Equal(hdr.Ident[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		log.Infof("%s: not an ELF file", f.path)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS32 || elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		log.Infof("%s: not a 32-bit little-endian ELF file", f.path)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if elf.Type(hdr.Type) != elf.ET_EXEC {
		log.Infof("%s: ELF type %v is not ET_EXEC", f.path, elf.Type(hdr.Type))
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if elf.Machine(hdr.Machine) != elf.EM_386 {
		log.Infof("%s: machine %v is not EM_386", f.path, elf.Machine(hdr.Machine))
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if hdr.Phoff == 0 || hdr.Phnum == 0 || uint32(hdr.Phentsize) != uint32(binary.Size(elf.Prog32{})) {
		log.Infof("%s: bad program header table (%d entries of %d bytes at %#x)", f.path, hdr.Phnum, hdr.Phentsize, hdr.Phoff)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	info := elfInfo{
		entry:    hostarch.Addr(hdr.Entry),
		phdrOff:  hdr.Phoff,
		phdrSize: uint32(hdr.Phentsize),
		phdrNum:  uint32(hdr.Phnum),
	}
	if uint64(info.phdrOff)+uint64(info.phdrSize*info.phdrNum) > uint64(f.size) {
		log.Infof("%s: program headers extend beyond the end of the file", f.path)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	progs := make([]elf.Prog32, info.phdrNum)
	if err := binary.Read(io.NewSectionReader(f.r, int64(info.phdrOff), int64(info.phdrSize*info.phdrNum)), hostarch.ByteOrder, progs); err != nil {
		log.Infof("%s: reading program headers: %v", f.path, err)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	for _, p := range progs {
		phdr := elf.ProgHeader{
			Type:   elf.ProgType(p.Type),
			Flags:  elf.ProgFlag(p.Flags),
			Off:    uint64(p.Off),
			Vaddr:  uint64(p.Vaddr),
			Paddr:  uint64(p.Paddr),
			Filesz: uint64(p.Filesz),
			Memsz:  uint64(p.Memsz),
			Align:  uint64(p.Align),
		}
		info.phdrs = append(info.phdrs, phdr)
		if phdr.Type != elf.PT_INTERP {
			continue
		}
		if info.interpreter != "" {
			log.Infof("%s: multiple PT_INTERP segments", f.path)
			return elfInfo{}, linuxerr.ENOEXEC
		}
		if phdr.Filesz < 2 || phdr.Filesz > maxInterpreterPath || phdr.Off+phdr.Filesz > uint64(f.size) {
			log.Infof("%s: bad PT_INTERP segment of %d bytes at %#x", f.path, phdr.Filesz, phdr.Off)
			return elfInfo{}, linuxerr.ENOEXEC
		}
		path := make([]byte, phdr.Filesz)
		if _, err := f.r.ReadAt(path, int64(phdr.Off)); err != nil {
			log.Infof("%s: reading PT_INTERP: %v", f.path, err)
			return elfInfo{}, linuxerr.ENOEXEC
		}
		if i := bytes.IndexByte(path, 0); i >= 0 {
			path = path[:i]
		}
		if len(path) == 0 {
			return elfInfo{}, linuxerr.ENOEXEC
		}
		info.interpreter = string(path)
	}
	return info, nil
}

// rawProgramHeaders returns the program header table as stored in f.
func rawProgramHeaders(f *elfFile, info elfInfo) ([]byte, error) {
	b := make([]byte, info.phdrSize*info.phdrNum)
	if _, err := f.r.ReadAt(b, int64(info.phdrOff)); err != nil {
		return nil, err
	}
	return b, nil
}

// progFlagsAsAccess converts the segment flags to an access type.
func progFlagsAsAccess(f elf.ProgFlag) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    f&elf.PF_R != 0,
		Write:   f&elf.PF_W != 0,
		Execute: f&elf.PF_X != 0,
	}
}

// loadedELF describes an ELF binary mapped into memory.
type loadedELF struct {
	entry hostarch.Addr

	// start is the page of the lowest segment and end the page after the
	// highest.
	start hostarch.Addr
	end   hostarch.Addr
}

// mapSegments maps every PT_LOAD segment of f into as. Each segment maps
// its file range privately; memory past the file range is zero-filled.
func mapSegments(ctx context.Context, as *mm.AddressSpace, f *elfFile, info elfInfo) (loadedELF, error) {
	l := loadedELF{entry: info.entry}
	for _, phdr := range info.phdrs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Memsz == 0 {
			continue
		}
		if phdr.Filesz > phdr.Memsz {
			log.Infof("%s: PT_LOAD segment filesz %#x > memsz %#x", f.path, phdr.Filesz, phdr.Memsz)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		if phdr.Off+phdr.Filesz > uint64(f.size) {
			log.Infof("%s: PT_LOAD segment [%#x, %#x) extends beyond the end of the file (%#x)", f.path, phdr.Off, phdr.Off+phdr.Filesz, f.size)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		vaddr := hostarch.Addr(phdr.Vaddr)
		diff := vaddr.PageOffset()
		if phdr.Off < uint64(diff) || (uint32(phdr.Off)-diff)%hostarch.PageSize != 0 {
			log.Infof("%s: PT_LOAD segment offset %#x is not congruent to vaddr %#x", f.path, phdr.Off, phdr.Vaddr)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		if phdr.Memsz > math.MaxUint32-uint64(diff) {
			log.Infof("%s: PT_LOAD segment size %#x overflows", f.path, phdr.Memsz)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		memSize, ok := hostarch.PageRoundUp(uint32(phdr.Memsz) + diff)
		if !ok {
			log.Infof("%s: PT_LOAD segment size %#x overflows", f.path, phdr.Memsz)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		start := vaddr.RoundDown()
		end, ok := start.AddLength(memSize)
		if !ok || end > hostarch.KernelOffset {
			log.Infof("%s: PT_LOAD segment at %#x overlaps the kernel", f.path, vaddr)
			return loadedELF{}, linuxerr.ENOEXEC
		}
		access := progFlagsAsAccess(phdr.Flags)
		var err error
		if phdr.Filesz == 0 {
			err = as.AddMapping(ctx, access, linux.MAP_PRIVATE, nil, 0, 0, start, memSize)
		} else {
			off := uint32(phdr.Off) - diff
			err = as.AddMapping(ctx, access, linux.MAP_PRIVATE, f.file.Inode, off, uint32(phdr.Filesz)+diff, start, memSize)
		}
		if err != nil {
			log.Warningf("%s: mapping PT_LOAD segment at %#x: %v", f.path, start, err)
			return loadedELF{}, linuxerr.ENOMEM
		}
		if l.end == 0 || start < l.start {
			l.start = start
		}
		if end > l.end {
			l.end = end
		}
	}
	if l.end == 0 {
		log.Infof("%s: no PT_LOAD segments", f.path)
		return loadedELF{}, linuxerr.ENOEXEC
	}
	return l, nil
}
