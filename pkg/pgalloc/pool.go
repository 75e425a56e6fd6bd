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

// Package pgalloc hands out physical pages from the fixed pools the kernel
// owns: the general page pool and the completion scratch pool shared with
// the helper. Pool membership is decided by address range, so a frame is
// always returned to the pool whose window contains it.
package pgalloc

import (
	"fmt"
	"os"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/google/btree"
	"golang.org/x/sys/unix"
)

// Frame is the physical address of a page.
type Frame uint32

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("frame:%#x", uint32(f))
}

// extent is a run of free pages [start, end).
type extent struct {
	start, end Frame
}

func extentLess(a, b extent) bool {
	return a.start < b.start
}

// Pool is a fixed window of physical pages managed with a first-fit free
// list. It is not safe for concurrent use; the kernel serializes access
// through its dispatch loop.
type Pool struct {
	name string
	base Frame
	size uint32

	// mem is the host mapping of the window. mem[0] is the byte at base.
	mem []byte

	// file backs mem when the pool is shared with the helper.
	file *os.File

	free      *btree.BTreeG[extent]
	freePages uint32
}

// NewPool creates a pool over mem, which must be a whole number of pages.
// base is the physical address of mem[0].
func NewPool(name string, base Frame, mem []byte) *Pool {
	if uint32(base)%hostarch.PageSize != 0 || len(mem)%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("pool %s: unaligned window base %v size %#x", name, base, len(mem)))
	}
	p := &Pool{
		name: name,
		base: base,
		size: uint32(len(mem)),
		mem:  mem,
		free: btree.NewG(8, extentLess),
	}
	if len(mem) > 0 {
		p.free.ReplaceOrInsert(extent{start: base, end: base + Frame(len(mem))})
		p.freePages = uint32(len(mem)) / hostarch.PageSize
	}
	return p
}

// NewMemfdPool creates a pool backed by an anonymous memory file, so that
// its pages can be shared with another process by passing File().
func NewMemfdPool(name string, base Frame, size uint32) (*Pool, error) {
	if size == 0 || size%hostarch.PageSize != 0 {
		return nil, fmt.Errorf("pool %s: size %#x is not a positive multiple of the page size", name, size)
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create(%q): %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate(%q, %#x): %w", name, size, err)
	}
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap(%q): %w", name, err)
	}
	p := NewPool(name, base, mem)
	p.file = os.NewFile(uintptr(fd), name)
	log.Infof("Pool %s: %d pages at %v, memfd %d", name, p.freePages, base, fd)
	return p, nil
}

// Close releases the host mapping of a memfd-backed pool.
func (p *Pool) Close() error {
	if p.file == nil {
		return nil
	}
	if err := unix.Munmap(p.mem); err != nil {
		return err
	}
	p.mem = nil
	return p.file.Close()
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// File returns the memory file backing the pool, or nil.
func (p *Pool) File() *os.File { return p.file }

// Base returns the first frame of the pool window.
func (p *Pool) Base() Frame { return p.base }

// Size returns the size of the pool window in bytes.
func (p *Pool) Size() uint32 { return p.size }

// Available returns the number of free pages.
func (p *Pool) Available() uint32 { return p.freePages }

// Contains returns true if f lies in the pool window.
func (p *Pool) Contains(f Frame) bool {
	return f >= p.base && uint32(f-p.base) < p.size
}

// Offset returns the offset of f from the start of the window. Buffers shared
// with the helper are named by this offset.
func (p *Pool) Offset(f Frame) uint32 {
	if !p.Contains(f) {
		panic(fmt.Sprintf("pool %s: %v is outside the window", p.name, f))
	}
	return uint32(f - p.base)
}

// AllocPages allocates n contiguous pages. ok is false if no run is large
// enough. The pages are not cleared.
func (p *Pool) AllocPages(n uint32) (f Frame, ok bool) {
	if n == 0 {
		return 0, false
	}
	want := Frame(n * hostarch.PageSize)
	var found extent
	p.free.Ascend(func(e extent) bool {
		if e.end-e.start >= want {
			found, ok = e, true
			return false
		}
		return true
	})
	if !ok {
		return 0, false
	}
	p.free.Delete(found)
	if found.end-found.start > want {
		p.free.ReplaceOrInsert(extent{start: found.start + want, end: found.end})
	}
	p.freePages -= n
	return found.start, true
}

// AllocPage allocates one page.
func (p *Pool) AllocPage() (Frame, bool) {
	return p.AllocPages(1)
}

// FreePages returns n pages starting at f to the pool. Freeing a page that is
// already free is a fatal error.
func (p *Pool) FreePages(f Frame, n uint32) {
	if n == 0 {
		return
	}
	e := extent{start: f, end: f + Frame(n*hostarch.PageSize)}
	if uint32(f)%hostarch.PageSize != 0 || !p.Contains(f) || !p.Contains(e.end-1) {
		panic(fmt.Sprintf("pool %s: bad free of %d pages at %v", p.name, n, f))
	}
	var prev, next extent
	var hasPrev, hasNext bool
	p.free.DescendLessOrEqual(e, func(x extent) bool {
		prev, hasPrev = x, true
		return false
	})
	p.free.AscendGreaterOrEqual(extent{start: e.start + 1}, func(x extent) bool {
		next, hasNext = x, true
		return false
	})
	if (hasPrev && prev.end > e.start) || (hasNext && next.start < e.end) {
		panic(fmt.Sprintf("pool %s: double free of %v", p.name, f))
	}
	// Merge with neighbours.
	if hasPrev && prev.end == e.start {
		p.free.Delete(prev)
		e.start = prev.start
	}
	if hasNext && next.start == e.end {
		p.free.Delete(next)
		e.end = next.end
	}
	p.free.ReplaceOrInsert(e)
	p.freePages += n
}

// FreePage returns a single page to the pool.
func (p *Pool) FreePage(f Frame) {
	p.FreePages(f, 1)
}

// Bytes returns the host view of n bytes starting at f.
func (p *Pool) Bytes(f Frame, n uint32) []byte {
	off := p.Offset(f)
	if uint64(off)+uint64(n) > uint64(p.size) {
		panic(fmt.Sprintf("pool %s: %d bytes at %v overrun the window", p.name, n, f))
	}
	return p.mem[off : off+n : off+n]
}
