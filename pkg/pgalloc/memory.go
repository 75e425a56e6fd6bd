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

package pgalloc

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Buffer is a run of pages allocated from a Pool. A Buffer must be
// returned exactly once with Dispose.
type Buffer struct {
	pool  *Pool
	frame Frame
	pages uint32
	data  []byte
}

// Valid returns true if b refers to allocated pages.
func (b *Buffer) Valid() bool {
	return b != nil && b.pool != nil
}

// Frame returns the first frame of the buffer.
func (b *Buffer) Frame() Frame { return b.frame }

// Offset returns the offset of the buffer within its pool window.
func (b *Buffer) Offset() uint32 { return b.pool.Offset(b.frame) }

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() uint32 { return b.pages * hostarch.PageSize }

// Bytes returns the host view of the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Dispose returns the pages to their pool.
func (b *Buffer) Dispose() {
	if b.pool == nil {
		panic(fmt.Sprintf("double dispose of buffer at %v", b.frame))
	}
	b.pool.FreePages(b.frame, b.pages)
	b.pool = nil
	b.data = nil
}

// AllocBuffer allocates enough whole pages to hold n bytes. The contents are
// cleared. ok is false if the pool cannot satisfy the request.
func (p *Pool) AllocBuffer(n uint32) (*Buffer, bool) {
	size, ok := hostarch.PageRoundUp(n)
	if !ok || size == 0 {
		return nil, false
	}
	pages := size / hostarch.PageSize
	f, ok := p.AllocPages(pages)
	if !ok {
		return nil, false
	}
	data := p.Bytes(f, size)
	clear(data)
	return &Buffer{pool: p, frame: f, pages: pages, data: data}, true
}

// Memory is the physical memory of the kernel: the general page pool and the
// completion scratch pool. The windows must not overlap.
type Memory struct {
	General    *Pool
	Completion *Pool
}

// NewMemory returns a Memory over the two pools.
func NewMemory(general, completion *Pool) *Memory {
	gs, ge := uint64(general.base), uint64(general.base)+uint64(general.size)
	cs, ce := uint64(completion.base), uint64(completion.base)+uint64(completion.size)
	if gs < ce && cs < ge {
		panic(fmt.Sprintf("pool windows overlap: %s [%#x, %#x) and %s [%#x, %#x)", general.name, gs, ge, completion.name, cs, ce))
	}
	return &Memory{General: general, Completion: completion}
}

// PoolOf returns the pool owning f, or nil if f belongs to neither.
func (m *Memory) PoolOf(f Frame) *Pool {
	switch {
	case m.General.Contains(f):
		return m.General
	case m.Completion.Contains(f):
		return m.Completion
	default:
		return nil
	}
}

// Bytes returns the host view of n bytes at f, wherever f lives. ok is false
// if f is not backed by either pool.
func (m *Memory) Bytes(f Frame, n uint32) ([]byte, bool) {
	p := m.PoolOf(f)
	if p == nil {
		return nil, false
	}
	return p.Bytes(f, n), true
}

// Page returns the host view of the page containing f.
func (m *Memory) Page(f Frame) ([]byte, bool) {
	return m.Bytes(Frame(hostarch.Addr(f).RoundDown()), hostarch.PageSize)
}

// AllocZeroPage allocates a cleared page from the general pool. Running out of
// general pages leaves the kernel unable to make progress, so it panics.
func (m *Memory) AllocZeroPage() Frame {
	f, ok := m.General.AllocPage()
	if !ok {
		panic(fmt.Sprintf("pool %s exhausted", m.General.name))
	}
	clear(m.General.Bytes(f, hostarch.PageSize))
	return f
}
