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

package mm

import (
	"context"
	"fmt"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

const (
	pageTableShift = 10
	directoryShift = hostarch.PageShift + pageTableShift
	pageTableMask  = 1<<pageTableShift - 1
)

// Flusher removes hardware mappings of a user address range.
type Flusher interface {
	// FlushRegions revokes the permissions in revoked for [start, end).
	FlushRegions(start, end hostarch.Addr, revoked hostarch.AccessType)
}

type pageTable [1 << pageTableShift]pgalloc.Frame

// WorkingSet maps resident user pages to the frames backing them. It is a
// two-level table laid out like i386 paging, so lookups are O(1). Frame 0
// marks an empty slot.
type WorkingSet struct {
	directory [1 << (32 - directoryShift)]*pageTable

	mem     *pgalloc.Memory
	alien   *pgalloc.AlienAllocator
	flusher Flusher

	resident int
}

func newWorkingSet(mem *pgalloc.Memory, alien *pgalloc.AlienAllocator, flusher Flusher) *WorkingSet {
	return &WorkingSet{mem: mem, alien: alien, flusher: flusher}
}

func directoryIndex(addr hostarch.Addr) uint32 {
	return uint32(addr) >> directoryShift
}

func tableIndex(addr hostarch.Addr) uint32 {
	return (uint32(addr) >> hostarch.PageShift) & pageTableMask
}

// UserToVirt returns the frame mapped at the page containing addr, and the
// offset of addr within that page.
func (ws *WorkingSet) UserToVirt(addr hostarch.Addr) (pgalloc.Frame, uint32, bool) {
	pt := ws.directory[directoryIndex(addr)]
	if pt == nil {
		return 0, 0, false
	}
	f := pt[tableIndex(addr)]
	if f == 0 {
		return 0, 0, false
	}
	return f, addr.PageOffset(), true
}

// Add records that the page containing addr is backed by frame. The slot must
// be empty.
func (ws *WorkingSet) Add(addr hostarch.Addr, frame pgalloc.Frame) {
	if frame == 0 {
		panic(fmt.Sprintf("mapping %v to a null frame", addr))
	}
	di := directoryIndex(addr)
	pt := ws.directory[di]
	if pt == nil {
		pt = new(pageTable)
		ws.directory[di] = pt
	}
	ti := tableIndex(addr)
	if pt[ti] != 0 {
		panic(fmt.Sprintf("working set slot for %v already holds %v", addr, pt[ti]))
	}
	pt[ti] = frame
	ws.resident++
}

// Remove evicts every resident page in [start, end), returning each frame to
// the allocator that owns it, then flushes the whole range from the hardware
// in one call. start and end must be page-aligned.
func (ws *WorkingSet) Remove(ctx context.Context, start, end hostarch.Addr) {
	if !start.IsPageAligned() || !end.IsPageAligned() {
		panic(fmt.Sprintf("unaligned working set removal [%v, %v)", start, end))
	}
	for page := uint64(start); page < uint64(end); page += hostarch.PageSize {
		addr := hostarch.Addr(page)
		pt := ws.directory[directoryIndex(addr)]
		if pt == nil {
			// Skip to the next directory entry.
			page = (page>>directoryShift+1)<<directoryShift - hostarch.PageSize
			continue
		}
		ti := tableIndex(addr)
		if pt[ti] == 0 {
			continue
		}
		ws.freeFrame(ctx, pt[ti])
		pt[ti] = 0
		ws.resident--
	}
	if ws.flusher != nil {
		ws.flusher.FlushRegions(start, end, hostarch.AnyAccess)
	}
}

func (ws *WorkingSet) freeFrame(ctx context.Context, f pgalloc.Frame) {
	if ws.mem.General.Contains(f) {
		ws.mem.General.FreePage(f)
		return
	}
	ws.alien.Free(ctx, f)
}

// Resident returns the number of resident pages.
func (ws *WorkingSet) Resident() int {
	return ws.resident
}
