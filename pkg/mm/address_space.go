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

// Package mm implements per-process address spaces: the sorted region set,
// the working set of resident pages, the pager, and user memory access.
//
// Nothing in this package takes locks. All methods run on the kernel loop.
package mm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/memmap"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/google/btree"
)

// AddressSpace is the set of regions of one process.
//
// Two fixed regions are always present: the zero page and the kernel window
// at the top of the address space.
type AddressSpace struct {
	regions *btree.BTreeG[*Region]
	ws      *WorkingSet
	flusher Flusher

	// HelperPID is the helper process that shadows this address space. Pages
	// of helper-owned shared mappings are borrowed from it.
	HelperPID int32

	StartBrk hostarch.Addr
	Brk      hostarch.Addr
}

// NewAddressSpace returns an address space holding only the fixed regions.
func NewAddressSpace(mem *pgalloc.Memory, alien *pgalloc.AlienAllocator, flusher Flusher) *AddressSpace {
	as := &AddressSpace{
		regions: btree.NewG(8, regionLess),
		ws:      newWorkingSet(mem, alien, flusher),
		flusher: flusher,
	}
	as.regions.ReplaceOrInsert(&Region{Start: 0, Size: hostarch.PageSize, Fixed: true})
	as.regions.ReplaceOrInsert(&Region{Start: hostarch.KernelOffset, Size: hostarch.KernelWindowSize, Fixed: true})
	return as
}

// WorkingSet returns the resident page table.
func (as *AddressSpace) WorkingSet() *WorkingSet {
	return as.ws
}

// UserToVirt returns the frame backing addr, if resident.
func (as *AddressSpace) UserToVirt(addr hostarch.Addr) (pgalloc.Frame, uint32, bool) {
	return as.ws.UserToVirt(addr)
}

// Find returns the region containing addr, or nil.
func (as *AddressSpace) Find(addr hostarch.Addr) *Region {
	var found *Region
	as.regions.DescendLessOrEqual(&Region{Start: addr}, func(r *Region) bool {
		if r.Contains(addr) {
			found = r
		}
		return false
	})
	return found
}

// overlapping returns the regions intersecting [start, end) in address order.
func (as *AddressSpace) overlapping(start hostarch.Addr, end uint64) []*Region {
	var rs []*Region
	as.regions.DescendLessOrEqual(&Region{Start: start}, func(r *Region) bool {
		if r.overlaps(start, end) {
			rs = append(rs, r)
		}
		return false
	})
	as.regions.AscendGreaterOrEqual(&Region{Start: start}, func(r *Region) bool {
		if uint64(r.Start) >= end {
			return false
		}
		if len(rs) == 0 || rs[0] != r {
			rs = append(rs, r)
		}
		return true
	})
	return rs
}

// touching returns the regions intersecting or adjacent to [start, end).
func (as *AddressSpace) touching(start hostarch.Addr, end uint64) []*Region {
	var rs []*Region
	as.regions.DescendLessOrEqual(&Region{Start: start}, func(r *Region) bool {
		if uint64(r.End()) >= uint64(start) {
			rs = append(rs, r)
		}
		return false
	})
	as.regions.AscendGreaterOrEqual(&Region{Start: start}, func(r *Region) bool {
		if uint64(r.Start) > end {
			return false
		}
		if len(rs) == 0 || rs[0] != r {
			rs = append(rs, r)
		}
		return true
	})
	return rs
}

// span returns the extent covered by rs, which must be sorted.
func span(rs []*Region) (hostarch.Addr, uint64) {
	last := rs[len(rs)-1]
	return rs[0].Start, uint64(last.Start) + uint64(last.Size)
}

// split cuts r at offset. r keeps the left part; the new right part is
// inserted and returned. The right part stays file-backed only if the split
// point lies inside the backed prefix of r.
func (as *AddressSpace) split(r *Region, offset uint32) *Region {
	if offset == 0 || offset >= r.Size {
		panic(fmt.Sprintf("split of %v at %#x", r, offset))
	}
	right := &Region{
		Start:  r.Start + hostarch.Addr(offset),
		Size:   r.Size - offset,
		Access: r.Access,
		Flags:  r.Flags,
		Fixed:  r.Fixed,
	}
	if r.Mappable != nil && offset < r.FileSize {
		right.Mappable = r.Mappable
		right.FileOffset = r.FileOffset + offset
		right.FileSize = r.FileSize - offset
		right.Mappable.IncRef()
	}
	r.cutRight(offset)
	as.regions.ReplaceOrInsert(right)
	return right
}

// mergeRange merges every mergeable pair of neighbours touching
// [start, end).
func (as *AddressSpace) mergeRange(ctx context.Context, start hostarch.Addr, end uint64) {
	rs := as.touching(start, end)
	if len(rs) == 0 {
		return
	}
	cur := rs[0]
	for _, next := range rs[1:] {
		if canMerge(cur, next) {
			as.regions.Delete(next)
			cur.expand(next)
			next.release(ctx)
			continue
		}
		cur = next
	}
}

// AddMapping maps [vaddr, vaddr+size), replacing whatever was mapped there
// before, as mmap(2) does. The first fileSize bytes are backed by m at
// fileOffset.
func (as *AddressSpace) AddMapping(ctx context.Context, access hostarch.AccessType, flags uint32, m memmap.Mappable, fileOffset, fileSize uint32, vaddr hostarch.Addr, size uint32) error {
	if size == 0 || size%hostarch.PageSize != 0 || !vaddr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if fileSize > size || (m == nil && fileSize != 0) {
		return linuxerr.EINVAL
	}
	if _, ok := vaddr.AddLength(size); !ok {
		return linuxerr.EINVAL
	}
	if err := as.RemoveMapping(ctx, vaddr, size); err != nil {
		return err
	}
	r := &Region{
		Start:  vaddr,
		Size:   size,
		Access: access,
		Flags:  flags & regionFlagsMask,
	}
	if m != nil {
		r.Mappable = m
		r.FileOffset = fileOffset
		r.FileSize = fileSize
		m.IncRef()
	}
	as.regions.ReplaceOrInsert(r)
	as.mergeRange(ctx, vaddr, uint64(vaddr)+uint64(size))
	return nil
}

// RemoveMapping unmaps [vaddr, vaddr+size) and evicts it from the working
// set. It fails without changing anything if the range touches a fixed
// region.
func (as *AddressSpace) RemoveMapping(ctx context.Context, vaddr hostarch.Addr, size uint32) error {
	if size == 0 || size%hostarch.PageSize != 0 || !vaddr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	end := uint64(vaddr) + uint64(size)
	rs := as.overlapping(vaddr, end)
	for _, r := range rs {
		if r.Fixed {
			return linuxerr.EINVAL
		}
	}
	if len(rs) == 0 {
		return nil
	}
	lo, hi := span(rs)
	for _, r := range rs {
		if r.Start < vaddr {
			r = as.split(r, uint32(vaddr-r.Start))
		}
		if uint64(r.End()) > end {
			as.split(r, uint32(end-uint64(r.Start)))
		}
		as.regions.Delete(r)
		r.release(ctx)
	}
	as.ws.Remove(ctx, vaddr, hostarch.Addr(end))
	// Remainders that lost their backing may now match a neighbour.
	as.mergeRange(ctx, lo, hi)
	return nil
}

// UpdateAccessRightRange changes the access of [start, start+size), as
// mprotect(2) does. It returns false without changing anything if start is
// unaligned or the range touches a fixed region.
func (as *AddressSpace) UpdateAccessRightRange(ctx context.Context, start hostarch.Addr, size uint32, access hostarch.AccessType) bool {
	if !start.IsPageAligned() {
		return false
	}
	size, ok := hostarch.PageRoundUp(size)
	if !ok {
		return false
	}
	end := uint64(start) + uint64(size)
	rs := as.overlapping(start, end)
	for _, r := range rs {
		if r.Fixed {
			return false
		}
	}
	if len(rs) == 0 {
		return true
	}
	lo, hi := span(rs)
	for _, r := range rs {
		if r.Access == access {
			continue
		}
		if r.Start < start {
			r = as.split(r, uint32(start-r.Start))
		}
		if uint64(r.End()) > end {
			as.split(r, uint32(end-uint64(r.Start)))
		}
		if as.flusher != nil {
			as.flusher.FlushRegions(r.Start, r.End(), hostarch.AnyAccess.Subtract(access))
		}
		r.Access = access
	}
	as.mergeRange(ctx, lo, hi)
	return true
}

// FindFreeRegion returns the first gap of at least size bytes above the zero
// page, or 0 if there is none.
func (as *AddressSpace) FindFreeRegion(size uint32) hostarch.Addr {
	var prev *Region
	var found hostarch.Addr
	as.regions.Ascend(func(r *Region) bool {
		if prev != nil && uint64(prev.End())+uint64(size) <= uint64(r.Start) {
			found = prev.End()
			return false
		}
		prev = r
		return true
	})
	return found
}

// ContainRegion returns true if any region intersects [start, start+size).
func (as *AddressSpace) ContainRegion(start hostarch.Addr, size uint32) bool {
	return len(as.overlapping(start, uint64(start)+uint64(size))) != 0
}

// AddStackMapping maps a read-write anonymous stack at [start, start+size).
func (as *AddressSpace) AddStackMapping(ctx context.Context, start hostarch.Addr, size uint32) error {
	return as.AddMapping(ctx, hostarch.ReadWrite, 0, nil, 0, 0, start, size)
}

// InitializeBrk sets the program break to start.
func (as *AddressSpace) InitializeBrk(start hostarch.Addr) {
	as.StartBrk = start
	as.Brk = start
}

// AddHeapMapping grows the heap to newBrk, which must be above Brk.
func (as *AddressSpace) AddHeapMapping(ctx context.Context, newBrk hostarch.Addr) error {
	if newBrk <= as.Brk {
		return linuxerr.EINVAL
	}
	if err := as.AddMapping(ctx, hostarch.ReadWrite, 0, nil, 0, 0, as.Brk, uint32(newBrk-as.Brk)); err != nil {
		return err
	}
	as.Brk = newBrk
	return nil
}

// verify returns true if [start, start+size) is covered by non-fixed regions
// that allow at.
func (as *AddressSpace) verify(start hostarch.Addr, size uint32, at hostarch.AccessType) bool {
	cur := uint64(start)
	end := cur + uint64(size)
	for cur < end {
		r := as.Find(hostarch.Addr(cur))
		if r == nil || r.Fixed || !r.Access.Intersect(at).Any() {
			return false
		}
		cur = uint64(r.Start) + uint64(r.Size)
	}
	return true
}

// VerifyRead returns true if the whole range is readable.
func (as *AddressSpace) VerifyRead(start hostarch.Addr, size uint32) bool {
	return as.verify(start, size, hostarch.Read)
}

// VerifyWrite returns true if the whole range is writable.
func (as *AddressSpace) VerifyWrite(start hostarch.Addr, size uint32) bool {
	return as.verify(start, size, hostarch.Write)
}

// Regions returns a copy of the regions in address order.
func (as *AddressSpace) Regions() []Region {
	var rs []Region
	as.regions.Ascend(func(r *Region) bool {
		rs = append(rs, *r)
		return true
	})
	return rs
}

// String implements fmt.Stringer.String.
func (as *AddressSpace) String() string {
	var b strings.Builder
	as.regions.Ascend(func(r *Region) bool {
		fmt.Fprintf(&b, "%v\n", r)
		return true
	})
	return b.String()
}

// SanityCheck returns an error if the region set violates its invariants.
func (as *AddressSpace) SanityCheck() error {
	var prev *Region
	var err error
	as.regions.Ascend(func(r *Region) bool {
		if !r.Fixed && (r.Size == 0 || !r.Start.IsPageAligned() || r.Size%hostarch.PageSize != 0) {
			err = fmt.Errorf("unaligned region %v", r)
			return false
		}
		if r.FileSize > r.Size {
			err = fmt.Errorf("region %v is backed past its end", r)
			return false
		}
		if prev != nil {
			if uint64(prev.Start)+uint64(prev.Size) > uint64(r.Start) {
				err = fmt.Errorf("regions %v and %v overlap", prev, r)
				return false
			}
			if canMerge(prev, r) {
				err = fmt.Errorf("regions %v and %v should have been merged", prev, r)
				return false
			}
		}
		prev = r
		return true
	})
	if err == nil && as.Brk < as.StartBrk {
		err = fmt.Errorf("brk %v below start %v", as.Brk, as.StartBrk)
	}
	return err
}

// Release unmaps every user region and returns all resident pages.
func (as *AddressSpace) Release(ctx context.Context) {
	var user []*Region
	as.regions.Ascend(func(r *Region) bool {
		if !r.Fixed {
			user = append(user, r)
		}
		return true
	})
	for _, r := range user {
		as.regions.Delete(r)
		r.release(ctx)
	}
	as.ws.Remove(ctx, hostarch.PageSize, hostarch.KernelOffset)
	log.Debugf("Released address space with %d regions", len(user))
}
