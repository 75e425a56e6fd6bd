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

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/memmap"
)

// regionFlagsMask is the subset of mmap flags that a region remembers.
const regionFlagsMask = linux.MAP_SHARED | linux.MAP_PRIVATE | linux.MAP_ANONYMOUS

// Region is a contiguous span of user address space with uniform access
// rights and optional file backing.
//
// The first FileSize bytes of the region are backed by Mappable starting at
// FileOffset; the rest of the region is zero-filled.
type Region struct {
	Start  hostarch.Addr
	Size   uint32
	Access hostarch.AccessType

	// Flags holds the MAP_SHARED, MAP_PRIVATE and MAP_ANONYMOUS bits the
	// region was created with.
	Flags uint32

	// Mappable is the backing object, or nil. The region holds a reference
	// on it.
	Mappable   memmap.Mappable
	FileOffset uint32
	FileSize   uint32

	// Fixed regions can never be unmapped or change access.
	Fixed bool
}

// End returns the first address past the region.
func (r *Region) End() hostarch.Addr {
	return r.Start + hostarch.Addr(r.Size)
}

// Contains returns true if addr lies in the region.
func (r *Region) Contains(addr hostarch.Addr) bool {
	return r.Start <= addr && uint64(addr) < uint64(r.Start)+uint64(r.Size)
}

// overlaps returns true if the region intersects [start, end).
func (r *Region) overlaps(start hostarch.Addr, end uint64) bool {
	return uint64(r.Start) < end && uint64(start) < uint64(r.Start)+uint64(r.Size)
}

// Shared returns true for MAP_SHARED regions.
func (r *Region) Shared() bool {
	return r.Flags&linux.MAP_SHARED != 0
}

// AlienShadow returns the helper-side address backing addr if the region is a
// shared mapping of helper-owned memory.
func (r *Region) AlienShadow(addr hostarch.Addr) (hostarch.Addr, bool) {
	if !r.Shared() || r.Mappable == nil {
		return 0, false
	}
	base, ok := r.Mappable.AlienShadowBase()
	if !ok {
		return 0, false
	}
	return base + (addr - r.Start), true
}

// String implements fmt.Stringer.String.
func (r *Region) String() string {
	s := fmt.Sprintf("[%v, %v) %v", r.Start, r.End(), r.Access)
	if r.Mappable != nil {
		s += fmt.Sprintf(" backed by %d at %#x+%#x", r.Mappable.ID(), r.FileOffset, r.FileSize)
	}
	if r.Fixed {
		s += " fixed"
	}
	return s
}

// cutRight shrinks the region to its first size bytes.
func (r *Region) cutRight(size uint32) {
	r.Size = size
	r.FileSize = min(r.FileSize, size)
}

// expand grows the region by next, which must be mergeable with it.
func (r *Region) expand(next *Region) {
	r.Size += next.Size
	if r.Mappable != nil {
		r.FileSize += next.FileSize
	}
}

// release drops the region's reference on its backing object.
func (r *Region) release(ctx context.Context) {
	if r.Mappable != nil {
		r.Mappable.DecRef(ctx)
		r.Mappable = nil
	}
}

// canMerge returns true if next directly follows prev and the two can be
// represented by a single region.
//
// Backed regions must continue the same file range, and prev must be backed
// over its whole length so that page offsets in the merged region still map
// to the right file offsets.
func canMerge(prev, next *Region) bool {
	if prev.Fixed || next.Fixed {
		return false
	}
	if prev.End() != next.Start || prev.Access != next.Access || prev.Flags != next.Flags {
		return false
	}
	if !memmap.SameBacking(prev.Mappable, next.Mappable) {
		return false
	}
	if prev.Mappable == nil {
		return true
	}
	return prev.FileSize == prev.Size && prev.FileOffset+prev.Size == next.FileOffset
}

func regionLess(a, b *Region) bool {
	return a.Start < b.Start
}
