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
	"time"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// FaultObserver is told about every page fault the pager resolves.
type FaultObserver interface {
	PageFault(elapsed time.Duration)
}

// Pager resolves page faults by mapping fresh, file-backed or borrowed pages.
type Pager struct {
	mem      *pgalloc.Memory
	alien    *pgalloc.AlienAllocator
	observer FaultObserver
}

// NewPager returns a pager allocating from mem and borrowing through alien.
// observer may be nil.
func NewPager(mem *pgalloc.Memory, alien *pgalloc.AlienAllocator, observer FaultObserver) *Pager {
	return &Pager{mem: mem, alien: alien, observer: observer}
}

// HandlePageFault resolves a fault of type at on addr. It returns the frame
// to map at the page containing addr and the permissions to grant. ok is
// false if the fault cannot be resolved, in which case the faulting thread is
// left without a reply.
//
// Borrowing a page from the helper is a synchronous call that stalls the
// kernel loop until the helper answers.
func (p *Pager) HandlePageFault(ctx context.Context, as *AddressSpace, at hostarch.AccessType, addr, ip hostarch.Addr) (pgalloc.Frame, hostarch.AccessType, bool) {
	// The zero page is never mapped.
	if addr < hostarch.PageSize {
		return 0, hostarch.NoAccess, false
	}
	begin := time.Now()
	r := as.Find(addr)
	if r == nil || !r.Access.Intersect(at).Any() {
		log.Debugf("Unresolved %v fault at %v, ip %v", at, addr, ip)
		return 0, hostarch.NoAccess, false
	}
	perm := r.Access.Intersect(hostarch.AnyAccess)

	// The page may already be resident if the kernel touched it while
	// copying user memory.
	if f, _, ok := as.ws.UserToVirt(addr); ok {
		return f, perm, true
	}

	page := addr.RoundDown()
	var f pgalloc.Frame
	if shadow, ok := r.AlienShadow(page); ok {
		var err error
		f, err = p.alien.GetUserPage(ctx, as.HelperPID, at, shadow)
		if err != nil {
			log.Warningf("Cannot map in alien page at %v: %v", addr, err)
			log.Debugf("Regions:\n%v", as)
			return 0, hostarch.NoAccess, false
		}
	} else {
		f = p.mem.AllocZeroPage()
		if r.Mappable != nil {
			p.fill(ctx, r, page, f)
		}
	}
	as.ws.Add(page, f)
	if p.observer != nil {
		p.observer.PageFault(time.Since(begin))
	}
	return f, perm, true
}

// fill reads the file contents backing page into f. The frame is already
// zeroed, so a short or failed read leaves the tail clear.
func (p *Pager) fill(ctx context.Context, r *Region, page hostarch.Addr, f pgalloc.Frame) {
	rel := uint32(page - r.Start)
	if rel >= r.FileSize {
		return
	}
	n := min(r.FileSize-rel, hostarch.PageSize)
	buf, _ := p.mem.Bytes(f, n)
	if _, err := r.Mappable.ReadPage(ctx, buf, r.FileOffset+rel); err != nil {
		log.Debugf("Reading page at %v from %d failed: %v", page, r.Mappable.ID(), err)
		clear(buf)
	}
}
