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

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// MemoryManager gives the kernel access to a process's user memory. Pages
// that are not yet resident are faulted in through the pager, exactly as if
// the process had touched them.
type MemoryManager struct {
	*AddressSpace

	pager *Pager
	mem   *pgalloc.Memory
}

// NewMemoryManager returns a MemoryManager for as.
func NewMemoryManager(as *AddressSpace, pager *Pager, mem *pgalloc.Memory) *MemoryManager {
	return &MemoryManager{AddressSpace: as, pager: pager, mem: mem}
}

// Pager returns the pager used for faults on this address space.
func (mm *MemoryManager) Pager() *Pager {
	return mm.pager
}

// HandleFault resolves a fault raised by the process itself.
func (mm *MemoryManager) HandleFault(ctx context.Context, at hostarch.AccessType, addr, ip hostarch.Addr) (pgalloc.Frame, hostarch.AccessType, bool) {
	return mm.pager.HandlePageFault(ctx, mm.AddressSpace, at, addr, ip)
}

// pageAt returns the host view of the user page containing addr, starting at
// addr. Pages borrowed from the helper are not visible to the kernel.
func (mm *MemoryManager) pageAt(ctx context.Context, addr hostarch.Addr) ([]byte, bool) {
	r := mm.Find(addr)
	if r == nil || r.Fixed {
		return nil, false
	}
	f, off, ok := mm.ws.UserToVirt(addr)
	if !ok {
		if f, _, ok = mm.pager.HandlePageFault(ctx, mm.AddressSpace, hostarch.AnyAccess, addr, 0); !ok {
			return nil, false
		}
		off = addr.PageOffset()
	}
	page, ok := mm.mem.Bytes(f, hostarch.PageSize)
	if !ok {
		return nil, false
	}
	return page[off:], true
}

// walk calls fn on successive host views covering [addr, addr+n). It returns
// the number of bytes visited.
func (mm *MemoryManager) walk(ctx context.Context, addr hostarch.Addr, n int, fn func(done int, b []byte)) (int, error) {
	done := 0
	for done < n {
		cur := uint64(addr) + uint64(done)
		if cur > 0xffffffff {
			return done, linuxerr.EFAULT
		}
		b, ok := mm.pageAt(ctx, hostarch.Addr(cur))
		if !ok {
			return done, linuxerr.EFAULT
		}
		if len(b) > n-done {
			b = b[:n-done]
		}
		fn(done, b)
		done += len(b)
	}
	return done, nil
}

// CopyIn copies len(dst) bytes from user memory at addr.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	return mm.walk(ctx, addr, len(dst), func(done int, b []byte) {
		copy(dst[done:], b)
	})
}

// CopyOut copies src to user memory at addr.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error) {
	return mm.walk(ctx, addr, len(src), func(done int, b []byte) {
		copy(b, src[done:])
	})
}

// ZeroOut clears n bytes of user memory at addr.
func (mm *MemoryManager) ZeroOut(ctx context.Context, addr hostarch.Addr, n int) (int, error) {
	return mm.walk(ctx, addr, n, func(_ int, b []byte) {
		clear(b)
	})
}

// CopyInString copies a NUL-terminated string of at most maxLen bytes,
// excluding the terminator. It fails with ENAMETOOLONG if no terminator is
// found.
func (mm *MemoryManager) CopyInString(ctx context.Context, addr hostarch.Addr, maxLen int) (string, error) {
	var buf []byte
	for len(buf) <= maxLen {
		cur := uint64(addr) + uint64(len(buf))
		if cur > 0xffffffff {
			return "", linuxerr.EFAULT
		}
		b, ok := mm.pageAt(ctx, hostarch.Addr(cur))
		if !ok {
			return "", linuxerr.EFAULT
		}
		for _, c := range b {
			if c == 0 {
				return string(buf), nil
			}
			if len(buf) == maxLen {
				return "", linuxerr.ENAMETOOLONG
			}
			buf = append(buf, c)
		}
	}
	return "", linuxerr.ENAMETOOLONG
}

// CopyInUint32 reads a little-endian 32-bit word.
func (mm *MemoryManager) CopyInUint32(ctx context.Context, addr hostarch.Addr) (uint32, error) {
	var b [4]byte
	if _, err := mm.CopyIn(ctx, addr, b[:]); err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint32(b[:]), nil
}

// CopyOutUint32 writes a little-endian 32-bit word.
func (mm *MemoryManager) CopyOutUint32(ctx context.Context, addr hostarch.Addr, v uint32) error {
	var b [4]byte
	hostarch.ByteOrder.PutUint32(b[:], v)
	_, err := mm.CopyOut(ctx, addr, b[:])
	return err
}
