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

// Package hostarch contains address and page arithmetic for the 32-bit user
// address spaces served by the kernel.
package hostarch

import (
	"encoding/binary"
)

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// KernelOffset is the first address of the kernel-reserved window at the
	// top of every user address space.
	KernelOffset Addr = 0xc0000000

	// KernelWindowSize is the size of the kernel-reserved window.
	KernelWindowSize = 0x10000000 - 1
)

// ByteOrder is the byte order of the i386 ABI.
var ByteOrder = binary.LittleEndian

// PageRoundDown rounds n down to a page boundary.
func PageRoundDown(n uint32) uint32 {
	return n &^ (PageSize - 1)
}

// PageRoundUp rounds n up to a page boundary. ok is false iff rounding
// wrapped around.
func PageRoundUp(n uint32) (uint32, bool) {
	r := PageRoundDown(n + PageSize - 1)
	return r, r >= n
}

// PageCount returns the number of pages needed to hold n bytes.
func PageCount(n uint32) uint32 {
	return uint32((uint64(n) + PageSize - 1) >> PageShift)
}
