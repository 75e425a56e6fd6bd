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


// Package bitmap provides a fixed-size bitmap laid out like a Linux fd_set.
package bitmap

import (
	"math/bits"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Bitmap is a set of small integers below a fixed size.
type Bitmap struct {
	size uint32

	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits, 64 per block.
	bitBlock []uint64
}

// New returns an empty Bitmap of size bits.
func New(size uint32) Bitmap {
	return Bitmap{size: size, bitBlock: make([]uint64, (size+63)/64)}
}

// FromBytes decodes the first (size+7)/8 bytes of src, an fd_set in user
// memory. Bits at or above size are ignored.
func FromBytes(size uint32, src []byte) Bitmap {
	b := New(size)
	for i := uint32(0); i < ByteLen(size) && int(i) < len(src); i++ {
		for v := src[i]; v != 0; v &= v - 1 {
			if n := i*8 + uint32(bits.TrailingZeros8(v)); n < size {
				b.Add(n)
			}
		}
	}
	return b
}

// ByteLen returns the number of bytes an fd_set of size bits occupies.
func ByteLen(size uint32) uint32 {
	return (size + 7) / 8
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// IsEmpty returns true if no bit is set.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Contains returns true if i is set.
func (b *Bitmap) Contains(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets i. Bits at or above the size are dropped.
func (b *Bitmap) Add(i uint32) {
	if i >= b.size {
		return
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask == 0 {
		b.numOnes++
		b.bitBlock[blockNum] |= mask
	}
}

// Remove clears i.
func (b *Bitmap) Remove(i uint32) {
	if i >= b.size {
		return
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask != 0 {
		b.numOnes--
		b.bitBlock[blockNum] &^= mask
	}
}

// FirstOne returns the first set bit in [start, size), or false if there is
// none.
func (b *Bitmap) FirstOne(start uint32) (uint32, bool) {
	if start >= b.size {
		return 0, false
	}
	i := int(start / 64)
	w := b.bitBlock[i] & (^uint64(0) << (start % 64))
	for {
		if w != 0 {
			return uint32(bits.TrailingZeros64(w) + i*64), true
		}
		i++
		if i == len(b.bitBlock) {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// ToSlice returns the set bits in increasing order. For example, a bitmap
// of [0, 1, 0, 1] yields [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	s := make([]uint32, 0, b.numOnes)
	for i, block := range b.bitBlock {
		for block != 0 {
			s = append(s, uint32(i*64+bits.TrailingZeros64(block)))
			block &= block - 1
		}
	}
	return s
}

// GetNumOnes returns the number of set bits.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// Bytes encodes the bitmap as an fd_set of ByteLen(Size()) bytes.
func (b *Bitmap) Bytes() []byte {
	var word [8]byte
	dst := make([]byte, 0, len(b.bitBlock)*8)
	for _, block := range b.bitBlock {
		hostarch.ByteOrder.PutUint64(word[:], block)
		dst = append(dst, word[:]...)
	}
	return dst[:ByteLen(b.size)]
}
