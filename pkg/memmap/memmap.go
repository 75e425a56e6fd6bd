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

// Package memmap defines what an address space needs from the objects backing
// its regions.
package memmap

import (
	"context"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Mappable is an object that can back a memory region: an open file.
//
// All Mappable methods are called from the kernel loop and need no locking.
type Mappable interface {
	// ID identifies the object behind the mapping. Two regions can only be
	// merged if their Mappables return the same ID.
	ID() uint64

	// ReadPage fills dst with the contents of the object at offset off and
	// returns the number of bytes read. Bytes past the end of the object are
	// not touched.
	ReadPage(ctx context.Context, dst []byte, off uint32) (int, error)

	// AlienShadowBase returns the address in the helper process at which the
	// object is mapped, if its pages are owned by the helper rather than by
	// this kernel.
	AlienShadowBase() (hostarch.Addr, bool)

	// IncRef takes a reference on behalf of a region.
	IncRef()

	// DecRef drops a reference taken by IncRef.
	DecRef(ctx context.Context)
}

// SameBacking returns true if a and b are the same object, or both nil.
func SameBacking(a, b Mappable) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
