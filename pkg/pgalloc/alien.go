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
	"context"
	"fmt"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
)

// AlienBatchSize is the number of borrowed pages returned to the helper in a
// single request.
const AlienBatchSize = 64

// PageLender is the helper side of page borrowing.
type PageLender interface {
	// GetUserPage asks helper process pid for the page backing shadow, with
	// the access described by faultType.
	GetUserPage(ctx context.Context, pid int32, faultType hostarch.AccessType, shadow hostarch.Addr) (Frame, error)

	// FreeLinuxPages returns borrowed pages to the helper.
	FreeLinuxPages(ctx context.Context, frames []Frame) error
}

// AlienAllocator tracks pages borrowed from the helper. Frees are batched so
// that one helper request returns AlienBatchSize pages.
type AlienAllocator struct {
	lender  PageLender
	pending []Frame
	drops   log.Logger
}

// NewAlienAllocator returns an allocator borrowing pages from lender.
func NewAlienAllocator(lender PageLender) *AlienAllocator {
	return &AlienAllocator{
		lender:  lender,
		pending: make([]Frame, 0, AlienBatchSize),
		drops:   log.BasicRateLimitedLogger(dropLogPeriod),
	}
}

// GetUserPage borrows one page. The call is synchronous.
func (a *AlienAllocator) GetUserPage(ctx context.Context, pid int32, faultType hostarch.AccessType, shadow hostarch.Addr) (Frame, error) {
	f, err := a.lender.GetUserPage(ctx, pid, faultType, shadow)
	if err != nil {
		return 0, fmt.Errorf("get_user_page(pid=%d, %v, %v): %w", pid, faultType, shadow, err)
	}
	return f, nil
}

// Free queues f for return to the helper, flushing once a full batch has
// accumulated.
func (a *AlienAllocator) Free(ctx context.Context, f Frame) {
	a.pending = append(a.pending, f)
	if len(a.pending) == AlienBatchSize {
		a.Flush(ctx)
	}
}

// Pending returns the number of queued frees.
func (a *AlienAllocator) Pending() int {
	return len(a.pending)
}

// Flush returns all queued pages to the helper. A failed return leaks the
// pages on the helper side, which is logged and otherwise ignored.
func (a *AlienAllocator) Flush(ctx context.Context) {
	if len(a.pending) == 0 {
		return
	}
	if err := a.lender.FreeLinuxPages(ctx, a.pending); err != nil {
		a.drops.Warningf("Returning %d borrowed pages failed: %v", len(a.pending), err)
	}
	a.pending = a.pending[:0]
}
