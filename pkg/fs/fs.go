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

// Package fs provides the inode variants, open files and file descriptor
// tables of a process.
//
// Most inodes front a file descriptor held by the helper process on behalf
// of the application. Operations that complete asynchronously are driven by
// the kernel, which switches on Inode.Kind; this package holds the state and
// the synchronous operations.
package fs

import (
	"context"
	"io"

	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/mm"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// Env is what inodes need from the kernel.
type Env interface {
	// Helper returns the helper client.
	Helper() *helper.Client

	// Console returns the console sink.
	Console() io.Writer

	// FlushSecureFS issues the flush of a secure file held open by the
	// helper as fd on behalf of pid. It takes ownership of buf, which is
	// freed once the helper has written it.
	FlushSecureFS(ctx context.Context, pid, fd int32, buf *pgalloc.Buffer, pageCount uint32) error
}

// UserMemory copies to and from the address space of the calling process.
type UserMemory interface {
	CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error)
	CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error)
	CopyInString(ctx context.Context, addr hostarch.Addr, maxLen int) (string, error)
}

var _ UserMemory = (*mm.MemoryManager)(nil)
