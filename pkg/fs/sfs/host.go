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

package sfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// ApplyFlush writes the pages of a flush buffer, as described by
// Backend.Flush, to w.
func ApplyFlush(w io.WriterAt, b []byte, pages uint32) error {
	info := pageCount(pages*4) * hostarch.PageSize
	if uint64(info)+uint64(pages)*hostarch.PageSize > uint64(len(b)) {
		return fmt.Errorf("flush buffer of %d bytes cannot hold %d pages", len(b), pages)
	}
	for i := uint32(0); i < pages; i++ {
		at := int64(hostarch.ByteOrder.Uint32(b[i*4:])) * hostarch.PageSize
		start := info + i*hostarch.PageSize
		if _, err := w.WriteAt(b[start:start+hostarch.PageSize], at); err != nil {
			return err
		}
	}
	return nil
}

// HostBackend stores a secure file in a host file.
type HostBackend struct {
	f *os.File
}

var _ Backend = (*HostBackend)(nil)

// NewHostBackend returns a backend over f. The backend owns f and closes it on
// Flush.
func NewHostBackend(f *os.File) *HostBackend {
	return &HostBackend{f: f}
}

// ReadAt implements Backend.ReadAt.
func (h *HostBackend) ReadAt(_ context.Context, dst []byte, off uint32) (int, error) {
	n, err := h.f.ReadAt(dst, int64(off))
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Truncate implements Backend.Truncate.
func (h *HostBackend) Truncate(_ context.Context, size uint32) error {
	return h.f.Truncate(int64(size))
}

// Flush implements Backend.Flush.
func (h *HostBackend) Flush(_ context.Context, buf *pgalloc.Buffer, pages uint32) error {
	defer buf.Dispose()
	err := ApplyFlush(h.f, buf.Bytes(), pages)
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenHost opens the secure file at path on the host. With create set, a
// missing file is created empty.
func OpenHost(path string, create bool, pool *pgalloc.Pool, key, macKey []byte) (*File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	hf, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, err
	}
	st, err := hf.Stat()
	if err != nil {
		hf.Close()
		return nil, err
	}
	if st.Size() > int64(^uint32(0)) {
		hf.Close()
		return nil, fmt.Errorf("%s is too large for a secure file", path)
	}
	meta := make([]byte, hostarch.PageSize)
	n, err := hf.ReadAt(meta, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		hf.Close()
		return nil, err
	}
	f, err := Open(NewHostBackend(hf), pool, key, macKey, meta[:n], uint32(st.Size()))
	if err != nil {
		hf.Close()
		return nil, err
	}
	return f, nil
}
