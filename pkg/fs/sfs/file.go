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

// Package sfs implements SecureFS, the encrypted and authenticated file
// format used for application private data.
//
// A secure file starts with DataPageOffset metadata pages holding the Header,
// followed by the data pages. Each data page is stored AES-128 encrypted
// under the credential key, and its ciphertext is signed with SHA-1 in the
// header's signature table. The header is authenticated with an HMAC chain so
// that neither the table nor the file size can be altered.
//
// Pages are decrypted into a per-file cache on first access and stay there
// until the file is flushed, which writes every cached page back at once.
package sfs

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// KeySize is the size of a credential key.
const KeySize = 16

// Backend stores the on-disk form of a secure file.
type Backend interface {
	// ReadAt reads raw bytes of the file at off.
	ReadAt(ctx context.Context, dst []byte, off uint32) (int, error)

	// Truncate sets the on-disk size of the file.
	Truncate(ctx context.Context, size uint32) error

	// Flush writes the pages described by buf and releases the file. buf
	// starts with an info block of one int32 page number per page, padded
	// to a page boundary, followed by pageCount pages. Flush takes
	// ownership of buf.
	Flush(ctx context.Context, buf *pgalloc.Buffer, pageCount uint32) error
}

// File is an open secure file.
type File struct {
	backend Backend
	pool    *pgalloc.Pool
	block   cipher.Block
	macKey  []byte
	header  *Header

	// onDisk is the number of data pages present on disk.
	onDisk uint32

	pages PageList
}

// Open returns a File over backend. meta holds the start of the file as read
// from disk and sizeOnDisk its raw size; an empty file gets a fresh header.
// Cache pages are allocated from pool.
func Open(backend Backend, pool *pgalloc.Pool, key, macKey, meta []byte, sizeOnDisk uint32) (*File, error) {
	block, err := aes.NewCipher(key)
	if err != nil || len(key) != KeySize {
		return nil, linuxerr.EINVAL
	}
	f := &File{
		backend: backend,
		pool:    pool,
		block:   block,
		macKey:  macKey,
	}
	if sizeOnDisk == 0 {
		f.header = NewHeader()
		return f, nil
	}
	if f.header, err = ParseHeader(macKey, meta); err != nil {
		return nil, err
	}
	if blocks := pageCount(sizeOnDisk); blocks > f.header.DataPageOffset {
		f.onDisk = min(blocks-f.header.DataPageOffset, f.header.MaxPages())
	}
	return f, nil
}

// Header returns the file metadata.
func (f *File) Header() *Header {
	return f.header
}

// Size returns the plaintext size.
func (f *File) Size() uint32 {
	return f.header.FileSize
}

// Capacity returns the largest size the signature table can describe.
func (f *File) Capacity() uint64 {
	return uint64(f.header.MaxPages()) * hostarch.PageSize
}

// Cached returns the number of cached pages.
func (f *File) Cached() int {
	return f.pages.Len()
}

// page returns the cached page idx, loading it from disk if needed. Pages
// past the on-disk data start out Empty.
func (f *File) page(ctx context.Context, idx uint32) (*CachePage, error) {
	if p := f.pages.Lookup(idx); p != nil {
		return p, nil
	}
	p, err := allocatePage(f.pool, idx)
	if err != nil {
		return nil, err
	}
	if idx < f.onDisk {
		if err := f.load(ctx, p); err != nil {
			p.Dispose()
			return nil, err
		}
	}
	f.pages.Add(p)
	return p, nil
}

// load reads, verifies and decrypts p. Any failure is EIO.
func (f *File) load(ctx context.Context, p *CachePage) error {
	raw := make([]byte, hostarch.PageSize)
	off := uint64(f.header.DataPageOffset+p.Index) * hostarch.PageSize
	n, err := f.backend.ReadAt(ctx, raw, uint32(off))
	if err != nil || n != len(raw) {
		log.Warningf("SecureFS: short read of page %d: %d bytes, %v", p.Index, n, err)
		return linuxerr.EIO
	}
	p.loadRaw(raw)
	if !p.verify(f.header.Signature(p.Index)) {
		log.Warningf("SecureFS: page %d fails verification", p.Index)
		return linuxerr.EIO
	}
	p.decrypt(f.block)
	return nil
}

// Read copies the plaintext at pos into dst. It returns the number of bytes
// copied, which is short at the end of the file.
func (f *File) Read(ctx context.Context, dst []byte, pos uint32) (int, error) {
	if pos >= f.header.FileSize {
		return 0, nil
	}
	n := min(uint64(len(dst)), uint64(f.header.FileSize-pos))
	done := 0
	for uint64(done) < n {
		off := pos + uint32(done)
		p, err := f.page(ctx, off/hostarch.PageSize)
		if err != nil {
			return done, err
		}
		done += copy(dst[done:n], p.Bytes()[off%hostarch.PageSize:])
	}
	return done, nil
}

// Write copies src into the file at pos, growing it as needed.
func (f *File) Write(ctx context.Context, src []byte, pos uint32) (int, error) {
	end := uint64(pos) + uint64(len(src))
	if end > f.Capacity() {
		return 0, linuxerr.EFBIG
	}
	done := 0
	for done < len(src) {
		off := pos + uint32(done)
		p, err := f.page(ctx, off/hostarch.PageSize)
		if err != nil {
			return done, err
		}
		done += copy(p.Bytes()[off%hostarch.PageSize:], src[done:])
		if pos+uint32(done) > f.header.FileSize {
			f.header.FileSize = pos + uint32(done)
		}
	}
	return done, nil
}

// Truncate sets the file size to length. Cached pages past the new end are
// dropped and the tail of the last page is cleared.
func (f *File) Truncate(ctx context.Context, length int64) error {
	if length < 0 {
		return linuxerr.EINVAL
	}
	if uint64(length) > f.Capacity() {
		return linuxerr.EFBIG
	}
	size := uint32(length)
	pages := pageCount(size)
	if err := f.backend.Truncate(ctx, (f.header.DataPageOffset+pages)*hostarch.PageSize); err != nil {
		return err
	}
	if size < f.header.FileSize {
		f.pages.Truncate(pages)
		if off := size % hostarch.PageSize; off != 0 {
			p, err := f.page(ctx, size/hostarch.PageSize)
			if err != nil {
				return err
			}
			clear(p.Bytes()[off:])
		}
	}
	f.onDisk = min(f.onDisk, pages)
	f.header.FileSize = size
	return nil
}

// Flush seals every cached page, refreshes the signatures and the header, and
// hands the result to the backend. The cache is empty afterwards.
func (f *File) Flush(ctx context.Context) error {
	pages := f.pages.Seal(f.block)
	dpo := f.header.DataPageOffset
	count := dpo + uint32(len(pages))
	info := pageCount(count*4) * hostarch.PageSize
	buf, ok := f.pool.AllocBuffer(info + count*hostarch.PageSize)
	if !ok {
		for _, p := range pages {
			p.Dispose()
		}
		return linuxerr.ENOMEM
	}
	b := buf.Bytes()
	for i := uint32(0); i < dpo; i++ {
		hostarch.ByteOrder.PutUint32(b[i*4:], i)
	}
	data := b[info+dpo*hostarch.PageSize:]
	for i, p := range pages {
		if p.Index >= f.header.MaxPages() {
			panic(fmt.Sprintf("sealing page %d past the signature table of %d pages", p.Index, f.header.MaxPages()))
		}
		hostarch.ByteOrder.PutUint32(b[(dpo+uint32(i))*4:], dpo+p.Index)
		copy(data[i*hostarch.PageSize:], p.Bytes())
		sum := sha1.Sum(p.Bytes())
		copy(f.header.Signature(p.Index), sum[:])
		p.Dispose()
	}
	f.header.MarshalTo(f.macKey, b[info:info+dpo*hostarch.PageSize])
	return f.backend.Flush(ctx, buf, count)
}

// Release drops the cache without writing it back.
func (f *File) Release() {
	f.pages.Release()
}
