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
	"crypto/hmac"
	"crypto/sha1"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Magic starts every secure file.
const Magic uint64 = 0x56414e44524f4944

// Layout of the metadata block at the start of a secure file.
const (
	hmacOffset   = 8
	dpoOffset    = hmacOffset + sha1.Size
	sizeOffset   = dpoOffset + 4
	sigLenOffset = sizeOffset + 4
	sigOffset    = sigLenOffset + 4

	// HeaderSize is the size of the fixed part of the metadata block.
	HeaderSize = sigOffset
)

// SignatureSize is the size of one entry of the signature table.
const SignatureSize = sha1.Size

// DefaultDataPageOffset is the number of metadata pages of a new file.
const DefaultDataPageOffset = 1

// DefaultMACKey authenticates headers unless configured otherwise.
var DefaultMACKey = []byte("ExpressOS-security")

// Header is the metadata of a secure file.
type Header struct {
	// DataPageOffset is the number of metadata pages preceding the data.
	DataPageOffset uint32

	// FileSize is the plaintext size of the file.
	FileSize uint32

	// Signatures holds the SHA-1 of each data page's ciphertext, indexed by
	// page.
	Signatures []byte
}

// NewHeader returns the header of an empty file.
func NewHeader() *Header {
	return &Header{
		DataPageOffset: DefaultDataPageOffset,
		Signatures:     make([]byte, hostarch.PageSize-HeaderSize),
	}
}

// MaxPages returns the number of data pages the signature table covers.
func (h *Header) MaxPages() uint32 {
	return uint32(len(h.Signatures)) / SignatureSize
}

// Signature returns the signature slot of page idx.
func (h *Header) Signature(idx uint32) []byte {
	return h.Signatures[idx*SignatureSize : (idx+1)*SignatureSize]
}

// Size returns the number of bytes the header occupies on disk.
func (h *Header) Size() int {
	return HeaderSize + len(h.Signatures)
}

// MAC returns the authenticator of the header under key. The inner MAC covers
// the data page offset, the file size and the signature table.
func (h *Header) MAC(key []byte) []byte {
	var b [8]byte
	hostarch.ByteOrder.PutUint32(b[0:], h.DataPageOffset)
	hostarch.ByteOrder.PutUint32(b[4:], h.FileSize)
	inner := hmac.New(sha1.New, key)
	inner.Write(b[:])
	inner.Write(h.Signatures)
	outer := hmac.New(sha1.New, key)
	outer.Write(inner.Sum(nil))
	return outer.Sum(nil)
}

// MarshalTo writes the header, authenticated under key, to dst. dst must be
// at least Size bytes long.
func (h *Header) MarshalTo(key, dst []byte) {
	hostarch.ByteOrder.PutUint64(dst, Magic)
	copy(dst[hmacOffset:dpoOffset], h.MAC(key))
	hostarch.ByteOrder.PutUint32(dst[dpoOffset:], h.DataPageOffset)
	hostarch.ByteOrder.PutUint32(dst[sizeOffset:], h.FileSize)
	hostarch.ByteOrder.PutUint32(dst[sigLenOffset:], uint32(len(h.Signatures)))
	copy(dst[sigOffset:], h.Signatures)
}

// ParseHeader decodes and authenticates the header at the start of buf.
// Every malformed or forged header yields EINVAL.
func ParseHeader(key, buf []byte) (*Header, error) {
	if len(buf) < HeaderSize || hostarch.ByteOrder.Uint64(buf) != Magic {
		return nil, linuxerr.EINVAL
	}
	dpo := hostarch.ByteOrder.Uint32(buf[dpoOffset:])
	sigLen := hostarch.ByteOrder.Uint32(buf[sigLenOffset:])
	if dpo == 0 || sigLen%SignatureSize != 0 || uint64(sigLen) > uint64(len(buf)-HeaderSize) {
		return nil, linuxerr.EINVAL
	}
	if uint64(HeaderSize)+uint64(sigLen) > uint64(dpo)*hostarch.PageSize {
		return nil, linuxerr.EINVAL
	}
	h := &Header{
		DataPageOffset: dpo,
		FileSize:       hostarch.ByteOrder.Uint32(buf[sizeOffset:]),
		Signatures:     append([]byte(nil), buf[sigOffset:sigOffset+sigLen]...),
	}
	if !hmac.Equal(h.MAC(key), buf[hmacOffset:dpoOffset]) {
		return nil, linuxerr.EINVAL
	}
	if pageCount(h.FileSize) > h.MaxPages() {
		return nil, linuxerr.EINVAL
	}
	return h, nil
}

// pageCount returns the number of pages holding n bytes.
func pageCount(n uint32) uint32 {
	return uint32((uint64(n) + hostarch.PageSize - 1) / hostarch.PageSize)
}
