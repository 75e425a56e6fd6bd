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
	"bytes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// State is the state of a cached page.
type State int

// Page states. A page read from disk moves Empty, Encrypted, Verified,
// Decrypted. A dirty page is sealed from Empty or Decrypted to Encrypted.
const (
	Empty State = iota
	Encrypted
	Verified
	Decrypted
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Encrypted:
		return "Encrypted"
	case Verified:
		return "Verified"
	case Decrypted:
		return "Decrypted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CachePage is one data page of a secure file. Its buffer is borrowed from
// the completion scratch pool and returned by Dispose.
type CachePage struct {
	Index uint32
	state State
	buf   *pgalloc.Buffer
}

// allocatePage returns an Empty page for index idx.
func allocatePage(pool *pgalloc.Pool, idx uint32) (*CachePage, error) {
	buf, ok := pool.AllocBuffer(hostarch.PageSize)
	if !ok {
		return nil, linuxerr.ENOMEM
	}
	return &CachePage{Index: idx, buf: buf}, nil
}

// State returns the current state of the page.
func (p *CachePage) State() State {
	return p.state
}

// Bytes returns the page contents.
func (p *CachePage) Bytes() []byte {
	return p.buf.Bytes()
}

// Writable returns true if the page holds no ciphertext awaiting decryption.
func (p *CachePage) Writable() bool {
	return p.state == Empty || p.state == Verified
}

// Dispose returns the page buffer to its pool. It must be called exactly
// once.
func (p *CachePage) Dispose() {
	p.buf.Dispose()
	p.buf = nil
}

// loadRaw fills an Empty page with its ciphertext.
func (p *CachePage) loadRaw(src []byte) {
	p.mustBe(Empty)
	copy(p.Bytes(), src)
	p.state = Encrypted
}

// verify checks the ciphertext against sig.
func (p *CachePage) verify(sig []byte) bool {
	p.mustBe(Encrypted)
	sum := sha1.Sum(p.Bytes())
	if !bytes.Equal(sum[:], sig) {
		return false
	}
	p.state = Verified
	return true
}

// decrypt turns verified ciphertext into plaintext in place.
func (p *CachePage) decrypt(block cipher.Block) {
	p.mustBe(Verified)
	b := p.Bytes()
	for i := 0; i < len(b); i += block.BlockSize() {
		block.Decrypt(b[i:i+block.BlockSize()], b[i:i+block.BlockSize()])
	}
	p.state = Decrypted
}

// encrypt seals plaintext in place.
func (p *CachePage) encrypt(block cipher.Block) {
	if p.state != Empty && p.state != Decrypted {
		panic(fmt.Sprintf("encrypting page %d in state %v", p.Index, p.state))
	}
	b := p.Bytes()
	for i := 0; i < len(b); i += block.BlockSize() {
		block.Encrypt(b[i:i+block.BlockSize()], b[i:i+block.BlockSize()])
	}
	p.state = Encrypted
}

func (p *CachePage) mustBe(s State) {
	if p.state != s {
		panic(fmt.Sprintf("page %d is %v, want %v", p.Index, p.state, s))
	}
}
