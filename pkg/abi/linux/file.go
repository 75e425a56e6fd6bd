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

package linux

import (
	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// File types, from include/uapi/linux/stat.h.
const (
	S_IFMT  = 0170000
	S_IFDIR = 040000
	S_IFREG = 0100000
)

// PATH_MAX is the longest path accepted by the path-taking syscalls.
const PATH_MAX = 1024

// SizeOfStat64 is the size of struct stat64 on i386.
const SizeOfStat64 = 96

// Offsets of the fields of struct stat64 that the kernel reads or rewrites.
const (
	stat64ModeOffset = 16
	stat64SizeOffset = 44
)

// Stat64 is a view over a raw i386 struct stat64. The helper fills it in and
// the kernel patches individual fields before copying it to the caller.
type Stat64 []byte

// Mode returns st_mode.
func (s Stat64) Mode() uint32 {
	return hostarch.ByteOrder.Uint32(s[stat64ModeOffset:])
}

// IsDir returns true if st_mode describes a directory.
func (s Stat64) IsDir() bool {
	return s.Mode()&S_IFMT == S_IFDIR
}

// Size returns st_size.
func (s Stat64) Size() int64 {
	return int64(hostarch.ByteOrder.Uint64(s[stat64SizeOffset:]))
}

// SetSize overwrites st_size.
func (s Stat64) SetSize(size int64) {
	hostarch.ByteOrder.PutUint64(s[stat64SizeOffset:], uint64(size))
}

// IOVec is struct iovec.
type IOVec struct {
	Base uint32
	Len  uint32
}

// SizeOfIOVec is the size of struct iovec.
const SizeOfIOVec = 8

// UnmarshalBytes deserializes v from src and returns the remainder of src.
func (v *IOVec) UnmarshalBytes(src []byte) []byte {
	v.Base = hostarch.ByteOrder.Uint32(src[0:])
	v.Len = hostarch.ByteOrder.Uint32(src[4:])
	return src[SizeOfIOVec:]
}
