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

package fs

import (
	"context"
	"fmt"
)

const (
	// DefaultTableSize is the initial number of descriptor slots.
	DefaultTableSize = 128

	// firstFreeFD is where descriptor allocation starts scanning; 0 to 2
	// are the standard streams.
	firstFreeFD = 3
)

// FDTable maps descriptors to files.
type FDTable struct {
	files  []*File
	finger int32
}

// NewFDTable returns an empty table of DefaultTableSize slots.
func NewFDTable() *FDTable {
	return &FDTable{
		files:  make([]*File, DefaultTableSize),
		finger: firstFreeFD,
	}
}

// Size returns the number of slots.
func (t *FDTable) Size() int32 {
	return int32(len(t.files))
}

// valid returns true if fd names a slot. Descriptor 0 is never valid.
func (t *FDTable) valid(fd int32) bool {
	return fd > 0 && fd < int32(len(t.files))
}

// Get returns the file at fd, or nil.
func (t *FDTable) Get(fd int32) *File {
	if !t.valid(fd) {
		return nil
	}
	return t.files[fd]
}

// GetUnusedFD returns a free descriptor, growing the table if it is full.
// The descriptor stays free until Add installs a file in it.
func (t *FDTable) GetUnusedFD() int32 {
	for fd := t.finger; fd < int32(len(t.files)); fd++ {
		if t.files[fd] == nil {
			t.finger = fd
			return fd
		}
	}
	fd := int32(len(t.files))
	files := make([]*File, 2*len(t.files))
	copy(files, t.files)
	t.files = files
	t.finger = fd
	return fd
}

// Add installs f at fd, which must be free.
func (t *FDTable) Add(fd int32, f *File) {
	if !t.valid(fd) {
		panic(fmt.Sprintf("installing %v at invalid fd %d", f, fd))
	}
	if t.files[fd] != nil {
		panic(fmt.Sprintf("installing %v over %v at fd %d", f, t.files[fd], fd))
	}
	t.files[fd] = f
}

// AllocFD installs f at a free descriptor and returns it.
func (t *FDTable) AllocFD(f *File) int32 {
	fd := t.GetUnusedFD()
	t.Add(fd, f)
	return fd
}

// Remove clears fd and returns the file that was there, or nil.
func (t *FDTable) Remove(fd int32) *File {
	if !t.valid(fd) {
		return nil
	}
	f := t.files[fd]
	t.files[fd] = nil
	if fd >= firstFreeFD && fd < t.finger {
		t.finger = fd
	}
	return f
}

// Release closes every open file.
func (t *FDTable) Release(ctx context.Context) {
	for fd, f := range t.files {
		if f != nil {
			t.files[fd] = nil
			f.Close(ctx)
		}
	}
	t.finger = firstFreeFD
}
