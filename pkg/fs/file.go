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

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
)

// File is an open file description.
type File struct {
	Inode *Inode
	Flags uint32
	Mode  uint32

	// Position is the file cursor.
	Position uint32
}

// NewFile opens inode, taking a reference on it.
func NewFile(inode *Inode, flags, mode uint32) *File {
	inode.IncRef()
	return &File{Inode: inode, Flags: flags, Mode: mode}
}

// NewStdout returns a write-only file on a console inode.
func NewStdout(env Env) *File {
	return NewFile(NewConsoleInode(env), linux.O_WRONLY, 0)
}

// Readable returns true unless the file was opened write-only.
func (f *File) Readable() bool {
	return f.Flags&linux.O_ACCMODE != linux.O_WRONLY
}

// Writable returns true unless the file was opened read-only.
func (f *File) Writable() bool {
	return f.Flags&linux.O_ACCMODE != linux.O_RDONLY
}

// Close drops the file's reference on its inode.
func (f *File) Close(ctx context.Context) {
	f.Inode.DecRef(ctx)
}

// String implements fmt.Stringer.String.
func (f *File) String() string {
	return fmt.Sprintf("file at %d on %v", f.Position, f.Inode)
}

// Seek implements lseek(2). Seeking past the end of a file with SEEK_SET
// grows it; other seeks are clamped to the file size. A negative result
// rewinds to the start.
func (f *File) Seek(ctx context.Context, offset int64, whence int32) (uint32, error) {
	size := int64(f.Inode.Size())
	var pos int64
	switch whence {
	case linux.SEEK_SET:
		pos = offset
	case linux.SEEK_CUR:
		pos = int64(f.Position) + offset
	case linux.SEEK_END:
		pos = size + offset
	default:
		return 0, linuxerr.EINVAL
	}
	if pos > size {
		if whence == linux.SEEK_SET {
			if pos > int64(^uint32(0)) {
				return 0, linuxerr.EINVAL
			}
			if err := f.Inode.Extend(ctx, uint32(pos)); err != nil {
				return 0, err
			}
		} else {
			pos = size
		}
	}
	if pos < 0 {
		pos = 0
	}
	f.Position = uint32(pos)
	return f.Position, nil
}
