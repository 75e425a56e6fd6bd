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


package kernel

import (
	"time"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/log"
)

// resumeIO completes a read or write. newPos is the file position after the
// transfer as reported by the helper. A nil File marks a positional
// transfer that leaves the cursor alone.
func (t *Thread) resumeIO(c *IOCompletion, ret, newPos int32) int32 {
	defer c.Dispose()
	if ret < 0 {
		return ret
	}
	if c.Write {
		if c.File != nil {
			c.File.Position = uint32(newPos)
			c.File.Inode.Grow(uint32(newPos))
		}
		return ret
	}
	data := c.buf.Bytes()
	if int(ret) > len(data) {
		log.Warningf("%v: helper read %d bytes into a %d byte buffer", t, ret, len(data))
		return linuxerr.ToReturn(linuxerr.EIO)
	}
	n, _ := t.p.mm.CopyOut(t, c.Addr, data[:ret])
	if c.File != nil {
		c.File.Position = uint32(newPos) - uint32(int(ret)-n)
	}
	return ret
}

// resumeOpenFile completes an open by building the inode for the helper's
// descriptor linuxFD and installing it. size is the size of the file on
// disk.
func (t *Thread) resumeOpenFile(c *OpenFileCompletion, linuxFD, size int32) int32 {
	defer c.Dispose()
	if linuxFD < 0 {
		return linuxFD
	}
	var inode *fs.Inode
	switch c.InodeKind {
	case fs.KindArch:
		inode = fs.NewArchInode(t.k, t.p.HelperPID, linuxFD, uint32(size))
	case fs.KindSecureFS:
		meta := c.buf.Bytes()
		if !t.k.security.CanAccessFile(t, meta) {
			t.closeHelperFD(linuxFD)
			return linuxerr.ToReturn(linuxerr.EACCES)
		}
		i, err := fs.NewSecureFSInode(t.k, t.p.HelperPID, linuxFD, t.p.Credential.SFSKey, t.k.sfsMAC, meta, uint32(size))
		if err != nil {
			log.Warningf("%v: opening secure file: %v", t, err)
			t.closeHelperFD(linuxFD)
			return linuxerr.ToReturn(err)
		}
		inode = i
	default:
		panic("open of unexpected inode kind " + c.InodeKind.String())
	}
	fd := t.p.fds.AllocFD(fs.NewFile(inode, c.Flags, c.Mode))
	t.k.profiler.AccountOpen(int(c.InodeKind), time.Duration(t.k.nowMillis()-c.Start)*time.Millisecond)
	return fd
}

func (t *Thread) closeHelperFD(fd int32) {
	if ret, err := t.k.helper.Close(t, t.p.HelperPID, fd); err != nil || ret < 0 {
		log.Debugf("%v: closing helper fd %d: %d, %v", t, fd, ret, err)
	}
}
