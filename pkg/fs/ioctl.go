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
	"bytes"
	"context"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// ashmemIoctlType is the ioctl type byte of the ashmem driver.
const ashmemIoctlType = 0x77

// isAshmemIoctl returns true if cmd belongs to the ashmem driver.
func isAshmemIoctl(cmd uint32) bool {
	return (cmd>>8)&0xff == ashmemIoctlType
}

// Ioctl implements ioctl(2) for inodes that front a helper fd. The binder
// device is handled by the kernel.
func (i *Inode) Ioctl(ctx context.Context, mem UserMemory, cmd, arg uint32) (int32, error) {
	switch i.kind {
	case KindArch, KindAshmem, KindBinderShared, KindSocket:
	default:
		return 0, linuxerr.ENOTTY
	}
	switch {
	case isAshmemIoctl(cmd):
		return i.ashmemIoctl(ctx, mem, cmd, arg)
	case cmd == linux.FIONREAD:
		ret, err := i.env.Helper().LinuxIoctl(ctx, i.pid, i.LinuxFd, cmd, arg)
		if err := checkReturn(ret, err); err != nil {
			return 0, err
		}
		if _, err := mem.CopyOut(ctx, hostarch.Addr(arg), i.env.Helper().SyncBuffer()[:4]); err != nil {
			return 0, linuxerr.EFAULT
		}
		return ret, nil
	default:
		return 0, linuxerr.ENOTTY
	}
}

// ashmemIoctl marshals the argument of an ashmem command into the sync
// buffer, forwards it, and copies back the name for ASHMEM_GET_NAME.
func (i *Inode) ashmemIoctl(ctx context.Context, mem UserMemory, cmd, arg uint32) (int32, error) {
	h := i.env.Helper()
	sync := h.SyncBuffer()
	switch cmd {
	case linux.ASHMEM_SET_NAME:
		name, err := mem.CopyInString(ctx, hostarch.Addr(arg), linux.AshmemNameLen-1)
		if err != nil {
			return 0, err
		}
		n := copy(sync, name)
		sync[n] = 0
	case linux.ASHMEM_PIN, linux.ASHMEM_UNPIN:
		if _, err := mem.CopyIn(ctx, hostarch.Addr(arg), sync[:linux.SizeOfAshmemPin]); err != nil {
			return 0, linuxerr.EFAULT
		}
	case linux.ASHMEM_GET_NAME, linux.ASHMEM_SET_SIZE, linux.ASHMEM_GET_SIZE,
		linux.ASHMEM_SET_PROT_MASK, linux.ASHMEM_GET_PROT_MASK,
		linux.ASHMEM_GET_PIN_STATUS, linux.ASHMEM_PURGE_ALL_CACHES:
	default:
		return 0, linuxerr.ENOSYS
	}

	ret, err := h.AshmemIoctl(ctx, i.pid, i.LinuxFd, cmd, arg)
	if err := checkReturn(ret, err); err != nil {
		return 0, err
	}
	if cmd == linux.ASHMEM_GET_NAME {
		name := sync[:linux.AshmemNameLen]
		n := bytes.IndexByte(name, 0)
		if n < 0 {
			n = len(name) - 1
		}
		if _, err := mem.CopyOut(ctx, hostarch.Addr(arg), name[:n+1]); err != nil {
			return 0, linuxerr.EFAULT
		}
	}
	return ret, nil
}

// checkReturn folds a helper reply into an error: transport failures are EIO
// and negative returns are errnos.
func checkReturn(ret int32, err error) error {
	if err != nil {
		return linuxerr.EIO
	}
	if ret < 0 {
		return linuxerr.FromReturn(ret)
	}
	return nil
}
