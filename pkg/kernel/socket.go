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
	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
)

// socketFile returns the socket at fd.
func (t *Thread) socketFile(fd int32) (*fs.File, error) {
	f := t.p.fds.Get(fd)
	if f == nil {
		return nil, linuxerr.EBADF
	}
	if f.Inode.Kind() != fs.KindSocket {
		return nil, linuxerr.ENOTSOCK
	}
	return f, nil
}

// syncLimit is the size of the synchronous transfer buffer. It bounds every
// socket argument passed to the helper.
func (t *Thread) syncLimit() uint32 {
	return uint32(len(t.k.helper.SyncBuffer()))
}

// Socket implements socket(2). The descriptor is installed once the helper
// has created the socket.
func (t *Thread) Socket(domain, typ, protocol int32) error {
	c := NewSocketCompletion(t)
	return t.issue(c, func() error {
		return t.k.helper.SocketAsync(t, t.p.HelperPID, c.handle, domain, typ, protocol)
	})
}

// Bind implements bind(2).
func (t *Thread) Bind(fd int32, addr hostarch.Addr, addrlen uint32) error {
	return t.bindOrConnect(linux.SYS_BIND, fd, addr, addrlen)
}

// Connect implements connect(2).
func (t *Thread) Connect(fd int32, addr hostarch.Addr, addrlen uint32) error {
	return t.bindOrConnect(linux.SYS_CONNECT, fd, addr, addrlen)
}

func (t *Thread) bindOrConnect(call int32, fd int32, addr hostarch.Addr, addrlen uint32) error {
	f, err := t.socketFile(fd)
	if err != nil {
		return err
	}
	if addrlen > t.syncLimit() {
		return linuxerr.EINVAL
	}
	buf, err := t.allocScratch(addrlen)
	if err != nil {
		return err
	}
	c := NewBridgeCompletion(t, buf)
	if err := t.CopyInBytes(addr, buf.Bytes()[:addrlen]); err != nil {
		c.Dispose()
		return err
	}
	return t.issue(c, func() error {
		if call == linux.SYS_BIND {
			return t.k.helper.BindAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, addrlen)
		}
		return t.k.helper.ConnectAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, addrlen)
	})
}

// Setsockopt implements setsockopt(2).
func (t *Thread) Setsockopt(fd, level, optname int32, optval hostarch.Addr, optlen uint32) error {
	f, err := t.socketFile(fd)
	if err != nil {
		return err
	}
	if optlen > t.syncLimit() {
		return linuxerr.EINVAL
	}
	buf, err := t.allocScratch(optlen)
	if err != nil {
		return err
	}
	c := NewBridgeCompletion(t, buf)
	if err := t.CopyInBytes(optval, buf.Bytes()[:optlen]); err != nil {
		c.Dispose()
		return err
	}
	return t.issue(c, func() error {
		return t.k.helper.SetsockoptAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, level, optname, optlen)
	})
}

// socketParamBuffer reads the in-out length at lenAddr and allocates a
// buffer for the result.
func (t *Thread) socketParamBuffer(lenAddr hostarch.Addr) (uint32, error) {
	n, err := t.CopyInUint32(lenAddr)
	if err != nil {
		return 0, err
	}
	if n > t.syncLimit() {
		return 0, linuxerr.EINVAL
	}
	return n, nil
}

// Getsockname implements getsockname(2).
func (t *Thread) Getsockname(fd int32, addr, lenAddr hostarch.Addr) error {
	f, err := t.socketFile(fd)
	if err != nil {
		return err
	}
	n, err := t.socketParamBuffer(lenAddr)
	if err != nil {
		return err
	}
	buf, err := t.allocScratch(n)
	if err != nil {
		return err
	}
	c := NewGetSocketParamCompletion(t, buf, addr, lenAddr)
	return t.issue(c, func() error {
		return t.k.helper.GetsocknameAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, n)
	})
}

// Getsockopt implements getsockopt(2).
func (t *Thread) Getsockopt(fd, level, optname int32, optval, lenAddr hostarch.Addr) error {
	f, err := t.socketFile(fd)
	if err != nil {
		return err
	}
	n, err := t.socketParamBuffer(lenAddr)
	if err != nil {
		return err
	}
	buf, err := t.allocScratch(n)
	if err != nil {
		return err
	}
	c := NewGetSocketParamCompletion(t, buf, optval, lenAddr)
	return t.issue(c, func() error {
		return t.k.helper.GetsockoptAsync(t, t.p.HelperPID, c.handle, buf, f.Inode.LinuxFd, level, optname, n)
	})
}

// Sendto implements sendto(2). The payload and the destination address are
// staged back to back in the synchronous buffer.
func (t *Thread) Sendto(fd int32, src hostarch.Addr, n int32, flags uint32, addr hostarch.Addr, addrlen int32) (int32, error) {
	f := t.p.fds.Get(fd)
	if f == nil {
		return 0, linuxerr.EBADF
	}
	if n < 0 || addrlen < 0 {
		return 0, linuxerr.EINVAL
	}
	buf := t.k.helper.SyncBuffer()
	if int64(n)+int64(addrlen) > int64(len(buf)) {
		return 0, linuxerr.ENOMEM
	}
	if addr == 0 && addrlen != 0 {
		return 0, linuxerr.EINVAL
	}
	if err := t.CopyInBytes(src, buf[:n]); err != nil {
		return 0, err
	}
	if addr != 0 {
		if err := t.CopyInBytes(addr, buf[n:n+addrlen]); err != nil {
			return 0, err
		}
	}
	ret, err := t.k.helper.Sendto(t, t.p.HelperPID, f.Inode.LinuxFd, uint32(n), flags, uint32(addrlen))
	if err != nil {
		log.Warningf("%v: sendto: %v", t, err)
		return 0, linuxerr.EIO
	}
	return ret, linuxerr.FromReturn(ret)
}

// Recvfrom implements recvfrom(2). A short copy of the payload truncates
// the result; the source address is copied out only if addr is set.
func (t *Thread) Recvfrom(fd int32, dst hostarch.Addr, n int32, flags uint32, addr, lenAddr hostarch.Addr) (int32, error) {
	f := t.p.fds.Get(fd)
	if f == nil {
		return 0, linuxerr.EBADF
	}
	if n < 0 {
		return 0, linuxerr.EINVAL
	}
	var addrlen uint32
	if lenAddr != 0 {
		var err error
		if addrlen, err = t.CopyInUint32(lenAddr); err != nil {
			return 0, err
		}
	}
	buf := t.k.helper.SyncBuffer()
	if int64(n)+int64(addrlen) > int64(len(buf)) {
		return 0, linuxerr.ENOMEM
	}
	ret, gotlen, err := t.k.helper.Recvfrom(t, t.p.HelperPID, f.Inode.LinuxFd, uint32(n), flags, addrlen)
	if err != nil {
		log.Warningf("%v: recvfrom: %v", t, err)
		return 0, linuxerr.EIO
	}
	if ret < 0 {
		return 0, linuxerr.FromReturn(ret)
	}
	if ret > n {
		ret = n
	}
	copied, _ := t.p.mm.CopyOut(t, dst, buf[:ret])
	if addr != 0 && lenAddr != 0 {
		gotlen = min(gotlen, addrlen)
		if err := t.CopyOutBytes(addr, buf[ret:uint32(ret)+gotlen]); err != nil {
			return 0, err
		}
		if err := t.CopyOutUint32(lenAddr, gotlen); err != nil {
			return 0, err
		}
	}
	return int32(copied), nil
}

// Shutdown implements shutdown(2).
func (t *Thread) Shutdown(fd, how int32) (int32, error) {
	f, err := t.socketFile(fd)
	if err != nil {
		return 0, err
	}
	ret, err := t.k.helper.Shutdown(t, t.p.HelperPID, f.Inode.LinuxFd, how)
	if err != nil {
		return 0, linuxerr.EIO
	}
	return ret, linuxerr.FromReturn(ret)
}
