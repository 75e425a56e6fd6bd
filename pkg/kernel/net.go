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
	"github.com/google/btree"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/bitmap"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// allocPollBuffer returns a scratch buffer for n pollfd entries.
func (t *Thread) allocPollBuffer(n int) (*pgalloc.Buffer, error) {
	buf, ok := t.k.helper.Window().AllocBuffer(uint32(max(n*linux.SizeOfPollFD, 1)))
	if !ok {
		return nil, linuxerr.ENOMEM
	}
	return buf, nil
}

// Poll implements poll(2) by translating the descriptors and forwarding the
// array to the helper.
func (t *Thread) Poll(fds hostarch.Addr, nfds, timeout int32) error {
	if nfds < 0 {
		return linuxerr.EINVAL
	}
	buf, err := t.allocPollBuffer(int(nfds))
	if err != nil {
		return err
	}
	b := buf.Bytes()[:nfds*linux.SizeOfPollFD]
	if err := t.CopyInBytes(fds, b); err != nil {
		buf.Dispose()
		return err
	}
	fdMaps := make(map[int32]int32, nfds)
	for i := int32(0); i < nfds; i++ {
		var pfd linux.PollFD
		entry := b[i*linux.SizeOfPollFD:]
		pfd.UnmarshalBytes(entry)
		f := t.GetFile(pfd.FD)
		if f == nil {
			buf.Dispose()
			return linuxerr.EBADF
		}
		if f.Inode.LinuxFd < 0 {
			log.Debugf("%v: polling fd %d of %v, which has no helper fd", t, pfd.FD, f.Inode)
		}
		if _, ok := fdMaps[f.Inode.LinuxFd]; !ok {
			fdMaps[f.Inode.LinuxFd] = pfd.FD
		}
		pfd.FD = f.Inode.LinuxFd
		pfd.MarshalBytes(entry)
	}
	c := NewPollCompletion(t, buf, fds, fdMaps)
	if err := t.k.helper.PollAsync(t, t.p.HelperPID, c.handle, buf, uint32(nfds), timeout); err != nil {
		c.Dispose()
		return linuxerr.EIO
	}
	return t.Suspend(c)
}

// resumePoll writes the ready entries back, naming them by the caller's
// descriptors.
func (t *Thread) resumePoll(c *PollCompletion, ret int32) int32 {
	defer c.Dispose()
	if ret <= 0 {
		return ret
	}
	b := c.buf.Bytes()
	if int(ret)*linux.SizeOfPollFD > len(b) {
		log.Warningf("%v: helper reported %d ready fds for a %d byte poll buffer", t, ret, len(b))
		return linuxerr.ToReturn(linuxerr.ENOMEM)
	}
	for i := int32(0); i < ret; i++ {
		var pfd linux.PollFD
		pfd.UnmarshalBytes(b[i*linux.SizeOfPollFD:])
		fd, ok := c.FdMaps[pfd.FD]
		if !ok {
			log.Warningf("%v: poll returned unknown helper fd %d", t, pfd.FD)
			return linuxerr.ToReturn(linuxerr.EBADF)
		}
		entry := c.Fds + hostarch.Addr(i*linux.SizeOfPollFD)
		var revents [2]byte
		hostarch.ByteOrder.PutUint16(revents[:], uint16(pfd.REvents))
		if t.CopyOutUint32(entry, uint32(fd)) != nil || t.CopyOutBytes(entry+linux.PollFDREventsOffset, revents[:]) != nil {
			return linuxerr.ToReturn(linuxerr.EFAULT)
		}
	}
	return ret
}

// selectEntry is a helper descriptor being polled on behalf of select(2).
type selectEntry struct {
	linuxFD int32
	fd      int32
	events  int16
}

func selectEntryLess(a, b *selectEntry) bool {
	return a.linuxFD < b.linuxFD
}

// SelectSet converts the fd_sets of a select(2) into a pollfd array for
// the helper and the helper's answer back into fd_sets. Entries are kept in
// helper descriptor order.
type SelectSet struct {
	entries *btree.BTreeG[*selectEntry]
}

// NewSelectSet returns an empty set.
func NewSelectSet() *SelectSet {
	return &SelectSet{entries: btree.NewG(4, selectEntryLess)}
}

// Len returns the number of pollfd entries.
func (s *SelectSet) Len() int {
	return s.entries.Len()
}

func (s *SelectSet) add(linuxFD, fd int32, events int16) {
	if linuxFD < 0 {
		return
	}
	if e, ok := s.entries.Get(&selectEntry{linuxFD: linuxFD}); ok {
		e.events |= events
		return
	}
	s.entries.ReplaceOrInsert(&selectEntry{linuxFD: linuxFD, fd: fd, events: events})
}

func (s *SelectSet) lookup(linuxFD int32) *selectEntry {
	e, _ := s.entries.Get(&selectEntry{linuxFD: linuxFD})
	return e
}

// AddUserFdList adds every descriptor of the fd_set at addr, polled for
// events. A zero addr is an empty set. Descriptor 0 is never polled.
func (s *SelectSet) AddUserFdList(t *Thread, addr hostarch.Addr, maxfds uint32, events int16) error {
	if addr == 0 {
		return nil
	}
	raw := make([]byte, bitmap.ByteLen(maxfds))
	if err := t.CopyInBytes(addr, raw); err != nil {
		return err
	}
	set := bitmap.FromBytes(maxfds, raw)
	for _, fd := range set.ToSlice() {
		if fd == 0 {
			continue
		}
		f := t.GetFile(int32(fd))
		if f == nil {
			return linuxerr.EBADF
		}
		if f.Inode.LinuxFd < 0 {
			return linuxerr.EINVAL
		}
		s.add(f.Inode.LinuxFd, int32(fd), events)
	}
	return nil
}

// WritePollFds writes the pollfd array into dst.
func (s *SelectSet) WritePollFds(dst []byte) {
	s.entries.Ascend(func(e *selectEntry) bool {
		pfd := linux.PollFD{FD: e.linuxFD, Events: e.events}
		dst = pfd.MarshalBytes(dst)
		return true
	})
}

// TranslateToUserFdlist writes to the fd_set at addr the descriptors among
// the first pollRet entries of src that are ready for events, and returns
// how many there are.
func (s *SelectSet) TranslateToUserFdlist(t *Thread, src []byte, pollRet int32, maxfds uint32, addr hostarch.Addr, events int16) (int32, error) {
	if addr == 0 {
		return 0, nil
	}
	set := bitmap.New(maxfds)
	n := int32(0)
	for i := int32(0); i < pollRet; i++ {
		var pfd linux.PollFD
		pfd.UnmarshalBytes(src[i*linux.SizeOfPollFD:])
		e := s.lookup(pfd.FD)
		if e == nil {
			return 0, linuxerr.EBADF
		}
		if pfd.REvents&events&e.events != 0 {
			set.Add(uint32(e.fd))
			n++
		}
	}
	if err := t.CopyOutBytes(addr, set.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}

// Select implements select(2) as a poll of the union of the three sets.
// A zero tv waits forever.
func (t *Thread) Select(nfds int32, in, out, exc, tv hostarch.Addr) error {
	if nfds < 0 {
		return linuxerr.EINVAL
	}
	maxfds := uint32(nfds)
	set := NewSelectSet()
	for _, l := range []struct {
		addr   hostarch.Addr
		events int16
	}{
		{in, linux.POLLIN},
		{out, linux.POLLOUT},
		{exc, linux.POLLERR},
	} {
		if err := set.AddUserFdList(t, l.addr, maxfds, l.events); err != nil {
			return err
		}
	}
	timeout := int32(-1)
	if tv != 0 {
		var b [linux.SizeOfTimeval]byte
		if err := t.CopyInBytes(tv, b[:]); err != nil {
			return err
		}
		var v linux.Timeval
		v.UnmarshalBytes(b[:])
		timeout = int32(v.Milliseconds())
	}
	buf, err := t.allocPollBuffer(set.Len())
	if err != nil {
		return err
	}
	set.WritePollFds(buf.Bytes())
	c := NewSelectCompletion(t, buf, set, nfds, in, out, exc)
	if err := t.k.helper.PollAsync(t, t.p.HelperPID, c.handle, buf, uint32(set.Len()), timeout); err != nil {
		c.Dispose()
		return linuxerr.EIO
	}
	return t.Suspend(c)
}

// resumeSelect rewrites the caller's fd_sets and returns the number of
// bits set across them.
func (t *Thread) resumeSelect(c *SelectCompletion, ret int32) int32 {
	defer c.Dispose()
	b := c.buf.Bytes()
	if ret <= 0 || int(ret)*linux.SizeOfPollFD > len(b) {
		return ret
	}
	total := int32(0)
	for _, l := range []struct {
		addr   hostarch.Addr
		events int16
	}{
		{c.In, linux.POLLIN},
		{c.Out, linux.POLLOUT},
		{c.Exc, linux.POLLERR | linux.POLLHUP},
	} {
		n, err := c.Set.TranslateToUserFdlist(t, b, ret, uint32(c.NFds), l.addr, l.events)
		if err != nil {
			return linuxerr.ToReturn(err)
		}
		total += n
	}
	return total
}

// resumeSocket installs the helper's new socket linuxFD.
func (t *Thread) resumeSocket(c *SocketCompletion, linuxFD int32) int32 {
	defer c.Dispose()
	if linuxFD < 0 {
		return linuxFD
	}
	inode := fs.NewSocketInode(t.k, t.p.HelperPID, linuxFD)
	return t.p.fds.AllocFD(fs.NewFile(inode, linux.O_RDWR, 0))
}

// resumeGetSocketParam copies out an option or address of length n.
func (t *Thread) resumeGetSocketParam(c *GetSocketParamCompletion, ret, n int32) int32 {
	defer c.Dispose()
	if ret < 0 {
		return ret
	}
	b := c.buf.Bytes()
	if n < 0 || int(n) > len(b) {
		return linuxerr.ToReturn(linuxerr.EFAULT)
	}
	if t.CopyOutUint32(c.LenAddr, uint32(n)) != nil || t.CopyOutBytes(c.Addr, b[:n]) != nil {
		return linuxerr.ToReturn(linuxerr.EFAULT)
	}
	return ret
}
