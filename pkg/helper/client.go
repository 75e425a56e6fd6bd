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


// Package helper is the client side of the cooperating Linux helper process.
//
// Every request is a list of positional words: the op, usually the pid of
// the helper serving the calling process, then op-specific arguments.
// Synchronous requests return their results in the reply words and, for
// bulk data, in the sync buffer at the start of the shared scratch window.
// Asynchronous requests carry a completion handle and the offset of a
// scratch buffer; the helper answers later with a platform.LabelAsyncReply
// message naming the handle.
package helper

import (
	"context"
	"errors"
	"fmt"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
	"github.com/cenkalti/backoff"
)

// ErrIPC is wrapped by every error caused by the transport rather than by
// the helper.
var ErrIPC = errors.New("helper ipc failed")

// MinSyncBufferSize is the smallest sync buffer the helper protocol allows.
const MinSyncBufferSize = 65 * 1024

// takeHelperRetries bounds the retries of TAKE_HELPER.
const takeHelperRetries = 5

// faultWrite is the write bit of a GET_USER_PAGE fault type.
const faultWrite = 2

// Return folds a transport failure into the raw return value the way the
// stub layer reports it: -1.
func Return(ret int32, err error) int32 {
	if err != nil {
		return -1
	}
	return ret
}

// Client issues helper requests. It is used from the kernel loop only.
type Client struct {
	caller platform.Caller

	// window is the scratch window shared with the helper. Its first pages
	// are the sync buffer; the rest serves completion buffers.
	window *pgalloc.Pool
	sync   *pgalloc.Buffer

	// linuxBase and linuxSize describe the helper's main memory, from which
	// GET_USER_PAGE lends pages.
	linuxBase pgalloc.Frame
	linuxSize uint32

	newBackOff func() backoff.BackOff
}

var _ pgalloc.PageLender = (*Client)(nil)

// NewClient returns a client talking through caller. The sync buffer is
// carved from the start of window, so window must have no allocations yet.
func NewClient(caller platform.Caller, window *pgalloc.Pool, linuxBase pgalloc.Frame, linuxSize uint32) (*Client, error) {
	sync, ok := window.AllocBuffer(MinSyncBufferSize)
	if !ok {
		return nil, fmt.Errorf("scratch window %s of %d bytes cannot hold the sync buffer", window.Name(), window.Size())
	}
	if sync.Frame() != window.Base() {
		sync.Dispose()
		return nil, fmt.Errorf("scratch window %s is already in use", window.Name())
	}
	return &Client{
		caller:    caller,
		window:    window,
		sync:      sync,
		linuxBase: linuxBase,
		linuxSize: linuxSize,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), takeHelperRetries)
		},
	}, nil
}

// Window returns the scratch window. Completion buffers are allocated from
// it.
func (c *Client) Window() *pgalloc.Pool {
	return c.window
}

// SyncBuffer returns the sync buffer.
func (c *Client) SyncBuffer() []byte {
	return c.sync.Bytes()
}

// offset returns the position of b relative to the sync buffer, which is
// how the helper addresses scratch buffers.
func (c *Client) offset(b *pgalloc.Buffer) uint32 {
	return b.Offset() - c.sync.Offset()
}

// call issues a synchronous request and checks that the reply holds at least
// want words.
func (c *Client) call(ctx context.Context, op Op, want int, args ...uint32) ([]uint32, error) {
	words := append([]uint32{uint32(op)}, args...)
	rep, err := c.caller.Call(ctx, platform.LabelIPC, words)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrIPC, op, err)
	}
	if len(rep) < want {
		return nil, fmt.Errorf("%w: %v: reply of %d words, want %d", ErrIPC, op, len(rep), want)
	}
	return rep, nil
}

// send issues an asynchronous request.
func (c *Client) send(ctx context.Context, op Op, args ...uint32) error {
	words := append([]uint32{uint32(op)}, args...)
	if err := c.caller.Send(ctx, platform.LabelIPC, words); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrIPC, op, err)
	}
	return nil
}

// putString copies s and a terminating NUL into the sync buffer.
func (c *Client) putString(s string) error {
	buf := c.SyncBuffer()
	if len(s)+1 > len(buf) {
		return linuxerr.ENAMETOOLONG
	}
	copy(buf, s)
	buf[len(s)] = 0
	return nil
}

// Takeover describes the helper assigned to a new process.
type Takeover struct {
	PID                 int32
	ShadowBinderVMStart hostarch.Addr
	WorkspaceFD         int32
	WorkspaceSize       uint32
}

// TakeHelper claims an idle helper for a new process. Transport failures are
// retried since the helper may still be forking its pool.
func (c *Client) TakeHelper(ctx context.Context) (Takeover, error) {
	var t Takeover
	op := func() error {
		rep, err := c.call(ctx, OpTakeHelper, 5)
		if err != nil {
			return err
		}
		if pid := int32(rep[1]); pid < 0 {
			return backoff.Permanent(fmt.Errorf("%v: %w", OpTakeHelper, linuxerr.FromReturn(pid)))
		}
		t = Takeover{
			PID:                 int32(rep[1]),
			ShadowBinderVMStart: hostarch.Addr(rep[2]),
			WorkspaceFD:         int32(rep[3]),
			WorkspaceSize:       rep[4],
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return Takeover{}, err
	}
	return t, nil
}

// ClockGettime reads clock clk from the helper's host.
func (c *Client) ClockGettime(ctx context.Context, clk int32) (linux.Timespec, error) {
	var ts linux.Timespec
	rep, err := c.call(ctx, OpClockGettime, 2, uint32(clk))
	if err != nil {
		return ts, err
	}
	if ret := int32(rep[1]); ret < 0 {
		return ts, linuxerr.FromReturn(ret)
	}
	ts.UnmarshalBytes(c.SyncBuffer())
	return ts, nil
}

// Open opens path in the helper and returns its fd or a negative errno.
func (c *Client) Open(ctx context.Context, pid int32, path string, flags, mode uint32) (int32, error) {
	if err := c.putString(path); err != nil {
		return linuxerr.ToReturn(err), nil
	}
	rep, err := c.call(ctx, OpOpen, 2, uint32(pid), flags, mode)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// Close closes a helper fd.
func (c *Client) Close(ctx context.Context, pid, fd int32) (int32, error) {
	rep, err := c.call(ctx, OpClose, 2, uint32(pid), uint32(fd))
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// OpenAndGetSizeAsync opens the NUL-terminated path held in buf. The reply
// carries the fd and the file size.
func (c *Client) OpenAndGetSizeAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, flags, mode uint32) error {
	return c.send(ctx, OpOpenAndGetSizeAsync, uint32(pid), handle, c.offset(buf), flags, mode)
}

// OpenAndReadPagesAsync opens the NUL-terminated path held in buf and reads
// its first npages pages back into buf.
func (c *Client) OpenAndReadPagesAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, npages, flags, mode uint32) error {
	return c.send(ctx, OpOpenAndReadPagesAsync, uint32(pid), handle, c.offset(buf), npages, flags, mode)
}

// Read reads into dst from fd at pos synchronously. It returns the number of
// bytes read, or a negative errno, and the new position.
func (c *Client) Read(ctx context.Context, pid, fd int32, dst []byte, pos uint32) (int32, uint32, error) {
	rep, err := c.call(ctx, OpVFSRead, 3, uint32(pid), uint32(fd), uint32(len(dst)), pos)
	if err != nil {
		return -1, pos, err
	}
	n := int32(rep[1])
	if n < 0 {
		return n, pos, nil
	}
	if int(n) > len(dst) || int(n) > len(c.SyncBuffer()) {
		return -1, pos, fmt.Errorf("%w: %v returned %d bytes for a %d byte read", ErrIPC, OpVFSRead, n, len(dst))
	}
	copy(dst, c.SyncBuffer()[:n])
	return n, rep[2], nil
}

// ReadAsync reads count bytes of fd at pos into buf.
func (c *Client) ReadAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, count, pos uint32) error {
	return c.send(ctx, OpVFSReadAsync, uint32(pid), handle, c.offset(buf), uint32(fd), count, pos)
}

// WriteAsync writes count bytes of buf to fd at pos.
func (c *Client) WriteAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, count, pos uint32) error {
	return c.send(ctx, OpVFSWriteAsync, uint32(pid), handle, c.offset(buf), uint32(fd), count, pos)
}

// Ftruncate truncates fd to length.
func (c *Client) Ftruncate(ctx context.Context, pid, fd int32, length uint32) (int32, error) {
	rep, err := c.call(ctx, OpFtruncate, 2, uint32(pid), uint32(fd), length)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// Fcntl64 forwards fcntl64(2).
func (c *Client) Fcntl64(ctx context.Context, pid, fd int32, cmd, arg uint32) (int32, error) {
	rep, err := c.call(ctx, OpFcntl64, 2, uint32(pid), uint32(fd), cmd, arg)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// AccessAsync checks mode against the NUL-terminated path held in buf.
func (c *Client) AccessAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, mode uint32) error {
	return c.send(ctx, OpAccessAsync, uint32(pid), handle, c.offset(buf), mode)
}

// Pipe creates a pipe and returns its read and write fds.
func (c *Client) Pipe(ctx context.Context, pid int32) (ret, r, w int32, err error) {
	rep, err := c.call(ctx, OpPipe, 4, uint32(pid))
	if err != nil {
		return -1, 0, 0, err
	}
	if ret = int32(rep[1]); ret < 0 {
		return ret, 0, 0, nil
	}
	return ret, int32(rep[2]), int32(rep[3]), nil
}

// Mkdir creates the directory path.
func (c *Client) Mkdir(ctx context.Context, pid int32, path string, mode uint32) (int32, error) {
	if err := c.putString(path); err != nil {
		return linuxerr.ToReturn(err), nil
	}
	rep, err := c.call(ctx, OpMkdir, 2, uint32(pid), mode)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// Unlink removes path.
func (c *Client) Unlink(ctx context.Context, pid int32, path string) (int32, error) {
	if err := c.putString(path); err != nil {
		return linuxerr.ToReturn(err), nil
	}
	rep, err := c.call(ctx, OpUnlink, 2, uint32(pid))
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// statReply validates a FSTAT_COMBINED or STAT_COMBINED reply and copies the
// stat64 buffer out of the sync buffer.
func (c *Client) statReply(op Op, rep []uint32) (int32, linux.Stat64, error) {
	if size := rep[2]; size != linux.SizeOfStat64 {
		return -1, nil, fmt.Errorf("%w: %v returned a %d byte stat64, want %d", ErrIPC, op, size, linux.SizeOfStat64)
	}
	ret := int32(rep[1])
	if ret < 0 {
		return ret, nil, nil
	}
	st := make(linux.Stat64, linux.SizeOfStat64)
	copy(st, c.SyncBuffer())
	return ret, st, nil
}

// Fstat64 stats fd.
func (c *Client) Fstat64(ctx context.Context, pid, fd int32) (int32, linux.Stat64, error) {
	rep, err := c.call(ctx, OpFstatCombined, 3, uint32(pid), statTypeStat64, uint32(fd))
	if err != nil {
		return -1, nil, err
	}
	return c.statReply(OpFstatCombined, rep)
}

// Stat64 stats path, following symlinks.
func (c *Client) Stat64(ctx context.Context, pid int32, path string) (int32, linux.Stat64, error) {
	return c.stat(ctx, pid, path, statTypeStat64)
}

// Lstat64 stats path without following a final symlink.
func (c *Client) Lstat64(ctx context.Context, pid int32, path string) (int32, linux.Stat64, error) {
	return c.stat(ctx, pid, path, statTypeLstat64)
}

func (c *Client) stat(ctx context.Context, pid int32, path string, typ uint32) (int32, linux.Stat64, error) {
	if err := c.putString(path); err != nil {
		return linuxerr.ToReturn(err), nil, nil
	}
	rep, err := c.call(ctx, OpStatCombined, 3, uint32(pid), typ)
	if err != nil {
		return -1, nil, err
	}
	return c.statReply(OpStatCombined, rep)
}

// AshmemIoctl forwards an ashmem ioctl on a helper fd.
func (c *Client) AshmemIoctl(ctx context.Context, pid, fd int32, cmd, arg uint32) (int32, error) {
	return c.ioctl(ctx, OpAshmemIoctl, pid, fd, cmd, arg)
}

// LinuxIoctl forwards any other ioctl on a helper fd.
func (c *Client) LinuxIoctl(ctx context.Context, pid, fd int32, cmd, arg uint32) (int32, error) {
	return c.ioctl(ctx, OpLinuxIoctl, pid, fd, cmd, arg)
}

func (c *Client) ioctl(ctx context.Context, op Op, pid, fd int32, cmd, arg uint32) (int32, error) {
	rep, err := c.call(ctx, op, 2, uint32(pid), uint32(fd), cmd, arg)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// SocketAsync creates a socket.
func (c *Client) SocketAsync(ctx context.Context, pid int32, handle uint32, domain, typ, protocol int32) error {
	return c.send(ctx, OpSocketAsync, uint32(pid), handle, uint32(domain), uint32(typ), uint32(protocol))
}

// SetsockoptAsync sets option optname from the optlen bytes in buf.
func (c *Client) SetsockoptAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd, level, optname int32, optlen uint32) error {
	return c.send(ctx, OpSetsockoptAsync, uint32(pid), handle, c.offset(buf), uint32(fd), uint32(level), uint32(optname), optlen)
}

// GetsockoptAsync reads option optname into buf.
func (c *Client) GetsockoptAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd, level, optname int32, optlen uint32) error {
	return c.send(ctx, OpGetsockoptAsync, uint32(pid), handle, c.offset(buf), uint32(fd), uint32(level), uint32(optname), optlen)
}

// BindAsync binds fd to the address in buf.
func (c *Client) BindAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, addrlen uint32) error {
	return c.send(ctx, OpBindAsync, uint32(pid), handle, c.offset(buf), uint32(fd), addrlen)
}

// ConnectAsync connects fd to the address in buf.
func (c *Client) ConnectAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, addrlen uint32) error {
	return c.send(ctx, OpConnectAsync, uint32(pid), handle, c.offset(buf), uint32(fd), addrlen)
}

// GetsocknameAsync reads the local address of fd into buf.
func (c *Client) GetsocknameAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, addrlen uint32) error {
	return c.send(ctx, OpGetsocknameAsync, uint32(pid), handle, c.offset(buf), uint32(fd), addrlen)
}

// PollAsync polls the nfds pollfd entries held in buf.
func (c *Client) PollAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, nfds uint32, timeout int32) error {
	return c.send(ctx, OpPoll, uint32(pid), handle, c.offset(buf), nfds, uint32(timeout))
}

// Sendto sends the length bytes at the start of the sync buffer, followed by
// an addrlen byte destination address.
func (c *Client) Sendto(ctx context.Context, pid, fd int32, length, flags, addrlen uint32) (int32, error) {
	rep, err := c.call(ctx, OpSendto, 2, uint32(pid), uint32(fd), length, flags, addrlen)
	if err != nil {
		return -1, err
	}
	return int32(rep[1]), nil
}

// Recvfrom receives up to length bytes into the sync buffer, followed by the
// source address. It returns the byte count and the address length.
func (c *Client) Recvfrom(ctx context.Context, pid, fd int32, length, flags, addrlen uint32) (int32, uint32, error) {
	rep, err := c.call(ctx, OpRecvfrom, 3, uint32(pid), uint32(fd), length, flags, addrlen)
	if err != nil {
		return -1, 0, err
	}
	return int32(rep[1]), rep[2], nil
}

// Shutdown shuts down part of a connection.
func (c *Client) Shutdown(ctx context.Context, pid, fd, how int32) (int32, error) {
	if _, err := c.call(ctx, OpShutdown, 1, uint32(pid), uint32(fd), uint32(how)); err != nil {
		return -1, err
	}
	return 0, nil
}

// FutexWait waits on a futex word in the helper's shadow mapping.
func (c *Client) FutexWait(ctx context.Context, pid int32, handle uint32, op int32, shadow hostarch.Addr, val uint32, ts linux.Timespec, bitset uint32) error {
	return c.send(ctx, OpFutexWait, uint32(pid), handle, uint32(op), uint32(shadow), val, uint32(ts.Sec), uint32(ts.Nsec), bitset)
}

// FutexWake wakes waiters of a futex word in the helper's shadow mapping.
func (c *Client) FutexWake(ctx context.Context, pid int32, handle uint32, op int32, shadow hostarch.Addr, bitset uint32) error {
	return c.send(ctx, OpFutexWake, uint32(pid), handle, uint32(op), uint32(shadow), bitset)
}

// GetUserPage implements pgalloc.PageLender.GetUserPage.
func (c *Client) GetUserPage(ctx context.Context, pid int32, faultType hostarch.AccessType, shadow hostarch.Addr) (pgalloc.Frame, error) {
	var write uint32
	if faultType.Write {
		write = faultWrite
	}
	rep, err := c.call(ctx, OpGetUserPage, 2, uint32(pid), write, uint32(shadow))
	if err != nil {
		return 0, err
	}
	rel := rep[1]
	if rel >= c.linuxSize {
		return 0, fmt.Errorf("%w: %v returned offset %#x outside helper memory of %#x bytes", ErrIPC, OpGetUserPage, rel, c.linuxSize)
	}
	return c.linuxBase + pgalloc.Frame(rel), nil
}

// FreeLinuxPages implements pgalloc.PageLender.FreeLinuxPages.
func (c *Client) FreeLinuxPages(ctx context.Context, frames []pgalloc.Frame) error {
	buf := c.SyncBuffer()
	if 4*len(frames) > len(buf) {
		return fmt.Errorf("%d pages do not fit the sync buffer", len(frames))
	}
	for i, f := range frames {
		hostarch.ByteOrder.PutUint32(buf[4*i:], uint32(f-c.linuxBase))
	}
	return c.send(ctx, OpFreeLinuxPage, uint32(len(frames)))
}

// AlienMmap2 creates a shared mapping in the helper. It returns the mapped
// address, or AlienMmapFailed.
func (c *Client) AlienMmap2(ctx context.Context, pid int32, addr hostarch.Addr, length, prot, flags uint32, fd int32, pgoff uint32) (uint32, error) {
	rep, err := c.call(ctx, OpAlienMmap2, 2, uint32(pid), uint32(addr), length, prot, flags, uint32(fd), pgoff)
	if err != nil {
		return AlienMmapFailed, err
	}
	return rep[1], nil
}

// BinderWriteDesc describes a marshalled BINDER_WRITE_READ.
type BinderWriteDesc struct {
	BufferSize   uint32
	WriteSize    uint32
	PatchEntries uint32
	PatchOffset  uint32
}

// BinderWriteReadAsync submits the binder transaction marshalled in buf.
func (c *Client) BinderWriteReadAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, d BinderWriteDesc) error {
	return c.send(ctx, OpBinderWriteRead, uint32(pid), handle, c.offset(buf), d.BufferSize, d.WriteSize, d.PatchEntries, d.PatchOffset)
}

// SFSFlushPagesAsync writes the pages described by the info block at the
// start of buf to fd.
func (c *Client) SFSFlushPagesAsync(ctx context.Context, pid int32, handle uint32, buf *pgalloc.Buffer, fd int32, pageCount uint32) error {
	return c.send(ctx, OpSFSFlushPagesAsync, uint32(pid), handle, uint32(fd), pageCount, c.offset(buf))
}

// WriteAppInfo hands the application descriptor of a new process to its
// helper.
func (c *Client) WriteAppInfo(ctx context.Context, pid int32, info []byte) error {
	buf := c.SyncBuffer()
	if len(info) > len(buf) {
		return fmt.Errorf("app info of %d bytes does not fit the sync buffer", len(info))
	}
	copy(buf, info)
	return c.send(ctx, OpWriteAppInfo, uint32(pid), uint32(len(info)))
}

// ConsoleWrite writes data to the helper's console.
func (c *Client) ConsoleWrite(ctx context.Context, data []byte) error {
	buf := c.SyncBuffer()
	if len(data) > len(buf) {
		data = data[:len(buf)]
	}
	copy(buf, data)
	return c.send(ctx, OpConsoleWrite, uint32(len(data)))
}
