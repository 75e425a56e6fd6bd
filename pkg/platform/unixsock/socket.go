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


package unixsock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/platform"
	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// dialRetryInterval is the pause between connection attempts while the
// monitor is starting up.
const dialRetryInterval = 100 * time.Millisecond

// Socket is a connected SOCK_SEQPACKET socket. Each write is one packet and
// each read returns exactly one packet.
type Socket struct {
	mu sync.Mutex
	fd int
}

// NewSocket wraps a connected seqpacket fd. The Socket takes ownership of fd.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// SocketPair returns a pair of connected sockets.
func SocketPair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return NewSocket(fds[0]), NewSocket(fds[1]), nil
}

// Dial connects to the seqpacket socket at path. Refused and missing sockets
// are retried until ctx is done, since the monitor may not have bound its
// socket yet.
func Dial(ctx context.Context, path string) (*Socket, error) {
	var s *Socket
	op := func() error {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
			unix.Close(fd)
			if err == unix.ECONNREFUSED || err == unix.ENOENT || err == unix.EAGAIN {
				log.Debugf("Dial %q: %v, retrying", path, err)
				return err
			}
			return backoff.Permanent(err)
		}
		s = NewSocket(fd)
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(dialRetryInterval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", path, err)
	}
	return s, nil
}

// FD returns the underlying fd, or -1 once closed.
func (s *Socket) FD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Close closes the socket.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// WritePacket sends b as a single packet.
func (s *Socket) WritePacket(b []byte) error {
	fd := s.FD()
	if fd < 0 {
		return platform.ErrClosed
	}
	for {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n != len(b) {
			return fmt.Errorf("short packet write: %d of %d bytes", n, len(b))
		}
		return nil
	}
}

// ReadPacket receives one packet, waiting at most timeout for it to arrive.
// It returns platform.ErrTimeout on expiry and platform.ErrClosed once the
// peer has hung up.
func (s *Socket) ReadPacket(timeout time.Duration) ([]byte, error) {
	fd := s.FD()
	if fd < 0 {
		return nil, platform.ErrClosed
	}
	if err := s.poll(fd, timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, maxPacket)
	for {
		n, _, flags, _, err := unix.Recvmsg(fd, buf, nil, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, platform.ErrClosed
		}
		if flags&unix.MSG_TRUNC != 0 {
			return nil, fmt.Errorf("packet truncated at %d bytes", n)
		}
		return buf[:n], nil
	}
}

// poll waits until fd is readable.
func (s *Socket) poll(fd int, timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return platform.ErrTimeout
		}
		if fds[0].Revents&unix.POLLIN == 0 && fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return platform.ErrClosed
		}
		return nil
	}
}

// WritePacketWithFiles sends b as a single packet carrying files as
// SCM_RIGHTS. The caller keeps ownership of files.
func (s *Socket) WritePacketWithFiles(b []byte, files ...*os.File) error {
	fd := s.FD()
	if fd < 0 {
		return platform.ErrClosed
	}
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f.Fd())
	}
	oob := unix.UnixRights(fds...)
	for {
		n, err := unix.SendmsgN(fd, b, oob, nil, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n != len(b) {
			return fmt.Errorf("short packet write: %d of %d bytes", n, len(b))
		}
		return nil
	}
}

// writeTo marshals p and writes it to s.
func writeTo(s *Socket, p *packet) error {
	b, err := p.marshal()
	if err != nil {
		return err
	}
	return s.WritePacket(b)
}

// readFrom reads and decodes one packet from s.
func readFrom(s *Socket, timeout time.Duration) (*packet, error) {
	b, err := s.ReadPacket(timeout)
	if err != nil {
		return nil, err
	}
	p := new(packet)
	if err := p.unmarshal(b); err != nil {
		return nil, err
	}
	return p, nil
}
