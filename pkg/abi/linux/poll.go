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

// PollFD is struct pollfd, used by poll(2), from uapi/asm-generic/poll.h.
type PollFD struct {
	FD      int32
	Events  int16
	REvents int16
}

// SizeOfPollFD is the size of struct pollfd.
const SizeOfPollFD = 8

// PollFDREventsOffset is the offset of revents in struct pollfd.
const PollFDREventsOffset = 6

// MarshalBytes encodes p into dst.
func (p *PollFD) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], uint32(p.FD))
	hostarch.ByteOrder.PutUint16(dst[4:], uint16(p.Events))
	hostarch.ByteOrder.PutUint16(dst[6:], uint16(p.REvents))
	return dst[SizeOfPollFD:]
}

// UnmarshalBytes decodes p from src.
func (p *PollFD) UnmarshalBytes(src []byte) []byte {
	p.FD = int32(hostarch.ByteOrder.Uint32(src[0:]))
	p.Events = int16(hostarch.ByteOrder.Uint16(src[4:]))
	p.REvents = int16(hostarch.ByteOrder.Uint16(src[6:]))
	return src[SizeOfPollFD:]
}

// Poll event flags, used by poll(2) and select(2), from
// uapi/asm-generic/poll.h.
const (
	POLLIN  = 0x0001
	POLLPRI = 0x0002
	POLLOUT = 0x0004
	POLLERR = 0x0008
	POLLHUP = 0x0010
)
