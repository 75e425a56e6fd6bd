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

// Clock identifiers for clock_gettime(2).
const (
	CLOCK_REALTIME           = 0
	CLOCK_MONOTONIC          = 1
	CLOCK_PROCESS_CPUTIME_ID = 2
	CLOCK_THREAD_CPUTIME_ID  = 3
)

// Timespec is struct timespec on i386.
type Timespec struct {
	Sec  int32
	Nsec int32
}

// SizeOfTimespec is the size of a Timespec.
const SizeOfTimespec = 8

// Milliseconds returns the duration in ts rounded down to milliseconds.
func (ts Timespec) Milliseconds() int64 {
	return int64(ts.Sec)*1000 + int64(ts.Nsec)/1000000
}

// ToNsec returns the nanosecond representation.
func (ts Timespec) ToNsec() int64 {
	return int64(ts.Sec)*1e9 + int64(ts.Nsec)
}

// MarshalBytes encodes ts into dst.
func (ts *Timespec) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], uint32(ts.Sec))
	hostarch.ByteOrder.PutUint32(dst[4:], uint32(ts.Nsec))
	return dst[SizeOfTimespec:]
}

// UnmarshalBytes decodes ts from src.
func (ts *Timespec) UnmarshalBytes(src []byte) []byte {
	ts.Sec = int32(hostarch.ByteOrder.Uint32(src[0:]))
	ts.Nsec = int32(hostarch.ByteOrder.Uint32(src[4:]))
	return src[SizeOfTimespec:]
}

// NsecToTimespec translates nanoseconds to a Timespec.
func NsecToTimespec(nsec int64) Timespec {
	return Timespec{Sec: int32(nsec / 1e9), Nsec: int32(nsec % 1e9)}
}

// Timeval is struct timeval on i386.
type Timeval struct {
	Sec  int32
	Usec int32
}

// SizeOfTimeval is the size of a Timeval.
const SizeOfTimeval = 8

// Milliseconds returns the duration in tv rounded down to milliseconds.
func (tv Timeval) Milliseconds() int64 {
	return int64(tv.Sec)*1000 + int64(tv.Usec)/1000
}

// MarshalBytes encodes tv into dst.
func (tv *Timeval) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[0:], uint32(tv.Sec))
	hostarch.ByteOrder.PutUint32(dst[4:], uint32(tv.Usec))
	return dst[SizeOfTimeval:]
}

// UnmarshalBytes decodes tv from src.
func (tv *Timeval) UnmarshalBytes(src []byte) []byte {
	tv.Sec = int32(hostarch.ByteOrder.Uint32(src[0:]))
	tv.Usec = int32(hostarch.ByteOrder.Uint32(src[4:]))
	return src[SizeOfTimeval:]
}

// NsecToTimeval translates nanoseconds to a Timeval.
func NsecToTimeval(nsec int64) Timeval {
	return Timeval{Sec: int32(nsec / 1e9), Usec: int32(nsec % 1e9 / 1e3)}
}
