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

package linuxerr_test

import (
	"fmt"
	"testing"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"golang.org/x/sys/unix"
)

func TestReturnRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int32
	}{
		{err: nil, want: 0},
		{err: linuxerr.EINVAL, want: -22},
		{err: linuxerr.EBADF, want: -9},
		{err: linuxerr.ETIMEDOUT, want: -110},
		{err: linuxerr.ErrWouldBlock, want: -11},
		{err: fmt.Errorf("some host error"), want: -5},
	} {
		if got := linuxerr.ToReturn(tc.err); got != tc.want {
			t.Errorf("ToReturn(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestFromReturn(t *testing.T) {
	for _, tc := range []struct {
		ret  int32
		want error
	}{
		{ret: 0, want: nil},
		{ret: 17, want: nil},
		{ret: -22, want: linuxerr.EINVAL},
		{ret: -88, want: linuxerr.ENOTSOCK},
		{ret: -1, want: linuxerr.EPERM},
		{ret: -4000, want: linuxerr.EIO},
	} {
		if got := linuxerr.FromReturn(tc.ret); got != tc.want {
			t.Errorf("FromReturn(%d): got %v, want %v", tc.ret, got, tc.want)
		}
	}
}

func TestEqualsUnix(t *testing.T) {
	if !linuxerr.Equals(linuxerr.EAGAIN, unix.EAGAIN) {
		t.Errorf("Equals(EAGAIN, unix.EAGAIN): got false, want true")
	}
	if linuxerr.Equals(linuxerr.EAGAIN, unix.EINVAL) {
		t.Errorf("Equals(EAGAIN, unix.EINVAL): got true, want false")
	}
	if got := linuxerr.ErrorFromUnix(unix.EFAULT); got != linuxerr.EFAULT {
		t.Errorf("ErrorFromUnix(EFAULT): got %v, want %v", got, linuxerr.EFAULT)
	}
	if got := linuxerr.ToUnix(linuxerr.ENOSYS); got != unix.ENOSYS {
		t.Errorf("ToUnix(ENOSYS): got %v, want %v", got, unix.ENOSYS)
	}
}
