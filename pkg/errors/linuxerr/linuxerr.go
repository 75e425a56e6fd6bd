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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/abi/linux/errno"
	"github.com/ExpressOS/expressos/pkg/errors"
	"golang.org/x/sys/unix"
)

const maxErrno uint32 = errno.ETIMEDOUT + 1

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. The Errno method returns an Errno number such that the
// error can be compared to unix.Errno (e.g. unix.Errno(EPERM.Errno()) ==
// unix.EPERM is true). Converting unix.Errno to the errors should be done via
// the lookup methods provided.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(errno.ESRCH, "no such process")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EIO                   = errors.New(errno.EIO, "I/O error")
	ENXIO                 = errors.New(errno.ENXIO, "no such device or address")
	E2BIG                 = errors.New(errno.E2BIG, "argument list too long")
	ENOEXEC               = errors.New(errno.ENOEXEC, "exec format error")
	EBADF                 = errors.New(errno.EBADF, "bad file number")
	ECHILD                = errors.New(errno.ECHILD, "no child processes")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EACCES                = errors.New(errno.EACCES, "permission denied")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	ENOTBLK               = errors.New(errno.ENOTBLK, "block device required")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                = errors.New(errno.EEXIST, "file exists")
	EXDEV                 = errors.New(errno.EXDEV, "cross-device link")
	ENODEV                = errors.New(errno.ENODEV, "no such device")
	ENOTDIR               = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR                = errors.New(errno.EISDIR, "is a directory")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	ENFILE                = errors.New(errno.ENFILE, "file table overflow")
	EMFILE                = errors.New(errno.EMFILE, "too many open files")
	ENOTTY                = errors.New(errno.ENOTTY, "not a typewriter")
	ETXTBSY               = errors.New(errno.ETXTBSY, "text file busy")
	EFBIG                 = errors.New(errno.EFBIG, "file too large")
	ENOSPC                = errors.New(errno.ENOSPC, "no space left on device")
	ESPIPE                = errors.New(errno.ESPIPE, "illegal seek")
	EROFS                 = errors.New(errno.EROFS, "read-only file system")
	EMLINK                = errors.New(errno.EMLINK, "too many links")
	EPIPE                 = errors.New(errno.EPIPE, "broken pipe")
	EDOM                  = errors.New(errno.EDOM, "math argument out of domain of func")
	ERANGE                = errors.New(errno.ERANGE, "math result not representable")
	EDEADLK               = errors.New(errno.EDEADLK, "resource deadlock would occur")
	ENAMETOOLONG          = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOLCK                = errors.New(errno.ENOLCK, "no record locks available")
	ENOSYS                = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY             = errors.New(errno.ENOTEMPTY, "directory not empty")
	ENOTSOCK              = errors.New(errno.ENOTSOCK, "socket operation on non-socket")
	ETIMEDOUT             = errors.New(errno.ETIMEDOUT, "connection timed out")

	// EWOULDBLOCK is the same value as EAGAIN.
	EWOULDBLOCK = EAGAIN
)

// errNotValidError marks slots of errorSlice that have no error.
var errNotValidError = errors.New(errno.Errno(maxErrno), "not a valid error")

// errorSlice is indexed by errno.
var errorSlice = func() []*errors.Error {
	s := make([]*errors.Error, maxErrno)
	for i := range s {
		s[i] = errNotValidError
	}
	s[0] = noError
	for _, e := range []*errors.Error{
		EPERM, ENOENT, ESRCH, EINTR, EIO, ENXIO, E2BIG, ENOEXEC, EBADF,
		ECHILD, EAGAIN, ENOMEM, EACCES, EFAULT, ENOTBLK, EBUSY, EEXIST,
		EXDEV, ENODEV, ENOTDIR, EISDIR, EINVAL, ENFILE, EMFILE, ENOTTY,
		ETXTBSY, EFBIG, ENOSPC, ESPIPE, EROFS, EMLINK, EPIPE, EDOM, ERANGE,
		EDEADLK, ENAMETOOLONG, ENOLCK, ENOSYS, ENOTEMPTY, ENOTSOCK, ETIMEDOUT,
	} {
		s[e.Errno()] = e
	}
	return s
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if uint32(err) >= maxErrno || errorSlice[err] == errNotValidError {
		panic(fmt.Sprintf("invalid error requested with errno: %v", err))
	}
	return errorSlice[err]
}

// FromReturn converts a syscall-style return value into an error. Values
// that are not negative, or that name no known errno, yield nil and EIO
// respectively.
func FromReturn(ret int32) error {
	if ret >= 0 {
		return nil
	}
	n := uint32(-int64(ret))
	if n >= maxErrno || errorSlice[n] == errNotValidError {
		return EIO
	}
	return errorSlice[n]
}

// ToReturn converts an error into the negative errno the caller expects in
// its return register. Errors that are not *errors.Error are reported as EIO.
func ToReturn(err error) int32 {
	if err == nil {
		return 0
	}
	if e, ok := err.(*errors.Error); ok && e != noError {
		return e.Return()
	}
	if e, ok := TranslateError(err); ok {
		return e.Return()
	}
	return EIO.Return()
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
