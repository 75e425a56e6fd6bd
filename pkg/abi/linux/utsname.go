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
	"bytes"
	"fmt"
)

const (
	// UTSLen is the maximum length of strings contained in fields of
	// UtsName.
	UTSLen = 64
)

// SizeOfUtsName is the size of struct utsname.
const SizeOfUtsName = 6 * (UTSLen + 1)

// UtsName represents struct utsname, the struct returned by uname(2).
type UtsName struct {
	Sysname    [UTSLen + 1]byte
	Nodename   [UTSLen + 1]byte
	Release    [UTSLen + 1]byte
	Version    [UTSLen + 1]byte
	Machine    [UTSLen + 1]byte
	Domainname [UTSLen + 1]byte
}

// utsNameString converts a UtsName entry to a string without NULs.
func utsNameString(s [UTSLen + 1]byte) string {
	// The NUL bytes will remain even in a cast to string. We must
	// explicitly strip them.
	return string(bytes.TrimRight(s[:], "\x00"))
}

func (u UtsName) String() string {
	return fmt.Sprintf("{Sysname: %s, Nodename: %s, Release: %s, Version: %s, Machine: %s, Domainname: %s}",
		utsNameString(u.Sysname), utsNameString(u.Nodename), utsNameString(u.Release),
		utsNameString(u.Version), utsNameString(u.Machine), utsNameString(u.Domainname))
}

// MarshalBytes encodes u into dst.
func (u *UtsName) MarshalBytes(dst []byte) []byte {
	for _, f := range [][UTSLen + 1]byte{u.Sysname, u.Nodename, u.Release, u.Version, u.Machine, u.Domainname} {
		copy(dst, f[:])
		dst = dst[UTSLen+1:]
	}
	return dst
}

// NewUtsName builds a UtsName from its string fields, truncating each one
// to UTSLen bytes.
func NewUtsName(sysname, nodename, release, version, machine, domainname string) UtsName {
	var u UtsName
	copy(u.Sysname[:UTSLen], sysname)
	copy(u.Nodename[:UTSLen], nodename)
	copy(u.Release[:UTSLen], release)
	copy(u.Version[:UTSLen], version)
	copy(u.Machine[:UTSLen], machine)
	copy(u.Domainname[:UTSLen], domainname)
	return u
}
