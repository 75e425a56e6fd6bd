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

// Commands from linux/fcntl.h.
const (
	F_DUPFD  = 0
	F_GETFD  = 1
	F_SETFD  = 2
	F_GETFL  = 3
	F_SETFL  = 4
	F_GETLK  = 5
	F_SETLK  = 6
	F_SETLKW = 7
)

// Flags for open(2), from include/uapi/asm-generic/fcntl.h.
const (
	O_ACCMODE = 000000003
	O_RDONLY  = 000000000
	O_WRONLY  = 000000001
	O_RDWR    = 000000002
	O_CREAT   = 000000100
	O_TRUNC   = 000001000
	O_APPEND  = 000002000
)

// Whence argument to lseek(2), from include/uapi/linux/fs.h.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Constants for access(2).
const (
	F_OK = 0
	X_OK = 1
	W_OK = 2
	R_OK = 4
)
