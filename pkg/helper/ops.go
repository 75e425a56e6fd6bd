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


package helper

import "fmt"

// Op is a request understood by the helper process. The values are part of
// the wire protocol.
type Op uint32

// Helper ops.
const (
	OpTakeHelper Op = 2 + iota
	OpClockGettime
	OpOpen
	OpClose
	OpVFSRead
	OpVFSReadAsync
	OpVFSWriteAsync
	OpFstatCombined
	OpStatCombined
	OpOpenAndGetSizeAsync
	OpOpenAndReadPagesAsync
	OpAccessAsync
	OpFtruncate
	OpPipe
	OpMkdir
	OpUnlink
	OpAshmemIoctl
	OpLinuxIoctl
	OpFcntl64
	OpSFSFlushPagesAsync
	OpSocketAsync
	OpSetsockoptAsync
	OpGetsockoptAsync
	OpBindAsync
	OpConnectAsync
	OpGetsocknameAsync
	OpPoll
	OpSendto
	OpRecvfrom
	OpShutdown
	OpFutexWait
	OpFutexWake
	OpGetUserPage
	OpAlienMmap2
	OpFreeLinuxPage
	OpBinderWriteRead
	OpWriteAppInfo
	OpConsoleWrite

	opCount
)

var opNames = [...]string{
	OpTakeHelper:            "TAKE_HELPER",
	OpClockGettime:          "CLOCK_GETTIME",
	OpOpen:                  "OPEN",
	OpClose:                 "CLOSE",
	OpVFSRead:               "VFS_READ",
	OpVFSReadAsync:          "VFS_READ_ASYNC",
	OpVFSWriteAsync:         "VFS_WRITE_ASYNC",
	OpFstatCombined:         "FSTAT_COMBINED",
	OpStatCombined:          "STAT_COMBINED",
	OpOpenAndGetSizeAsync:   "OPEN_AND_GET_SIZE_ASYNC",
	OpOpenAndReadPagesAsync: "OPEN_AND_READ_PAGES_ASYNC",
	OpAccessAsync:           "ACCESS_ASYNC",
	OpFtruncate:             "VFS_FTRUNCATE",
	OpPipe:                  "PIPE",
	OpMkdir:                 "MKDIR",
	OpUnlink:                "UNLINK",
	OpAshmemIoctl:           "ASHMEM_IOCTL",
	OpLinuxIoctl:            "VFS_LINUX_IOCTL",
	OpFcntl64:               "FCNTL64",
	OpSFSFlushPagesAsync:    "SFS_FLUSH_PAGES_ASYNC",
	OpSocketAsync:           "SOCKET_ASYNC",
	OpSetsockoptAsync:       "SETSOCKOPT_ASYNC",
	OpGetsockoptAsync:       "GETSOCKOPT_ASYNC",
	OpBindAsync:             "BIND_ASYNC",
	OpConnectAsync:          "CONNECT_ASYNC",
	OpGetsocknameAsync:      "GETSOCKNAME_ASYNC",
	OpPoll:                  "POLL",
	OpSendto:                "SENDTO",
	OpRecvfrom:              "RECVFROM",
	OpShutdown:              "SHUTDOWN",
	OpFutexWait:             "FUTEX_WAIT",
	OpFutexWake:             "FUTEX_WAKE",
	OpGetUserPage:           "GET_USER_PAGE",
	OpAlienMmap2:            "ALIEN_MMAP2",
	OpFreeLinuxPage:         "FREE_LINUX_PAGE",
	OpBinderWriteRead:       "BINDER_WRITE_READ",
	OpWriteAppInfo:          "WRITE_APP_INFO",
	OpConsoleWrite:          "CONSOLE_WRITE",
}

// String implements fmt.Stringer.String.
func (o Op) String() string {
	if o < opCount && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint32(o))
}

// Stat variants of FSTAT_COMBINED and STAT_COMBINED.
const (
	statTypeStat64  = 2
	statTypeLstat64 = 3
)

// AlienMmapFailed is returned by ALIEN_MMAP2 on failure.
const AlienMmapFailed = 0xffffffff
