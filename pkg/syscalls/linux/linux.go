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


// Package linux provides syscall tables for the Linux personality of
// Android applications.
package linux

import (
	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/syscalls"
)

const (
	// LinuxSysname is the OS name advertised.
	LinuxSysname = "Linux"

	// LinuxRelease is the Linux release version number advertised.
	LinuxRelease = "3.0.0-l4-g8732b51-dirty"

	// LinuxVersion is the version info advertised.
	LinuxVersion = "#11 Thu Apr 5 23:45:03 CDT 2012"

	// LinuxMachine is the hardware name advertised.
	LinuxMachine = "i686"
)

// SysVBinder is the number of the vbinder syscall, outside the range used
// by Linux.
const SysVBinder = 512

// I386 is a table of Linux i386 syscall API with the corresponding syscall
// numbers from Linux 3.0.
var I386 = &kernel.SyscallTable{
	Version: kernel.Version{
		Sysname: LinuxSysname,
		Release: LinuxRelease,
		Version: LinuxVersion,
		Machine: LinuxMachine,
	},
	Table: map[uintptr]kernel.Syscall{
		1:   syscalls.Supported("exit", Exit),
		2:   syscalls.Error("fork", linuxerr.ENOSYS, "Processes are created by the loader only."),
		3:   syscalls.Supported("read", Read),
		4:   syscalls.Supported("write", Write),
		5:   syscalls.Supported("open", Open),
		6:   syscalls.Supported("close", Close),
		10:  syscalls.Supported("unlink", Unlink),
		11:  syscalls.Error("execve", linuxerr.ENOSYS, "Processes are created by the loader only."),
		19:  syscalls.Supported("lseek", Lseek),
		20:  syscalls.PartiallySupported("getpid", Getpid, "Returns the pid of the helper serving the process."),
		33:  syscalls.Supported("access", Access),
		39:  syscalls.Supported("mkdir", Mkdir),
		41:  syscalls.Supported("dup", Dup),
		42:  syscalls.Supported("pipe", Pipe),
		45:  syscalls.Supported("brk", Brk),
		54:  syscalls.PartiallySupported("ioctl", Ioctl, "Only binder, ashmem and FIONREAD commands are supported."),
		63:  syscalls.PartiallySupported("dup2", Dup2, "newfd must be below the descriptor table size."),
		67:  syscalls.Mock("sigaction"),
		78:  syscalls.PartiallySupported("gettimeofday", Gettimeofday, "The time zone is not reported."),
		91:  syscalls.Supported("munmap", Munmap),
		93:  syscalls.Supported("ftruncate", Ftruncate),
		96:  syscalls.PartiallySupported("getpriority", Getpriority, "Always returns the default priority."),
		97:  syscalls.Mock("setpriority"),
		102: syscalls.PartiallySupported("socketcall", Socketcall, "Only socket, bind, connect, getsockname, sendto, recvfrom, shutdown, setsockopt and getsockopt are supported."),
		118: syscalls.Mock("fsync"),
		120: syscalls.PartiallySupported("clone", Clone, "Only thread creation is supported."),
		122: syscalls.Supported("uname", Uname),
		125: syscalls.Supported("mprotect", Mprotect),
		126: syscalls.Mock("sigprocmask"),
		142: syscalls.Supported("_newselect", Select),
		143: syscalls.Mock("flock"),
		146: syscalls.Supported("writev", Writev),
		156: syscalls.Mock("sched_setscheduler"),
		158: syscalls.Supported("sched_yield", SchedYield),
		162: syscalls.Supported("nanosleep", Nanosleep),
		168: syscalls.Supported("poll", Poll),
		180: syscalls.PartiallySupported("pread64", Pread64, "Offsets above 4GiB are truncated."),
		183: syscalls.PartiallySupported("getcwd", Getcwd, "Always returns the root directory."),
		190: syscalls.Error("vfork", linuxerr.ENOSYS, "Processes are created by the loader only."),
		192: syscalls.Supported("mmap2", Mmap2),
		195: syscalls.Supported("stat64", Stat64),
		196: syscalls.Supported("lstat64", Lstat64),
		197: syscalls.Supported("fstat64", Fstat64),
		199: syscalls.Supported("getuid32", Getuid),
		201: syscalls.Supported("geteuid32", Getuid),
		213: syscalls.Mock("setuid32"),
		214: syscalls.Mock("setgid32"),
		219: syscalls.PartiallySupported("madvise", Madvise, "Only MADV_DONTNEED has an effect."),
		221: syscalls.PartiallySupported("fcntl64", Fcntl64, "Locks and descriptor flags are ignored."),
		224: syscalls.Supported("gettid", Gettid),
		240: syscalls.PartiallySupported("futex", Futex, "Only WAIT, WAKE and their BITSET variants are supported."),
		243: syscalls.Supported("set_thread_area", SetThreadArea),
		252: syscalls.Supported("exit_group", ExitGroup),
		265: syscalls.Supported("clock_gettime", ClockGettime),

		SysVBinder: syscalls.Supported("vbinder", VBinder),
	},
	Missing: func(t *kernel.Thread, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
		log.Warningf("%v: unimplemented syscall %d at ip %#x", t, sysno, t.Regs().IP)
		syscalls.UnimplementedEvent(t, sysno)
		return 0, linuxerr.ENOSYS
	},
}

func init() {
	I386.Init()
}
