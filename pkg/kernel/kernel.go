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


// Package kernel implements the kernel of the personality layer: processes
// and threads, the completion machinery that suspends threads on helper
// requests, timers, futexes, vbinder and the binder device, and the loop
// that dispatches faults, syscalls and helper replies.
//
// The kernel is single threaded. Everything in this package runs on the
// goroutine calling Kernel.Run and takes no locks.
package kernel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/fs/sfs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/mm"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
	"github.com/ExpressOS/expressos/pkg/profile"
)

// dropLogInterval rate limits the log of dropped messages.
const dropLogInterval = time.Second

// Config configures a Kernel.
type Config struct {
	// Platform is the microkernel transport.
	Platform platform.Platform

	// Helper is the helper client. It must share Platform's transport.
	Helper *helper.Client

	// Memory holds the general and completion pools.
	Memory *pgalloc.Memory

	// Alien returns borrowed helper pages.
	Alien *pgalloc.AlienAllocator

	// Profiler is optional. A disabled profiler is used if nil.
	Profiler *profile.Profiler

	// Console receives application output. If nil, output goes to the
	// helper's console.
	Console io.Writer

	// Syscalls is the syscall table. It must be initialized.
	Syscalls *SyscallTable

	// Policy is the security policy. AllowAll is used if nil.
	Policy SecurityPolicy

	// SFSMACKey is the key of secure file header MACs. sfs.DefaultMACKey
	// is used if nil.
	SFSMACKey []byte

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// Kernel is the kernel context. There is one per personality instance.
type Kernel struct {
	platform platform.Platform
	helper   *helper.Client
	memory   *pgalloc.Memory
	alien    *pgalloc.AlienAllocator
	pager    *mm.Pager
	profiler *profile.Profiler
	console  *Console
	security *SecurityManager
	syscalls *SyscallTable
	sfsMAC   []byte

	completions CompletionQueue
	timers      *TimerQueue
	futexes     futexQueue
	channels    *CapabilityManager

	threads   map[platform.ThreadHandle]*Thread
	processes []*Process

	// binder is the binder device inode shared by all processes.
	binder *fs.Inode

	// realtime and monotonic are the host clocks at epoch.
	realtime  linux.Timespec
	monotonic linux.Timespec
	epoch     time.Time
	now       func() time.Time

	// replies are queued until the next wait.
	replies []platform.Reply

	drops log.Logger

	// ctx is the context of the running loop.
	ctx context.Context
}

var _ fs.Env = (*Kernel)(nil)

// New returns a kernel. It reads the host clocks through the helper.
func New(ctx context.Context, cfg Config) (*Kernel, error) {
	if cfg.Platform == nil || cfg.Helper == nil || cfg.Memory == nil || cfg.Syscalls == nil {
		return nil, fmt.Errorf("incomplete kernel config")
	}
	k := &Kernel{
		platform: cfg.Platform,
		helper:   cfg.Helper,
		memory:   cfg.Memory,
		alien:    cfg.Alien,
		profiler: cfg.Profiler,
		security: NewSecurityManager(cfg.Policy),
		syscalls: cfg.Syscalls,
		sfsMAC:   cfg.SFSMACKey,
		channels: NewCapabilityManager(),
		threads:  make(map[platform.ThreadHandle]*Thread),
		now:      cfg.Now,
		drops:    log.BasicRateLimitedLogger(dropLogInterval),
		ctx:      context.Background(),
	}
	if k.alien == nil {
		k.alien = pgalloc.NewAlienAllocator(cfg.Helper)
	}
	if k.profiler == nil {
		k.profiler = profile.New()
	}
	if k.now == nil {
		k.now = time.Now
	}
	if k.sfsMAC == nil {
		k.sfsMAC = sfs.DefaultMACKey
	}
	k.console = &Console{sink: cfg.Console, helper: cfg.Helper, ctx: k.context}
	k.pager = mm.NewPager(k.memory, k.alien, k.profiler)
	k.timers = NewTimerQueue(k.nowMillis)
	k.binder = fs.NewBinderInode(k)
	k.binder.IncRef()

	var err error
	if k.realtime, err = k.helper.ClockGettime(ctx, linux.CLOCK_REALTIME); err != nil {
		return nil, fmt.Errorf("reading the realtime clock: %w", err)
	}
	if k.monotonic, err = k.helper.ClockGettime(ctx, linux.CLOCK_MONOTONIC); err != nil {
		return nil, fmt.Errorf("reading the monotonic clock: %w", err)
	}
	k.epoch = k.now()
	return k, nil
}

func (k *Kernel) context() context.Context {
	return k.ctx
}

// nowMillis returns the kernel clock in milliseconds.
func (k *Kernel) nowMillis() int64 {
	return k.now().Sub(k.epoch).Milliseconds()
}

// Realtime returns the current wall-clock time.
func (k *Kernel) Realtime() linux.Timespec {
	return linux.NsecToTimespec(k.realtime.ToNsec() + k.now().Sub(k.epoch).Nanoseconds())
}

// Monotonic returns the current monotonic time.
func (k *Kernel) Monotonic() linux.Timespec {
	return linux.NsecToTimespec(k.monotonic.ToNsec() + k.now().Sub(k.epoch).Nanoseconds())
}

// Helper implements fs.Env.Helper.
func (k *Kernel) Helper() *helper.Client {
	return k.helper
}

// Console implements fs.Env.Console.
func (k *Kernel) Console() io.Writer {
	return k.console
}

// FlushConsole flushes buffered console output.
func (k *Kernel) FlushConsole(ctx context.Context) error {
	return k.console.Flush(ctx)
}

// FlushSecureFS implements fs.Env.FlushSecureFS.
func (k *Kernel) FlushSecureFS(ctx context.Context, pid, fd int32, buf *pgalloc.Buffer, pageCount uint32) error {
	c := &SFSFlushCompletion{completionBase{handle: k.completions.NextFreeHandle(), buf: buf}}
	k.completions.Enqueue(c)
	if err := k.helper.SFSFlushPagesAsync(ctx, pid, c.handle, buf, fd, pageCount); err != nil {
		k.completions.Take(c.handle)
		c.Dispose()
		return err
	}
	return nil
}

// Memory returns the page pools.
func (k *Kernel) Memory() *pgalloc.Memory {
	return k.memory
}

// Profiler returns the syscall profiler.
func (k *Kernel) Profiler() *profile.Profiler {
	return k.profiler
}

// Security returns the security manager.
func (k *Kernel) Security() *SecurityManager {
	return k.security
}

// Syscalls returns the syscall table.
func (k *Kernel) Syscalls() *SyscallTable {
	return k.syscalls
}

// SFSMACKey returns the key of secure file header MACs.
func (k *Kernel) SFSMACKey() []byte {
	return k.sfsMAC
}

// BinderInode returns the binder device inode.
func (k *Kernel) BinderInode() *fs.Inode {
	return k.binder
}

// Completions returns the pending completions.
func (k *Kernel) Completions() *CompletionQueue {
	return &k.completions
}

// Timers returns the timer queue.
func (k *Kernel) Timers() *TimerQueue {
	return k.timers
}

// Channels returns the vbinder capability manager.
func (k *Kernel) Channels() *CapabilityManager {
	return k.channels
}

// Thread returns the thread with handle h, or nil.
func (k *Kernel) Thread(h platform.ThreadHandle) *Thread {
	return k.threads[h]
}

// Processes returns the live processes.
func (k *Kernel) Processes() []*Process {
	return k.processes
}

// queueReply queues r for the next wait.
func (k *Kernel) queueReply(r platform.Reply) {
	k.replies = append(k.replies, r)
}
