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


package kernel

import (
	"context"
	"errors"

	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// Commands carried by platform.LabelCommand messages.
const (
	CommandDumpProfile    = 1
	CommandEnableProfile  = 2
	CommandDisableProfile = 3
	CommandFlushConsole   = 4
)

// Run runs the kernel loop until the transport closes or ctx is cancelled.
func (k *Kernel) Run(ctx context.Context) error {
	k.ctx = pgalloc.WithMemory(ctx, k.memory)
	defer func() { k.ctx = context.Background() }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		k.expireTimers()
		msg, err := k.wait(ctx)
		switch {
		case err == nil:
			k.dispatch(msg)
		case errors.Is(err, platform.ErrTimeout):
		case errors.Is(err, platform.ErrClosed), ctx.Err() != nil:
			log.Infof("Kernel loop stopping: %v", err)
			return nil
		default:
			return err
		}
	}
}

// expireTimers resumes the threads whose timers have expired.
func (k *Kernel) expireTimers() {
	for k.timers.NextTimeout(k.nowMillis()) == 0 {
		if t := k.timers.Take(); t != nil {
			t.ResumeFromTimeout()
		}
	}
}

// wait sends the queued replies and waits for the next message, no longer
// than the earliest timer allows.
func (k *Kernel) wait(ctx context.Context) (platform.Message, error) {
	timeout := k.timers.NextTimeout(k.nowMillis())
	replies := k.replies
	k.replies = nil
	if len(replies) == 0 {
		return k.platform.Wait(ctx, timeout)
	}
	for _, r := range replies[:len(replies)-1] {
		if err := k.platform.Reply(ctx, r); err != nil {
			log.Warningf("Sending %v: %v", r, err)
		}
	}
	return k.platform.ReplyAndWait(ctx, replies[len(replies)-1], timeout)
}

// dispatch handles one message.
func (k *Kernel) dispatch(msg platform.Message) {
	switch msg.Label {
	case platform.LabelPageFault:
		k.handlePageFault(&msg)
	case platform.LabelException:
		k.handleException(&msg)
	case platform.LabelAsyncReply:
		k.handleAsyncReply(&msg)
	case platform.LabelCommand:
		k.handleCommand(&msg)
	case platform.LabelFlushReplies:
		// Queued replies go out with the next wait.
	default:
		k.drops.Warningf("Dropping message with unknown label: %v", &msg)
	}
}

func (k *Kernel) handlePageFault(msg *platform.Message) {
	t := k.threads[msg.From]
	if t == nil {
		k.drops.Warningf("Dropping fault of unknown thread: %v", msg)
		return
	}
	frame, perm, ok := t.p.mm.HandleFault(t, msg.FaultType, msg.FaultAddr, msg.FaultIP)
	if !ok {
		log.Warningf("Unresolved page fault in %v: addr=%v ip=%v %v", t, msg.FaultAddr, msg.FaultIP, msg.FaultType)
		return
	}
	k.queueReply(platform.Reply{
		To: t.handle,
		Grant: &platform.Grant{
			Addr:  msg.FaultAddr.RoundDown(),
			Frame: frame,
			Perm:  perm,
		},
	})
}

func (k *Kernel) handleException(msg *platform.Message) {
	t := k.threads[msg.From]
	if t == nil {
		k.drops.Warningf("Dropping exception of unknown thread: %v", msg)
		return
	}
	if !msg.IsSyscall() {
		log.Warningf("Unhandled exception in %v: %v", t, &msg.Regs)
		return
	}
	t.regs = msg.Regs
	sysno := t.regs.SyscallNo()
	args := t.regs.SyscallArgs()

	k.profiler.EnterSyscall(int(sysno))
	rv, ctrl, err := k.executeSyscall(t, sysno, args)
	k.profiler.ExitSyscall(int(sysno))

	switch {
	case ctrl == CtrlDoExit:
		return
	case err == linuxerr.ErrPending:
		return
	case err != nil:
		t.returnFromSyscall(linuxerr.ToReturn(err))
	default:
		t.returnFromSyscall(int32(rv))
	}
}

// executeSyscall runs the handler of sysno.
func (k *Kernel) executeSyscall(t *Thread, sysno uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
	fn := k.syscalls.Lookup(sysno)
	if fn == nil {
		if k.syscalls.Missing != nil {
			rv, err := k.syscalls.Missing(t, sysno, args)
			return rv, nil, err
		}
		return 0, nil, linuxerr.ENOSYS
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x, %#x, %#x)", t, k.syscalls.Name(sysno), args[0].Uint(), args[1].Uint(), args[2].Uint())
	}
	return fn(t, args)
}

func (k *Kernel) handleAsyncReply(msg *platform.Message) {
	handle, r, ok := msg.AsyncReply()
	if !ok {
		k.drops.Warningf("Dropping malformed async reply: %v", msg)
		return
	}
	c := k.completions.Take(uint32(handle))
	if c == nil {
		k.drops.Warningf("Dropping async reply for unknown handle %#x", uint32(handle))
		return
	}
	t := c.Thread()
	if t == nil {
		if r[0] < 0 {
			log.Warningf("%v completion %#x failed: %d", c.Kind(), c.Handle(), r[0])
		}
		c.Dispose()
		return
	}
	t.resumeFromCompletion(c, r)
}

func (k *Kernel) handleCommand(msg *platform.Message) {
	cmd, _ := msg.Command()
	ctx := k.context()
	switch cmd {
	case CommandDumpProfile:
		if err := k.profiler.Dump(k.console); err != nil {
			log.Warningf("Dumping the profile: %v", err)
		}
		if err := k.console.Flush(ctx); err != nil {
			log.Warningf("Flushing the console: %v", err)
		}
	case CommandEnableProfile:
		k.profiler.Enable()
	case CommandDisableProfile:
		k.profiler.Disable()
	case CommandFlushConsole:
		if err := k.console.Flush(ctx); err != nil {
			log.Warningf("Flushing the console: %v", err)
		}
	default:
		k.drops.Warningf("Dropping unknown command %d", cmd)
	}
}
