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


package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/ExpressOS/expressos/expressos/config"
	"github.com/ExpressOS/expressos/pkg/eventchannel"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/loader"
	"github.com/ExpressOS/expressos/pkg/log"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/ExpressOS/expressos/pkg/platform/unixsock"
	"github.com/ExpressOS/expressos/pkg/profile"
	"github.com/ExpressOS/expressos/pkg/syscalls/linux"
	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	// generalBase is the first frame of the general pool in the monitor's
	// physical window. The completion pool follows it.
	generalBase pgalloc.Frame = 0x1000000

	// helperLinuxBase and helperLinuxSize delimit the frames the monitor
	// maps for pages lent by the helper.
	helperLinuxBase pgalloc.Frame = 0x70000000
	helperLinuxSize               = 0x10000000

	// eventRate and eventBurst bound the event channel traffic.
	eventRate  = 10
	eventBurst = 100

	lockName = "expressos.lock"
)

// Boot implements subcommands.Command for the "boot" command which starts
// the personality and runs an init program in it.
type Boot struct {
	// packageName is the Android package of the init program, if any.
	packageName string

	// env holds KEY=VALUE entries of the init environment.
	env stringFlags

	// dialTimeout bounds the wait for the monitor socket.
	dialTimeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "start the personality and run an init program"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] <program> [args...] - start the personality, connect to the monitor and run <program> as the init process.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.packageName, "package", "", "Android package name of the init program.")
	f.Var(&b.env, "env", "KEY=VALUE environment entry of the init program. May be repeated.")
	f.DurationVar(&b.dialTimeout, "dial-timeout", 30*time.Second, "how long to wait for the monitor socket.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(ctx, conf, f.Args()); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (b *Boot) run(ctx context.Context, conf *config.Config, argv []string) error {
	if err := os.MkdirAll(conf.RootDir, 0o711); err != nil {
		return fmt.Errorf("creating root directory %q: %w", conf.RootDir, err)
	}
	lock := flock.New(filepath.Join(conf.RootDir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %q: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("another instance holds %q", lock.Path())
	}
	defer lock.Unlock()

	if end := uint64(generalBase) + uint64(conf.MemorySize) + uint64(conf.CompletionSize); end > uint64(helperLinuxBase) {
		return fmt.Errorf("pools ending at %#x overlap the helper frames at %v", end, helperLinuxBase)
	}
	general, err := pgalloc.NewMemfdPool("general", generalBase, uint32(conf.MemorySize))
	if err != nil {
		return err
	}
	defer general.Close()
	completion, err := pgalloc.NewMemfdPool("completion", generalBase+pgalloc.Frame(conf.MemorySize), uint32(conf.CompletionSize))
	if err != nil {
		return err
	}
	defer completion.Close()

	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	sock, err := unixsock.Dial(dialCtx, conf.Socket)
	cancel()
	if err != nil {
		return err
	}
	plat := unixsock.New(sock)
	defer plat.Close()
	if err := plat.ShareMemory(ctx, general, completion); err != nil {
		return err
	}

	client, err := helper.NewClient(plat, completion, helperLinuxBase, helperLinuxSize)
	if err != nil {
		return err
	}

	prof := profile.New()
	if conf.Profile {
		prof.Enable()
	}
	if err := setupEvents(conf); err != nil {
		return err
	}

	cred, err := credential(conf)
	if err != nil {
		return err
	}
	macKey, err := conf.DecodeSFSMACKey()
	if err != nil {
		return err
	}
	var console io.Writer
	if conf.Console == config.ConsoleStdout {
		console = os.Stdout
	}
	k, err := kernel.New(ctx, kernel.Config{
		Platform:  plat,
		Helper:    client,
		Memory:    pgalloc.NewMemory(general, completion),
		Profiler:  prof,
		Console:   console,
		Syscalls:  linux.I386,
		SFSMACKey: macKey,
	})
	if err != nil {
		return fmt.Errorf("creating kernel: %w", err)
	}

	p, err := loader.Load(ctx, k, loader.LoadArgs{
		Filename:   argv[0],
		Argv:       argv,
		Envv:       b.env,
		Credential: cred,
		AppInfo: kernel.AppInfo{
			PackageName: b.packageName,
			UID:         int32(conf.UID),
			SourceDir:   argv[0],
			DataDir:     conf.SFSPrefix,
			Enabled:     true,
		},
	})
	if err != nil {
		return err
	}
	log.Infof("Started %s, helper pid %d, entry %#x", p.Name, p.HelperPID, p.EntryPoint)

	return runKernel(ctx, k)
}

// runKernel runs the kernel loop until ctx is done, the monitor hangs up or
// a termination signal arrives.
func runKernel(ctx context.Context, k *kernel.Kernel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Stop the signal watcher once the loop returns.
		defer cancel()
		return k.Run(gctx)
	})
	g.Go(func() error {
		return watchSignals(gctx, cancel)
	})
	return g.Wait()
}

// watchSignals cancels the loop on SIGINT or SIGTERM.
func watchSignals(ctx context.Context, cancel context.CancelFunc) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		log.Infof("Received %v, stopping", sig)
		cancel()
	case <-ctx.Done():
	}
	return nil
}

// credential returns the credential of the init process.
func credential(conf *config.Config) (kernel.Credential, error) {
	cred := kernel.DefaultCredential()
	cred.UID = uint32(conf.UID)
	key, err := conf.DecodeSFSKey()
	if err != nil {
		return kernel.Credential{}, err
	}
	if key != nil {
		cred.SFSKey = key
	}
	return cred, nil
}

// setupEvents routes event channel messages to conf.EventLog.
func setupEvents(conf *config.Config) error {
	if conf.EventLog == "" {
		return nil
	}
	f, err := os.OpenFile(conf.EventLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	e := eventchannel.WriterEmitter(f)
	if conf.Debug {
		e = eventchannel.DebugEmitterFrom(e)
	}
	eventchannel.AddEmitter(eventchannel.RateLimitedEmitterFrom(e, eventRate, eventBurst))
	return nil
}
