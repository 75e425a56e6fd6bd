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

	"github.com/ExpressOS/expressos/expressos/config"
	"github.com/ExpressOS/expressos/pkg/fs/sfs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
	"github.com/google/subcommands"
)

// sfsPoolPages is the size of the page pool backing the cache of one file.
// It holds the largest file a one page signature table covers twice, once
// cached and once in the flush buffer.
const sfsPoolPages = 1024

// SFS implements subcommands.Command for the "sfs" command, which creates and
// inspects secure files on the host disk.
type SFS struct {
	input string
}

// Name implements subcommands.Command.Name.
func (*SFS) Name() string {
	return "sfs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SFS) Synopsis() string {
	return "create, print or verify a secure file"
}

// Usage implements subcommands.Command.Usage.
func (*SFS) Usage() string {
	return `sfs [flags] create|cat|verify <file>

create seals the contents of -input (stdin by default) into <file>. cat
prints the plaintext of <file>. verify checks the header and the signature
of every page. Keys come from --sfs-key and --sfs-mac-key.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *SFS) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.input, "input", "", "plaintext source for create. Stdin if empty.")
}

// Execute implements subcommands.Command.Execute.
func (s *SFS) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	keys, err := sfsKeysFrom(conf)
	if err != nil {
		return Errorf("%v", err)
	}

	mode, path := f.Arg(0), f.Arg(1)
	switch mode {
	case "create":
		in := io.Reader(os.Stdin)
		if s.input != "" {
			fi, err := os.Open(s.input)
			if err != nil {
				return Errorf("%v", err)
			}
			defer fi.Close()
			in = fi
		}
		err = keys.create(ctx, path, in)
	case "cat":
		_, err = keys.copyOut(ctx, path, os.Stdout)
	case "verify":
		var n int64
		if n, err = keys.copyOut(ctx, path, io.Discard); err == nil {
			fmt.Printf("%s: %d bytes OK\n", path, n)
		}
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err != nil {
		return Errorf("sfs %s %s: %v", mode, path, err)
	}
	return subcommands.ExitSuccess
}

// sfsKeys holds the keys of secure files.
type sfsKeys struct {
	key []byte
	mac []byte
}

func sfsKeysFrom(conf *config.Config) (sfsKeys, error) {
	cred, err := credential(conf)
	if err != nil {
		return sfsKeys{}, err
	}
	mac, err := conf.DecodeSFSMACKey()
	if err != nil {
		return sfsKeys{}, err
	}
	if mac == nil {
		mac = sfs.DefaultMACKey
	}
	return sfsKeys{key: cred.SFSKey, mac: mac}, nil
}

func newSFSPool() *pgalloc.Pool {
	return pgalloc.NewPool("sfs", 0, make([]byte, sfsPoolPages*hostarch.PageSize))
}

// create writes the contents of r into a new secure file at path.
func (k sfsKeys) create(ctx context.Context, path string, r io.Reader) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := sfs.OpenHost(path, true, newSFSPool(), k.key, k.mac)
	if err != nil {
		return err
	}
	buf := make([]byte, hostarch.PageSize)
	var pos uint32
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := f.Write(ctx, buf[:n], pos); err != nil {
				f.Release()
				return err
			}
			pos += uint32(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			f.Release()
			return rerr
		}
	}
	return f.Flush(ctx)
}

// copyOut decrypts the secure file at path into w, verifying every page.
func (k sfsKeys) copyOut(ctx context.Context, path string, w io.Writer) (int64, error) {
	f, err := sfs.OpenHost(path, false, newSFSPool(), k.key, k.mac)
	if err != nil {
		return 0, err
	}
	defer f.Release()
	buf := make([]byte, hostarch.PageSize)
	var total int64
	for pos := uint32(0); pos < f.Size(); {
		n, err := f.Read(ctx, buf, pos)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return total, err
		}
		pos += uint32(n)
		total += int64(n)
	}
	return total, nil
}
