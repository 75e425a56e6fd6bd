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
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/profile"
	slinux "github.com/ExpressOS/expressos/pkg/syscalls/linux"
	"github.com/google/subcommands"
)

// Profile implements subcommands.Command for the "profile" command, which
// summarizes profiler dumps.
type Profile struct {
	output string
	sortBy string
	top    int
}

// Name implements subcommands.Command.Name.
func (*Profile) Name() string {
	return "profile"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Profile) Synopsis() string {
	return "summarize profiler dumps"
}

// Usage implements subcommands.Command.Usage.
func (*Profile) Usage() string {
	return `profile [flags] [dump...] - merge profiler dumps and print them.

Dumps are read from stdin if no file is given. With -o text the merged counts
are written back in the exposition format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Profile) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.output, "o", "table", "Output format (table, text).")
	f.StringVar(&p.sortBy, "sort", "total", "Table order (total, calls, id).")
	f.IntVar(&p.top, "top", 0, "Print only the first N rows of the table. All if 0.")
}

// Execute implements subcommands.Command.Execute.
func (p *Profile) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	prof := profile.New()
	if f.NArg() == 0 {
		if err := mergeDump(prof, os.Stdin); err != nil {
			return Errorf("reading stdin: %v", err)
		}
	}
	for _, name := range f.Args() {
		if err := mergeFile(prof, name); err != nil {
			return Errorf("reading %s: %v", name, err)
		}
	}

	var err error
	switch p.output {
	case "table":
		rows, serr := profileRows(prof, p.sortBy)
		if serr != nil {
			f.Usage()
			return Errorf("%v", serr)
		}
		if p.top > 0 && p.top < len(rows) {
			rows = rows[:p.top]
		}
		err = outputProfile(os.Stdout, rows)
	case "text":
		err = prof.Dump(os.Stdout)
	default:
		return Errorf("unsupported output format %q", p.output)
	}
	if err != nil {
		return Errorf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func mergeFile(prof *profile.Profiler, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return mergeDump(prof, f)
}

func mergeDump(prof *profile.Profiler, r io.Reader) error {
	entries, err := profile.Parse(r)
	if err != nil {
		return err
	}
	return prof.Merge(entries)
}

// profileRow is one line of the profile table.
type profileRow struct {
	profile.Entry
	name string
}

// average returns the mean time of an event.
func (r profileRow) average() time.Duration {
	if r.Calls == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Calls)
}

// eventName names the event id.
func eventName(id int) string {
	switch profile.Category(id) {
	case "syscall":
		return slinux.I386.Name(uintptr(id))
	case "socketcall":
		if name, ok := socketcallNames[id-profile.SocketcallBase]; ok {
			return name
		}
		return fmt.Sprintf("socketcall_%d", id-profile.SocketcallBase)
	case "pagefault":
		return "page fault"
	default:
		return "open " + fs.Kind(id-profile.OpenBase).String()
	}
}

var socketcallNames = map[int]string{
	linux.SYS_SOCKET:      "socket",
	linux.SYS_BIND:        "bind",
	linux.SYS_CONNECT:     "connect",
	linux.SYS_GETSOCKNAME: "getsockname",
	linux.SYS_SENDTO:      "sendto",
	linux.SYS_RECVFROM:    "recvfrom",
	linux.SYS_SHUTDOWN:    "shutdown",
	linux.SYS_SETSOCKOPT:  "setsockopt",
	linux.SYS_GETSOCKOPT:  "getsockopt",
}

// profileRows returns the recorded events of prof ordered by sortBy.
func profileRows(prof *profile.Profiler, sortBy string) ([]profileRow, error) {
	var rows []profileRow
	for id := 0; id <= profile.MaxID; id++ {
		if prof.Calls(id) == 0 {
			continue
		}
		rows = append(rows, profileRow{
			Entry: profile.Entry{
				ID:       id,
				Category: profile.Category(id),
				Calls:    prof.Calls(id),
				Total:    prof.Total(id),
			},
			name: eventName(id),
		})
	}
	var less func(a, b profileRow) bool
	switch sortBy {
	case "total":
		less = func(a, b profileRow) bool { return a.Total > b.Total }
	case "calls":
		less = func(a, b profileRow) bool { return a.Calls > b.Calls }
	case "id":
		less = func(a, b profileRow) bool { return a.ID < b.ID }
	default:
		return nil, fmt.Errorf("unsupported sort order %q", sortBy)
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return rows, nil
}

func outputProfile(w io.Writer, rows []profileRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tCATEGORY\tCALLS\tTOTAL\tAVERAGE\n")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%v\t%v\n", r.ID, r.name, r.Category, r.Calls, r.Total, r.average())
	}
	return tw.Flush()
}
