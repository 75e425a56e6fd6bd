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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/ExpressOS/expressos/pkg/kernel"
	"github.com/ExpressOS/expressos/pkg/syscalls/linux"
	"github.com/google/subcommands"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
	all    bool
}

// TableInfo is the compatibility doc of a syscall table.
type TableInfo struct {
	// Version is the system version reported by uname.
	Version kernel.Version `json:"version"`

	// Syscalls holds the documented syscalls ordered by number.
	Syscalls []SyscallDoc `json:"syscalls"`
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Num     uintptr `json:"num"`
	Name    string  `json:"name"`
	Support string  `json:"support"`
	Note    string  `json:"note,omitempty"`
}

type outputFunc func(io.Writer, TableInfo) error

// outputMap maps output type names to output functions.
var outputMap = map[string]outputFunc{
	"table": outputTable,
	"json":  outputJSON,
	"csv":   outputCSV,
}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
	f.BoolVar(&s.all, "all", false, "Include unimplemented syscalls.")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("Unsupported output format %q", s.output)
	}
	if err := out(os.Stdout, tableInfo(linux.I386, s.all)); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// tableInfo returns the compatibility info of t. Unimplemented syscalls are
// included only with all set.
func tableInfo(t *kernel.SyscallTable, all bool) TableInfo {
	info := TableInfo{Version: t.Version}
	for _, num := range t.Numbers() {
		sc := t.Table[num]
		if sc.SupportLevel == kernel.SupportUnimplemented && !all {
			continue
		}
		info.Syscalls = append(info.Syscalls, SyscallDoc{
			Num:     num,
			Name:    sc.Name,
			Support: sc.SupportLevel.String(),
			Note:    sc.Note,
		})
	}
	return info
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, info TableInfo) error {
	fmt.Fprintf(w, "%s %s (%s):\n\n", info.Version.Sysname, info.Version.Release, info.Version.Machine)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	// Write the header
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", "NUM", "NAME", "SUPPORT", "NOTE"); err != nil {
		return err
	}

	// Write each syscall entry
	for _, sc := range info.Syscalls {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			strconv.FormatInt(int64(sc.Num), 10),
			sc.Name,
			sc.Support,
			sc.Note,
		)
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, info TableInfo) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(info)
}

// outputCSV outputs the syscall info in CSV format.
func outputCSV(w io.Writer, info TableInfo) error {
	csvWriter := csv.NewWriter(w)

	// Write the header
	if err := csvWriter.Write([]string{"Num", "Name", "Support", "Note"}); err != nil {
		return err
	}

	// Write each syscall entry
	for _, sc := range info.Syscalls {
		row := []string{
			strconv.FormatInt(int64(sc.Num), 10),
			sc.Name,
			sc.Support,
			sc.Note,
		}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
