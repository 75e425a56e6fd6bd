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


// Package profile counts syscalls, page faults and opens and reports the
// totals in the Prometheus text exposition format.
//
// Every event is identified by a small integer: the syscall number for
// syscalls, SocketcallBase plus the call number for socketcall(2) sub-calls,
// PageFaultID for page faults, and OpenBase plus the inode kind for opens.
package profile

import (
	"fmt"
	"io"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Event identifiers past the syscall range.
const (
	SocketcallBase = 512
	PageFaultID    = SocketcallBase + 30
	OpenBase       = PageFaultID + 1
	MaxID          = OpenBase + 10
)

// Names of the exported metric families.
const (
	CallsMetric = "expressos_syscall_calls_total"
	TimeMetric  = "expressos_syscall_time_nanoseconds_total"
)

type stat struct {
	calls uint64
	start time.Time
	total time.Duration
}

// Profiler accumulates per-event counts and elapsed time. It is disabled
// until Enable is called and is used from the kernel loop only.
type Profiler struct {
	enabled bool
	stats   [MaxID + 1]stat

	// now is the clock, replaced in tests.
	now func() time.Time
}

// New returns a disabled profiler.
func New() *Profiler {
	return &Profiler{now: time.Now}
}

// Enable starts recording.
func (p *Profiler) Enable() {
	p.enabled = true
}

// Disable stops recording. Totals are kept.
func (p *Profiler) Disable() {
	p.enabled = false
}

// Enabled returns true while recording.
func (p *Profiler) Enabled() bool {
	return p.enabled
}

func (p *Profiler) stat(id int) *stat {
	if id < 0 || id > MaxID {
		return nil
	}
	return &p.stats[id]
}

// EnterSyscall records the start of event id.
func (p *Profiler) EnterSyscall(id int) {
	if !p.enabled {
		return
	}
	if s := p.stat(id); s != nil {
		s.calls++
		s.start = p.now()
	}
}

// ExitSyscall records the end of event id.
func (p *Profiler) ExitSyscall(id int) {
	if !p.enabled {
		return
	}
	if s := p.stat(id); s != nil && !s.start.IsZero() {
		s.total += p.now().Sub(s.start)
		s.start = time.Time{}
	}
}

// EnterSocketcall records the start of socketcall sub-call call.
func (p *Profiler) EnterSocketcall(call int) {
	p.EnterSyscall(SocketcallBase + call)
}

// ExitSocketcall records the end of socketcall sub-call call.
func (p *Profiler) ExitSocketcall(call int) {
	p.ExitSyscall(SocketcallBase + call)
}

func (p *Profiler) account(id int, elapsed time.Duration) {
	if !p.enabled {
		return
	}
	if s := p.stat(id); s != nil {
		s.calls++
		s.total += elapsed
	}
}

// PageFault implements mm.FaultObserver.PageFault.
func (p *Profiler) PageFault(elapsed time.Duration) {
	p.account(PageFaultID, elapsed)
}

// AccountOpen records an open of an inode of the given kind.
func (p *Profiler) AccountOpen(kind int, elapsed time.Duration) {
	p.account(OpenBase+kind, elapsed)
}

// Calls returns the number of recorded events of id.
func (p *Profiler) Calls(id int) uint64 {
	if s := p.stat(id); s != nil {
		return s.calls
	}
	return 0
}

// Total returns the time recorded for id.
func (p *Profiler) Total(id int) time.Duration {
	if s := p.stat(id); s != nil {
		return s.total
	}
	return 0
}

// Category names the class of an event identifier.
func Category(id int) string {
	switch {
	case id < SocketcallBase:
		return "syscall"
	case id < PageFaultID:
		return "socketcall"
	case id == PageFaultID:
		return "pagefault"
	default:
		return "open"
	}
}

func labels(id int) []*dto.LabelPair {
	return []*dto.LabelPair{
		{Name: proto.String("category"), Value: proto.String(Category(id))},
		{Name: proto.String("id"), Value: proto.String(strconv.Itoa(id))},
	}
}

// Families returns the recorded events as metric families. Events that
// never happened are left out.
func (p *Profiler) Families() []*dto.MetricFamily {
	calls := &dto.MetricFamily{
		Name: proto.String(CallsMetric),
		Help: proto.String("Number of syscalls, page faults and opens served."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	total := &dto.MetricFamily{
		Name: proto.String(TimeMetric),
		Help: proto.String("Time spent serving syscalls, page faults and opens."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for id := range p.stats {
		s := &p.stats[id]
		if s.calls == 0 {
			continue
		}
		calls.Metric = append(calls.Metric, &dto.Metric{
			Label:   labels(id),
			Counter: &dto.Counter{Value: proto.Float64(float64(s.calls))},
		})
		total.Metric = append(total.Metric, &dto.Metric{
			Label:   labels(id),
			Counter: &dto.Counter{Value: proto.Float64(float64(s.total.Nanoseconds()))},
		})
	}
	return []*dto.MetricFamily{calls, total}
}

// Merge adds the counts of entries, as read by Parse, to p whether or not p
// is enabled.
func (p *Profiler) Merge(entries []Entry) error {
	for _, e := range entries {
		s := p.stat(e.ID)
		if s == nil {
			return fmt.Errorf("event id %d out of range", e.ID)
		}
		s.calls += e.Calls
		s.total += e.Total
	}
	return nil
}

// Dump writes the recorded events to w in the text exposition format.
func (p *Profiler) Dump(w io.Writer) error {
	for _, mf := range p.Families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Entry is one event read back from a dump.
type Entry struct {
	ID       int
	Category string
	Calls    uint64
	Total    time.Duration
}

// Parse reads a dump written by Dump. Entries are ordered by ID.
func Parse(r io.Reader) ([]Entry, error) {
	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	byID := make(map[int]*Entry)
	get := func(m *dto.Metric) (*Entry, error) {
		var id = -1
		var category string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "id":
				n, err := strconv.Atoi(l.GetValue())
				if err != nil {
					return nil, fmt.Errorf("bad id label %q: %w", l.GetValue(), err)
				}
				id = n
			case "category":
				category = l.GetValue()
			}
		}
		if id < 0 {
			return nil, fmt.Errorf("metric without id label: %v", m)
		}
		e, ok := byID[id]
		if !ok {
			e = &Entry{ID: id, Category: category}
			byID[id] = e
		}
		return e, nil
	}
	for _, m := range families[CallsMetric].GetMetric() {
		e, err := get(m)
		if err != nil {
			return nil, err
		}
		e.Calls = uint64(m.GetCounter().GetValue())
	}
	for _, m := range families[TimeMetric].GetMetric() {
		e, err := get(m)
		if err != nil {
			return nil, err
		}
		e.Total = time.Duration(m.GetCounter().GetValue())
	}
	entries := make([]Entry, 0, len(byID))
	for id := 0; id <= MaxID; id++ {
		if e, ok := byID[id]; ok {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}
