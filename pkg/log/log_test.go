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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

type countingLogger struct {
	BasicLogger
	msgs []string
}

func (c *countingLogger) Warningf(format string, v ...any) {
	c.msgs = append(c.msgs, fmt.Sprintf(format, v...))
}

func TestRateLimitedSuppressedCount(t *testing.T) {
	inner := &countingLogger{BasicLogger: BasicLogger{Level: Debug}}
	rl := RateLimitedLogger(inner, time.Hour).(*rateLimitedLogger)
	for i := 0; i < 4; i++ {
		rl.Warningf("dropped reply %d", i)
	}
	if got, want := len(inner.msgs), 1; got != want {
		t.Fatalf("messages through the limiter: got %d, want %d", got, want)
	}
	if got, want := rl.suppressed.Load(), uint64(3); got != want {
		t.Errorf("suppressed count: got %d, want %d", got, want)
	}

	// Let the next message through and check that it reports the flood.
	rl.limit.SetLimit(rate.Inf)
	rl.Warningf("dropped reply %d", 4)
	if got := inner.msgs[len(inner.msgs)-1]; !strings.Contains(got, "3 similar messages suppressed") {
		t.Errorf("last message %q does not report the suppressed count", got)
	}
}

func TestFileOptsBuild(t *testing.T) {
	opts := FileOpts{Command: "boot", Start: time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{pattern: "/tmp/x.log", want: "/tmp/x.log"},
		{pattern: "/tmp/%COMMAND%.log", want: "/tmp/boot.log"},
		{pattern: "/tmp/logs/", want: "/tmp/logs/expressos.log.20260102-030405.000006.boot"},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q): got %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestGoogleEmitterHeader(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	e.Emit(0, Warning, time.Date(2026, 5, 7, 8, 9, 10, 11000, time.UTC), "fault at %#x", 0x1000)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(tw.lines))
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0507 08:09:10.000011 ") {
		t.Errorf("header of %q is not glog formatted", line)
	}
	if !strings.Contains(line, "log_test.go:") || !strings.HasSuffix(line, "] fault at 0x1000\n") {
		t.Errorf("line %q is missing the caller or message", line)
	}
}
