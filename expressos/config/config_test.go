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


package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlags(t *testing.T, args map[string]string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range args {
		if err := testFlags.Set(name, val); err != nil {
			t.Fatalf("Flag set %s=%s: %v", name, val, err)
		}
	}
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlags(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	// "--root" is always set to something different than the default. Reset it
	// to make it easier to test that default values do not generate flags.
	c.RootDir = ""

	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.Console != ConsoleHelper {
		t.Errorf("Console=%v, want: %v", c.Console, ConsoleHelper)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlags(t, map[string]string{
		"root":        "some-path",
		"debug":       "true",
		"memory-size": "1048576",
		"console":     "stdout",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if want := "some-path"; c.RootDir != want {
		t.Errorf("RootDir=%v, want: %v", c.RootDir, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := uint(1 << 20); c.MemorySize != want {
		t.Errorf("MemorySize=%v, want: %v", c.MemorySize, want)
	}
	if want := ConsoleStdout; c.Console != want {
		t.Errorf("Console=%v, want: %v", c.Console, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlags(t, map[string]string{
		"root":    "some-path",
		"debug":   "true",
		"profile": "false", // Matches default value.
		"uid":     "10042",
	}))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--root=some-path", "--debug=true", "--uid=10042"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expressos.toml")
	contents := strings.Join([]string{
		`debug = true`,
		`socket = "/tmp/monitor.sock"`,
		`uid = 10001`,
		`console = "stdout"`,
		`sfs-prefix = "/data/data/com.example"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := NewFromFlags(newFlags(t, map[string]string{
		"config": path,
		"uid":    "10002",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug {
		t.Errorf("Debug=false, want: true")
	}
	if want := "/tmp/monitor.sock"; c.Socket != want {
		t.Errorf("Socket=%v, want: %v", c.Socket, want)
	}
	// Explicit flags win over the file.
	if want := uint(10002); c.UID != want {
		t.Errorf("UID=%v, want: %v", c.UID, want)
	}
	if want := ConsoleStdout; c.Console != want {
		t.Errorf("Console=%v, want: %v", c.Console, want)
	}
	if want := "/data/data/com.example"; c.SFSPrefix != want {
		t.Errorf("SFSPrefix=%v, want: %v", c.SFSPrefix, want)
	}
}

func TestConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "unknown key", contents: `network = "none"`},
		{name: "bad syntax", contents: `debug = `},
		{name: "bad console", contents: `console = "tty"`},
		{name: "bad size", contents: `memory-size = 100`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "-")+".toml")
			if err := os.WriteFile(path, []byte(tc.contents), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFlags(newFlags(t, map[string]string{"config": path})); err == nil {
				t.Errorf("NewFromFlags with %q succeeded", tc.contents)
			}
		})
	}
	if _, err := NewFromFlags(newFlags(t, map[string]string{"config": filepath.Join(dir, "missing.toml")})); err == nil {
		t.Errorf("NewFromFlags with a missing config file succeeded")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args map[string]string
		ok   bool
	}{
		{name: "default", ok: true},
		{name: "json", args: map[string]string{"log-format": "json", "debug-log-format": "json"}, ok: true},
		{name: "bad log format", args: map[string]string{"log-format": "xml"}},
		{name: "bad debug log format", args: map[string]string{"debug-log-format": "xml"}},
		{name: "bad transport", args: map[string]string{"transport": "kvm"}},
		{name: "zero memory", args: map[string]string{"memory-size": "0"}},
		{name: "unaligned completion", args: map[string]string{"completion-size": "4097"}},
		{name: "key", args: map[string]string{"sfs-key": "000102030405060708090a0b0c0d0e0f"}, ok: true},
		{name: "short key", args: map[string]string{"sfs-key": "0001"}},
		{name: "bad mac key", args: map[string]string{"sfs-mac-key": "zz"}},
		{name: "uid", args: map[string]string{"uid": "4294967295"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newFlags(t, tc.args))
			if got := err == nil; got != tc.ok {
				t.Errorf("NewFromFlags(%v): got err %v, want ok %t", tc.args, err, tc.ok)
			}
		})
	}
}

func TestDecodeKeys(t *testing.T) {
	c, err := NewFromFlags(newFlags(t, map[string]string{
		"sfs-key":     "000102030405060708090a0b0c0d0e0f",
		"sfs-mac-key": "f0f1f2f3f4f5f6f7f8f9fafbfcfdfeff",
	}))
	if err != nil {
		t.Fatal(err)
	}
	key, err := c.DecodeSFSKey()
	if err != nil {
		t.Fatalf("DecodeSFSKey: %v", err)
	}
	if want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}; !cmp.Equal(key, want) {
		t.Errorf("DecodeSFSKey: got %x, want %x", key, want)
	}
	mac, err := c.DecodeSFSMACKey()
	if err != nil || len(mac) != 16 || mac[0] != 0xf0 {
		t.Errorf("DecodeSFSMACKey: got %x, %v", mac, err)
	}

	empty, err := NewFromFlags(newFlags(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	if key, err := empty.DecodeSFSKey(); key != nil || err != nil {
		t.Errorf("DecodeSFSKey with no key: got %x, %v, want nil, nil", key, err)
	}
}
