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


// Package config provides basic infrastructure to set configuration settings
// for expressos. Each setting that can be changed from outside (flags, config
// file) must be added to the Config struct, with a `flag` tag naming the
// flag that sets it.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
)

// Config holds configuration that is not part of the boot arguments.
type Config struct {
	// RootDir is the runtime root directory. It holds the boot lock.
	RootDir string `flag:"root" toml:"root"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// DebugLog is the path to log debug information to, if not empty. A
	// path ending in '/' names a directory in which a file per command is
	// created.
	DebugLog string `flag:"debug-log" toml:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// ConfigFile is a TOML file with defaults for the other settings.
	// Explicit flags take precedence over it.
	ConfigFile string `flag:"config" toml:"-"`

	// EventLog is the file receiving event channel messages, if not empty.
	EventLog string `flag:"event-log" toml:"event-log"`

	// Transport is the microkernel transport.
	Transport string `flag:"transport" toml:"transport"`

	// Socket is the path of the monitor socket.
	Socket string `flag:"socket" toml:"socket"`

	// MemorySize is the size in bytes of the general page pool.
	MemorySize uint `flag:"memory-size" toml:"memory-size"`

	// CompletionSize is the size in bytes of the pool shared with the
	// helper for completion buffers.
	CompletionSize uint `flag:"completion-size" toml:"completion-size"`

	// Profile enables the syscall profiler at boot.
	Profile bool `flag:"profile" toml:"profile"`

	// SFSKey is the hex encoded AES-128 key sealing the init process's
	// secure files. The built-in key is used if empty.
	SFSKey string `flag:"sfs-key" toml:"sfs-key"`

	// SFSMACKey is the hex encoded key of secure file header MACs.
	SFSMACKey string `flag:"sfs-mac-key" toml:"sfs-mac-key"`

	// SFSPrefix is the path prefix under which files of the init process
	// are secure. Secure files are disabled if empty.
	SFSPrefix string `flag:"sfs-prefix" toml:"sfs-prefix"`

	// UID is the user id of the init process.
	UID uint `flag:"uid" toml:"uid"`

	// Console selects where application output goes.
	Console ConsoleMode `flag:"console" toml:"console"`
}

// ConsoleMode selects the console sink.
type ConsoleMode int

const (
	// ConsoleHelper forwards output to the helper's console.
	ConsoleHelper ConsoleMode = iota

	// ConsoleStdout writes output to the standard output of boot.
	ConsoleStdout
)

// String implements flag.Value and fmt.Stringer.
func (c ConsoleMode) String() string {
	switch c {
	case ConsoleHelper:
		return "helper"
	case ConsoleStdout:
		return "stdout"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Set implements flag.Value.
func (c *ConsoleMode) Set(v string) error {
	switch v {
	case "helper":
		*c = ConsoleHelper
	case "stdout":
		*c = ConsoleStdout
	default:
		return fmt.Errorf("invalid console mode %q, must be 'helper' or 'stdout'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (c *ConsoleMode) Get() any {
	return *c
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (c *ConsoleMode) UnmarshalText(b []byte) error {
	return c.Set(string(b))
}

// validKeySize is the size of secure file keys.
const validKeySize = 16

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid debug log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	if c.Transport != "unixsock" {
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	for name, size := range map[string]uint{"memory-size": c.MemorySize, "completion-size": c.CompletionSize} {
		if size == 0 || size%hostarch.PageSize != 0 || size > 1<<31 {
			return fmt.Errorf("%s %#x must be a positive multiple of the page size below 2 GiB", name, size)
		}
	}
	if _, err := c.DecodeSFSKey(); err != nil {
		return err
	}
	if _, err := c.DecodeSFSMACKey(); err != nil {
		return err
	}
	if c.UID > 1<<31-1 {
		return fmt.Errorf("uid %d out of range", c.UID)
	}
	return nil
}

// DecodeSFSKey returns the secure file key, or nil if none is set.
func (c *Config) DecodeSFSKey() ([]byte, error) {
	return decodeKey("sfs-key", c.SFSKey)
}

// DecodeSFSMACKey returns the secure file MAC key, or nil if none is set.
func (c *Config) DecodeSFSMACKey() ([]byte, error) {
	return decodeKey("sfs-mac-key", c.SFSMACKey)
}

func decodeKey(name, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != validKeySize {
		return nil, fmt.Errorf("%s: got %d bytes, want %d", name, len(b), validKeySize)
	}
	return b, nil
}

// redacted lists flags whose values are never logged.
var redacted = map[string]bool{
	"sfs-key":     true,
	"sfs-mac-key": true,
}

// Log logs important aspects of the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		name := strings.TrimPrefix(f[:strings.IndexByte(f, '=')], "--")
		if redacted[name] {
			f = "--" + name + "=<redacted>"
		}
		log.Infof("\t%s", f)
	}
}
