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
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.String("root", "", "root directory for runtime state and the boot lock.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stdout.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	flagSet.String("config", "", "TOML file with default settings. Flags given on the command line take precedence.")
	flagSet.String("event-log", "", "file receiving event channel messages.")

	// Flags that control the connection to the microkernel.
	flagSet.String("transport", "unixsock", "microkernel transport. Only 'unixsock' is supported.")
	flagSet.String("socket", "/run/expressos/monitor.sock", "path of the monitor's seqpacket socket.")
	flagSet.Uint("memory-size", 64<<20, "size in bytes of the general page pool.")
	flagSet.Uint("completion-size", 4<<20, "size in bytes of the page pool shared with the helper.")

	// Flags that control the personality.
	flagSet.Bool("profile", false, "enable the syscall profiler at boot.")
	flagSet.String("sfs-key", "", "hex encoded AES-128 key sealing the secure files of the init process.")
	flagSet.String("sfs-mac-key", "", "hex encoded key of secure file header MACs.")
	flagSet.String("sfs-prefix", "", "path prefix under which files of the init process are secure.")
	flagSet.Uint("uid", 10000, "user id of the init process.")
	console := ConsoleHelper
	flagSet.Var(&console, "console", "where application output goes: helper (default) or stdout.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is given, from a TOML file. Flags set explicitly
// override the file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		setField(obj.Field(i), lookup(flagSet, name))
	}

	if conf.ConfigFile != "" {
		if err := conf.loadFile(flagSet); err != nil {
			return nil, err
		}
	}

	if len(conf.RootDir) == 0 {
		// If not set, set default root dir to something (hopefully) user-writeable.
		conf.RootDir = "/var/run/expressos"
		// NOTE: empty values for XDG_RUNTIME_DIR should be ignored.
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			conf.RootDir = filepath.Join(runtimeDir, "expressos")
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFile decodes c.ConfigFile over c, then reapplies the flags that were
// set on the command line.
func (c *Config) loadFile(flagSet *flag.FlagSet) error {
	md, err := toml.DecodeFile(c.ConfigFile, c)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", c.ConfigFile, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown keys %v", c.ConfigFile, undecoded)
	}

	fields := make(map[string]int)
	st := reflect.TypeOf(c).Elem()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			fields[name] = i
		}
	}
	obj := reflect.ValueOf(c).Elem()
	flagSet.Visit(func(fl *flag.Flag) {
		if i, ok := fields[fl.Name]; ok {
			setField(obj.Field(i), fl)
		}
	})
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := lookup(flagSet, name)
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func lookup(flagSet *flag.FlagSet, name string) *flag.Flag {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return fl
}

func setField(field reflect.Value, fl *flag.Flag) {
	getter, ok := fl.Value.(flag.Getter)
	if !ok {
		panic(fmt.Sprintf("Flag %q has no getter", fl.Name))
	}
	field.Set(reflect.ValueOf(getter.Get()))
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
