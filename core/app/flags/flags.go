// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package flags binds command line flags to tagged struct fields.
package flags

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// FullHelpFlag is the name of the flag used to show the full help.
const FullHelpFlag = "fullhelp"

// Set is a bindable set of flags.
type Set struct {
	// Raw is the underlying flag set.
	Raw flag.FlagSet
}

// U64Slice is a flag value holding a list of integers, written either as a
// single value or as "[n, m, ...]".
type U64Slice []uint64

func (i *U64Slice) String() string {
	return fmt.Sprintf("%d", []uint64(*i))
}

func (i *U64Slice) Set(v string) error {
	*i = U64Slice{}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if v[0] != '[' || v[len(v)-1] != ']' {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("Expected '[n, ...]' or 'n', could not parse %s", v)
		}
		*i = append(*i, n)
		return nil
	}
	for _, val := range strings.Split(v[1:len(v)-1], ",") {
		if strings.TrimSpace(val) == "" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return fmt.Errorf("Could not parse slice %s", val)
		}
		*i = append(*i, n)
	}
	return nil
}

// Bind uses reflection to bind flag values to the verb.
// It will recurse into nested structures adding all leaf fields.
func (s *Set) Bind(name string, value interface{}, help string) {
	switch val := value.(type) {
	case *bool:
		s.Raw.BoolVar(val, name, *val, help)
		return
	case *int:
		s.Raw.IntVar(val, name, *val, help)
		return
	case *int64:
		s.Raw.Int64Var(val, name, *val, help)
		return
	case *uint:
		s.Raw.UintVar(val, name, *val, help)
		return
	case *uint64:
		s.Raw.Uint64Var(val, name, *val, help)
		return
	case *float64:
		s.Raw.Float64Var(val, name, *val, help)
		return
	case *string:
		s.Raw.StringVar(val, name, *val, help)
		return
	case *time.Duration:
		s.Raw.DurationVar(val, name, *val, help)
		return
	case flag.Value:
		s.Raw.Var(val, name, help)
		return
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("Flag value not a pointer: %v", rv.Type()))
	}
	e := rv.Elem()
	if e.Kind() != reflect.Struct {
		panic(fmt.Sprintf("Unhandled flag type: %v", rv.Type()))
	}
	t := e.Type()
	for i := 0; i < e.NumField(); i++ {
		tf := t.Field(i)
		if tf.PkgPath != "" {
			continue // Unexported.
		}
		field := e.Field(i)
		fname := strings.ToLower(tf.Name)
		if tf.Anonymous {
			fname = ""
		}
		if partial := tf.Tag.Get("name"); partial != "" {
			fname = partial
		}
		fullname := tf.Tag.Get("fullname")
		switch {
		case fullname != "":
		case fname == "":
			fullname = name
		case name == "":
			fullname = fname
		default:
			fullname = name + "-" + fname
		}
		s.Bind(fullname, field.Addr().Interface(), tf.Tag.Get("help"))
	}
}

// HasVisibleFlags returns true if the set has bound flags for the specified verbosity.
func (s *Set) HasVisibleFlags(verbose bool) bool {
	result := false
	s.Raw.VisitAll(func(f *flag.Flag) {
		if _, _, hidden := getFlagUsage(f, verbose); !hidden {
			result = true
		}
	})
	return result
}

// Flags whose help starts with '_' are only shown in the full help.
func getFlagUsage(f *flag.Flag, verbose bool) (string, string, bool) {
	name, usage := flag.UnquoteUsage(f)
	forceHide := f.Name == FullHelpFlag
	if !strings.HasPrefix(usage, "_") {
		return name, usage, forceHide
	}
	return name, usage[1:], forceHide || !verbose
}

func dumpDefault(fl *flag.Flag) string {
	switch fl.DefValue {
	case "", "false", "0", "[]":
		return ""
	}
	if getter, ok := fl.Value.(flag.Getter); ok {
		if _, isString := getter.Get().(string); isString {
			return fmt.Sprintf(" (default %q)", fl.DefValue)
		}
	}
	return fmt.Sprintf(" (default %v)", fl.DefValue)
}

// Usage returns the usage string for the flags.
func (s *Set) Usage(verbose bool) string {
	lines := []string{}
	s.Raw.VisitAll(func(fl *flag.Flag) {
		name, usage, hidden := getFlagUsage(fl, verbose)
		if hidden {
			return
		}
		lines = append(lines, fmt.Sprintf("  -%s %s\n\t%s%s", fl.Name, name, usage, dumpDefault(fl)))
	})
	return strings.Join(lines, "\n")
}

// Parse processes the args to fill in the flags.
// see flag.Parse for more details.
func (s *Set) Parse(fullHelp *bool, args ...string) error {
	if fullHelp != nil && s.Raw.Lookup(FullHelpFlag) == nil {
		s.Raw.BoolVar(fullHelp, FullHelpFlag, *fullHelp, "")
	}
	s.Raw.Init(s.Raw.Name(), flag.ContinueOnError)
	s.Raw.Usage = func() {}
	return s.Raw.Parse(args)
}

// Args returns the unprocessed part of the command line passed to Parse.
func (s *Set) Args() []string {
	return s.Raw.Args()
}
