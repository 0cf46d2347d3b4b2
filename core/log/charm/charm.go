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

// Package charm sends log messages to a charmbracelet terminal logger.
package charm

import (
	"io"
	"strings"

	"github.com/animaxdev/renderdoc/core/log"
	charmlog "github.com/charmbracelet/log"
)

// StyleName selects this handler wherever a log style name is accepted.
const StyleName = "charm"

// New returns a terminal logger writing to w. Filtering is left to the
// context filter so the logger reports every level.
func New(w io.Writer, prefix string) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		Prefix:          prefix,
		Level:           charmlog.DebugLevel,
		ReportTimestamp: true,
	})
}

// Handler returns a log.Handler writing messages to l.
// The tag, trace and bound values become key-value pairs.
func Handler(l *charmlog.Logger) log.Handler {
	return log.NewHandler(func(m *log.Message) {
		kv := make([]interface{}, 0, 2*len(m.Values)+4)
		if m.Tag != "" {
			kv = append(kv, "tag", m.Tag)
		}
		if len(m.Trace) > 0 {
			kv = append(kv, "trace", trace(m.Trace))
		}
		for _, v := range m.Values {
			kv = append(kv, v.Name, v.Value)
		}
		l.Log(Level(m.Severity), m.Text, kv...)
	}, func() {})
}

// StyleHandler returns the handler for the named style writing to w. Style
// names are those of log.FindStyle plus StyleName.
func StyleHandler(style string, w io.Writer, process string) (log.Handler, bool) {
	if style == StyleName {
		return Handler(New(w, process)), true
	}
	s, ok := log.FindStyle(style)
	if !ok {
		return nil, false
	}
	return s.Handler(log.StreamWriter(w)), true
}

// Level maps a severity to the terminal logger level.
// Verbose shares the debug level.
func Level(s log.Severity) charmlog.Level {
	switch {
	case s >= log.Fatal:
		return charmlog.FatalLevel
	case s >= log.Error:
		return charmlog.ErrorLevel
	case s >= log.Warning:
		return charmlog.WarnLevel
	case s >= log.Info:
		return charmlog.InfoLevel
	default:
		return charmlog.DebugLevel
	}
}

func trace(t []string) string {
	parts := make([]string, len(t))
	for i, s := range t {
		parts[len(t)-1-i] = s
	}
	return strings.Join(parts, " -> ")
}
