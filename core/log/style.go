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

package log

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Style provides customization for printing messages.
type Style struct {
	Name      string   // Name of the style.
	Timestamp bool     // If true, the timestamp will be printed if part of the message.
	Tag       bool     // If true, the tag will be printed if part of the message.
	Trace     bool     // If true, the trace will be printed if part of the message.
	Process   bool     // If true, the process will be printed if part of the message.
	Severity  Severity // The minimum severity of the message printing.
	Values    ValueStyle
}

// ValueStyle is an enumerator of value printing styles.
type ValueStyle int

const (
	// NoValues prints no values.
	NoValues ValueStyle = iota
	// SingleLine prints all values on a single line.
	SingleLine
	// MultiLine prints each value on its own line.
	MultiLine
)

var (
	// Raw is a style that only prints the text of the message.
	Raw = Style{
		Name:     "raw",
		Severity: Verbose,
	}

	// Brief is a style that only prints the text and short severity.
	Brief = Style{
		Name:     "brief",
		Severity: Verbose,
		Values:   SingleLine,
	}

	// Normal is a style that prints the timestamp, tag, trace, process,
	// text and all values on one line.
	Normal = Style{
		Name:      "normal",
		Timestamp: true,
		Tag:       true,
		Trace:     true,
		Process:   true,
		Severity:  Verbose,
		Values:    SingleLine,
	}

	// Detailed is a style that prints the timestamp, tag, trace, process,
	// text and values each on their own line.
	Detailed = Style{
		Name:      "detailed",
		Timestamp: true,
		Tag:       true,
		Trace:     true,
		Process:   true,
		Severity:  Verbose,
		Values:    MultiLine,
	}

	// Styles is the list of all the built-in styles.
	Styles = []Style{Raw, Brief, Normal, Detailed}
)

// FindStyle returns the built-in style with the given name.
func FindStyle(name string) (Style, bool) {
	for _, s := range Styles {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Normal, false
}

func (s Style) String() string { return s.Name }

// Handler returns a new Handler configured to write to out and err with the
// given style.
func (s Style) Handler(w Writer) Handler {
	return NewHandler(func(m *Message) { w(s.Print(m), m.Severity) }, nil)
}

// Print returns the message msg printed with the style s.
func (s Style) Print(msg *Message) string {
	buf := bytes.Buffer{}

	if s.Name == Raw.Name {
		buf.WriteString(msg.Text)
		return buf.String()
	}

	if s.Timestamp && !msg.Time.IsZero() {
		buf.WriteString(msg.Time.Format(time.StampMilli))
		buf.WriteRune(' ')
	}

	buf.WriteString(msg.Severity.Short())
	buf.WriteRune(':')

	if s.Process && msg.Process != "" {
		buf.WriteRune(' ')
		buf.WriteString(msg.Process)
	}

	if s.Tag && msg.Tag != "" {
		buf.WriteString(" [")
		buf.WriteString(msg.Tag)
		buf.WriteRune(']')
	}

	if s.Trace && len(msg.Trace) > 0 {
		buf.WriteRune(' ')
		for i := len(msg.Trace) - 1; i >= 0; i-- {
			buf.WriteString(msg.Trace[i])
			if i > 0 {
				buf.WriteString(" -> ")
			}
		}
		buf.WriteRune(':')
	}

	buf.WriteRune(' ')
	buf.WriteString(msg.Text)

	if len(msg.Values) > 0 {
		switch s.Values {
		case SingleLine:
			buf.WriteString(" ⦕")
			for i, v := range msg.Values {
				if i > 0 {
					buf.WriteString(", ")
				}
				fmt.Fprintf(&buf, "%v: %v", v.Name, v.Value)
			}
			buf.WriteString("⦖")
		case MultiLine:
			for _, v := range msg.Values {
				fmt.Fprintf(&buf, "\n  %v: %v", v.Name, v.Value)
			}
		}
	}

	return buf.String()
}
