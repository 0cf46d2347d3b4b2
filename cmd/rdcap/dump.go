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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/core/app"
)

type dumpVerb struct {
	CommonFlags
	Debug bool `help:"print the field list of chunks written with one"`
}

func init() {
	verb := &dumpVerb{}
	app.AddVerb(&app.Verb{
		Name:       "dump",
		ShortHelp:  "Dump the header and chunks of a capture",
		ShortUsage: "<capture>",
		Action:     verb,
	})
}

func (verb *dumpVerb) Run(ctx context.Context, flags flag.FlagSet) error {
	if flags.NArg() != 1 {
		app.Usage(ctx, "Exactly one capture file expected, got %d", flags.NArg())
		return nil
	}
	ctx, _, err := verb.load(ctx)
	if err != nil {
		return err
	}
	c, err := readCapture(ctx, flags.Arg(0))
	if err != nil {
		return err
	}
	return dumpCapture(os.Stdout, c, verb.Debug)
}

func dumpCapture(w io.Writer, c *chunk.Capture, debug bool) error {
	h := c.Header
	fmt.Fprintf(w, "Session: %v\n", h.Session)
	fmt.Fprintf(w, "Driver:  %s\n", h.Driver)
	fmt.Fprintf(w, "Version: %d\n", h.Version)
	fmt.Fprintf(w, "Created: %s\n", h.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Chunks:  %d\n", len(c.Chunks))
	for _, ch := range c.Chunks {
		if _, err := fmt.Fprintln(w, ch); err != nil {
			return err
		}
		if debug && ch.Debug != "" {
			for _, line := range strings.Split(strings.TrimRight(ch.Debug, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	return nil
}
