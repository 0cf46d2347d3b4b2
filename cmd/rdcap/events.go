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

	"github.com/animaxdev/renderdoc/core/app"
	"github.com/animaxdev/renderdoc/replay/timeline"
)

type eventsVerb struct {
	CommonFlags
	Flat bool `help:"list events in order instead of the drawcall tree"`
}

func init() {
	verb := &eventsVerb{}
	app.AddVerb(&app.Verb{
		Name:       "events",
		ShortHelp:  "Print the replay events of a capture",
		ShortUsage: "<capture>",
		Action:     verb,
	})
}

func (verb *eventsVerb) Run(ctx context.Context, flags flag.FlagSet) error {
	if flags.NArg() != 1 {
		app.Usage(ctx, "Exactly one capture file expected, got %d", flags.NArg())
		return nil
	}
	ctx, cfg, err := verb.load(ctx)
	if err != nil {
		return err
	}
	d, _, err := loadDriver(ctx, cfg, flags.Arg(0))
	if err != nil {
		return err
	}
	if verb.Flat {
		printEvents(os.Stdout, d.Events())
	} else {
		printTree(os.Stdout, d.Root(), 0)
	}
	return nil
}

func printEvents(w io.Writer, events []timeline.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "%4d %-24v %s\n", e.EventID, e.Tag, e.Desc)
	}
}

func printTree(w io.Writer, nodes []*timeline.DrawcallTreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%d: %s [draw %d]\n", indent, n.Draw.EventID, n.Draw.Name, n.Draw.DrawcallID)
		printTree(w, n.Children, depth+1)
	}
}
