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
	"math"
	"os"

	"github.com/animaxdev/renderdoc/core/app"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/replay/partial"
	"github.com/pkg/errors"
)

type replayVerb struct {
	CommonFlags
	At int64 `help:"replay up to and including this event, the whole frame if negative"`
}

func init() {
	verb := &replayVerb{At: -1}
	app.AddVerb(&app.Verb{
		Name:       "replay",
		ShortHelp:  "Replay a capture against the null device",
		ShortUsage: "<capture>",
		Action:     verb,
	})
}

func (verb *replayVerb) Run(ctx context.Context, flags flag.FlagSet) error {
	if flags.NArg() != 1 {
		app.Usage(ctx, "Exactly one capture file expected, got %d", flags.NArg())
		return nil
	}
	ctx, cfg, err := verb.load(ctx)
	if err != nil {
		return err
	}
	d, counts, err := loadDriver(ctx, cfg, flags.Arg(0))
	if err != nil {
		return err
	}
	last, err := verb.target()
	if err != nil {
		return err
	}
	if err := d.PreparePartial(ctx, last); err != nil {
		return err
	}
	if err := d.Replay(ctx, last); err != nil {
		return log.Err(ctx, err, "Replay failed")
	}
	fmt.Fprintf(os.Stdout, "Replayed %d submissions of %d command buffers, %d waits\n",
		counts.submits, counts.cmds, counts.waits)
	return nil
}

// target returns the event to replay up to.
func (verb *replayVerb) target() (uint32, error) {
	switch {
	case verb.At < 0:
		return partial.NoTarget, nil
	case verb.At > math.MaxUint32:
		return 0, errors.Errorf("Event %d is out of range", verb.At)
	}
	return uint32(verb.At), nil
}
