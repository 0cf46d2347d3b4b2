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

// Package partial decides how much of each queue submission to execute when
// a loaded capture is replayed up to a target event.
package partial

import (
	"context"
	"math"

	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/fault"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/pkg/errors"
)

// ErrEmptyPartialSubmission is returned when trimming a submission to the
// target event leaves no command buffers, which means the target and the
// partial command buffer disagree.
const ErrEmptyPartialSubmission = fault.Const("Partial submission trimmed to nothing")

// NoTarget is the target event that replays everything.
const NoTarget = math.MaxUint32

// Cursor is the position of a replay.
type Cursor struct {
	// BaseEvent is the virtual start event of the command buffer replaced by
	// the partial command buffer.
	BaseEvent uint32
	// LastEventID is the event to replay up to and including.
	LastEventID uint32
	// RootEventID is the event currently being replayed.
	RootEventID uint32
	// RootDrawcallID is the drawcall currently being replayed.
	RootDrawcallID uint32
}

// Start returns a cursor at the first event of a capture, targeting last.
func Start(base, last uint32) Cursor {
	return Cursor{BaseEvent: base, LastEventID: last, RootEventID: 1, RootDrawcallID: 1}
}

// Next moves the cursor past the current event.
func (c *Cursor) Next() { c.RootEventID++ }

// Reached returns true if the current event is at or before the target.
func (c *Cursor) Reached() bool { return c.RootEventID <= c.LastEventID }

// Kind is how a submission is replayed.
type Kind int

const (
	// Skip means nothing of the submission is executed.
	Skip Kind = iota
	// Partial means the submission is trimmed to the target event.
	Partial
	// Full means the submission is executed as recorded.
	Full
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "Skip"
	case Partial:
		return "Partial"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// Cmd describes one baked command buffer of a submission.
type Cmd struct {
	ID         id.ID
	EventCount uint32
	DrawCount  uint32
}

// Entry is one command buffer to submit.
type Entry struct {
	// Cmd is the baked command buffer as recorded.
	Cmd id.ID
	// Partial is true if the caller's partial command buffer must be
	// submitted in place of Cmd.
	Partial bool
}

// Plan is the decision for one submission.
type Plan struct {
	Kind Kind
	// StartEID is the virtual start event of the first command buffer.
	StartEID uint32
	// EndEID is the last event of the submission.
	EndEID uint32
	// Submitted is the list of command buffers to submit, in order.
	Submitted []Entry
}

// Controller plans the submissions of one replay. It is not safe for
// concurrent use.
type Controller struct {
	Cursor Cursor
	// Verbose logs every decision at info rather than debug severity.
	Verbose bool
}

// New returns a Controller for a replay of a capture up to last, with the
// partial command buffer standing in for the one starting at base.
func New(base, last uint32) *Controller {
	return &Controller{Cursor: Start(base, last)}
}

// Plan advances the cursor over a submission of cmds, which must be the
// current event, and decides how much of it to execute. The cursor is left on
// the last event of the submission.
func (c *Controller) Plan(ctx context.Context, cmds []Cmd) (Plan, error) {
	cur := &c.Cursor
	submitEID := cur.RootEventID

	cur.RootDrawcallID++
	cur.RootEventID++
	start := cur.RootEventID
	for _, cmd := range cmds {
		cur.RootEventID += 1 + cmd.EventCount
		cur.RootDrawcallID += 1 + cmd.DrawCount
	}
	cur.RootEventID--
	end := cur.RootEventID

	p := Plan{StartEID: start, EndEID: end}
	last := cur.LastEventID
	ctx = log.V{"submission": submitEID, "start": start, "end": end, "target": last}.Bind(ctx)
	l := log.From(ctx)
	sev := log.Debug
	if c.Verbose {
		sev = log.Info
	}

	switch {
	case last != NoTarget && last <= start:
		p.Kind = Skip
		l.Logf(sev, false, "Skipping submission")

	case last >= end:
		p.Kind = Full
		for _, cmd := range cmds {
			p.Submitted = append(p.Submitted, Entry{Cmd: cmd.ID})
		}
		l.Logf(sev, false, "Submitting %d command buffers in full", len(cmds))

	default:
		p.Kind = Partial
		eid := start
		for _, cmd := range cmds {
			cend := eid + cmd.EventCount
			switch {
			case eid == cur.BaseEvent && eid < last && last < cend:
				l.Logf(sev, false, "Substituting partial command buffer for %v", cmd.ID)
				p.Submitted = append(p.Submitted, Entry{Cmd: cmd.ID, Partial: true})
			case last >= cend:
				l.Logf(sev, false, "Submitting %v in full", cmd.ID)
				p.Submitted = append(p.Submitted, Entry{Cmd: cmd.ID})
			default:
				l.Logf(sev, false, "Omitting %v", cmd.ID)
			}
			eid += 1 + cmd.EventCount
		}
		if len(p.Submitted) == 0 {
			return p, log.Errf(ctx, errors.WithStack(ErrEmptyPartialSubmission),
				"No command buffers left submitting up to event %d", last)
		}
	}
	return p, nil
}
