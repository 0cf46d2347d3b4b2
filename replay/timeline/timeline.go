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

// Package timeline builds the tree of drawcalls and the flat list of events of
// a loaded capture.
package timeline

import (
	"fmt"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
)

// Event is one replayable call.
type Event struct {
	EventID uint32
	Tag     chunk.Tag
	Desc    string
}

// DrawFlags describe a drawcall.
type DrawFlags uint32

const (
	// Drawcall marks an operation that produces rendering.
	Drawcall DrawFlags = 1 << iota
	// PushMarker marks a node that groups its children.
	PushMarker
	// PopMarker marks the end of a group.
	PopMarker
	// Barrier marks a pipeline barrier.
	Barrier
	// CmdSubmit marks a queue submission.
	CmdSubmit
	// Present marks the end of the captured frame.
	Present
)

// Draw is one node of the drawcall tree.
type Draw struct {
	Name       string
	EventID    uint32
	DrawcallID uint32
	Flags      DrawFlags
	Events     []Event
}

// DrawcallTreeNode is a drawcall and the drawcalls it groups.
type DrawcallTreeNode struct {
	Draw     Draw
	Children []*DrawcallTreeNode
}

// Clone returns a deep copy of n.
func (n *DrawcallTreeNode) Clone() *DrawcallTreeNode {
	out := &DrawcallTreeNode{Draw: n.Draw}
	out.Draw.Events = append([]Event(nil), n.Draw.Events...)
	out.Children = CloneNodes(n.Children)
	return out
}

// CloneNodes returns a deep copy of every node in nodes.
func CloneNodes(nodes []*DrawcallTreeNode) []*DrawcallTreeNode {
	if nodes == nil {
		return nil
	}
	out := make([]*DrawcallTreeNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// Rebase adds baseEvent to every event ID and baseDraw to every drawcall ID
// in nodes, and calls visit with every event in tree order.
func Rebase(nodes []*DrawcallTreeNode, baseEvent, baseDraw uint32, visit func(Event)) {
	for _, n := range nodes {
		n.Draw.EventID += baseEvent
		n.Draw.DrawcallID += baseDraw
		for i := range n.Draw.Events {
			n.Draw.Events[i].EventID += baseEvent
			if visit != nil {
				visit(n.Draw.Events[i])
			}
		}
		Rebase(n.Children, baseEvent, baseDraw, visit)
	}
}

// BakedInfo is the timeline of one baked command buffer, numbered from the
// start of the command buffer.
type BakedInfo struct {
	// EventCount is the number of events, not counting the virtual start
	// event.
	EventCount uint32
	// DrawCount is the number of drawcall IDs used.
	DrawCount uint32
	// Tree is the drawcall tree of the commands.
	Tree []*DrawcallTreeNode
	// ImageBarriers is the list of layout transitions of the commands.
	ImageBarriers []resource.ImageBarrier
}

// Builder assembles a drawcall tree and event list in event order.
type Builder struct {
	// EventID is the ID the next event will get.
	EventID uint32
	// DrawcallID is the ID the next drawcall will get.
	DrawcallID uint32

	events  []Event
	pending []Event
	root    *DrawcallTreeNode
	stack   []*DrawcallTreeNode
}

// NewBuilder returns a Builder for a whole capture, with event and drawcall
// IDs starting at 1.
func NewBuilder() *Builder {
	return newBuilder(1, 1)
}

// NewBakeBuilder returns a Builder for the commands of one command buffer.
// Events start at 1 as 0 is the virtual start of the command buffer, and
// drawcalls start at 0.
func NewBakeBuilder() *Builder {
	return newBuilder(1, 0)
}

func newBuilder(event, draw uint32) *Builder {
	root := &DrawcallTreeNode{}
	return &Builder{
		EventID:    event,
		DrawcallID: draw,
		root:       root,
		stack:      []*DrawcallTreeNode{root},
	}
}

// AddEvent adds an event with the current EventID.
func (b *Builder) AddEvent(tag chunk.Tag, desc string) {
	e := Event{EventID: b.EventID, Tag: tag, Desc: desc}
	b.events = append(b.events, e)
	b.pending = append(b.pending, e)
}

// AddDrawcall adds a drawcall with the current EventID and the next
// DrawcallID under the innermost open marker. If hasEvents is true the
// events added since the last drawcall are attached to it.
func (b *Builder) AddDrawcall(d Draw, hasEvents bool) *DrawcallTreeNode {
	d.EventID = b.EventID
	d.DrawcallID = b.DrawcallID
	b.DrawcallID++
	if hasEvents {
		d.Events = b.pending
		b.pending = nil
	}
	n := &DrawcallTreeNode{Draw: d}
	top := b.stack[len(b.stack)-1]
	top.Children = append(top.Children, n)
	return n
}

// PushMarker makes n the parent of the drawcalls that follow.
func (b *Builder) PushMarker(n *DrawcallTreeNode) {
	b.stack = append(b.stack, n)
}

// PopMarker closes the innermost marker. The root is never popped.
func (b *Builder) PopMarker() {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

// Depth returns the number of open markers.
func (b *Builder) Depth() int { return len(b.stack) - 1 }

// Rebase renumbers nodes by the given offsets and appends their events to
// the event list.
func (b *Builder) Rebase(nodes []*DrawcallTreeNode, baseEvent, baseDraw uint32) {
	Rebase(nodes, baseEvent, baseDraw, func(e Event) { b.events = append(b.events, e) })
}

// Events returns the flat event list.
func (b *Builder) Events() []Event { return b.events }

// Root returns the top level drawcalls.
func (b *Builder) Root() []*DrawcallTreeNode { return b.root.Children }

// Bake returns the timeline built so far as the contents of a command
// buffer.
func (b *Builder) Bake(barriers []resource.ImageBarrier) BakedInfo {
	return BakedInfo{
		EventCount:    b.EventID - 1,
		DrawCount:     b.DrawcallID,
		Tree:          b.Root(),
		ImageBarriers: barriers,
	}
}

// Submitted is one command buffer of a queue submission.
type Submitted struct {
	Name string
	Info BakedInfo
}

// AddSubmission adds a queue submission event with a marker holding a copy of
// the tree of every submitted command buffer, renumbered to follow on from
// the current IDs. Each command buffer is preceded by its own virtual start
// event, whose ID is returned per command buffer. On return EventID is the
// last event of the submission.
func (b *Builder) AddSubmission(desc string, cmds []Submitted) []uint32 {
	b.AddEvent(chunk.QueueSubmit, desc)
	submit := b.AddDrawcall(Draw{
		Name:  fmt.Sprintf("vkQueueSubmit(%d)", len(cmds)),
		Flags: PushMarker | CmdSubmit,
	}, true)
	b.PushMarker(submit)
	defer b.PopMarker()

	b.EventID++
	starts := make([]uint32, len(cmds))
	for i, c := range cmds {
		b.AddEvent(chunk.QueueSubmit, "cmd "+c.Name)
		n := b.AddDrawcall(Draw{Name: c.Name, Flags: PushMarker}, true)
		n.Children = CloneNodes(c.Info.Tree)
		b.Rebase(n.Children, b.EventID, b.DrawcallID)
		starts[i] = b.EventID
		b.EventID += 1 + c.Info.EventCount
		b.DrawcallID += c.Info.DrawCount
	}
	b.EventID--
	return starts
}
