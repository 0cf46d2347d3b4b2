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

package vulkan

import (
	"context"
	"fmt"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/replay/partial"
	"github.com/animaxdev/renderdoc/replay/timeline"
	"github.com/pkg/errors"
)

// replayCmd is a command of a loaded command buffer.
type replayCmd struct {
	// event is relative to the virtual start of the command buffer.
	event    uint32
	name     string
	uses     []resource.Handle
	barriers []resource.ImageBarrier
}

type bakedCmds struct {
	info timeline.BakedInfo
	cmds []replayCmd
	live *resource.Wrapped
}

type recordingCmds struct {
	b        *timeline.Builder
	barriers []resource.ImageBarrier
	cmds     []replayCmd
	live     *resource.Wrapped
}

// frameOp is a frame chunk that takes one root event.
type frameOp struct {
	tag    chunk.Tag
	submit queueSubmit
	flush  flushMappedMemory
	wait   queueWaitIdle
}

type partialCmd struct {
	cmd      *resource.Wrapped
	owned    bool
	base     uint32
	barriers []resource.ImageBarrier
	// target is the event the partial command buffer was prepared for.
	target   uint32
	prepared bool
	// external is set when the caller installed the command buffer.
	external bool
}

type replayState struct {
	frame     uint64
	baked     map[id.ID]*bakedCmds
	recording map[id.ID]*recordingCmds
	ops       []frameOp
	submits   map[id.ID][]uint32
	events    []timeline.Event
	root      []*timeline.DrawcallTreeNode
	partial   partialCmd
}

// Load creates the live objects of a capture, records its command buffers
// and builds the frame timeline. Nothing is submitted until Replay.
func (d *Driver) Load(ctx context.Context, c *chunk.Capture) error {
	if err := d.tracker.SetState(ctx, tracker.Reading); err != nil {
		return err
	}
	ctx = log.Enter(ctx, "Load")
	d.header = c.Header
	rs := &replayState{
		baked:     map[id.ID]*bakedCmds{},
		recording: map[id.ID]*recordingCmds{},
		submits:   map[id.ID][]uint32{},
	}
	d.replay = rs
	b := timeline.NewBuilder()
	for _, ch := range c.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.load(ctx, rs, b, ch); err != nil {
			return log.Errf(ctx, err, "Loading %v", ch)
		}
	}
	if n := len(rs.recording); n > 0 {
		log.W(ctx, "%d command buffers were never ended", n)
	}
	rs.events, rs.root = b.Events(), b.Root()
	log.I(ctx, "Loaded frame %d: %d events, %d frame operations", rs.frame, len(rs.events), len(rs.ops))
	return nil
}

func (rs *replayState) recordingOf(baked id.ID) (*recordingCmds, error) {
	if rc, ok := rs.recording[baked]; ok {
		return rc, nil
	}
	return nil, errors.Wrapf(chunk.ErrMalformedChunk, "%v is not being recorded", baked)
}

func (d *Driver) liveHandles(ids []id.ID) ([]resource.Handle, error) {
	out := make([]resource.Handle, len(ids))
	for i, orig := range ids {
		w, err := d.mgr.LiveHandle(orig)
		if err != nil {
			return nil, err
		}
		out[i] = w.Real
	}
	return out, nil
}

func (d *Driver) newCommandBuffer(ctx context.Context) (*resource.Wrapped, error) {
	real, err := d.dispatch.CreateResource(ctx, d.device.Real, KindCommandBuffer, 0)
	if err != nil {
		return nil, err
	}
	w, _ := d.mgr.Wrap(d.device.ID, real)
	if err := d.dispatch.BeginCommandBuffer(ctx, real); err != nil {
		return nil, err
	}
	return w, nil
}

func (d *Driver) load(ctx context.Context, rs *replayState, b *timeline.Builder, ch *chunk.Chunk) error {
	switch ch.Tag {
	case chunk.DeviceInit:
		var p deviceInit
		if err := read(ch, &p); err != nil {
			return err
		}
		inst, err := d.dispatch.CreateInstance(ctx)
		if err != nil {
			return err
		}
		dev, err := d.dispatch.CreateDevice(ctx, inst, p.QueueFamily)
		if err != nil {
			return err
		}
		d.instance, _ = d.mgr.Wrap(id.Null, inst)
		d.device, _ = d.mgr.Wrap(d.instance.ID, dev)
		d.mgr.AddLiveResource(p.Instance, d.instance)
		d.mgr.AddLiveResource(p.Device, d.device)
		d.family = p.QueueFamily

	case chunk.CreateResource:
		var p createResource
		if err := read(ch, &p); err != nil {
			return err
		}
		dev, err := d.mgr.LiveHandle(p.Device)
		if err != nil {
			return err
		}
		real, err := d.dispatch.CreateResource(ctx, dev.Real, p.Kind, p.Size)
		if err != nil {
			return err
		}
		w, _ := d.mgr.Wrap(dev.ID, real)
		d.mgr.AddLiveResource(p.ID, w)

	case chunk.GetDeviceQueue:
		var p getDeviceQueue
		if err := read(ch, &p); err != nil {
			return err
		}
		dev, err := d.mgr.LiveHandle(p.Device)
		if err != nil {
			return err
		}
		w, _ := d.mgr.Wrap(dev.ID, d.dispatch.GetDeviceQueue(ctx, dev.Real, p.Family, p.Index))
		d.mgr.AddLiveResource(p.Queue, w)

	case chunk.BeginCommandBuffer:
		var p beginCommandBuffer
		if err := read(ch, &p); err != nil {
			return err
		}
		if d.device == nil {
			return errors.Wrap(chunk.ErrMalformedChunk, "Command buffer before device")
		}
		live, err := d.newCommandBuffer(ctx)
		if err != nil {
			return err
		}
		d.mgr.AddLiveResource(p.Baked, live)
		rs.recording[p.Baked] = &recordingCmds{b: timeline.NewBakeBuilder(), live: live}

	case chunk.RecordCommand:
		var p recordCommand
		if err := read(ch, &p); err != nil {
			return err
		}
		rc, err := rs.recordingOf(p.Baked)
		if err != nil {
			return err
		}
		uses, err := d.liveHandles(p.Uses)
		if err != nil {
			return err
		}
		d.dispatch.CmdRecord(ctx, rc.live.Real, p.Name, uses)
		rc.cmds = append(rc.cmds, replayCmd{event: rc.b.EventID, name: p.Name, uses: uses})
		rc.b.AddEvent(ch.Tag, p.Name)
		if p.Draw {
			rc.b.AddDrawcall(timeline.Draw{Name: p.Name, Flags: timeline.Drawcall}, true)
		}
		rc.b.EventID++

	case chunk.PipelineBarrier:
		var p pipelineBarrier
		if err := read(ch, &p); err != nil {
			return err
		}
		rc, err := rs.recordingOf(p.Baked)
		if err != nil {
			return err
		}
		images := make([]id.ID, len(p.Barriers))
		for i, bar := range p.Barriers {
			images[i] = bar.Image
		}
		uses, err := d.liveHandles(images)
		if err != nil {
			return err
		}
		name := ch.Tag.String()
		d.dispatch.CmdRecord(ctx, rc.live.Real, name, uses)
		rc.barriers = append(rc.barriers, p.Barriers...)
		rc.cmds = append(rc.cmds, replayCmd{event: rc.b.EventID, name: name, uses: uses, barriers: p.Barriers})
		rc.b.AddEvent(ch.Tag, fmt.Sprintf("%d image barriers", len(p.Barriers)))
		rc.b.AddDrawcall(timeline.Draw{Name: name + "()", Flags: timeline.Barrier}, true)
		rc.b.EventID++

	case chunk.MarkerBegin:
		var p markerBegin
		if err := read(ch, &p); err != nil {
			return err
		}
		rc, err := rs.recordingOf(p.Baked)
		if err != nil {
			return err
		}
		d.dispatch.CmdRecord(ctx, rc.live.Real, ch.Tag.String(), nil)
		rc.cmds = append(rc.cmds, replayCmd{event: rc.b.EventID, name: ch.Tag.String()})
		rc.b.AddEvent(ch.Tag, p.Name)
		n := rc.b.AddDrawcall(timeline.Draw{Name: p.Name, Flags: timeline.PushMarker}, true)
		rc.b.PushMarker(n)
		rc.b.EventID++

	case chunk.MarkerEnd:
		var p bakedOnly
		if err := read(ch, &p); err != nil {
			return err
		}
		rc, err := rs.recordingOf(p.Baked)
		if err != nil {
			return err
		}
		d.dispatch.CmdRecord(ctx, rc.live.Real, ch.Tag.String(), nil)
		rc.cmds = append(rc.cmds, replayCmd{event: rc.b.EventID, name: ch.Tag.String()})
		rc.b.AddEvent(ch.Tag, "")
		rc.b.AddDrawcall(timeline.Draw{Name: ch.Tag.String() + "()", Flags: timeline.PopMarker}, true)
		rc.b.PopMarker()
		rc.b.EventID++

	case chunk.EndCommandBuffer:
		var p bakedOnly
		if err := read(ch, &p); err != nil {
			return err
		}
		rc, err := rs.recordingOf(p.Baked)
		if err != nil {
			return err
		}
		if err := d.dispatch.EndCommandBuffer(ctx, rc.live.Real); err != nil {
			return err
		}
		rc.b.AddEvent(ch.Tag, "")
		rc.b.AddDrawcall(timeline.Draw{Name: ch.Tag.String() + "()"}, true)
		rc.b.EventID++
		rs.baked[p.Baked] = &bakedCmds{info: rc.b.Bake(rc.barriers), cmds: rc.cmds, live: rc.live}
		delete(rs.recording, p.Baked)

	case chunk.FlushMappedMemory:
		op := frameOp{tag: ch.Tag}
		if err := read(ch, &op.flush); err != nil {
			return err
		}
		if _, err := d.mgr.LiveHandle(op.flush.Memory); err != nil {
			return err
		}
		b.AddEvent(ch.Tag, fmt.Sprintf("%v [%d, +%d)", op.flush.Memory, op.flush.Offset, len(op.flush.Data)))
		rs.ops = append(rs.ops, op)
		b.EventID++

	case chunk.QueueSubmit:
		op := frameOp{tag: ch.Tag}
		if err := read(ch, &op.submit); err != nil {
			return err
		}
		subs := make([]timeline.Submitted, len(op.submit.Cmds))
		for i, c := range op.submit.Cmds {
			bc, ok := rs.baked[c]
			if !ok {
				return errors.Wrapf(tracker.ErrMissingBakedCommands, "%v", c)
			}
			subs[i] = timeline.Submitted{Name: c.String(), Info: bc.info}
		}
		starts := b.AddSubmission(fmt.Sprintf("%v", op.submit.Queue), subs)
		for i, c := range op.submit.Cmds {
			rs.submits[c] = append(rs.submits[c], starts[i])
		}
		rs.ops = append(rs.ops, op)
		b.EventID++

	case chunk.QueueWaitIdle:
		op := frameOp{tag: ch.Tag}
		if err := read(ch, &op.wait); err != nil {
			return err
		}
		b.AddEvent(ch.Tag, op.wait.Queue.String())
		rs.ops = append(rs.ops, op)
		b.EventID++

	case chunk.CaptureBegin:
		var p frameMarker
		if err := read(ch, &p); err != nil {
			return err
		}
		rs.frame = p.Frame

	case chunk.CaptureEnd:
		var p frameMarker
		if err := read(ch, &p); err != nil {
			return err
		}
		b.AddEvent(ch.Tag, "")
		b.AddDrawcall(timeline.Draw{Name: "vkQueuePresentKHR()", Flags: timeline.Present}, true)
		rs.ops = append(rs.ops, frameOp{tag: ch.Tag})
		b.EventID++

	default:
		return errors.Wrapf(chunk.ErrMalformedChunk, "Unexpected %v chunk", ch.Tag)
	}
	return nil
}

func (d *Driver) loaded() (*replayState, error) {
	if d.replay == nil {
		return nil, errors.New("No capture loaded")
	}
	return d.replay, nil
}

// Events returns the flat event list of the loaded frame.
func (d *Driver) Events() []timeline.Event {
	if d.replay == nil {
		return nil
	}
	return d.replay.events
}

// Root returns the top level drawcalls of the loaded frame.
func (d *Driver) Root() []*timeline.DrawcallTreeNode {
	if d.replay == nil {
		return nil
	}
	return d.replay.root
}

// CommandBufferSubmits returns the virtual start event of every submission of
// the baked command buffer.
func (d *Driver) CommandBufferSubmits(baked id.ID) []uint32 {
	if d.replay == nil {
		return nil
	}
	return d.replay.submits[baked]
}

// BakedInfo returns the timeline of a loaded command buffer.
func (d *Driver) BakedInfo(baked id.ID) (timeline.BakedInfo, bool) {
	if d.replay == nil {
		return timeline.BakedInfo{}, false
	}
	bc, ok := d.replay.baked[baked]
	if !ok {
		return timeline.BakedInfo{}, false
	}
	return bc.info, true
}

// SetPartialCommandBuffer installs cmd to be submitted in place of the
// command buffer whose submission starts at event base. barriers are the
// layout transitions of cmd.
func (d *Driver) SetPartialCommandBuffer(cmd *resource.Wrapped, base uint32, barriers []resource.ImageBarrier) error {
	rs, err := d.loaded()
	if err != nil {
		return err
	}
	d.setPartial(rs, partialCmd{cmd: cmd, base: base, barriers: barriers, external: true})
	return nil
}

func (d *Driver) setPartial(rs *replayState, p partialCmd) {
	if old := rs.partial; old.owned && old.cmd != nil && old.cmd != p.cmd {
		d.mgr.Release(old.cmd)
	}
	rs.partial = p
}

// PreparePartial records the partial command buffer for a replay up to last.
// It holds the commands of the submitted command buffer strictly containing
// last, up to and including last. If last is a virtual start event, the final
// event of a command buffer or outside every command buffer, no partial
// command buffer is used.
func (d *Driver) PreparePartial(ctx context.Context, last uint32) error {
	rs, err := d.loaded()
	if err != nil {
		return err
	}
	return d.preparePartial(ctx, rs, last)
}

func (d *Driver) preparePartial(ctx context.Context, rs *replayState, last uint32) error {
	var found id.ID
	base := uint32(0)
	for baked, starts := range rs.submits {
		count := rs.baked[baked].info.EventCount
		for _, s := range starts {
			if s < last && last < s+count && s > base {
				found, base = baked, s
			}
		}
	}
	if base == 0 {
		d.setPartial(rs, partialCmd{target: last, prepared: true})
		return nil
	}

	cmd, err := d.newCommandBuffer(ctx)
	if err != nil {
		return err
	}
	var barriers []resource.ImageBarrier
	n := 0
	for _, c := range rs.baked[found].cmds {
		if base+c.event > last {
			break
		}
		d.dispatch.CmdRecord(ctx, cmd.Real, c.name, c.uses)
		barriers = append(barriers, c.barriers...)
		n++
	}
	if err := d.dispatch.EndCommandBuffer(ctx, cmd.Real); err != nil {
		return err
	}
	log.D(ctx, "Partial command buffer for %v at %d: %d commands", found, base, n)
	d.setPartial(rs, partialCmd{cmd: cmd, owned: true, base: base, barriers: barriers, target: last, prepared: true})
	return nil
}

// Replay executes the loaded frame up to and including event last. Use
// partial.NoTarget to replay the whole frame. A partial command buffer
// prepared for another target is prepared again for last, unless it was
// installed with SetPartialCommandBuffer.
func (d *Driver) Replay(ctx context.Context, last uint32) (err error) {
	rs, err := d.loaded()
	if err != nil {
		return err
	}
	if p := rs.partial; !p.external && (!p.prepared || p.target != last) {
		if err := d.preparePartial(ctx, rs, last); err != nil {
			return err
		}
	}
	if err := d.tracker.SetState(ctx, tracker.Executing); err != nil {
		return err
	}
	defer func() {
		if serr := d.tracker.SetState(ctx, tracker.Reading); err == nil {
			err = serr
		}
	}()
	ctx = log.Enter(ctx, "Replay")
	c := partial.New(rs.partial.base, last)
	c.Verbose = d.cfg.Replay.LogPartialDecisions
	for i := range rs.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.Cursor.Reached() {
			break
		}
		if err := d.execute(ctx, rs, c, &rs.ops[i]); err != nil {
			return err
		}
		c.Cursor.Next()
	}
	return nil
}

func (d *Driver) execute(ctx context.Context, rs *replayState, c *partial.Controller, op *frameOp) error {
	switch op.tag {
	case chunk.QueueSubmit:
		return d.replaySubmit(ctx, rs, c, &op.submit)
	case chunk.QueueWaitIdle:
		q, err := d.mgr.LiveHandle(op.wait.Queue)
		if err != nil {
			return err
		}
		return d.dispatch.QueueWaitIdle(ctx, q.Real)
	case chunk.FlushMappedMemory:
		m, err := d.mgr.LiveHandle(op.flush.Memory)
		if err != nil {
			return err
		}
		return d.dispatch.WriteMemory(ctx, m.Real, op.flush.Offset, op.flush.Data)
	}
	return nil
}

func (d *Driver) replaySubmit(ctx context.Context, rs *replayState, c *partial.Controller, p *queueSubmit) error {
	cmds := make([]partial.Cmd, len(p.Cmds))
	for i, cmd := range p.Cmds {
		info := rs.baked[cmd].info
		cmds[i] = partial.Cmd{ID: cmd, EventCount: info.EventCount, DrawCount: info.DrawCount}
	}
	plan, err := c.Plan(ctx, cmds)
	if err != nil {
		return err
	}
	partialDecisions.WithLabelValues(plan.Kind.String()).Inc()
	if plan.Kind == partial.Skip {
		return nil
	}

	q, err := d.mgr.LiveHandle(p.Queue)
	if err != nil {
		return err
	}
	if p.WaitSemaphores > 0 {
		// The semaphores are not recreated, wait for everything instead.
		if err := d.dispatch.QueueWaitIdle(ctx, q.Real); err != nil {
			return err
		}
	}
	handles := make([]resource.Handle, 0, len(plan.Submitted))
	for _, e := range plan.Submitted {
		if e.Partial {
			if rs.partial.cmd == nil {
				return errors.Errorf("No partial command buffer for %v", e.Cmd)
			}
			handles = append(handles, rs.partial.cmd.Real)
			d.layouts.Apply(rs.partial.barriers)
			continue
		}
		bc := rs.baked[e.Cmd]
		handles = append(handles, bc.live.Real)
		d.layouts.Apply(bc.info.ImageBarriers)
	}
	fence := resource.NullHandle
	if plan.Kind == partial.Full && p.Fence != id.Null {
		f, err := d.mgr.LiveHandle(p.Fence)
		if err != nil {
			return err
		}
		fence = f.Real
	}
	return d.dispatch.QueueSubmit(ctx, q.Real, []SubmitInfo{{CommandBuffers: handles}}, fence)
}
