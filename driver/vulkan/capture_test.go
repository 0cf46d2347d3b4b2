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

package vulkan_test

import (
	"strings"
	"testing"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/assert"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/driver/vulkan"
	"github.com/animaxdev/renderdoc/replay/partial"
	"golang.org/x/sync/errgroup"
)

func TestDescriptorSetReferences(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	images := []*resource.Wrapped{
		s.create(vulkan.KindImage, 0),
		s.create(vulkan.KindImage, 0),
		s.create(vulkan.KindImage, 0),
	}
	unrelated := s.create(vulkan.KindImage, 0)
	sparse := s.create(vulkan.KindSparseImage, 0)
	page := s.create(vulkan.KindMemory, 64)
	set := s.create(vulkan.KindDescriptorSet, 0)
	for _, img := range images {
		assert.For(ctx, "bind").ThatError(s.d.BindDescriptor(set, img, resource.Read)).Succeeded()
	}
	assert.For(ctx, "bind sparse").ThatError(s.d.BindDescriptor(set, sparse, resource.Read)).Succeeded()
	assert.For(ctx, "bind page").ThatError(s.d.BindSparseMemory(sparse, 0, page)).Succeeded()
	assert.For(ctx, "bind image as set").ThatError(s.d.BindDescriptor(images[0], images[1], resource.Read)).Failed()

	cmd := s.create(vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "Begin").ThatError(s.d.BeginCommandBuffer(ctx, cmd)).Succeeded()
	assert.For(ctx, "BindDescriptorSet").ThatError(s.d.BindDescriptorSet(ctx, cmd, set)).Succeeded()
	assert.For(ctx, "draw").ThatError(s.d.RecordCommand(ctx, cmd, draw())).Succeeded()
	assert.For(ctx, "End").ThatError(s.d.EndCommandBuffer(ctx, cmd)).Succeeded()

	s.begin()
	s.submit(cmd)
	tr := s.d.Tracker()
	for _, img := range images {
		assert.For(ctx, "image %v", img.ID).That(tr.RefType(img.ID)).Equals(resource.Read)
	}
	assert.For(ctx, "set").That(tr.RefType(set.ID)).Equals(resource.Read)
	assert.For(ctx, "sparse page").That(tr.RefType(page.ID)).Equals(resource.Read)
	assert.For(ctx, "command buffer").That(tr.RefType(cmd.ID)).Equals(resource.Read)
	assert.For(ctx, "queue").That(tr.RefType(s.queue.ID)).Equals(resource.Read)
	assert.For(ctx, "unrelated").That(tr.RefType(unrelated.ID)).Equals(resource.None)
	c := s.end()

	// The bound images, the sparse image and its page, the set and the
	// command buffer.
	assert.For(ctx, "CreateResource chunks").ThatInteger(count(c, chunk.CreateResource)).Equals(7)
	assert.For(ctx, "DeviceInit chunks").ThatInteger(count(c, chunk.DeviceInit)).Equals(1)
	assert.For(ctx, "GetDeviceQueue chunks").ThatInteger(count(c, chunk.GetDeviceQueue)).Equals(1)
	assert.For(ctx, "QueueSubmit chunks").ThatInteger(count(c, chunk.QueueSubmit)).Equals(1)
	for _, ch := range c.Chunks {
		if ch.Tag == chunk.CreateResource {
			assert.For(ctx, "unrelated chunk").That(strings.Contains(ch.Debug, "id: "+unrelated.ID.String()+"\n")).Equals(false)
		}
	}
	for i := 1; i < len(c.Chunks); i++ {
		if c.Chunks[i].Tag == chunk.CaptureBegin {
			break
		}
		assert.For(ctx, "record order").That(c.Chunks[i-1].Seq < c.Chunks[i].Seq).Equals(true)
	}
}

func TestSubmitDirtiesOutsideFrame(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	buf := s.create(vulkan.KindBuffer, 16)
	other := s.create(vulkan.KindBuffer, 16)
	cmd := s.record(draw(vulkan.Use{Resource: buf, Ref: resource.Write}))
	tr := s.d.Tracker()

	s.submit(cmd)
	assert.For(ctx, "dirty").That(tr.IsDirty(buf.ID)).Equals(true)
	assert.For(ctx, "clean").That(tr.IsDirty(other.ID)).Equals(false)

	s.rerecord(cmd, draw(vulkan.Use{Resource: other, Ref: resource.ReadBeforeWrite}))
	s.begin()
	s.submit(cmd)
	assert.For(ctx, "pending").That(tr.IsPendingDirty(other.ID)).Equals(true)
	assert.For(ctx, "not dirty yet").That(tr.IsDirty(other.ID)).Equals(false)
	assert.For(ctx, "ref").That(tr.RefType(other.ID)).Equals(resource.ReadBeforeWrite)
	c := s.end()
	assert.For(ctx, "dirty after frame").That(tr.IsDirty(other.ID)).Equals(true)
	assert.For(ctx, "submits").ThatInteger(count(c, chunk.QueueSubmit)).Equals(1)
	assert.For(ctx, "state").That(s.d.State()).Equals(tracker.Writing)
	assert.For(ctx, "dispatched").ThatInteger(len(s.f.submits)).Equals(2)
}

func TestCoherentMaps(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	mem := s.create(vulkan.KindMemory, 32)
	data, err := s.d.MapMemory(ctx, mem, 0, vulkan.WholeSize, true)
	assert.For(ctx, "map").ThatError(err).Succeeded()
	assert.For(ctx, "mapped").ThatInteger(len(data)).Equals(32)
	unrelated := s.record(draw())
	user := s.record(draw(vulkan.Use{Resource: mem, Ref: resource.Read}))

	s.begin()
	data[3] = 7
	s.submit(unrelated)
	assert.For(ctx, "unreferenced flush").ThatSlice(s.f.flushes).IsEmpty()

	s.submit(user)
	assert.For(ctx, "first flush").ThatSlice(s.f.flushes).IsLength(1)
	assert.For(ctx, "whole map").That(s.f.flushes[0].Size).Equals(uint64(32))
	assert.For(ctx, "pending dirty").That(s.d.Tracker().IsPendingDirty(mem.ID)).Equals(true)

	s.submit(user)
	assert.For(ctx, "unchanged").ThatSlice(s.f.flushes).IsLength(1)

	data[10], data[12] = 1, 2
	s.submit(user)
	assert.For(ctx, "changed").ThatSlice(s.f.flushes).IsLength(2)
	assert.For(ctx, "diff offset").That(s.f.flushes[1].Offset).Equals(uint64(10))
	assert.For(ctx, "diff size").That(s.f.flushes[1].Size).Equals(uint64(3))

	data[0] = 9
	assert.For(ctx, "unmap").ThatError(s.d.UnmapMemory(ctx, mem)).Succeeded()
	c := s.end()
	assert.For(ctx, "flush chunks").ThatInteger(count(c, chunk.FlushMappedMemory)).Equals(3)
	assert.For(ctx, "unmap again").ThatError(s.d.UnmapMemory(ctx, mem)).Failed()
}

func TestNonCoherentFlush(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	mem := s.create(vulkan.KindMemory, 8)
	_, err := s.d.MapMemory(ctx, mem, 0, vulkan.WholeSize, false)
	assert.For(ctx, "map").ThatError(err).Succeeded()
	user := s.record(draw(vulkan.Use{Resource: mem, Ref: resource.Read}))

	s.begin()
	s.submit(user)
	assert.For(ctx, "non-coherent not diffed").ThatSlice(s.f.flushes).IsEmpty()
	err = s.d.FlushMappedMemoryRanges(ctx, []vulkan.Range{{Memory: mem, Offset: 2, Size: 4}})
	assert.For(ctx, "flush").ThatError(err).Succeeded()
	c := s.end()
	assert.For(ctx, "flush chunks").ThatInteger(count(c, chunk.FlushMappedMemory)).Equals(1)

	err = s.d.FlushMappedMemoryRanges(ctx, []vulkan.Range{{Memory: mem, Offset: 0, Size: vulkan.WholeSize}})
	assert.For(ctx, "flush outside").ThatError(err).Succeeded()
	assert.For(ctx, "dirty").That(s.d.Tracker().IsDirty(mem.ID)).Equals(true)
}

func TestCoherentFlushDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.FlushCoherentMaps = false
	s := newSessionWith(t, cfg)
	ctx := s.ctx
	mem := s.create(vulkan.KindMemory, 8)
	data, err := s.d.MapMemory(ctx, mem, 0, vulkan.WholeSize, true)
	assert.For(ctx, "map").ThatError(err).Succeeded()
	user := s.record(draw(vulkan.Use{Resource: mem, Ref: resource.Read}))
	s.begin()
	data[1] = 1
	s.submit(user)
	c := s.end()
	assert.For(ctx, "flushes").ThatSlice(s.f.flushes).IsEmpty()
	assert.For(ctx, "flush chunks").ThatInteger(count(c, chunk.FlushMappedMemory)).Equals(0)
	assert.For(ctx, "no debug").ThatString(c.Chunks[0].Debug).Equals("")
}

func TestDriverErrorsPropagate(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	cmd := s.record(draw())
	s.f.submitErr = vulkan.ErrorDeviceLost
	err := s.d.QueueSubmit(ctx, s.queue, []vulkan.Submit{{CommandBuffers: []*resource.Wrapped{cmd}}}, nil)
	assert.For(ctx, "err").ThatError(err).Equals(vulkan.ErrorDeviceLost)
	assert.For(ctx, "name").ThatString(err.Error()).Equals("VK_ERROR_DEVICE_LOST")
}

func TestMissingBakeAbortsFrame(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	cmd := s.create(vulkan.KindCommandBuffer, 0)
	s.begin()
	err := s.d.QueueSubmit(quiet(ctx), s.queue, []vulkan.Submit{{CommandBuffers: []*resource.Wrapped{cmd}}}, nil)
	assert.For(ctx, "err").ThatError(err).HasCause(tracker.ErrMissingBakedCommands)
	assert.For(ctx, "state").That(s.d.State()).Equals(tracker.Idle)
	_, err = s.d.EndFrameCapture(ctx)
	assert.For(ctx, "end").ThatError(err).HasCause(tracker.ErrInvalidTransition)
}

func TestGetDeviceQueue(t *testing.T) {
	ctx := log.Testing(t)
	f := &fakeDispatch{}
	d := vulkan.New(f, config.Default())
	assert.For(ctx, "Initialise").ThatError(d.Initialise(ctx, 1)).Succeeded()
	internal, err := d.CreateResource(ctx, vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "create").ThatError(err).Succeeded()
	assert.For(ctx, "SubmitInternal").ThatError(d.SubmitInternal(ctx, internal)).Succeeded()
	assert.For(ctx, "held").ThatSlice(f.submits).IsEmpty()

	q0, err := d.GetDeviceQueue(ctx, 0, 0)
	assert.For(ctx, "other family").ThatError(err).Succeeded()
	assert.For(ctx, "still held").ThatSlice(f.submits).IsEmpty()

	q1, err := d.GetDeviceQueue(ctx, 1, 0)
	assert.For(ctx, "family").ThatError(err).Succeeded()
	assert.For(ctx, "flushed").ThatSlice(f.submits).IsLength(1)
	assert.For(ctx, "queue").That(f.submits[0].queue).Equals(q1.Real)
	assert.For(ctx, "cmd").That(f.submits[0].cmds[0]).Equals(internal.Real)

	again, err := d.GetDeviceQueue(ctx, 1, 0)
	assert.For(ctx, "again").ThatError(err).Succeeded()
	assert.For(ctx, "same wrapper").That(again == q1).Equals(true)
	assert.For(ctx, "different queue").That(q0 == q1).Equals(false)
	assert.For(ctx, "no resubmit").ThatSlice(f.submits).IsLength(1)

	assert.For(ctx, "SubmitInternal").ThatError(d.SubmitInternal(ctx, internal)).Succeeded()
	assert.For(ctx, "direct").ThatSlice(f.submits).IsLength(2)
}

func TestLayouts(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	img := s.create(vulkan.KindImage, 0)
	cmd := s.create(vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "Begin").ThatError(s.d.BeginCommandBuffer(ctx, cmd)).Succeeded()
	err := s.d.PipelineBarrier(ctx, cmd, []resource.ImageBarrier{{Image: img.ID, Subresource: 1, OldLayout: 0, NewLayout: 5}})
	assert.For(ctx, "barrier").ThatError(err).Succeeded()
	assert.For(ctx, "End").ThatError(s.d.EndCommandBuffer(ctx, cmd)).Succeeded()

	_, ok := s.d.Layouts().Layout(img.ID, 1)
	assert.For(ctx, "not yet").That(ok).Equals(false)
	s.submit(cmd)
	layout, ok := s.d.Layouts().Layout(img.ID, 1)
	assert.For(ctx, "known").That(ok).Equals(true)
	assert.For(ctx, "layout").That(layout).Equals(uint32(5))
}

func TestConcurrentSubmits(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	const workers, perWorker = 4, 10
	cmds := make([]*resource.Wrapped, workers)
	bufs := make([]*resource.Wrapped, workers)
	for i := range cmds {
		bufs[i] = s.create(vulkan.KindBuffer, 16)
		cmds[i] = s.record(draw(vulkan.Use{Resource: bufs[i], Ref: resource.Write}))
	}

	s.begin()
	var g errgroup.Group
	for i := range cmds {
		cmd := cmds[i]
		g.Go(func() error {
			for j := 0; j < perWorker; j++ {
				err := s.d.QueueSubmit(ctx, s.queue, []vulkan.Submit{{CommandBuffers: []*resource.Wrapped{cmd}}}, nil)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	assert.For(ctx, "submits").ThatError(g.Wait()).Succeeded()
	c := s.end()
	assert.For(ctx, "chunks").ThatInteger(count(c, chunk.QueueSubmit)).Equals(workers * perWorker)
	for _, b := range bufs {
		assert.For(ctx, "dirty %v", b.ID).That(s.d.Tracker().IsDirty(b.ID)).Equals(true)
	}
}

func TestFrameStateErrors(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	_, err := s.d.EndFrameCapture(ctx)
	assert.For(ctx, "end without begin").ThatError(err).HasCause(tracker.ErrInvalidTransition)
	s.begin()
	assert.For(ctx, "begin twice").ThatError(s.d.BeginFrameCapture(ctx)).HasCause(tracker.ErrInvalidTransition)
	s.end()
	assert.For(ctx, "initialise twice").ThatError(s.d.Initialise(ctx, 0)).Failed()
	cmd := s.create(vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "record without begin").ThatError(s.d.RecordCommand(ctx, cmd, draw())).Failed()
	primary := s.create(vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "Begin").ThatError(s.d.BeginCommandBuffer(ctx, primary)).Succeeded()
	assert.For(ctx, "execute unrecorded").ThatError(
		s.d.ExecuteCommands(ctx, primary, []*resource.Wrapped{cmd})).HasCause(tracker.ErrMissingBakedCommands)
	secondary := s.record(draw())
	assert.For(ctx, "execute").ThatError(
		s.d.ExecuteCommands(ctx, primary, []*resource.Wrapped{secondary})).Succeeded()
	assert.For(ctx, "End").ThatError(s.d.EndCommandBuffer(ctx, primary)).Succeeded()
	assert.For(ctx, "sub commands").ThatSlice(primary.Record.Baked.CmdInfo.SubCmds).IsLength(1)
}

// A secondary executed by a submitted primary is part of the frame, and on
// replay the primary executes the live secondary.
func TestSecondaryInFrame(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	buf := s.create(vulkan.KindBuffer, 16)
	secondary := s.record(draw(vulkan.Use{Resource: buf, Ref: resource.Write}))
	primary := s.create(vulkan.KindCommandBuffer, 0)
	assert.For(ctx, "Begin").ThatError(s.d.BeginCommandBuffer(ctx, primary)).Succeeded()
	assert.For(ctx, "execute").ThatError(
		s.d.ExecuteCommands(ctx, primary, []*resource.Wrapped{secondary})).Succeeded()
	assert.For(ctx, "End").ThatError(s.d.EndCommandBuffer(ctx, primary)).Succeeded()
	sub := secondary.Record.Baked

	s.begin()
	s.submit(primary)
	tr := s.d.Tracker()
	assert.For(ctx, "pending").That(tr.IsPendingDirty(buf.ID)).Equals(true)
	assert.For(ctx, "not dirty yet").That(tr.IsDirty(buf.ID)).Equals(false)
	assert.For(ctx, "referenced").That(tr.RefType(buf.ID)).Equals(resource.Write)
	retained := false
	for _, r := range tr.CmdBufferRecords() {
		if r == sub {
			retained = true
		}
	}
	assert.For(ctx, "secondary retained").That(retained).Equals(true)
	c := s.end()
	assert.For(ctx, "dirty after frame").That(tr.IsDirty(buf.ID)).Equals(true)

	rf, rd := s.replayer(s.roundTrip())
	livePrimary := s.live(rd, primary.Record.Baked.ID)
	liveSecondary := s.live(rd, sub.ID)
	assert.For(ctx, "secondary recorded").That(rf.records[liveSecondary]).DeepEquals([]string{"vkCmdDraw"})
	assert.For(ctx, "primary recorded").That(rf.records[livePrimary]).DeepEquals([]string{"vkCmdExecuteCommands"})
	assert.For(ctx, "executes live secondary").That(rf.uses[livePrimary][0]).DeepEquals([]resource.Handle{liveSecondary})
	assert.For(ctx, "bake chunks").ThatInteger(count(c, chunk.BeginCommandBuffer)).Equals(2)

	assert.For(ctx, "replay").ThatError(rd.Replay(ctx, partial.NoTarget)).Succeeded()
	assert.For(ctx, "submits").ThatSlice(rf.submits).IsLength(1)
	assert.For(ctx, "primary submitted").That(rf.submits[0].cmds).DeepEquals([]resource.Handle{livePrimary})
}

func TestNoChunksWhileReplaying(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	s.begin()
	s.submit(s.record(draw()))
	s.end()
	_, rd := s.replayer(s.roundTrip())
	_, err := rd.CreateResource(ctx, vulkan.KindBuffer, 16)
	assert.For(ctx, "create while reading").ThatError(err).HasCause(tracker.ErrInvalidTransition)
	assert.For(ctx, "still reading").That(rd.State()).Equals(tracker.Reading)
}
