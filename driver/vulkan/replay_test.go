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
	"bytes"
	"strings"
	"testing"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/assert"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/driver/vulkan"
	"github.com/animaxdev/renderdoc/replay/partial"
	"github.com/animaxdev/renderdoc/replay/timeline"
	"github.com/prometheus/client_golang/prometheus"
)

// frame captures a frame with a coherent memory write followed by one
// submission of two command buffers. The replayed events are:
//
//	1     flush of mem
//	2     vkQueueSubmit
//	3     start of a, 4-5 draws, 6 end
//	7     start of b, 8 draw, 9 end
//	10    present
type frame struct {
	*session
	a, b, mem, fence *resource.Wrapped
	capture          *chunk.Capture
}

func captureFrame(t *testing.T) *frame {
	s := newSession(t)
	ctx := s.ctx
	f := &frame{session: s}
	f.mem = s.create(vulkan.KindMemory, 16)
	f.fence = s.create(vulkan.KindFence, 0)
	data, err := s.d.MapMemory(ctx, f.mem, 0, vulkan.WholeSize, true)
	assert.For(ctx, "map").ThatError(err).Succeeded()
	f.a = s.record(draw(vulkan.Use{Resource: f.mem, Ref: resource.Read}), draw())
	f.b = s.record(draw())

	s.begin()
	data[0] = 5
	err = s.d.QueueSubmit(ctx, s.queue, []vulkan.Submit{{CommandBuffers: []*resource.Wrapped{f.a, f.b}}}, f.fence)
	assert.For(ctx, "submit").ThatError(err).Succeeded()
	s.end()
	f.capture = s.roundTrip()
	return f
}

// roundTrip writes the captured frame and reads it back.
func (s *session) roundTrip() *chunk.Capture {
	buf := &bytes.Buffer{}
	assert.For(s.ctx, "write").ThatError(s.d.WriteCapture(buf)).Succeeded()
	c, err := chunk.ReadStream(s.ctx, buf)
	assert.For(s.ctx, "read").ThatError(err).Succeeded()
	return c
}

// replayer loads c into a new driver.
func (s *session) replayer(c *chunk.Capture) (*fakeDispatch, *vulkan.Driver) {
	rf := &fakeDispatch{}
	rd := vulkan.New(rf, config.Default())
	assert.For(s.ctx, "load").ThatError(rd.Load(s.ctx, c)).Succeeded()
	assert.For(s.ctx, "state").That(rd.State()).Equals(tracker.Reading)
	return rf, rd
}

func (f *frame) load() (*fakeDispatch, *vulkan.Driver) {
	return f.replayer(f.capture)
}

func live(f *frame, rd *vulkan.Driver, orig id.ID) resource.Handle {
	return f.live(rd, orig)
}

func (s *session) live(rd *vulkan.Driver, orig id.ID) resource.Handle {
	w, err := rd.Resources().LiveHandle(orig)
	assert.For(s.ctx, "live %v", orig).ThatError(err).Succeeded()
	if w == nil {
		return resource.NullHandle
	}
	return w.Real
}

func TestLoadTimeline(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx
	_, rd := f.load()

	events := rd.Events()
	assert.For(ctx, "events").ThatSlice(events).IsLength(10)
	for i, e := range events {
		assert.For(ctx, "event %d", i).That(e.EventID).Equals(uint32(i + 1))
	}
	assert.For(ctx, "first").That(events[0].Tag).Equals(chunk.FlushMappedMemory)
	assert.For(ctx, "submit").That(events[1].Tag).Equals(chunk.QueueSubmit)
	assert.For(ctx, "last").That(events[9].Tag).Equals(chunk.CaptureEnd)

	root := rd.Root()
	assert.For(ctx, "root").ThatSlice(root).IsLength(2)
	submit := root[0]
	assert.For(ctx, "submit event").That(submit.Draw.EventID).Equals(uint32(2))
	assert.For(ctx, "submit flags").That(submit.Draw.Flags&timeline.CmdSubmit != 0).Equals(true)
	assert.For(ctx, "submit events").ThatSlice(submit.Draw.Events).IsLength(2)
	assert.For(ctx, "cmds").ThatSlice(submit.Children).IsLength(2)
	a := submit.Children[0]
	assert.For(ctx, "a start").That(a.Draw.EventID).Equals(uint32(3))
	assert.For(ctx, "a draws").ThatSlice(a.Children).IsLength(3)
	for i, n := range a.Children {
		assert.For(ctx, "a draw %d", i).That(n.Draw.EventID).Equals(uint32(4 + i))
	}
	assert.For(ctx, "b start").That(submit.Children[1].Draw.EventID).Equals(uint32(7))
	assert.For(ctx, "present event").That(root[1].Draw.EventID).Equals(uint32(10))
	assert.For(ctx, "present draw").That(root[1].Draw.DrawcallID).Equals(uint32(9))

	bakedA, bakedB := f.a.Record.Baked.ID, f.b.Record.Baked.ID
	assert.For(ctx, "a submits").That(rd.CommandBufferSubmits(bakedA)).DeepEquals([]uint32{3})
	assert.For(ctx, "b submits").That(rd.CommandBufferSubmits(bakedB)).DeepEquals([]uint32{7})
	info, ok := rd.BakedInfo(bakedA)
	assert.For(ctx, "a baked").That(ok).Equals(true)
	assert.For(ctx, "a events").That(info.EventCount).Equals(uint32(3))
	assert.For(ctx, "a draw count").That(info.DrawCount).Equals(uint32(3))
}

func TestReplay(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx
	rf, rd := f.load()
	bakedA, bakedB := f.a.Record.Baked.ID, f.b.Record.Baked.ID
	liveA, liveB := live(f, rd, bakedA), live(f, rd, bakedB)
	assert.For(ctx, "a recorded").That(rf.records[liveA]).DeepEquals([]string{"vkCmdDraw", "vkCmdDraw"})
	assert.For(ctx, "nothing submitted").ThatSlice(rf.submits).IsEmpty()

	for _, test := range []struct {
		name    string
		last    uint32
		cmds    []resource.Handle
		partial bool
		fence   bool
	}{
		{"whole frame", partial.NoTarget, []resource.Handle{liveA, liveB}, false, true},
		{"first draw of a", 4, nil, true, false},
		{"end of a", 6, []resource.Handle{liveA}, false, false},
		{"start of b", 7, []resource.Handle{liveA}, false, false},
		{"draw of b", 8, []resource.Handle{liveA}, true, false},
		{"submit only", 2, nil, false, false},
	} {
		rf.reset()
		assert.For(ctx, "%s prepare", test.name).ThatError(rd.PreparePartial(ctx, test.last)).Succeeded()
		assert.For(ctx, "%s replay", test.name).ThatError(rd.Replay(ctx, test.last)).Succeeded()
		assert.For(ctx, "%s state", test.name).That(rd.State()).Equals(tracker.Reading)
		mem := rf.Memory(live(f, rd, f.mem.ID))
		assert.For(ctx, "%s memory", test.name).That(mem[0]).Equals(byte(5))

		if test.last == 2 {
			assert.For(ctx, "%s submits", test.name).ThatSlice(rf.submits).IsEmpty()
			continue
		}
		assert.For(ctx, "%s submits", test.name).ThatSlice(rf.submits).IsLength(1)
		got := rf.submits[0]
		if test.fence {
			assert.For(ctx, "%s fence", test.name).That(got.fence).Equals(live(f, rd, f.fence.ID))
		} else {
			assert.For(ctx, "%s fence", test.name).That(got.fence).Equals(resource.NullHandle)
		}
		if !test.partial {
			assert.For(ctx, "%s cmds", test.name).That(got.cmds).DeepEquals(test.cmds)
			continue
		}
		// The partial command buffer is always last.
		assert.For(ctx, "%s cmds", test.name).ThatSlice(got.cmds).IsLength(len(test.cmds) + 1)
		for i, c := range test.cmds {
			assert.For(ctx, "%s cmd %d", test.name, i).That(got.cmds[i]).Equals(c)
		}
		p := got.cmds[len(got.cmds)-1]
		assert.For(ctx, "%s partial", test.name).That(p != liveA && p != liveB).Equals(true)
	}
}

func TestPartialContents(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx
	rf, rd := f.load()
	liveA := live(f, rd, f.a.Record.Baked.ID)
	assert.For(ctx, "prepare").ThatError(rd.PreparePartial(ctx, 4)).Succeeded()
	assert.For(ctx, "replay").ThatError(rd.Replay(ctx, 4)).Succeeded()
	p := rf.submits[0].cmds[0]
	assert.For(ctx, "trimmed").That(rf.records[p]).DeepEquals([]string{"vkCmdDraw"})

	rf.reset()
	assert.For(ctx, "prepare b start").ThatError(rd.PreparePartial(ctx, 7)).Succeeded()
	assert.For(ctx, "replay b start").ThatError(rd.Replay(ctx, 7)).Succeeded()
	assert.For(ctx, "b omitted").That(rf.submits[0].cmds).DeepEquals([]resource.Handle{liveA})

	rf.reset()
	assert.For(ctx, "prepare b").ThatError(rd.PreparePartial(ctx, 8)).Succeeded()
	assert.For(ctx, "replay b").ThatError(rd.Replay(ctx, 8)).Succeeded()
	assert.For(ctx, "b cmds").ThatSlice(rf.submits[0].cmds).IsLength(2)
	p = rf.submits[0].cmds[1]
	assert.For(ctx, "b trimmed").That(rf.records[p]).DeepEquals([]string{"vkCmdDraw"})
}

// One submission of a five event and a three event command buffer:
//
//	1     vkQueueSubmit
//	2     start of a, 3-6 draws, 7 end
//	8     start of b, 9-10 draws, 11 end
//	12    present
func TestPartialBoundaries(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	a := s.record(draw(), draw(), draw(), draw())
	b := s.record(draw(), draw())
	s.begin()
	s.submit(a, b)
	s.end()
	rf, rd := s.replayer(s.roundTrip())
	liveA, liveB := s.live(rd, a.Record.Baked.ID), s.live(rd, b.Record.Baked.ID)
	assert.For(ctx, "a submits").That(rd.CommandBufferSubmits(a.Record.Baked.ID)).DeepEquals([]uint32{2})
	assert.For(ctx, "b submits").That(rd.CommandBufferSubmits(b.Record.Baked.ID)).DeepEquals([]uint32{8})

	for _, test := range []struct {
		name  string
		last  uint32
		cmds  []resource.Handle
		draws int
	}{
		{"end of a", 7, []resource.Handle{liveA}, -1},
		{"start of b", 8, []resource.Handle{liveA}, -1},
		{"first draw of b", 9, []resource.Handle{liveA}, 1},
		{"third draw of a", 5, []resource.Handle{}, 3},
		{"end of b", 11, []resource.Handle{liveA, liveB}, -1},
	} {
		rf.reset()
		assert.For(ctx, "%s prepare", test.name).ThatError(rd.PreparePartial(ctx, test.last)).Succeeded()
		assert.For(ctx, "%s replay", test.name).ThatError(rd.Replay(ctx, test.last)).Succeeded()
		assert.For(ctx, "%s submits", test.name).ThatSlice(rf.submits).IsLength(1)
		got := rf.submits[0].cmds
		if test.draws < 0 {
			assert.For(ctx, "%s cmds", test.name).That(got).DeepEquals(test.cmds)
			continue
		}
		assert.For(ctx, "%s cmds", test.name).ThatSlice(got).IsLength(len(test.cmds) + 1)
		assert.For(ctx, "%s head", test.name).That(got[:len(test.cmds)]).DeepEquals(test.cmds)
		p := got[len(got)-1]
		assert.For(ctx, "%s partial", test.name).That(p != liveA && p != liveB).Equals(true)
		assert.For(ctx, "%s draws", test.name).ThatSlice(rf.records[p]).IsLength(test.draws)
	}
}

// A partial command buffer prepared for one target is not used for another.
func TestStalePartialIsPrepared(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx
	rf, rd := f.load()
	liveA := live(f, rd, f.a.Record.Baked.ID)

	assert.For(ctx, "prepare").ThatError(rd.PreparePartial(ctx, 4)).Succeeded()
	assert.For(ctx, "replay end of a").ThatError(rd.Replay(ctx, 6)).Succeeded()
	assert.For(ctx, "a in full").That(rf.submits[0].cmds).DeepEquals([]resource.Handle{liveA})

	rf.reset()
	assert.For(ctx, "prepare again").ThatError(rd.PreparePartial(ctx, 4)).Succeeded()
	assert.For(ctx, "replay second draw").ThatError(rd.Replay(ctx, 5)).Succeeded()
	assert.For(ctx, "one submit").ThatSlice(rf.submits[0].cmds).IsLength(1)
	p := rf.submits[0].cmds[0]
	assert.For(ctx, "partial").That(p != liveA).Equals(true)
	assert.For(ctx, "both draws").That(rf.records[p]).DeepEquals([]string{"vkCmdDraw", "vkCmdDraw"})

	rf.reset()
	assert.For(ctx, "replay without prepare").ThatError(rd.Replay(ctx, 4)).Succeeded()
	p = rf.submits[0].cmds[0]
	assert.For(ctx, "first draw").That(rf.records[p]).DeepEquals([]string{"vkCmdDraw"})
}

func TestReplayWaits(t *testing.T) {
	s := newSession(t)
	ctx := s.ctx
	sem := s.create(vulkan.KindSemaphore, 0)
	cmd := s.record(draw())
	s.begin()
	err := s.d.QueueSubmit(ctx, s.queue, []vulkan.Submit{{
		WaitSemaphores: []*resource.Wrapped{sem},
		CommandBuffers: []*resource.Wrapped{cmd},
	}}, nil)
	assert.For(ctx, "submit").ThatError(err).Succeeded()
	assert.For(ctx, "wait").ThatError(s.d.QueueWaitIdle(ctx, s.queue)).Succeeded()
	assert.For(ctx, "semaphore").That(s.d.Tracker().RefType(sem.ID)).Equals(resource.Read)
	c := s.end()
	assert.For(ctx, "wait chunks").ThatInteger(count(c, chunk.QueueWaitIdle)).Equals(1)

	rf := &fakeDispatch{}
	rd := vulkan.New(rf, config.Default())
	assert.For(ctx, "load").ThatError(rd.Load(ctx, c)).Succeeded()
	assert.For(ctx, "replay").ThatError(rd.Replay(ctx, partial.NoTarget)).Succeeded()
	assert.For(ctx, "waits").That(rf.waits).Equals(2)
	assert.For(ctx, "submits").ThatSlice(rf.submits).IsLength(1)
}

func TestLoadErrors(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx

	assert.For(ctx, "replay before load").ThatError(
		vulkan.New(&fakeDispatch{}, config.Default()).Replay(ctx, partial.NoTarget)).Failed()
	assert.For(ctx, "load while capturing").ThatError(f.d.Load(ctx, f.capture)).HasCause(tracker.ErrInvalidTransition)

	stripped := &chunk.Capture{Header: f.capture.Header}
	for _, ch := range f.capture.Chunks {
		switch ch.Tag {
		case chunk.BeginCommandBuffer, chunk.RecordCommand, chunk.EndCommandBuffer:
		default:
			stripped.Chunks = append(stripped.Chunks, ch)
		}
	}
	rd := vulkan.New(&fakeDispatch{}, config.Default())
	assert.For(ctx, "missing bake").ThatError(rd.Load(ctx, stripped)).HasCause(tracker.ErrMissingBakedCommands)

	orphan := &chunk.Capture{Header: f.capture.Header}
	for _, ch := range f.capture.Chunks {
		if ch.Tag != chunk.BeginCommandBuffer {
			orphan.Chunks = append(orphan.Chunks, ch)
		}
	}
	rd = vulkan.New(&fakeDispatch{}, config.Default())
	assert.For(ctx, "orphan command").ThatError(rd.Load(ctx, orphan)).HasCause(chunk.ErrMalformedChunk)
}

func TestMetrics(t *testing.T) {
	f := captureFrame(t)
	ctx := f.ctx
	_, rd := f.load()
	assert.For(ctx, "replay").ThatError(rd.Replay(ctx, partial.NoTarget)).Succeeded()

	families, err := prometheus.DefaultGatherer.Gather()
	assert.For(ctx, "gather").ThatError(err).Succeeded()
	found := map[string]bool{}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "rdcap_") {
			found[mf.GetName()] = true
		}
	}
	for _, name := range []string{
		"rdcap_capture_submissions_total",
		"rdcap_capture_chunks_total",
		"rdcap_capture_coherent_flushes_total",
		"rdcap_replay_submission_decisions_total",
	} {
		assert.For(ctx, name).That(found[name]).Equals(true)
	}
}
