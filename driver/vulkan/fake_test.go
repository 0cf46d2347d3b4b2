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
	"context"
	"sync"
	"testing"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/assert"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/driver/vulkan"
)

type submission struct {
	queue resource.Handle
	cmds  []resource.Handle
	fence resource.Handle
}

// fakeDispatch records the calls that reach the driver.
type fakeDispatch struct {
	vulkan.NullDispatch

	mu        sync.Mutex
	submits   []submission
	waits     int
	flushes   []vulkan.MappedRange
	records   map[resource.Handle][]string
	uses      map[resource.Handle][][]resource.Handle
	submitErr error
}

func (f *fakeDispatch) QueueSubmit(ctx context.Context, queue resource.Handle, submits []vulkan.SubmitInfo, fence resource.Handle) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range submits {
		f.submits = append(f.submits, submission{queue, s.CommandBuffers, fence})
	}
	return nil
}

func (f *fakeDispatch) QueueWaitIdle(ctx context.Context, queue resource.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return nil
}

func (f *fakeDispatch) FlushMappedMemoryRanges(ctx context.Context, device resource.Handle, ranges []vulkan.MappedRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, ranges...)
	return nil
}

func (f *fakeDispatch) CmdRecord(ctx context.Context, cmd resource.Handle, name string, uses []resource.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[resource.Handle][]string{}
		f.uses = map[resource.Handle][][]resource.Handle{}
	}
	f.records[cmd] = append(f.records[cmd], name)
	f.uses[cmd] = append(f.uses[cmd], append([]resource.Handle(nil), uses...))
}

func (f *fakeDispatch) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits, f.waits, f.flushes = nil, 0, nil
}

// quiet returns ctx with a handler that drops every message, for calls that
// are expected to log errors.
func quiet(ctx context.Context) context.Context {
	return log.PutHandler(ctx, log.NewHandler(func(*log.Message) {}, func() {}))
}

type session struct {
	ctx   context.Context
	f     *fakeDispatch
	d     *vulkan.Driver
	queue *resource.Wrapped
}

func newSession(t *testing.T) *session {
	cfg := config.Default()
	cfg.Capture.DebugChunks = true
	return newSessionWith(t, cfg)
}

func newSessionWith(t *testing.T, cfg config.Config) *session {
	ctx := log.Testing(t)
	s := &session{ctx: ctx, f: &fakeDispatch{}}
	s.d = vulkan.New(s.f, cfg)
	assert.For(ctx, "Initialise").ThatError(s.d.Initialise(ctx, 0)).Succeeded()
	q, err := s.d.GetDeviceQueue(ctx, 0, 0)
	assert.For(ctx, "GetDeviceQueue").ThatError(err).Succeeded()
	s.queue = q
	return s
}

func (s *session) create(kind vulkan.Kind, size uint64) *resource.Wrapped {
	w, err := s.d.CreateResource(s.ctx, kind, size)
	assert.For(s.ctx, "CreateResource %v", kind).ThatError(err).Succeeded()
	return w
}

// record creates a command buffer holding cmds.
func (s *session) record(cmds ...vulkan.Command) *resource.Wrapped {
	cmd := s.create(vulkan.KindCommandBuffer, 0)
	s.rerecord(cmd, cmds...)
	return cmd
}

func (s *session) rerecord(cmd *resource.Wrapped, cmds ...vulkan.Command) {
	ctx := s.ctx
	assert.For(ctx, "Begin").ThatError(s.d.BeginCommandBuffer(ctx, cmd)).Succeeded()
	for _, c := range cmds {
		assert.For(ctx, "Record %v", c.Name).ThatError(s.d.RecordCommand(ctx, cmd, c)).Succeeded()
	}
	assert.For(ctx, "End").ThatError(s.d.EndCommandBuffer(ctx, cmd)).Succeeded()
}

func (s *session) submit(cmds ...*resource.Wrapped) {
	err := s.d.QueueSubmit(s.ctx, s.queue, []vulkan.Submit{{CommandBuffers: cmds}}, nil)
	assert.For(s.ctx, "QueueSubmit").ThatError(err).Succeeded()
}

func (s *session) begin() {
	assert.For(s.ctx, "BeginFrameCapture").ThatError(s.d.BeginFrameCapture(s.ctx)).Succeeded()
}

func (s *session) end() *chunk.Capture {
	c, err := s.d.EndFrameCapture(s.ctx)
	assert.For(s.ctx, "EndFrameCapture").ThatError(err).Succeeded()
	return c
}

func draw(uses ...vulkan.Use) vulkan.Command {
	return vulkan.Command{Name: "vkCmdDraw", Draw: true, Uses: uses}
}

func count(c *chunk.Capture, tag chunk.Tag) int {
	n := 0
	for _, ch := range c.Chunks {
		if ch.Tag == tag {
			n++
		}
	}
	return n
}
