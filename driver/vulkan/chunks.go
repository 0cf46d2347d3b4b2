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
	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/pkg/errors"
)

// payload is the body of one chunk. serialise is used for both writing and
// reading, so the field order is the same in both directions.
type payload interface {
	serialise(s *chunk.Serializer)
}

type deviceInit struct {
	Instance, Device id.ID
	QueueFamily      uint32
}

func (c *deviceInit) serialise(s *chunk.Serializer) {
	s.ResourceID("instance", &c.Instance)
	s.ResourceID("device", &c.Device)
	s.Uint32("queueFamily", &c.QueueFamily)
}

type createResource struct {
	Device, ID id.ID
	Kind       Kind
	Size       uint64
}

func (c *createResource) serialise(s *chunk.Serializer) {
	kind := uint32(c.Kind)
	s.ResourceID("device", &c.Device)
	s.ResourceID("id", &c.ID)
	s.Uint32("kind", &kind)
	s.Uint64("size", &c.Size)
	c.Kind = Kind(kind)
}

type getDeviceQueue struct {
	Device        id.ID
	Family, Index uint32
	Queue         id.ID
}

func (c *getDeviceQueue) serialise(s *chunk.Serializer) {
	s.ResourceID("device", &c.Device)
	s.Uint32("family", &c.Family)
	s.Uint32("index", &c.Index)
	s.ResourceID("queue", &c.Queue)
}

type beginCommandBuffer struct {
	Cmd, Baked id.ID
}

func (c *beginCommandBuffer) serialise(s *chunk.Serializer) {
	s.ResourceID("commandBuffer", &c.Cmd)
	s.ResourceID("baked", &c.Baked)
}

type recordCommand struct {
	Baked id.ID
	Name  string
	Draw  bool
	Uses  []id.ID
}

func (c *recordCommand) serialise(s *chunk.Serializer) {
	s.ResourceID("baked", &c.Baked)
	s.String("name", &c.Name)
	s.Bool("draw", &c.Draw)
	s.ResourceIDs("uses", &c.Uses)
}

type pipelineBarrier struct {
	Baked    id.ID
	Barriers []resource.ImageBarrier
}

func (c *pipelineBarrier) serialise(s *chunk.Serializer) {
	s.ResourceID("baked", &c.Baked)
	n := uint32(len(c.Barriers))
	s.Count("barriers", &n)
	if s.Err() != nil {
		return
	}
	if s.Reading() {
		c.Barriers = make([]resource.ImageBarrier, n)
	}
	for i := range c.Barriers {
		b := &c.Barriers[i]
		s.ResourceID("image", &b.Image)
		s.Uint32("subresource", &b.Subresource)
		s.Uint32("oldLayout", &b.OldLayout)
		s.Uint32("newLayout", &b.NewLayout)
	}
}

type markerBegin struct {
	Baked id.ID
	Name  string
}

func (c *markerBegin) serialise(s *chunk.Serializer) {
	s.ResourceID("baked", &c.Baked)
	s.String("name", &c.Name)
}

// bakedOnly is the body of MarkerEnd and EndCommandBuffer.
type bakedOnly struct {
	Baked id.ID
}

func (c *bakedOnly) serialise(s *chunk.Serializer) {
	s.ResourceID("baked", &c.Baked)
}

type flushMappedMemory struct {
	Memory id.ID
	Offset uint64
	Data   []byte
}

func (c *flushMappedMemory) serialise(s *chunk.Serializer) {
	s.ResourceID("memory", &c.Memory)
	s.Uint64("offset", &c.Offset)
	s.Bytes("data", &c.Data)
}

type queueSubmit struct {
	Queue, Fence   id.ID
	Cmds           []id.ID
	WaitSemaphores uint32
}

func (c *queueSubmit) serialise(s *chunk.Serializer) {
	s.ResourceID("queue", &c.Queue)
	s.ResourceID("fence", &c.Fence)
	s.ResourceIDs("commandBuffers", &c.Cmds)
	s.Uint32("waitSemaphores", &c.WaitSemaphores)
}

type queueWaitIdle struct {
	Queue id.ID
}

func (c *queueWaitIdle) serialise(s *chunk.Serializer) {
	s.ResourceID("queue", &c.Queue)
}

type frameMarker struct {
	Frame uint64
}

func (c *frameMarker) serialise(s *chunk.Serializer) {
	s.Uint64("frame", &c.Frame)
}

// write encodes p as a new chunk with the given tag. Chunks are only written
// while idle or capturing.
func (d *Driver) write(tag chunk.Tag, p payload) (*chunk.Chunk, error) {
	if st := d.tracker.Peek(); st != tracker.Idle && !st.IsWriting() {
		return nil, errors.Wrapf(tracker.ErrInvalidTransition, "Cannot write %v in %v", tag, st)
	}
	s := chunk.Acquire()
	defer chunk.Release(s)
	s.SetDebug(d.cfg.Capture.DebugChunks)
	scope := s.Begin(tag)
	defer scope.Close()
	p.serialise(s)
	c, err := scope.Finish()
	if err != nil {
		return nil, err
	}
	chunksWritten.WithLabelValues(tag.String()).Inc()
	return c, nil
}

// read decodes c into p.
func read(c *chunk.Chunk, p payload) error {
	s := chunk.NewReader(c)
	scope := s.Begin(c.Tag)
	defer scope.Close()
	p.serialise(s)
	_, err := scope.Finish()
	return err
}
